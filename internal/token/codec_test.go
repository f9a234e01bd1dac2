package token

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-not-for-production"

func TestIssueAndVerify(t *testing.T) {
	codec, err := NewCodec(testSecret, "authgate-test", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	raw, exp, err := codec.Issue("user-42", "alice@example.com",
		[]string{"user", "editor"},
		[]string{"doc:write", "doc:read", "doc:write"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiration, got %v", exp)
	}

	claims, err := codec.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Email != "alice@example.com" {
		t.Fatalf("unexpected email: %s", claims.Email)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "user" || claims.Roles[1] != "editor" {
		t.Fatalf("role order not preserved: %v", claims.Roles)
	}
	if len(claims.Permissions) != 2 {
		t.Fatalf("permissions not deduplicated: %v", claims.Permissions)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti claim")
	}
}

func TestVerifyExpiredIsDistinct(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	issued, err := NewCodec(testSecret, "authgate-test", time.Minute, WithClock(func() time.Time { return past }))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	raw, _, err := issued.Issue("user-42", "alice@example.com", nil, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	codec, err := NewCodec(testSecret, "authgate-test", time.Minute)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	if _, err := codec.Verify(raw); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	codec, err := NewCodec(testSecret, "authgate-test", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	raw, _, err := codec.Issue("user-42", "alice@example.com", []string{"user"}, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	cases := map[string]string{
		"empty":           "",
		"garbage":         "not.a.jwt",
		"flipped sig":     raw[:len(raw)-2] + "xx",
		"missing segment": strings.Join(strings.Split(raw, ".")[:2], "."),
	}
	for name, tok := range cases {
		if _, err := codec.Verify(tok); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}

	// Signed by a different secret.
	other, err := NewCodec("a-different-secret", "authgate-test", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	forged, _, err := other.Issue("user-42", "alice@example.com", nil, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := codec.Verify(forged); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for wrong secret, got %v", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	issued, err := NewCodec(testSecret, "someone-else", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	raw, _, err := issued.Issue("user-42", "alice@example.com", nil, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	codec, err := NewCodec(testSecret, "authgate-test", 15*time.Minute)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	if _, err := codec.Verify(raw); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for wrong issuer, got %v", err)
	}
}

func TestNewCodecValidation(t *testing.T) {
	if _, err := NewCodec("", "iss", time.Minute); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := NewCodec(testSecret, " ", time.Minute); err == nil {
		t.Fatalf("expected error for empty issuer")
	}
	if _, err := NewCodec(testSecret, "iss", 0); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

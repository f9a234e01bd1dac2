// Package token covers the stateless side of credential issuance: signed
// access tokens and the high-entropy opaque tokens whose hashes back the
// refresh and password-reset flows.
package token

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrExpired indicates a correctly signed token past its expiry.
	// Callers prompt a refresh for this one and hard-reject everything else.
	ErrExpired = errors.New("token: expired")
	// ErrInvalid indicates any other verification failure: bad signature,
	// wrong issuer, malformed payload, unexpected algorithm.
	ErrInvalid = errors.New("token: invalid")
)

// Claims are the facts embedded in an access token.
type Claims struct {
	Email       string   `json:"email"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Codec signs and verifies access tokens with a shared HS256 secret.
// Access tokens are stateless: nothing is stored server-side and they
// cannot be revoked before natural expiry, which is why TTL stays short.
type Codec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec. The secret and issuer are required; ttl must
// be positive.
func NewCodec(secret, issuer string, ttl time.Duration, opts ...CodecOption) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: signing secret is required")
	}
	if strings.TrimSpace(issuer) == "" {
		return nil, errors.New("token: issuer is required")
	}
	if ttl <= 0 {
		return nil, errors.New("token: ttl must be greater than zero")
	}
	c := &Codec{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the configured access-token lifetime.
func (c *Codec) TTL() time.Duration { return c.ttl }

// Issue signs an access token for the subject. Permissions are deduplicated
// and sorted before embedding; role order is preserved.
func (c *Codec) Issue(subjectID, email string, roles, permissions []string) (string, time.Time, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", time.Time{}, errors.New("token: subject is required")
	}
	now := c.now().UTC()
	exp := now.Add(c.ttl)
	claims := Claims{
		Email:       email,
		Roles:       roles,
		Permissions: dedupeSorted(permissions),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer and expiry and returns the claims.
func (c *Codec) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalid
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalid
		}
		return c.secret, nil
	},
		jwt.WithIssuer(c.issuer),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalid
	}
	return claims, nil
}

func dedupeSorted(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

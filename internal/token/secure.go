package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Default entropy for the opaque token kinds. Reset tokens travel in URLs,
// refresh tokens never do, so the latter get twice the bytes.
const (
	ResetTokenBytes   = 32
	RefreshTokenBytes = 64
)

// GenerateSecure returns n bytes from the CSPRNG as a hex string.
func GenerateSecure(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("token: byte length must be positive, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashToken returns the SHA-256 hex digest used for server-side storage of
// opaque tokens. These values are already high entropy; the fast hash only
// prevents replay of a leaked database row.
func HashToken(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEquals compares two strings in fixed time.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

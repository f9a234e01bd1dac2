// Package password implements credential hashing with argon2id.
//
// Digests are self-describing PHC strings, so verification and rehash
// detection work against hashes produced under older cost settings.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Params are the argon2id cost settings. Zero values are replaced with
// the package defaults by NewHasher.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams match the interactive-login profile: 64 MiB, 3 passes.
var DefaultParams = Params{
	Memory:      64 * 1024,
	Time:        3,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

var errMalformedDigest = errors.New("password: malformed digest")

// Hasher hashes and verifies passwords under a fixed set of cost params.
type Hasher struct {
	params Params
}

// NewHasher constructs a Hasher, filling unset params from DefaultParams.
func NewHasher(p Params) *Hasher {
	if p.Memory == 0 {
		p.Memory = DefaultParams.Memory
	}
	if p.Time == 0 {
		p.Time = DefaultParams.Time
	}
	if p.Parallelism == 0 {
		p.Parallelism = DefaultParams.Parallelism
	}
	if p.SaltLength == 0 {
		p.SaltLength = DefaultParams.SaltLength
	}
	if p.KeyLength == 0 {
		p.KeyLength = DefaultParams.KeyLength
	}
	return &Hasher{params: p}
}

// Hash derives an argon2id digest for the plaintext password.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password: empty password")
	}
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.params.Memory,
		h.params.Time,
		h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches digest. A malformed digest is a
// verification failure, never an error: callers must not be able to tell
// a bad hash from a bad password.
func (h *Hasher) Verify(digest, password string) bool {
	params, salt, key, err := decodeDigest(digest)
	if err != nil {
		return false
	}
	derived := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(key, derived) == 1
}

// NeedsRehash reports whether digest was produced under cost settings that
// differ from the hasher's current ones, so credentials can be upgraded
// online at next successful login.
func (h *Hasher) NeedsRehash(digest string) bool {
	params, _, key, err := decodeDigest(digest)
	if err != nil {
		return true
	}
	return params.Memory != h.params.Memory ||
		params.Time != h.params.Time ||
		params.Parallelism != h.params.Parallelism ||
		uint32(len(key)) != h.params.KeyLength
}

func decodeDigest(digest string) (Params, []byte, []byte, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, errMalformedDigest
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, errMalformedDigest
	}
	if version != argon2.Version {
		return Params{}, nil, nil, errMalformedDigest
	}
	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Parallelism); err != nil {
		return Params{}, nil, nil, errMalformedDigest
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, errMalformedDigest
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, errMalformedDigest
	}
	if len(salt) == 0 || len(key) == 0 {
		return Params{}, nil, nil, errMalformedDigest
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}

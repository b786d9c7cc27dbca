// Package security provides the credential primitives host applications
// build login flows on: argon2id password hashing in the standard encoded
// form, and a strength gate for registration.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrHashFormat means the encoded hash is not a well-formed argon2id
	// string.
	ErrHashFormat = errors.New("security: malformed password hash")

	// ErrHashVersion means the hash was produced by an incompatible argon2
	// version.
	ErrHashVersion = errors.New("security: unsupported argon2 version")

	// ErrWeakPassword is wrapped by every CheckStrength failure.
	ErrWeakPassword = errors.New("security: password too weak")
)

// Params tune the argon2id key derivation. The defaults follow the OWASP
// recommendation for interactive logins.
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams returns the parameters new hashes are derived with.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher derives and checks password hashes with fixed parameters. Construct
// with NewHasher; the zero value derives nothing useful.
type Hasher struct {
	params Params
}

// NewHasher returns a Hasher. Zero fields in params fall back to the
// defaults, so NewHasher(Params{}) hashes exactly like DefaultParams.
func NewHasher(params Params) *Hasher {
	defaults := DefaultParams()
	if params.Memory == 0 {
		params.Memory = defaults.Memory
	}
	if params.Iterations == 0 {
		params.Iterations = defaults.Iterations
	}
	if params.Parallelism == 0 {
		params.Parallelism = defaults.Parallelism
	}
	if params.SaltLength == 0 {
		params.SaltLength = defaults.SaltLength
	}
	if params.KeyLength == 0 {
		params.KeyLength = defaults.KeyLength
	}
	return &Hasher{params: params}
}

// Hash derives an argon2id hash of password under a fresh random salt and
// encodes it as $argon2id$v=19$m=...,t=...,p=...$<salt>$<key>.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("security: generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt,
		h.params.Iterations, h.params.Memory, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.Memory, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password produced encoded. Derivation parameters
// come from the hash itself, so stored hashes keep verifying after the
// defaults change. The comparison is constant time.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	params, salt, key, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	candidate := argon2.IDKey([]byte(password), salt,
		params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	return subtle.ConstantTimeCompare(key, candidate) == 1, nil
}

func decodeHash(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrHashFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, ErrHashFormat
	}
	if version != argon2.Version {
		return Params{}, nil, nil, ErrHashVersion
	}

	var params Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return Params{}, nil, nil, ErrHashFormat
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, ErrHashFormat
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, ErrHashFormat
	}

	params.SaltLength = uint32(len(salt))
	params.KeyLength = uint32(len(key))
	return params, salt, key, nil
}

var defaultHasher = NewHasher(DefaultParams())

// HashPassword hashes password with the default parameters.
func HashPassword(password string) (string, error) {
	return defaultHasher.Hash(password)
}

// VerifyPassword checks password against an encoded argon2id hash.
func VerifyPassword(password, encoded string) (bool, error) {
	return defaultHasher.Verify(password, encoded)
}

// CheckStrength enforces the registration password policy: at least eight
// characters mixing upper case, lower case, and a digit.
func CheckStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("%w: need at least 8 characters", ErrWeakPassword)
	}
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !upper {
		return fmt.Errorf("%w: need an upper-case letter", ErrWeakPassword)
	}
	if !lower {
		return fmt.Errorf("%w: need a lower-case letter", ErrWeakPassword)
	}
	if !digit {
		return fmt.Errorf("%w: need a digit", ErrWeakPassword)
	}
	return nil
}

// Package security holds the credential hashing primitives shared by the
// directory store and the session lifecycle.
package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordBytes is the longest secret bcrypt accepts.
const MaxPasswordBytes = 72

// ErrPasswordTooLong is returned for secrets longer than MaxPasswordBytes bytes.
var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// CheckLength rejects secrets bcrypt cannot hash. Multibyte runes count per byte.
func CheckLength(secret string) error {
	if len(secret) > MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

// PasswordHasher hashes secrets and checks candidates against stored hashes.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(hash, candidate string) bool
}

// BcryptHasher implements PasswordHasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using the given cost, falling back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// Hash returns the salted bcrypt hash of secret.
func (h *BcryptHasher) Hash(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("empty secret")
	}
	if err := CheckLength(secret); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether candidate matches hash. Malformed hashes never match.
func (h *BcryptHasher) Verify(hash, candidate string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(candidate)) == nil
}

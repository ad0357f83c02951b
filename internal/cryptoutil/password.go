// Package cryptoutil implements the identity core's cryptographic primitives:
// password hashing, AEAD for field-level secrets, PBKDF2 key derivation,
// token hashing, and secure random generation. Pure; no I/O.
package cryptoutil

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost matches the teacher's "Active Defense" standard.
const DefaultBcryptCost = 12

// ErrHash is returned when bcrypt fails to hash a password (OOM, entropy
// exhaustion). It is distinct from a comparison mismatch.
var ErrHash = errors.New("cryptoutil: password hashing failed")

// PasswordHasher hashes and verifies passwords. Swappable for tests.
type PasswordHasher interface {
	Hash(plaintext string) (string, error)
	Verify(plaintext, stored string) bool
}

// BcryptHasher implements PasswordHasher with a fixed, audited cost factor.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a hasher using DefaultBcryptCost.
func NewBcryptHasher() *BcryptHasher {
	return &BcryptHasher{cost: DefaultBcryptCost}
}

// Hash returns the bcrypt hash of plaintext.
func (h *BcryptHasher) Hash(plaintext string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrHash, err)
	}
	return string(out), nil
}

// Verify performs a constant-time bcrypt comparison. It never distinguishes
// between "wrong password" and "malformed hash" to the caller.
func (h *BcryptHasher) Verify(plaintext, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(plaintext)) == nil
}

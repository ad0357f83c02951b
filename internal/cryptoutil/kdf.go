package cryptoutil

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// DefaultKDFIterations matches the backup archive's PBKDF2 parameter
// (spec'd at 100,000 rounds for export/restore key derivation).
const DefaultKDFIterations = 100_000

// DeriveKey derives a 32-byte AES-256 key from password and salt using
// PBKDF2-HMAC-SHA256. Used to protect backup archives with a user-supplied
// passphrase rather than the process-wide MFA encryption key.
func DeriveKey(password string, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultKDFIterations
	}
	return pbkdf2.Key([]byte(password), salt, iterations, KeySize, sha256.New)
}

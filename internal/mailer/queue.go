package mailer

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashRecipient returns a SHA-256 hex digest of an email address for use
// in logs, so delivery can be correlated without persisting the address
// itself.
func HashRecipient(email string) string {
	hash := sha256.Sum256([]byte(email))
	return hex.EncodeToString(hash[:])
}

package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken hashes a raw single-use token (reset, invitation, refresh) so
// that the value handed to a client never sits in the database in
// recoverable form. Deterministic: equal inputs hash equal, which is what
// lets lookup-by-hash work.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

package mfa

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// backupCodeCharset excludes I, O, 0, 1 to avoid visual confusion when a
// user transcribes a printed code.
const backupCodeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateBackupCodes produces count codes formatted XXXX-XXXX.
func generateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := range codes {
		raw := make([]byte, 8)
		for j := range raw {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupCodeCharset))))
			if err != nil {
				return nil, fmt.Errorf("mfa: generate backup code: %w", err)
			}
			raw[j] = backupCodeCharset[n.Int64()]
		}
		codes[i] = string(raw[:4]) + "-" + string(raw[4:])
	}
	return codes, nil
}

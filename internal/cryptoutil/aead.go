package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrInvalidCiphertext is returned when decryption fails authentication
// (tampered ciphertext, wrong key, or malformed blob).
var ErrInvalidCiphertext = errors.New("cryptoutil: invalid ciphertext")

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// EncryptSecret encrypts plaintext with AES-256-GCM under key (must be
// KeySize bytes). Output layout is nonce‖ciphertext‖tag, hex-encoded.
func EncryptSecret(plaintext []byte, key []byte) (string, error) {
	if len(key) != KeySize {
		return "", fmt.Errorf("cryptoutil: key must be %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cryptoutil: nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return hex.EncodeToString(sealed), nil
}

// DecryptSecret inverts EncryptSecret. Returns ErrInvalidCiphertext on any
// tampering or malformed input; the caller should zero the returned slice
// once done with it.
func DecryptSecret(blob string, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cryptoutil: key must be %d bytes, got %d", KeySize, len(key))
	}

	raw, err := hex.DecodeString(blob)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// Zero overwrites b with zero bytes. Call on decrypted secrets once done.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

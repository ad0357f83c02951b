package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBcryptHasher_RoundTrip(t *testing.T) {
	h := NewBcryptHasher()

	hash, err := h.Hash("correct-horse")
	require.NoError(t, err)
	assert.True(t, h.Verify("correct-horse", hash))
	assert.False(t, h.Verify("wrong-horse", hash))
}

func TestEncryptDecryptSecret_RoundTrip(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)

	plaintext := []byte("JBSWY3DPEHPK3PXP")
	blob, err := EncryptSecret(plaintext, key)
	require.NoError(t, err)

	got, err := DecryptSecret(blob, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDecryptSecret_TamperedCiphertextFails(t *testing.T) {
	key, err := RandomBytes(KeySize)
	require.NoError(t, err)

	blob, err := EncryptSecret([]byte("super-secret"), key)
	require.NoError(t, err)

	tampered := blob[:len(blob)-2] + "00"
	_, err = DecryptSecret(tampered, key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptSecret_WrongKeyFails(t *testing.T) {
	key1, _ := RandomBytes(KeySize)
	key2, _ := RandomBytes(KeySize)

	blob, err := EncryptSecret([]byte("payload"), key1)
	require.NoError(t, err)

	_, err = DecryptSecret(blob, key2)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestHashToken_Deterministic(t *testing.T) {
	a := HashToken("raw-token-value")
	b := HashToken("raw-token-value")
	c := HashToken("different-value")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	salt := []byte("fixed-salt-for-test-purposes-32")
	k1 := DeriveKey("export-pwd", salt, 10)
	k2 := DeriveKey("export-pwd", salt, 10)
	k3 := DeriveKey("other-pwd", salt, 10)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, KeySize)
}

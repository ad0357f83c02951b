package mfa

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente/identitycore/internal/cryptoutil"
	"github.com/lavente/identitycore/internal/storage/db"
)

func TestShouldRequireMFA(t *testing.T) {
	assert.True(t, ShouldRequireMFA(db.RoleAdmin))
	assert.True(t, ShouldRequireMFA(db.RoleTechnician))
	assert.False(t, ShouldRequireMFA(db.RoleUser))
}

func TestGenerateBackupCodes_FormatAndUniqueness(t *testing.T) {
	codes, err := generateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := make(map[string]bool)
	for _, c := range codes {
		assert.Len(t, c, 9) // XXXX-XXXX
		assert.Equal(t, byte('-'), c[4])
		assert.False(t, seen[c], "backup codes should not repeat within a batch")
		seen[c] = true
	}
}

func TestEngine_BeginSetup_ProducesValidatableSecret(t *testing.T) {
	e := New("identitycore-test", nil, nil, nil, nil)

	setup, err := e.BeginSetup("user@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.NotEmpty(t, setup.QRCodePNG)
	assert.Len(t, setup.BackupCodes, backupCodeCount)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	assert.True(t, totp.Validate(code, setup.Secret))
}

func TestTOTPSecret_AEADRoundTrip(t *testing.T) {
	key := make([]byte, cryptoutil.KeySize)
	for i := range key {
		key[i] = byte(i)
	}

	secret := "JBSWY3DPEHPK3PXP"
	encrypted, err := cryptoutil.EncryptSecret([]byte(secret), key)
	require.NoError(t, err)

	decrypted, err := cryptoutil.DecryptSecret(encrypted, key)
	require.NoError(t, err)
	assert.Equal(t, secret, string(decrypted))
}

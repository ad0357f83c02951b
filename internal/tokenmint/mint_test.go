package tokenmint

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSecret() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := New([]byte("too-short"))
	assert.ErrorIs(t, err, ErrSecretTooShort)
}

func TestAccessToken_RoundTrip(t *testing.T) {
	m, err := New(testSecret())
	require.NoError(t, err)

	uid := uuid.New()
	token, err := m.IssueAccessToken(uid, "Alice", "alice@example.com", RoleUser, ScopeFull)
	require.NoError(t, err)

	claims, err := m.VerifyAccessToken(token, RoleUser)
	require.NoError(t, err)
	assert.Equal(t, uid, claims.Sub)
	assert.Equal(t, ScopeFull, claims.Scope)
}

func TestAccessToken_RoleMismatchForcesReLogin(t *testing.T) {
	m, err := New(testSecret())
	require.NoError(t, err)

	uid := uuid.New()
	token, err := m.IssueAccessToken(uid, "Alice", "alice@example.com", RoleUser, ScopeFull)
	require.NoError(t, err)

	_, err = m.VerifyAccessToken(token, RoleAdmin)
	assert.Error(t, err)
}

func TestSSEToken_ToleratesRoleDrift(t *testing.T) {
	m, err := New(testSecret())
	require.NoError(t, err)

	uid := uuid.New()
	token, err := m.IssueSSEToken(uid, RoleUser)
	require.NoError(t, err)

	claims, err := m.VerifySSEToken(token)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestOAuthState_RoundTrip(t *testing.T) {
	m, err := New(testSecret())
	require.NoError(t, err)

	token, err := m.IssueOAuthState(OAuthStateClaims{
		ProviderType: "microsoft",
		RedirectURI:  "https://app.example.com/callback",
		Nonce:        "n0nce",
		PKCEVerifier: "verifier",
	})
	require.NoError(t, err)

	claims, err := m.VerifyOAuthState(token)
	require.NoError(t, err)
	assert.Equal(t, "microsoft", claims.ProviderType)
	assert.Equal(t, "n0nce", claims.Nonce)
}

func TestOAuthState_ExpiredFails(t *testing.T) {
	m, err := New(testSecret())
	require.NoError(t, err)

	claims := OAuthStateClaims{
		ProviderType: "microsoft",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-1 * time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-50 * time.Minute)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSecret())
	require.NoError(t, err)

	_, err = m.VerifyOAuthState(signed)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

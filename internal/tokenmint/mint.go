package tokenmint

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MinSecretBytes is the floor enforced on JWT_SECRET in production
// (spec.md §4.2 and §6). A shorter secret is a fatal startup error there;
// Mint itself just refuses to be constructed with one.
const MinSecretBytes = 32

// Leeway bounds clock-skew tolerance for exp/nbf checks (spec.md §4.2).
const Leeway = 30 * time.Second

var (
	ErrSecretTooShort = errors.New("tokenmint: secret must be at least 32 bytes")
	ErrInvalidToken   = errors.New("tokenmint: invalid token")
	ErrExpiredToken   = errors.New("tokenmint: token has expired")
	ErrWrongScope     = errors.New("tokenmint: token scope mismatch")
)

const (
	accessTTL    = 24 * time.Hour
	sseTTL       = 1 * time.Hour
	oauthStateTT = 10 * time.Minute

	issuer = "identitycore"
)

// Mint signs and verifies the core's JWT-carried tokens with HS256.
type Mint struct {
	secret []byte
}

// New constructs a Mint. secret must be at least MinSecretBytes long.
func New(secret []byte) (*Mint, error) {
	if len(secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	return &Mint{secret: secret}, nil
}

// IssueAccessToken mints a 24h access token for scope full or mfa_recovery.
func (m *Mint) IssueAccessToken(userID uuid.UUID, name, email string, role Role, scope Scope) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Sub:   userID,
		Name:  name,
		Email: email,
		Role:  role,
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessTTL)),
			Issuer:    issuer,
			Subject:   userID.String(),
		},
	}
	return m.sign(claims)
}

// VerifyAccessToken parses an access token. currentRole, when non-empty,
// enforces that a "full" scope token's claimed role still matches; the
// caller passes the principal's current role after a fresh lookup. For
// mfa_recovery scope a role mismatch is not checked here — endpoint
// dispatch is responsible for rejecting that scope outside MFA routes.
func (m *Mint) VerifyAccessToken(token string, currentRole Role) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.Scope == ScopeFull && currentRole != "" && claims.Role != currentRole {
		return nil, fmt.Errorf("%w: role mismatch forces re-login", ErrInvalidToken)
	}
	return claims, nil
}

// IssueSSEToken mints a 1h capability token for the event stream. Role
// mismatch against the live principal is tolerated by design (spec.md
// §4.2): it is a capability, not a claim of live role.
func (m *Mint) IssueSSEToken(userID uuid.UUID, role Role) (string, error) {
	now := time.Now()
	claims := SSEClaims{
		Sub:  userID,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sseTTL)),
			Issuer:    issuer,
		},
	}
	return m.sign(claims)
}

// VerifySSEToken parses an SSE token without any role-liveness check.
func (m *Mint) VerifySSEToken(token string) (*SSEClaims, error) {
	claims := &SSEClaims{}
	if err := m.parse(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueOAuthState packs the in-flight OAuth2/OIDC exchange parameters into
// a 10-minute signed state token (spec.md §4.6.1 step 1).
func (m *Mint) IssueOAuthState(c OAuthStateClaims) (string, error) {
	now := time.Now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(oauthStateTT)),
		Issuer:    issuer,
	}
	return m.sign(c)
}

// VerifyOAuthState parses and validates a state token produced by
// IssueOAuthState. Consumption (single-use) is the caller's
// responsibility — the token itself carries no server-side record.
func (m *Mint) VerifyOAuthState(token string) (*OAuthStateClaims, error) {
	claims := &OAuthStateClaims{}
	if err := m.parse(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *Mint) sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("tokenmint: sign: %w", err)
	}
	return signed, nil
}

func (m *Mint) parse(tokenString string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(Leeway),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

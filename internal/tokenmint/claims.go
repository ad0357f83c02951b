// Package tokenmint issues and verifies the structured, signed tokens the
// identity core relies on: access, SSE, OAuth-state. Refresh/reset/
// invitation tokens are opaque random values (hashed for storage) and are
// minted in internal/cryptoutil instead — they never need a claims schema.
package tokenmint

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scope distinguishes what an access token authorizes. A "full" scope
// token authenticates ordinary API calls; "mfa_recovery" is accepted only
// by MFA-management endpoints (spec.md §4.7.2).
type Scope string

const (
	ScopeFull        Scope = "full"
	ScopeMFARecovery Scope = "mfa_recovery"
)

// Role mirrors the identity package's role enum without importing it, to
// keep tokenmint a leaf package with no dependency on the identity store.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
	RoleUser       Role = "user"
)

// AccessClaims is carried by the access-token cookie.
type AccessClaims struct {
	Sub   uuid.UUID `json:"sub"`
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Role  Role      `json:"role"`
	Scope Scope     `json:"scope"`
	jwt.RegisteredClaims
}

// SSEClaims is carried in the SSE token response body (EventSource cannot
// send custom headers, so it can't ride an Authorization header).
type SSEClaims struct {
	Sub  uuid.UUID `json:"sub"`
	Role Role      `json:"role"`
	jwt.RegisteredClaims
}

// OAuthStateClaims binds an in-flight OAuth2/OIDC exchange to the
// authorize call that started it (spec.md §4.6.1).
type OAuthStateClaims struct {
	ProviderType     string `json:"provider_type"`
	RedirectURI      string `json:"redirect_uri"`
	Nonce            string `json:"nonce"`
	PKCEVerifier     string `json:"pkce_verifier"`
	UserConnection   bool   `json:"user_connection"`
	ConnectingUserID string `json:"connecting_user_id,omitempty"`
	jwt.RegisteredClaims
}

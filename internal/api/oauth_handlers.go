package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/lavente/identitycore/internal/api/helpers"
	customMiddleware "github.com/lavente/identitycore/internal/api/middleware"
	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/federation"
	"github.com/lavente/identitycore/internal/storage/db"
	"github.com/lavente/identitycore/internal/tokenmint"
)

// defaultFederatedRole is the role granted to a brand new principal
// provisioned from a federated login or directory sync, matching the
// teacher's convention of enrolling unknown users at the lowest
// privilege tier rather than guessing at their intended role.
const defaultFederatedRole = db.RoleUser

// ListProviders implements GET /auth/providers: the client needs to know
// which federation options to show on the login screen, nothing more.
func (s *Server) ListProviders(w http.ResponseWriter, r *http.Request) {
	type providerView struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	var providers []providerView
	if s.OIDC != nil {
		providers = append(providers, providerView{Type: "oidc", Name: "Single Sign-On"})
	}
	if s.Graph != nil {
		providers = append(providers, providerView{Type: "microsoft", Name: "Microsoft"})
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"providers": providers})
}

type oauthAuthorizeRequest struct {
	RedirectURI string `json:"redirect_uri"`
}

// OAuthAuthorize implements POST /auth/oauth/authorize: starts a fresh
// Authorization-Code+PKCE round trip and hands the browser the URL to
// navigate to.
func (s *Server) OAuthAuthorize(w http.ResponseWriter, r *http.Request) {
	if s.OIDC == nil {
		helpers.RespondError(w, http.StatusNotFound, "single sign-on is not configured")
		return
	}
	var req oauthAuthorizeRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RedirectURI == "" {
		req.RedirectURI = "/"
	}

	authURL, err := s.OIDC.BeginAuth(req.RedirectURI, "")
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "could not start single sign-on")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
}

// OAuthCallback implements GET /auth/oauth/callback. On success it sets
// session cookies exactly as a local login would and redirects the
// browser back to the caller-supplied redirect URI (carried in the state
// token from BeginAuth) with an auth_success marker; on failure it
// redirects with auth_error instead, matching the existing SPA
// convention of reading these as query params rather than a JSON body.
func (s *Server) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	if s.OIDC == nil {
		helpers.RespondError(w, http.StatusNotFound, "single sign-on is not configured")
		return
	}
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		helpers.RespondError(w, http.StatusBadRequest, "missing code or state")
		return
	}

	info, claims, err := s.OIDC.ExchangeCode(r.Context(), code, state)
	if err != nil {
		http.Redirect(w, r, s.Config.FrontendURL+"/?auth_error=sso_failed", http.StatusFound)
		return
	}

	if claims.UserConnection {
		s.completeOAuthConnect(w, r, info, claims)
		return
	}

	principal, outcome, err := federation.Reconcile(r.Context(), s.Identity, s.Audit, defaultFederatedRole, federation.FromOIDC(info, "preferred_username"))
	if err != nil {
		http.Redirect(w, r, s.Config.FrontendURL+claims.RedirectURI+"?auth_error=account_provisioning_failed", http.StatusFound)
		return
	}
	if outcome == federation.OutcomeLinkedByEmail {
		s.Audit.Log(r.Context(), audit.EventIdentityLinked, audit.SeverityInfo, audit.Params{
			PrincipalID: db.FromUUID(principal.ID), Metadata: map[string]any{"provider": "oidc"},
		})
	}

	if _, err := s.openSessionCookies(w, r, principal, info.Email); err != nil {
		http.Redirect(w, r, s.Config.FrontendURL+claims.RedirectURI+"?auth_error=session_failed", http.StatusFound)
		return
	}
	http.Redirect(w, r, s.Config.FrontendURL+claims.RedirectURI+"?auth_success=true", http.StatusFound)
}

// completeOAuthConnect links the verified external identity to the
// principal that originated the connect request (spec.md §4.6.1); unlike
// a regular callback it never opens a new session.
func (s *Server) completeOAuthConnect(w http.ResponseWriter, r *http.Request, info federation.UserInfo, claims *tokenmint.OAuthStateClaims) {
	principalID, err := uuid.Parse(claims.ConnectingUserID)
	if err != nil {
		http.Redirect(w, r, s.Config.FrontendURL+claims.RedirectURI+"?auth_error=missing_account", http.StatusFound)
		return
	}

	ext := federation.FromOIDC(info, "preferred_username")
	if _, err := s.Identity.FindByProviderExternalID(r.Context(), ext.Provider, ext.ExternalID); err == nil {
		http.Redirect(w, r, s.Config.FrontendURL+claims.RedirectURI+"?auth_error=already_connected", http.StatusFound)
		return
	} else if !errors.Is(err, db.ErrNoRows) {
		http.Redirect(w, r, s.Config.FrontendURL+claims.RedirectURI+"?auth_error=connect_failed", http.StatusFound)
		return
	}

	if _, err := s.Identity.LinkExternalIdentity(r.Context(), principalID, ext.Provider, ext.ExternalID, ext.Email, ext.RawClaims); err != nil {
		http.Redirect(w, r, s.Config.FrontendURL+claims.RedirectURI+"?auth_error=connect_failed", http.StatusFound)
		return
	}
	s.Audit.Log(r.Context(), audit.EventIdentityLinked, audit.SeverityInfo, audit.Params{
		PrincipalID: principalID, Metadata: map[string]any{"provider": "oidc", "action": "connect"},
	})
	http.Redirect(w, r, s.Config.FrontendURL+claims.RedirectURI+"?auth_success=true", http.StatusFound)
}

type oauthConnectRequest struct {
	RedirectURI string `json:"redirect_uri"`
}

// OAuthConnect implements POST /auth/oauth/connect: an already-logged-in
// principal wants to link an external identity rather than create a new
// account, so the state token carries the current principal's ID.
func (s *Server) OAuthConnect(w http.ResponseWriter, r *http.Request) {
	if s.OIDC == nil {
		helpers.RespondError(w, http.StatusNotFound, "single sign-on is not configured")
		return
	}
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req oauthConnectRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RedirectURI == "" {
		req.RedirectURI = "/profile/settings"
	}

	authURL, err := s.OIDC.BeginAuth(req.RedirectURI, userID.String())
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "could not start account connection")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
}

// OAuthLogout implements POST /auth/oauth/logout: builds an RP-initiated
// logout URL if the provider advertises one, alongside clearing the
// local session.
func (s *Server) OAuthLogout(w http.ResponseWriter, r *http.Request) {
	s.clearSessionCookies(w)
	if s.OIDC == nil {
		helpers.RespondJSON(w, http.StatusOK, map[string]string{"logout_url": ""})
		return
	}
	logoutURL := s.OIDC.LogoutURL(s.Config.FrontendURL, "", "")
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"logout_url": logoutURL})
}

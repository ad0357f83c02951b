package api

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"unicode/utf8"

	"github.com/lavente/identitycore/internal/api/helpers"
	customMiddleware "github.com/lavente/identitycore/internal/api/middleware"
	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/cryptoutil"
	"github.com/lavente/identitycore/internal/identity"
	"github.com/lavente/identitycore/internal/mfa"
	"github.com/lavente/identitycore/internal/storage/db"
	"github.com/lavente/identitycore/internal/tokenmint"
	"github.com/google/uuid"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login implements spec.md §6's POST /auth/login: on success it either
// issues a session directly, or — for an admin/technician principal —
// returns a challenge with no cookies and no Session row: a setup
// challenge while still in MFA pre-enrolment (I5), or mfa_required once
// MFA is enabled.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Email == "" || req.Password == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ip := helpers.GetRealIP(r).String()
	principal, err := s.Identity.VerifyLocalCredential(r.Context(), req.Email, req.Password)
	if err != nil {
		slog.Warn("login failed", "email", req.Email, "ip", ip)
		s.Audit.Log(r.Context(), audit.EventLoginFailed, audit.SeverityWarning, audit.Params{
			IP: ip, UserAgent: r.UserAgent(), Metadata: map[string]any{"email": req.Email},
		})
		helpers.RespondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	userUUID := db.FromUUID(principal.ID)

	if mfa.ShouldRequireMFA(principal.Role) {
		if !principal.MfaEnabled {
			helpers.RespondJSON(w, http.StatusOK, map[string]any{
				"success": false, "mfa_setup_required": true, "user_uuid": userUUID,
			})
			return
		}
		helpers.RespondJSON(w, http.StatusOK, map[string]any{
			"success": false, "mfa_required": true, "user_uuid": userUUID,
		})
		return
	}

	s.issueSession(w, r, principal, req.Email, nil)
}

type mfaLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	MFAToken string `json:"mfa_token"`
}

// MFALogin implements POST /auth/mfa-login: the client re-submits the
// credential pair alongside the TOTP/backup code, and the second factor
// is verified before a session is issued. A TOTP match is tried first;
// a miss falls back to backup-code consumption so a principal who has
// exhausted their authenticator can still use a one-shot code.
func (s *Server) MFALogin(w http.ResponseWriter, r *http.Request) {
	var req mfaLoginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.MFAToken == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ip := helpers.GetRealIP(r).String()
	principal, err := s.Identity.VerifyLocalCredential(r.Context(), req.Email, req.Password)
	if err != nil || !principal.MfaEnabled {
		helpers.RespondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	principalID := db.FromUUID(principal.ID)

	if ok, err := s.MFALimiter.Allow(r.Context(), principalID.String()); err != nil || !ok {
		helpers.RespondError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	}

	if valid, err := s.MFA.VerifyCode(r.Context(), principalID, principal.MfaSecretEncrypted.String, req.MFAToken); err == nil && valid {
		s.issueSession(w, r, principal, req.Email, nil)
		return
	}

	remaining, shouldRegenerate, err := s.MFA.ConsumeBackupCode(r.Context(), principalID, req.MFAToken)
	if err != nil {
		s.Audit.Log(r.Context(), audit.EventMFAFailed, audit.SeverityWarning, audit.Params{
			PrincipalID: principalID, IP: ip, UserAgent: r.UserAgent(),
		})
		helpers.RespondError(w, http.StatusUnauthorized, "invalid code")
		return
	}

	s.issueSession(w, r, principal, req.Email, map[string]any{
		"requires_backup_code_regeneration": shouldRegenerate,
		"remaining_backup_codes":            remaining,
	})
}

// MFASetupLogin serves the forced-enrolment path (I5): a principal
// blocked at login by mfa_setup_required must be able to generate a TOTP
// secret without an existing session. The password is re-verified so the
// unauthenticated endpoint can't be used to enumerate accounts.
func (s *Server) MFASetupLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	principal, err := s.Identity.VerifyLocalCredential(r.Context(), req.Email, req.Password)
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	setup, err := s.MFA.BeginSetup(req.Email)
	if err != nil {
		slog.Error("mfa setup-login failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "could not start MFA setup")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"user_uuid":    db.FromUUID(principal.ID),
		"secret":       setup.Secret,
		"otpauth_url":  setup.OTPAuthURL,
		"qr_code_png":  base64.StdEncoding.EncodeToString(setup.QRCodePNG),
		"backup_codes": setup.BackupCodes,
	})
}

type mfaEnableLoginRequest struct {
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	Secret      string   `json:"secret"`
	Code        string   `json:"code"`
	BackupCodes []string `json:"backup_codes"`
}

// MFAEnableLogin completes the forced-enrolment path: it proves
// possession of the secret offered by MFASetupLogin and, on success,
// persists it and issues a session in one step.
func (s *Server) MFAEnableLogin(w http.ResponseWriter, r *http.Request) {
	var req mfaEnableLoginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	principal, err := s.Identity.VerifyLocalCredential(r.Context(), req.Email, req.Password)
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	principalID := db.FromUUID(principal.ID)
	setup := mfa.Setup{Secret: req.Secret, BackupCodes: req.BackupCodes}
	if err := s.MFA.VerifyAndEnable(r.Context(), principalID, setup, req.Code); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid code")
		return
	}

	principal.MfaEnabled = true
	s.issueSession(w, r, principal, req.Email, nil)
}

// Logout implements POST /auth/logout: clears all cookies and revokes
// the session identified by the refresh cookie, if any.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		if rt, err := s.Queries.GetRefreshTokenByHash(r.Context(), cryptoutil.HashToken(cookie.Value)); err == nil {
			_ = s.Sessions.Revoke(r.Context(), db.FromUUID(rt.PrincipalID), db.FromUUID(rt.SessionID))
			s.Audit.Log(r.Context(), audit.EventLogout, audit.SeverityInfo, audit.Params{
				PrincipalID: db.FromUUID(rt.PrincipalID), SessionID: db.FromUUID(rt.SessionID),
				IP: helpers.GetRealIP(r).String(), UserAgent: r.UserAgent(),
			})
		}
	}
	s.clearSessionCookies(w)
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Refresh implements POST /auth/refresh: rotates the refresh cookie and
// re-issues the access cookie and CSRF token.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		helpers.RespondError(w, http.StatusUnauthorized, "no session")
		return
	}

	existing, err := s.Queries.GetRefreshTokenByHash(r.Context(), cryptoutil.HashToken(cookie.Value))
	if err != nil {
		s.clearSessionCookies(w)
		helpers.RespondError(w, http.StatusUnauthorized, "invalid session")
		return
	}
	principalID := db.FromUUID(existing.PrincipalID)
	principal, err := s.Identity.GetByID(r.Context(), principalID)
	if err != nil {
		s.clearSessionCookies(w)
		helpers.RespondError(w, http.StatusUnauthorized, "invalid session")
		return
	}
	emailBinding, err := s.Queries.GetPrimaryEmail(r.Context(), existing.PrincipalID)
	if err != nil {
		s.clearSessionCookies(w)
		helpers.RespondError(w, http.StatusUnauthorized, "invalid session")
		return
	}

	issued, err := s.Sessions.Rotate(r.Context(), cookie.Value, principal, emailBinding.Email, tokenmint.Role(principal.Role))
	if err != nil {
		slog.Warn("refresh failed", "error", err, "ip", helpers.GetRealIP(r).String())
		s.clearSessionCookies(w)
		helpers.RespondError(w, http.StatusUnauthorized, "refresh failed")
		return
	}

	csrfToken, err := cryptoutil.RandomToken(32)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "could not refresh session")
		return
	}
	s.setSessionCookies(w, issued.AccessToken, issued.RefreshToken, csrfToken)
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"success": true, "csrf_token": csrfToken})
}

// ChangePassword implements POST /auth/change-password: requires the
// current password, sets the new one, and — per I8 — revokes every
// other session for the principal while keeping the caller's own alive.
func (s *Server) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if utf8.RuneCountInString(req.NewPassword) < 8 {
		helpers.RespondError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	email, err := customMiddleware.GetEmail(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	currentSessionID := s.currentSessionID(r)

	if err := s.Recovery.ChangePassword(r.Context(), userID, email, req.CurrentPassword, req.NewPassword,
		currentSessionID, helpers.GetRealIP(r).String(), r.UserAgent()); err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			helpers.RespondError(w, http.StatusUnauthorized, "current password is incorrect")
			return
		}
		helpers.RespondError(w, http.StatusBadRequest, "password change failed")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}

// Me implements GET /auth/me.
func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	principal, err := s.Identity.GetByID(r.Context(), userID)
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	email, _ := customMiddleware.GetEmail(r.Context())

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"uuid":         userID,
			"email":        email,
			"display_name": principal.DisplayName,
			"role":         principal.Role,
			"mfa_enabled":  principal.MfaEnabled,
		},
	})
}

// currentSessionID resolves the Session row behind the caller's refresh
// cookie, if any, so credential-mutation flows can keep it alive while
// revoking every other session (I8).
func (s *Server) currentSessionID(r *http.Request) uuid.UUID {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		return uuid.Nil
	}
	rt, err := s.Queries.GetRefreshTokenByHash(r.Context(), cryptoutil.HashToken(cookie.Value))
	if err != nil {
		return uuid.Nil
	}
	return db.FromUUID(rt.SessionID)
}

// openSessionCookies opens a new Session+RefreshToken pair and writes the
// three response cookies, returning the CSRF token so the caller can fold
// it into whatever body (or redirect) it produces. Shared by issueSession
// and the OAuth callback, which redirects instead of returning JSON.
func (s *Server) openSessionCookies(w http.ResponseWriter, r *http.Request, principal db.Principal, email string) (csrfToken string, err error) {
	principalID := db.FromUUID(principal.ID)
	role := tokenmint.Role(principal.Role)
	ip := helpers.GetRealIP(r).String()

	issued, err := s.Sessions.Open(r.Context(), principalID, principal.DisplayName, email, role, tokenmint.ScopeFull,
		r.UserAgent(), ip, r.UserAgent())
	if err != nil {
		slog.Error("session open failed", "error", err)
		return "", err
	}

	csrfToken, err = cryptoutil.RandomToken(32)
	if err != nil {
		return "", err
	}
	s.setSessionCookies(w, issued.AccessToken, issued.RefreshToken, csrfToken)

	s.Audit.Log(r.Context(), audit.EventLoginSuccess, audit.SeverityInfo, audit.Params{
		PrincipalID: principalID, SessionID: issued.SessionID, IP: ip, UserAgent: r.UserAgent(),
	})
	return csrfToken, nil
}

// issueSession opens a session via openSessionCookies and writes the
// spec.md §6 login success body. extra is merged into the body for
// callers (e.g. backup-code login) that need to surface additional
// fields.
func (s *Server) issueSession(w http.ResponseWriter, r *http.Request, principal db.Principal, email string, extra map[string]any) {
	csrfToken, err := s.openSessionCookies(w, r, principal, email)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "could not establish session")
		return
	}

	body := map[string]any{
		"success":    true,
		"csrf_token": csrfToken,
		"user": map[string]any{
			"uuid":  db.FromUUID(principal.ID),
			"email": email,
			"role":  principal.Role,
		},
	}
	for k, v := range extra {
		body[k] = v
	}
	helpers.RespondJSON(w, http.StatusOK, body)
}

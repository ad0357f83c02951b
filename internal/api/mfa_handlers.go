package api

import (
	"encoding/base64"
	"net/http"

	"github.com/lavente/identitycore/internal/api/helpers"
	customMiddleware "github.com/lavente/identitycore/internal/api/middleware"
	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/mfa"
	"github.com/lavente/identitycore/internal/tokenmint"
)

// MFAStatus implements GET /auth/mfa/status.
func (s *Server) MFAStatus(w http.ResponseWriter, r *http.Request) {
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
	backupCount, _ := s.Identity.CountBackupCodes(r.Context(), userID)

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"mfa_enabled":         principal.MfaEnabled,
		"mfa_required":        mfa.ShouldRequireMFA(principal.Role),
		"backup_codes_remaining": backupCount,
	})
}

// SetupMFA implements POST /auth/mfa/setup: generates a secret and
// backup codes but persists nothing until VerifySetupMFA proves
// possession (spec.md §4.5 step 3).
func (s *Server) SetupMFA(w http.ResponseWriter, r *http.Request) {
	email, err := customMiddleware.GetEmail(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	setup, err := s.MFA.BeginSetup(email)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "could not start MFA setup")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"secret":       setup.Secret,
		"otpauth_url":  setup.OTPAuthURL,
		"qr_code_png":  base64.StdEncoding.EncodeToString(setup.QRCodePNG),
		"backup_codes": setup.BackupCodes,
	})
}

type verifySetupRequest struct {
	Secret      string   `json:"secret"`
	Code        string   `json:"code"`
	BackupCodes []string `json:"backup_codes"`
}

// VerifySetupMFA implements POST /auth/mfa/verify-setup.
func (s *Server) VerifySetupMFA(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req verifySetupRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	setup := mfa.Setup{Secret: req.Secret, BackupCodes: req.BackupCodes}
	if err := s.MFA.VerifyAndEnable(r.Context(), userID, setup, req.Code); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid code")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "mfa_enabled"})
}

type disableMFARequest struct {
	Password string `json:"password"`
}

// DisableMFA implements POST /auth/mfa/disable. A normal session must
// present the current password; an mfa_recovery-scoped token (from
// CompleteMFAReset) already proves identity and skips that check.
func (s *Server) DisableMFA(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	scope, err := customMiddleware.GetScope(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if scope == tokenmint.ScopeFull {
		var req disableMFARequest
		if err := helpers.DecodeJSON(r, &req); err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		email, err := customMiddleware.GetEmail(r.Context())
		if err != nil {
			helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.Identity.VerifyLocalCredential(r.Context(), email, req.Password); err != nil {
			helpers.RespondError(w, http.StatusUnauthorized, "current password is incorrect")
			return
		}
	}

	if err := s.MFA.Disable(r.Context(), userID); err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "could not disable MFA")
		return
	}
	if _, err := s.Sessions.RevokeAll(r.Context(), userID); err != nil {
		s.Logger.Warn("mfa disable: session revocation failed", "error", err, "user", userID)
	}
	s.clearSessionCookies(w)

	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "mfa_disabled"})
}

type regenerateBackupCodesRequest struct {
	Password string `json:"password"`
}

// RegenerateBackupCodes implements POST /auth/mfa/regenerate-backup-codes.
func (s *Server) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	scope, err := customMiddleware.GetScope(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if scope == tokenmint.ScopeFull {
		var req regenerateBackupCodesRequest
		if err := helpers.DecodeJSON(r, &req); err != nil {
			helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		email, err := customMiddleware.GetEmail(r.Context())
		if err != nil {
			helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if _, err := s.Identity.VerifyLocalCredential(r.Context(), email, req.Password); err != nil {
			helpers.RespondError(w, http.StatusUnauthorized, "current password is incorrect")
			return
		}
	}

	codes, err := s.MFA.RegenerateBackupCodes(r.Context(), userID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "could not regenerate backup codes")
		return
	}
	s.Audit.Log(r.Context(), audit.EventMFAEnabled, audit.SeverityInfo, audit.Params{
		PrincipalID: userID, Metadata: map[string]any{"action": "backup_codes_regenerated"},
	})

	helpers.RespondJSON(w, http.StatusOK, map[string]any{"backup_codes": codes})
}

package api

import (
	"net/http"

	"github.com/lavente/identitycore/internal/api/helpers"
)

type emailRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset implements POST /auth/password-reset/request. The
// response is constant regardless of whether the email matches a
// principal (spec.md §4.7.1, §7: no account-enumeration side channel).
func (s *Server) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Email == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Recovery.RequestPasswordReset(r.Context(), req.Email, helpers.GetRealIP(r).String(), r.UserAgent()); err != nil {
		s.Logger.Error("password reset request failed", "error", err)
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "if the account exists, an email has been sent"})
}

type completePasswordResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// CompletePasswordReset implements POST /auth/password-reset/complete.
func (s *Server) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req completePasswordResetRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Token == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Recovery.CompletePasswordReset(r.Context(), req.Token, req.NewPassword,
		helpers.GetRealIP(r).String(), r.UserAgent()); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "password_reset"})
}

// RequestMFAReset implements POST /auth/mfa-reset/request.
func (s *Server) RequestMFAReset(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Email == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Recovery.RequestMFAReset(r.Context(), req.Email, helpers.GetRealIP(r).String(), r.UserAgent()); err != nil {
		s.Logger.Error("mfa reset request failed", "error", err)
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"message": "if the account exists, an email has been sent"})
}

type completeMFAResetRequest struct {
	Token string `json:"token"`
}

// CompleteMFAReset implements POST /auth/mfa-reset/complete: on success
// the response carries an mfa_recovery-scoped access cookie (no refresh
// cookie, no Session row) rather than a full session.
func (s *Server) CompleteMFAReset(w http.ResponseWriter, r *http.Request) {
	var req completeMFAResetRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Token == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	accessToken, err := s.Recovery.CompleteMFAReset(r.Context(), req.Token, helpers.GetRealIP(r).String(), r.UserAgent())
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(accessCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.Config.Production,
		SameSite: http.SameSiteLaxMode,
	})
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "mfa_recovery_granted"})
}

// ValidateInvitation implements POST /auth/invitation/validate.
func (s *Server) ValidateInvitation(w http.ResponseWriter, r *http.Request) {
	var req completeMFAResetRequest // {token}
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Token == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	info, err := s.Recovery.ValidateInvitation(r.Context(), req.Token)
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid or expired invitation")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{
		"email": info.Email, "display_name": info.DisplayName,
	})
}

type acceptInvitationRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// AcceptInvitation implements POST /auth/invitation/accept.
func (s *Server) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var req acceptInvitationRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Token == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Recovery.AcceptInvitation(r.Context(), req.Token, req.Password); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid invitation or password policy violation")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "invitation_accepted"})
}

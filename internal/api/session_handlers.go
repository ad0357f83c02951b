package api

import (
	"net/http"

	"github.com/lavente/identitycore/internal/api/helpers"
	customMiddleware "github.com/lavente/identitycore/internal/api/middleware"
	"github.com/lavente/identitycore/internal/storage/db"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type sessionView struct {
	ID         uuid.UUID `json:"id"`
	DeviceLabel string   `json:"device_label,omitempty"`
	IP         string    `json:"ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	CreatedAt  string    `json:"created_at"`
	LastActive string    `json:"last_active"`
	IsCurrent  bool      `json:"is_current"`
}

// ListSessions implements GET /auth/sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessions, err := s.Sessions.ListActive(r.Context(), userID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "could not list sessions")
		return
	}

	currentID := s.currentSessionID(r)

	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		sessID := db.FromUUID(sess.ID)
		views = append(views, sessionView{
			ID:          sessID,
			DeviceLabel: sess.DeviceLabel.String,
			IP:          sess.IPAddress.String,
			UserAgent:   sess.UserAgent.String,
			CreatedAt:   sess.CreatedAt.Time.Format("2006-01-02T15:04:05Z07:00"),
			LastActive:  sess.LastActive.Time.Format("2006-01-02T15:04:05Z07:00"),
			IsCurrent:   sessID == currentID,
		})
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{"sessions": views})
}

// RevokeSession implements DELETE /auth/sessions/{id}.
func (s *Server) RevokeSession(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if err := s.Sessions.Revoke(r.Context(), userID, sessionID); err != nil {
		helpers.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// RevokeOtherSessions implements DELETE /auth/sessions/others: signs out
// every device except the one the request arrived on.
func (s *Server) RevokeOtherSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	keepID := s.currentSessionID(r)
	count, err := s.Sessions.RevokeOthers(r.Context(), userID, keepID)
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "could not revoke sessions")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"revoked": count})
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lavente/identitycore/internal/api/helpers"
	customMiddleware "github.com/lavente/identitycore/internal/api/middleware"
	"github.com/lavente/identitycore/internal/identity"
	"github.com/lavente/identitycore/internal/storage/db"
)

type inviteUserRequest struct {
	Email       string  `json:"email"`
	DisplayName string  `json:"display_name"`
	Role        db.Role `json:"role"`
}

// InviteUser implements POST /admin/users/invite. The invited-by name
// shown in the email is the calling admin's display name, looked up from
// their principal record.
func (s *Server) InviteUser(w http.ResponseWriter, r *http.Request) {
	var req inviteUserRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Email == "" || req.DisplayName == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role == "" {
		req.Role = db.RoleUser
	}

	adminID, err := customMiddleware.GetUserID(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	admin, err := s.Identity.GetByID(r.Context(), adminID)
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := s.Recovery.CreateInvitation(r.Context(), req.Email, req.DisplayName, req.Role, admin.DisplayName); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "could not create invitation")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "invitation_sent"})
}

type userListView struct {
	UUID        uuid.UUID `json:"uuid"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name"`
	Role        db.Role   `json:"role"`
	MFAEnabled  bool      `json:"mfa_enabled"`
	CreatedAt   string    `json:"created_at"`
}

// ListUsers implements GET /admin/users, paginated via ?page=&page_size=.
func (s *Server) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	rows, err := s.Queries.ListPrincipals(r.Context(), int32(pageSize), int32((page-1)*pageSize))
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "could not list users")
		return
	}
	total, err := s.Queries.CountPrincipals(r.Context())
	if err != nil {
		helpers.RespondError(w, http.StatusInternalServerError, "could not list users")
		return
	}

	views := make([]userListView, 0, len(rows))
	for _, row := range rows {
		views = append(views, userListView{
			UUID:        db.FromUUID(row.ID),
			Email:       row.PrimaryEmail.String,
			DisplayName: row.DisplayName,
			Role:        row.Role,
			MFAEnabled:  row.MfaEnabled,
			CreatedAt:   row.CreatedAt.Time.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"users": views,
		"total": total,
		"page":  page,
	})
}

type updateUserRoleRequest struct {
	Role db.Role `json:"role"`
}

// UpdateUserRole implements PATCH /admin/users/{id}.
func (s *Server) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req updateUserRoleRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Role == "" {
		helpers.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.Identity.UpdateRole(r.Context(), targetID, req.Role); err != nil {
		if errors.Is(err, identity.ErrLastAdmin) {
			helpers.RespondError(w, http.StatusConflict, "cannot demote the last remaining admin")
			return
		}
		helpers.RespondError(w, http.StatusBadRequest, "could not update role")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "role_updated"})
}

// RemoveUser implements DELETE /admin/users/{id}.
func (s *Server) RemoveUser(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := s.Identity.DeletePrincipal(r.Context(), targetID); err != nil {
		if errors.Is(err, identity.ErrLastAdmin) {
			helpers.RespondError(w, http.StatusConflict, "cannot remove the last remaining admin")
			return
		}
		helpers.RespondError(w, http.StatusBadRequest, "could not remove user")
		return
	}
	if _, err := s.Sessions.RevokeAll(r.Context(), targetID); err != nil {
		s.Logger.Warn("user removal: session revocation failed", "error", err, "user", targetID)
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "user_removed"})
}

package middleware

import (
	"log/slog"
	"net/http"

	"github.com/lavente/identitycore/internal/tokenmint"
)

// roleWeights orders the three roles for hierarchy checks: admin outranks
// technician outranks user.
var roleWeights = map[tokenmint.Role]int{
	tokenmint.RoleAdmin:      3,
	tokenmint.RoleTechnician: 2,
	tokenmint.RoleUser:       1,
}

// RBACMiddleware creates a middleware factory that enforces a minimum
// role. It requires AuthMiddleware to have run first so role comes from
// the verified token, not a fresh DB lookup.
func RBACMiddleware() func(requiredRole tokenmint.Role) func(next http.Handler) http.Handler {
	return func(requiredRole tokenmint.Role) func(next http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, err := GetUserID(r.Context()); err != nil {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}

				role, err := GetRole(r.Context())
				if err != nil {
					slog.Warn("rbac: role missing in context", "ip", r.RemoteAddr)
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}

				if roleWeights[role] < roleWeights[requiredRole] {
					slog.Warn("rbac: insufficient permissions", "have", role, "need", requiredRole)
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}

				next.ServeHTTP(w, r)
			})
		}
	}
}

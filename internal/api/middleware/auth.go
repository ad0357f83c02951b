package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lavente/identitycore/internal/tokenmint"
)

// AuthMiddleware validates the access_token cookie and injects the
// principal's id, role, scope, and email into the request context. A
// "full" scope is required here; endpoints that accept an "mfa_recovery"
// token instead wrap their handler in RequireAnyScope.
func AuthMiddleware(mint *tokenmint.Mint) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := claimsFromCookie(r, mint)
			if err != nil {
				slog.Warn("invalid access token", "error", err, "ip", r.RemoteAddr)
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}
			if claims.Scope != tokenmint.ScopeFull {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// RequireMFARecoveryScope gates the narrow set of MFA-management endpoints
// that accept the scoped token minted by recovery.CompleteMFAReset instead
// of a normal session (spec.md §4.7.2).
func RequireMFARecoveryScope(mint *tokenmint.Mint) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := claimsFromCookie(r, mint)
			if err != nil {
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}
			if claims.Scope != tokenmint.ScopeMFARecovery {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// RequireAnyScope accepts either a full session or an mfa_recovery token.
// It backs the handful of MFA-management endpoints that are reachable both
// from a normal session (voluntary disable/re-enroll) and from the scoped
// token minted by recovery.CompleteMFAReset (spec.md §4.7.2). The handler
// itself must branch on GetScope to decide whether to require the current
// password.
func RequireAnyScope(mint *tokenmint.Mint) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := claimsFromCookie(r, mint)
			if err != nil {
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

func claimsFromCookie(r *http.Request, mint *tokenmint.Mint) (*tokenmint.AccessClaims, error) {
	cookie, err := r.Cookie("access_token")
	if err != nil || cookie.Value == "" {
		return nil, errors.New("no access_token cookie")
	}
	return mint.VerifyAccessToken(cookie.Value, "")
}

func withClaims(ctx context.Context, claims *tokenmint.AccessClaims) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, claims.Sub)
	ctx = context.WithValue(ctx, RoleKey, claims.Role)
	ctx = context.WithValue(ctx, ScopeKey, claims.Scope)
	ctx = context.WithValue(ctx, EmailKey, claims.Email)
	SetSentryUser(ctx, claims.Sub.String(), claims.Email, "")
	return ctx
}

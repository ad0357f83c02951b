package api

import (
	"log/slog"

	customMiddleware "github.com/lavente/identitycore/internal/api/middleware"
	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/config"
	"github.com/lavente/identitycore/internal/federation"
	"github.com/lavente/identitycore/internal/identity"
	"github.com/lavente/identitycore/internal/mfa"
	"github.com/lavente/identitycore/internal/ratelimit"
	"github.com/lavente/identitycore/internal/recovery"
	"github.com/lavente/identitycore/internal/session"
	"github.com/lavente/identitycore/internal/storage/db"
	"github.com/lavente/identitycore/internal/tokenmint"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"
)

// Server bundles the chi router with every component it dispatches to.
// It owns no business logic itself — each handler is a thin adapter
// between HTTP and one of the seven components described in spec.md §2.
type Server struct {
	Router *chi.Mux
	Pool   *pgxpool.Pool
	Queries *db.Queries
	Logger  *slog.Logger
	Config  config.Config

	Identity *identity.Store
	Sessions *session.Registry
	MFA      *mfa.Engine
	Mint     *tokenmint.Mint
	Recovery *recovery.Service
	Audit    audit.Service

	// OIDC and Graph are nil when their respective env vars are unset
	// (config.Config.OIDCEnabled / MicrosoftGraphEnabled).
	OIDC  *federation.Provider
	Graph federation.GraphClient

	LoginLimiter ratelimit.Limiter
	MFALimiter   ratelimit.Limiter
}

// NewServer wires every component into a chi router implementing the
// HTTP surface of spec.md §6.
func NewServer(
	pool *pgxpool.Pool,
	queries *db.Queries,
	logger *slog.Logger,
	cfg config.Config,
	identityStore *identity.Store,
	sessions *session.Registry,
	mfaEngine *mfa.Engine,
	mint *tokenmint.Mint,
	recoverySvc *recovery.Service,
	auditLog audit.Service,
	oidcProvider *federation.Provider,
	graphClient federation.GraphClient,
	loginLimiter ratelimit.Limiter,
	mfaLimiter ratelimit.Limiter,
) *Server {
	s := &Server{
		Pool:         pool,
		Queries:      queries,
		Logger:       logger,
		Config:       cfg,
		Identity:     identityStore,
		Sessions:     sessions,
		MFA:          mfaEngine,
		Mint:         mint,
		Recovery:     recoverySvc,
		Audit:        auditLog,
		OIDC:         oidcProvider,
		Graph:        graphClient,
		LoginLimiter: loginLimiter,
		MFALimiter:   mfaLimiter,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	r.Use(customMiddleware.RequestLogger)
	r.Use(customMiddleware.PanicRecovery)
	r.Use(customMiddleware.CORSMiddleware(append([]string{cfg.FrontendURL}, cfg.AdditionalCORSOrigins...)))

	loginIPLimiter := customMiddleware.NewIPRateLimiter(rate.Limit(float64(cfg.AuthRateLimitPerMinute)/60), cfg.AuthRateLimitPerMinute)
	generalIPLimiter := customMiddleware.NewIPRateLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), cfg.RateLimitPerMinute)

	requireAuth := customMiddleware.AuthMiddleware(mint)
	requireAnyScope := customMiddleware.RequireAnyScope(mint)
	requireRole := customMiddleware.RBACMiddleware()

	r.Get("/health", s.HealthHandler())

	r.Route("/auth", func(r chi.Router) {
		r.Use(generalIPLimiter.Middleware)

		// Public
		r.Group(func(r chi.Router) {
			r.Use(loginIPLimiter.Middleware)
			r.Post("/login", s.Login)
			r.Post("/mfa-login", s.MFALogin)
			r.Post("/mfa-setup-login", s.MFASetupLogin)
			r.Post("/mfa-enable-login", s.MFAEnableLogin)
		})
		r.Post("/logout", s.Logout)
		r.Post("/refresh", s.Refresh)
		r.Post("/password-reset/request", s.RequestPasswordReset)
		r.Post("/password-reset/complete", s.CompletePasswordReset)
		r.Post("/mfa-reset/request", s.RequestMFAReset)
		r.Post("/mfa-reset/complete", s.CompleteMFAReset)
		r.Post("/invitation/validate", s.ValidateInvitation)
		r.Post("/invitation/accept", s.AcceptInvitation)
		r.Get("/providers", s.ListProviders)
		r.Post("/oauth/authorize", s.OAuthAuthorize)
		r.Get("/oauth/callback", s.OAuthCallback)
		r.Post("/oauth/logout", s.OAuthLogout)

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(customMiddleware.CSRFMiddleware)

			r.Get("/me", s.Me)
			r.Post("/change-password", s.ChangePassword)
			r.Post("/oauth/connect", s.OAuthConnect)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.ListSessions)
				r.Delete("/others", s.RevokeOtherSessions)
				r.Delete("/{id}", s.RevokeSession)
			})
		})

		// MFA management: reachable with either a full session (voluntary
		// setup/disable) or an mfa_recovery token (recovery.CompleteMFAReset).
		r.Route("/mfa", func(r chi.Router) {
			r.Use(requireAnyScope)
			r.Use(customMiddleware.CSRFMiddleware)

			r.Get("/status", s.MFAStatus)
			r.Post("/setup", s.SetupMFA)
			r.Post("/verify-setup", s.VerifySetupMFA)
			r.Post("/disable", s.DisableMFA)
			r.Post("/regenerate-backup-codes", s.RegenerateBackupCodes)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(generalIPLimiter.Middleware)
		r.Use(requireAuth)
		r.Use(customMiddleware.CSRFMiddleware)
		r.Use(requireRole(tokenmint.RoleAdmin))

		r.Post("/users/invite", s.InviteUser)
		r.Get("/users", s.ListUsers)
		r.Patch("/users/{id}", s.UpdateUserRole)
		r.Delete("/users/{id}", s.RemoveUser)

		r.Post("/backup/export", s.ExportBackup)
		r.Post("/backup/import", s.ImportBackup)
	})

	s.Router = r
	return s
}

package main

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/lavente/identitycore/internal/api"
	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/config"
	"github.com/lavente/identitycore/internal/cryptoutil"
	"github.com/lavente/identitycore/internal/federation"
	"github.com/lavente/identitycore/internal/identity"
	"github.com/lavente/identitycore/internal/mailer"
	"github.com/lavente/identitycore/internal/mfa"
	"github.com/lavente/identitycore/internal/notify"
	"github.com/lavente/identitycore/internal/ratelimit"
	"github.com/lavente/identitycore/internal/recovery"
	"github.com/lavente/identitycore/internal/session"
	"github.com/lavente/identitycore/internal/storage/db"
	"github.com/lavente/identitycore/internal/tokenmint"
	"github.com/lavente/identitycore/pkg/logger"
)

func main() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := config.Load()

	log := logger.Setup(envName(cfg.Production))
	log.Info("application_startup", "production", cfg.Production)

	if err := cfg.Validate(); err != nil {
		log.Error("config_validation_failed", "error", err)
		os.Exit(1)
	}

	if sentryDSN := os.Getenv("SENTRY_DSN"); sentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              sentryDSN,
			TracesSampleRate: 1.0,
			Environment:      envName(cfg.Production),
		}); err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry_initialized")
		}
	} else {
		log.Warn("sentry_dsn_missing", "details", "skipping_init")
	}

	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Error("database_url_parse_failed", "error", err)
		os.Exit(1)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Error("database_pool_create_failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Error("database_ping_failed", "error", err)
		os.Exit(1)
	}
	log.Info("database_connected")

	queries := db.New(pool)

	hasher := cryptoutil.NewBcryptHasher()
	auditLog := audit.NewDBLogger(queries, log)
	identityStore := identity.New(pool, queries, hasher, auditLog)

	mint, err := tokenmint.New([]byte(cfg.JWTSecret))
	if err != nil {
		log.Error("tokenmint_init_failed", "error", err)
		os.Exit(1)
	}

	sessions := session.New(pool, queries, mint, auditLog)

	loginLimiter, mfaLimiter := buildLimiters(cfg, log)

	mfaEngine := mfa.New("Identity Core", identityStore, mfaEncryptionKey(cfg, log), mfaLimiter, auditLog)

	mailSender := buildMailer(cfg, log)
	recoverySvc := recovery.New(identityStore, queries, pool, sessions, mint, mailSender, auditLog, cfg.FrontendURL)

	var oidcProvider *federation.Provider
	if cfg.OIDCEnabled() {
		oidcProvider, err = federation.NewProvider(ctx, federation.OIDCConfig{
			ClientID:      cfg.OIDC.ClientID,
			ClientSecret:  cfg.OIDC.ClientSecret,
			RedirectURI:   cfg.OIDC.RedirectURI,
			IssuerURL:     cfg.OIDC.IssuerURL,
			AuthURL:       cfg.OIDC.AuthURL,
			TokenURL:      cfg.OIDC.TokenURL,
			UserInfoURL:   cfg.OIDC.UserInfoURL,
			LogoutURL:     cfg.OIDC.LogoutURI,
			DisplayName:   cfg.OIDC.DisplayName,
			Scopes:        cfg.OIDC.Scopes,
			UsernameClaim: cfg.OIDC.UsernameClaim,
		}, mint)
		if err != nil {
			log.Error("oidc_provider_init_failed", "error", err)
			os.Exit(1)
		}
		log.Info("oidc_provider_enabled")
	} else {
		log.Warn("oidc_provider_disabled", "details", "OIDC_CLIENT_ID/OIDC_CLIENT_SECRET/issuer not set")
	}

	var graphClient federation.GraphClient
	if cfg.MicrosoftGraphEnabled() {
		graphClient = federation.NewGraphClient(cfg.MS.TenantID, cfg.MS.ClientID, cfg.MS.ClientSecret)
		log.Info("microsoft_graph_enabled")
	} else {
		log.Warn("microsoft_graph_disabled", "details", "MICROSOFT_CLIENT_ID/TENANT_ID/SECRET not set")
	}

	reaper := recovery.NewReaper(sessions, log, time.Hour)
	go reaper.Run(ctx)

	server := api.NewServer(pool, queries, log, cfg,
		identityStore, sessions, mfaEngine, mint, recoverySvc, auditLog,
		oidcProvider, graphClient, loginLimiter, mfaLimiter,
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      server.Router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server_listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			if err := srv.Close(); err != nil {
				log.Error("server_force_close_failed", "error", err)
			}
		}

		pool.Close()
		log.Info("database_pool_closed")
		log.Info("server_shutdown_complete")
	}
}

func envName(production bool) string {
	if production {
		return "production"
	}
	return "development"
}

// mfaEncryptionKey decodes the 64-hex-char MFA_ENCRYPTION_KEY into the 32
// raw bytes cryptoutil.EncryptSecret expects. Non-production falls back
// to a fixed dev key so the AEAD layer still round-trips locally without
// requiring every developer to mint one.
func mfaEncryptionKey(cfg config.Config, log *slog.Logger) []byte {
	raw := cfg.MFAEncryptionKey
	if raw == "" {
		if cfg.Production {
			log.Error("mfa_encryption_key_missing", "details", "fatal_in_production")
			os.Exit(1)
		}
		log.Warn("mfa_encryption_key_missing", "details", "using_dev_key")
		raw = "00000000000000000000000000000000000000000000000000000000000000ff"
	}
	key, err := hex.DecodeString(raw)
	if err != nil || len(key) != cryptoutil.KeySize {
		log.Error("mfa_encryption_key_invalid", "error", err)
		os.Exit(1)
	}
	return key
}

func buildMailer(cfg config.Config, log *slog.Logger) notify.EmailSender {
	if !cfg.SMTP.Enabled {
		log.Warn("smtp_disabled", "details", "using_dev_mailer")
		return &notify.DevMailer{Logger: log}
	}
	provider, err := mailer.NewSMTPProvider(mailer.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		FromName: cfg.SMTP.FromName,
		From:     cfg.SMTP.FromAddr,
		TLSMode:  "starttls",
		Enabled:  true,
	})
	if err != nil {
		log.Error("smtp_provider_init_failed", "error", err)
		os.Exit(1)
	}
	return notify.NewSMTPMailer(provider, log)
}

// buildLimiters prefers a shared Redis-backed limiter when REDIS_URL is
// set, since the login/MFA rate limits must hold across every API
// replica; a single process falls back to the in-memory limiter.
func buildLimiters(cfg config.Config, log *slog.Logger) (login, mfaLim ratelimit.Limiter) {
	if cfg.RedisURL == "" {
		log.Warn("redis_url_missing", "details", "using_in_memory_rate_limiters")
		return ratelimit.NewMemoryLimiter(rate.Limit(float64(cfg.AuthRateLimitPerMinute)/60), cfg.AuthRateLimitPerMinute),
			ratelimit.NewMemoryLimiter(rate.Limit(1.0/30), 5)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("redis_url_parse_failed", "error", err)
		os.Exit(1)
	}
	client := redis.NewClient(opts)

	return ratelimit.NewRedisLimiter(client, "ratelimit:login", int64(cfg.AuthRateLimitPerMinute), time.Minute),
		ratelimit.NewRedisLimiter(client, "ratelimit:mfa", 5, 30*time.Second)
}

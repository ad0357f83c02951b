// Package config loads the identity core's process-wide configuration
// from environment variables (spec.md §6). Everything here is read once
// at startup and treated as read-only thereafter.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	AllowPublicRegistration bool
	DatabaseURL             string
	RedisURL                string
	FrontendURL             string
	AdditionalCORSOrigins   []string

	JWTSecret        string
	MFAEncryptionKey string // 64 hex chars = 32 bytes

	SMTP SMTPConfig
	OIDC OIDCConfig
	MS   MicrosoftConfig

	RateLimitPerMinute     int
	AuthRateLimitPerMinute int

	Production bool
}

type SMTPConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	FromName string
	FromAddr string
}

type OIDCConfig struct {
	IssuerURL     string
	AuthURL       string
	TokenURL      string
	UserInfoURL   string
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	Scopes        []string
	UsernameClaim string
	DisplayName   string
	LogoutURI     string
}

type MicrosoftConfig struct {
	ClientID     string
	TenantID     string
	ClientSecret string
	RedirectURI  string
}

// Load reads configuration from environment variables. It does not
// enforce the production-only floors — call Validate once Production is
// known to do that.
func Load() Config {
	return Config{
		AllowPublicRegistration: getEnvAsBool("ALLOW_PUBLIC_REGISTRATION", false),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisURL:                os.Getenv("REDIS_URL"),
		FrontendURL:             getEnv("FRONTEND_URL", "http://localhost:5173"),
		AdditionalCORSOrigins:   splitCSV(os.Getenv("ADDITIONAL_CORS_ORIGINS")),

		JWTSecret:        os.Getenv("JWT_SECRET"),
		MFAEncryptionKey: os.Getenv("MFA_ENCRYPTION_KEY"),

		SMTP: SMTPConfig{
			Enabled:  getEnvAsBool("SMTP_ENABLED", false),
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			FromName: getEnv("SMTP_FROM_NAME", "Identity Core"),
			FromAddr: firstNonEmpty(os.Getenv("SMTP_FROM_EMAIL"), os.Getenv("SMTP_USERNAME")),
		},

		OIDC: OIDCConfig{
			IssuerURL:     os.Getenv("OIDC_ISSUER_URL"),
			AuthURL:       os.Getenv("OIDC_AUTH_URL"),
			TokenURL:      os.Getenv("OIDC_TOKEN_URL"),
			UserInfoURL:   os.Getenv("OIDC_USERINFO_URL"),
			ClientID:      os.Getenv("OIDC_CLIENT_ID"),
			ClientSecret:  os.Getenv("OIDC_CLIENT_SECRET"),
			RedirectURI:   os.Getenv("OIDC_REDIRECT_URI"),
			Scopes:        splitCSV(getEnv("OIDC_SCOPES", "openid,profile,email")),
			UsernameClaim: getEnv("OIDC_USERNAME_CLAIM", "preferred_username"),
			DisplayName:   getEnv("OIDC_DISPLAY_NAME", "SSO"),
			LogoutURI:     os.Getenv("OIDC_LOGOUT_URI"),
		},

		MS: MicrosoftConfig{
			ClientID:     os.Getenv("MICROSOFT_CLIENT_ID"),
			TenantID:     os.Getenv("MICROSOFT_TENANT_ID"),
			ClientSecret: os.Getenv("MICROSOFT_CLIENT_SECRET"),
			RedirectURI:  os.Getenv("MICROSOFT_REDIRECT_URI"),
		},

		RateLimitPerMinute:     getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
		AuthRateLimitPerMinute: getEnvAsInt("AUTH_RATE_LIMIT_PER_MINUTE", 10),

		Production: getEnv("ENV", "development") == "production",
	}
}

// Validate enforces the production-only floors spec.md §6 calls out:
// JWT_SECRET at least 32 bytes, MFA_ENCRYPTION_KEY exactly 64 hex chars.
func (c Config) Validate() error {
	if !c.Production {
		return nil
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("config: JWT_SECRET must be at least 32 bytes in production")
	}
	if len(c.MFAEncryptionKey) != 64 {
		return fmt.Errorf("config: MFA_ENCRYPTION_KEY must be 64 hex characters (32 bytes) in production")
	}
	return validateCORSOrigins(c.AdditionalCORSOrigins)
}

// validateCORSOrigins rejects wildcard origins and anything not served
// over HTTPS (plain http://localhost is allowed for local testing against
// a production-flagged backend).
func validateCORSOrigins(origins []string) error {
	for _, origin := range origins {
		if origin == "*" {
			return fmt.Errorf("config: wildcard CORS origin not allowed")
		}
		if origin == "" || strings.Contains(origin, " ") {
			return fmt.Errorf("config: invalid CORS origin %q", origin)
		}
		if !strings.HasPrefix(origin, "https://") && !strings.HasPrefix(origin, "http://localhost") {
			return fmt.Errorf("config: CORS origin %q must use https:// (or http://localhost for development)", origin)
		}
	}
	return nil
}

// OIDCEnabled reports whether enough OIDC configuration is present to
// register the federation routes at all.
func (c Config) OIDCEnabled() bool {
	return c.OIDC.ClientID != "" && c.OIDC.ClientSecret != "" && (c.OIDC.IssuerURL != "" || c.OIDC.AuthURL != "")
}

// MicrosoftGraphEnabled reports whether enough Microsoft Graph
// configuration is present to run directory sync.
func (c Config) MicrosoftGraphEnabled() bool {
	return c.MS.ClientID != "" && c.MS.TenantID != "" && c.MS.ClientSecret != ""
}

func getEnv(name, defaultVal string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return defaultVal
}

// Helper to read boolean env vars
func getEnvAsBool(name string, defaultVal bool) bool {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsInt(name string, defaultVal int) int {
	valStr := os.Getenv(name)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

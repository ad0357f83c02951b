// Package recovery implements the short state machines around the three
// single-use ResetToken kinds (spec.md §3, §4.7): password reset, MFA
// reset, and invitation. Each is silent on failure where the spec
// requires it, rate-limited, and revokes sessions on any credential
// mutation per I8.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/cryptoutil"
	"github.com/lavente/identitycore/internal/identity"
	"github.com/lavente/identitycore/internal/notify"
	"github.com/lavente/identitycore/internal/session"
	"github.com/lavente/identitycore/internal/storage/db"
	"github.com/lavente/identitycore/internal/tokenmint"
)

var (
	ErrTokenInvalid   = errors.New("recovery: token is invalid, expired, or already used")
	ErrPasswordPolicy = errors.New("recovery: password must be between 8 and 128 characters")
)

const (
	passwordResetTTL    = 1 * time.Hour
	mfaResetTTL         = 15 * time.Minute
	invitationTTL       = 7 * 24 * time.Hour
	resetIssuancesPerHr = 3
	rawTokenBytes       = 32
	minPasswordLen      = 8
	maxPasswordLen      = 128
)

// Service wires the identity store, session registry, token mint, mailer,
// and audit logger together to implement the recovery flows.
type Service struct {
	identity    *identity.Store
	queries     *db.Queries
	pool        *pgxpool.Pool
	sessions    *session.Registry
	mint        *tokenmint.Mint
	mail        notify.EmailSender
	auditLog    audit.Service
	frontendURL string
}

func New(identityStore *identity.Store, queries *db.Queries, pool *pgxpool.Pool, sessions *session.Registry, mint *tokenmint.Mint, mail notify.EmailSender, auditLog audit.Service, frontendURL string) *Service {
	return &Service{
		identity:    identityStore,
		queries:     queries,
		pool:        pool,
		sessions:    sessions,
		mint:        mint,
		mail:        mail,
		auditLog:    auditLog,
		frontendURL: frontendURL,
	}
}

// validatePassword enforces spec.md's 8-128 character password policy.
func validatePassword(password string) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return ErrPasswordPolicy
	}
	return nil
}

// issueRawToken generates a random token, stores its SHA-256 hash as a
// ResetToken, and returns the raw value to embed in the emailed link —
// the raw value itself is never persisted.
func (s *Service) issueRawToken(ctx context.Context, principalID uuid.UUID, tokenType db.ResetTokenType, ttl time.Duration, ip, userAgent string) (string, error) {
	raw, err := cryptoutil.RandomToken(rawTokenBytes)
	if err != nil {
		return "", fmt.Errorf("recovery: generate token: %w", err)
	}

	_, err = s.queries.CreateResetToken(ctx, cryptoutil.HashToken(raw), db.ToUUID(principalID), tokenType,
		db.ToText(ip, true), db.ToText(userAgent, true), db.ToTimestamptz(time.Now().Add(ttl)), []byte("{}"))
	if err != nil {
		return "", fmt.Errorf("recovery: store reset token: %w", err)
	}
	return raw, nil
}

// redeemToken looks up, validates, and atomically consumes a reset token
// of the expected type. The is_used flip happens inside the UPDATE
// predicate (db.ConsumeResetToken), so two concurrent redemptions of the
// same token can never both succeed (I9).
func (s *Service) redeemToken(ctx context.Context, rawToken string, wantType db.ResetTokenType) (db.ResetToken, error) {
	hash := cryptoutil.HashToken(rawToken)

	tok, err := s.queries.GetResetToken(ctx, hash)
	if errors.Is(err, db.ErrNoRows) {
		return db.ResetToken{}, ErrTokenInvalid
	}
	if err != nil {
		return db.ResetToken{}, err
	}
	if tok.TokenType != wantType || tok.IsUsed || tok.ExpiresAt.Time.Before(time.Now()) {
		return db.ResetToken{}, ErrTokenInvalid
	}

	ok, err := s.queries.ConsumeResetToken(ctx, hash)
	if err != nil {
		return db.ResetToken{}, err
	}
	if !ok {
		return db.ResetToken{}, ErrTokenInvalid
	}
	return tok, nil
}

// Package session is the identity core's Session Registry: it opens
// sessions, rotates refresh tokens with single-winner CAS semantics, lists
// and revokes sessions, and reaps expired ones. Access tokens themselves
// are minted by internal/tokenmint; this package owns only the opaque,
// hashed refresh-token side and the Session row lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/cryptoutil"
	"github.com/lavente/identitycore/internal/storage/db"
	"github.com/lavente/identitycore/internal/tokenmint"
)

const (
	// RefreshTokenTTL matches the teacher's 7-day rotation window.
	RefreshTokenTTL = 7 * 24 * time.Hour
	// SessionTTL bounds how long a Session row (and its cookie) lives
	// without activity before ReapExpired collects it.
	SessionTTL = 30 * 24 * time.Hour
	// ReuseGracePeriod absorbs the UI race where a client double-fires a
	// refresh request: a reuse observed within this window of the original
	// rotation is treated as a concurrent-request collision, not an
	// attacker replaying a stolen token, and does not trigger family-wide
	// revocation.
	ReuseGracePeriod = 10 * time.Second

	refreshTokenBytes = 48
)

var (
	ErrInvalidSession  = errors.New("session: invalid or expired refresh token")
	ErrConcurrentRetry = errors.New("session: concurrent refresh request")
	ErrTokenReuse      = errors.New("session: refresh token reuse detected")
	ErrSessionNotFound = errors.New("session: not found")
)

// Issued bundles everything a login/refresh response hands back to the
// client: a signed access token cookie value and an opaque refresh token
// cookie value.
type Issued struct {
	AccessToken  string
	RefreshToken string
	SessionID    uuid.UUID
	ExpiresAt    time.Time
}

type Registry struct {
	pool    *pgxpool.Pool
	queries *db.Queries
	mint    *tokenmint.Mint
	audit   audit.Service
}

func New(pool *pgxpool.Pool, queries *db.Queries, mint *tokenmint.Mint, auditor audit.Service) *Registry {
	return &Registry{pool: pool, queries: queries, mint: mint, audit: auditor}
}

// Open creates a new Session row plus its first RefreshToken, and mints
// the paired access token. Every login path passes ScopeFull; the
// mfa_recovery token from recovery.CompleteMFAReset is minted directly
// by tokenmint, with no Session row.
func (r *Registry) Open(ctx context.Context, principalID uuid.UUID, name, email string, role tokenmint.Role, scope tokenmint.Scope, deviceLabel, ip, userAgent string) (Issued, error) {
	accessToken, err := r.mint.IssueAccessToken(principalID, name, email, role, scope)
	if err != nil {
		return Issued{}, fmt.Errorf("session: issue access token: %w", err)
	}

	rawRefresh, err := cryptoutil.RandomToken(refreshTokenBytes)
	if err != nil {
		return Issued{}, fmt.Errorf("session: generate refresh token: %w", err)
	}

	sessionID := uuid.New()
	expiresAt := time.Now().Add(SessionTTL)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Issued{}, fmt.Errorf("session: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	q := r.queries.WithTx(tx)

	_, err = q.CreateSession(ctx, db.ToUUID(sessionID), db.ToUUID(principalID),
		cryptoutil.HashToken(rawRefresh), db.ToText(deviceLabel, true), db.ToText(ip, true), db.ToText(userAgent, true),
		db.ToTimestamptz(expiresAt))
	if err != nil {
		return Issued{}, fmt.Errorf("session: create session: %w", err)
	}

	refreshExpiresAt := time.Now().Add(RefreshTokenTTL)
	_, err = q.CreateRefreshToken(ctx, db.ToUUID(uuid.New()), db.ToUUID(principalID), db.ToUUID(sessionID),
		cryptoutil.HashToken(rawRefresh), db.ToTimestamptz(refreshExpiresAt))
	if err != nil {
		return Issued{}, fmt.Errorf("session: create refresh token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Issued{}, fmt.Errorf("session: commit: %w", err)
	}

	return Issued{AccessToken: accessToken, RefreshToken: rawRefresh, SessionID: sessionID, ExpiresAt: expiresAt}, nil
}

// Rotate exchanges a refresh token for a new one plus a fresh access
// token, winning the single-winner CAS race in db.RotateRefreshToken.
// Losing the race distinguishes two outcomes: a reuse within
// ReuseGracePeriod of the real rotation is a benign double-fire
// (ErrConcurrentRetry); any other reuse revokes the whole session
// (ErrTokenReuse), since it implies a stolen, already-spent token.
func (r *Registry) Rotate(ctx context.Context, refreshToken string, principal db.Principal, email string, role tokenmint.Role) (Issued, error) {
	oldHash := cryptoutil.HashToken(refreshToken)

	newRaw, err := cryptoutil.RandomToken(refreshTokenBytes)
	if err != nil {
		return Issued{}, fmt.Errorf("session: generate refresh token: %w", err)
	}
	newHash := cryptoutil.HashToken(newRaw)
	newExpiresAt := time.Now().Add(RefreshTokenTTL)

	rotated, err := r.queries.RotateRefreshToken(ctx, oldHash, db.ToUUID(uuid.New()), newHash, db.ToTimestamptz(newExpiresAt))
	if errors.Is(err, db.ErrConflict) {
		return r.handleRotationConflict(ctx, oldHash)
	}
	if err != nil {
		return Issued{}, fmt.Errorf("session: rotate: %w", err)
	}

	principalID := db.FromUUID(rotated.PrincipalID)
	sessionID := db.FromUUID(rotated.SessionID)

	if err := r.queries.TouchSession(ctx, db.ToUUID(sessionID), db.ToTimestamptz(time.Now().Add(SessionTTL))); err != nil {
		return Issued{}, fmt.Errorf("session: touch session: %w", err)
	}

	accessToken, err := r.mint.IssueAccessToken(principalID, principal.DisplayName, email, role, tokenmint.ScopeFull)
	if err != nil {
		return Issued{}, fmt.Errorf("session: issue access token: %w", err)
	}

	return Issued{AccessToken: accessToken, RefreshToken: newRaw, SessionID: sessionID, ExpiresAt: time.Now().Add(SessionTTL)}, nil
}

// handleRotationConflict re-reads the already-revoked token to decide
// whether the caller lost a benign race or is replaying a spent token.
func (r *Registry) handleRotationConflict(ctx context.Context, oldHash string) (Issued, error) {
	existing, err := r.queries.GetRefreshTokenByHash(ctx, oldHash)
	if errors.Is(err, db.ErrNoRows) {
		return Issued{}, ErrInvalidSession
	}
	if err != nil {
		return Issued{}, err
	}

	if existing.RevokedAt.Valid && time.Since(existing.RevokedAt.Time) < ReuseGracePeriod {
		return Issued{}, ErrConcurrentRetry
	}

	// Nuclear option: this token has been dead longer than the grace
	// window, so whoever just presented it is replaying a spent token.
	// Kill every refresh token and the session it belongs to.
	principalID := db.FromUUID(existing.PrincipalID)
	sessionID := db.FromUUID(existing.SessionID)
	_ = r.queries.RevokeRefreshTokensForSession(ctx, db.ToUUID(sessionID))
	_ = r.queries.RevokeSession(ctx, db.ToUUID(sessionID), db.ToUUID(principalID))

	r.audit.Log(ctx, audit.EventTokenReuseAlarm, audit.SeverityCritical, audit.Params{
		PrincipalID: principalID,
		SessionID:   sessionID,
	})
	return Issued{}, ErrTokenReuse
}

func (r *Registry) ListActive(ctx context.Context, principalID uuid.UUID) ([]db.Session, error) {
	return r.queries.ListActiveSessions(ctx, db.ToUUID(principalID))
}

// Revoke deletes one session scoped to its owner, cascading to its
// refresh tokens via the schema's ON DELETE CASCADE.
func (r *Registry) Revoke(ctx context.Context, principalID, sessionID uuid.UUID) error {
	if err := r.queries.RevokeSession(ctx, db.ToUUID(sessionID), db.ToUUID(principalID)); err != nil {
		if errors.Is(err, db.ErrNoRows) {
			return ErrSessionNotFound
		}
		return err
	}
	r.audit.Log(ctx, audit.EventSessionRevoked, audit.SeverityInfo, audit.Params{
		PrincipalID: principalID,
		SessionID:   sessionID,
	})
	return nil
}

// RevokeOthers kills every session for the principal except keepSessionID,
// used by the "sign out other devices" action and by credential-mutation
// flows that keep the acting session alive (I8).
func (r *Registry) RevokeOthers(ctx context.Context, principalID, keepSessionID uuid.UUID) (int64, error) {
	return r.queries.RevokeOtherSessions(ctx, db.ToUUID(principalID), db.ToUUID(keepSessionID))
}

// RevokeAll kills every session for the principal, used by password
// change/reset and MFA state changes that don't have a session to spare
// (I8).
func (r *Registry) RevokeAll(ctx context.Context, principalID uuid.UUID) (int64, error) {
	n, err := r.queries.RevokeAllSessions(ctx, db.ToUUID(principalID))
	if err != nil {
		return 0, err
	}
	r.audit.Log(ctx, audit.EventSessionRevoked, audit.SeverityWarning, audit.Params{
		PrincipalID: principalID,
		Metadata:    map[string]any{"scope": "all", "count": n},
	})
	return n, nil
}

// ReapExpired deletes every Session (and cascades to its RefreshTokens)
// whose expires_at has passed. internal/recovery's reaper calls this on a
// ticker.
func (r *Registry) ReapExpired(ctx context.Context) (int64, error) {
	return r.queries.ReapExpiredSessions(ctx)
}

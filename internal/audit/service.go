// Package audit records security-relevant events (auth success/failure,
// MFA changes, session revocation, credential mutation) to the
// security_events table. It never returns an error to its caller — a
// failed audit write degrades to a structured log line rather than
// failing the request that triggered it.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lavente/identitycore/internal/storage/db"
)

type Severity = db.SecurityEventSeverity

const (
	SeverityInfo     = db.SeverityInfo
	SeverityWarning  = db.SeverityWarning
	SeverityCritical = db.SeverityCritical
)

// Event type names. These show up verbatim in security_events.event_type
// and in any downstream SIEM export, so they're kept stable and lowercase.
const (
	EventLoginSuccess     = "login_success"
	EventLoginFailed      = "login_failed"
	EventLogout           = "logout"
	EventMFAEnabled       = "mfa_enabled"
	EventMFADisabled      = "mfa_disabled"
	EventMFAFailed        = "mfa_failed"
	EventPasswordChanged  = "password_changed"
	EventPasswordReset    = "password_reset"
	EventMFAReset         = "mfa_reset"
	EventSessionRevoked   = "session_revoked"
	EventInvitationAccept = "invitation_accepted"
	EventIdentityLinked   = "identity_linked"
	EventPrincipalCreated = "principal_created"
	EventBackupCodeUsed   = "backup_code_used"
	EventTokenReuseAlarm  = "refresh_token_reuse_alarm"
	EventGraphSyncApplied = "graph_sync_applied"
	EventRestoreCompleted = "restore_completed"
)

// Params carries the optional context a Log call may attach to an event.
// PrincipalID is the subject the event is about; it may be uuid.Nil for
// events that aren't tied to a principal (e.g. a failed login against an
// unknown email).
type Params struct {
	PrincipalID uuid.UUID
	SessionID   uuid.UUID
	IP          string
	UserAgent   string
	Metadata    map[string]any
}

// Service is the interface the rest of the module depends on, so tests
// can swap in NoopLogger without touching a database.
type Service interface {
	Log(ctx context.Context, eventType string, severity Severity, p Params)
}

// DBLogger is the production Service, backed by the security_events table.
type DBLogger struct {
	queries *db.Queries
	logger  *slog.Logger
}

func NewDBLogger(queries *db.Queries, logger *slog.Logger) *DBLogger {
	return &DBLogger{queries: queries, logger: logger}
}

func (d *DBLogger) Log(ctx context.Context, eventType string, severity Severity, p Params) {
	details, err := json.Marshal(p.Metadata)
	if err != nil {
		d.logger.Error("audit metadata marshal failed", "error", err, "event_type", eventType)
		details = []byte("{}")
	}

	err = d.queries.CreateSecurityEvent(
		ctx,
		db.ToUUID(uuid.New()),
		db.ToUUID(p.PrincipalID),
		eventType,
		severity,
		db.ToText(p.IP, true),
		db.ToText(p.UserAgent, true),
		details,
		db.ToUUID(p.SessionID),
	)
	if err != nil {
		d.logger.Error("audit event write failed",
			"error", err,
			"event_type", eventType,
			"principal_id", p.PrincipalID,
		)
	}
}

// NoopLogger discards every event. Useful in tests that don't care about
// the audit trail and don't want to wire a database.
type NoopLogger struct{}

func (NoopLogger) Log(context.Context, string, Severity, Params) {}

package notify

import (
	"context"
	"log/slog"
)

// EmailSender is the narrow contract internal/recovery depends on. Each
// method corresponds to one of the single-use reset tokens in spec.md §4.7.
type EmailSender interface {
	SendInvitation(ctx context.Context, to, userName, invitedBy, inviteURL string) error
	SendPasswordReset(ctx context.Context, to, userName, resetURL string) error
	SendMFAReset(ctx context.Context, to, userName, resetURL string) error
}

// DevMailer logs emails instead of sending them — safe for local development.
type DevMailer struct {
	Logger *slog.Logger
}

func (m *DevMailer) SendInvitation(ctx context.Context, to, userName, invitedBy, inviteURL string) error {
	m.Logger.Info("📧 EMAIL SENT",
		"to", to,
		"type", "invitation",
		"invited_by", invitedBy,
		"url", inviteURL,
	)
	return nil
}

func (m *DevMailer) SendPasswordReset(ctx context.Context, to, userName, resetURL string) error {
	m.Logger.Info("📧 EMAIL SENT",
		"to", to,
		"type", "password_reset",
		"url", resetURL,
	)
	return nil
}

func (m *DevMailer) SendMFAReset(ctx context.Context, to, userName, resetURL string) error {
	m.Logger.Info("📧 EMAIL SENT",
		"to", to,
		"type", "mfa_reset",
		"url", resetURL,
	)
	return nil
}

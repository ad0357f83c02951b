package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/lavente/identitycore/internal/mailer"
)

// SMTPMailer implements EmailSender by sending synchronously through an
// mailer.EmailProvider. There is no outbox table in this schema, so
// unlike the async queue this is modeled on, a failed send here returns
// an error directly to the caller rather than being retried by a
// background worker.
type SMTPMailer struct {
	Provider mailer.EmailProvider
	Logger   *slog.Logger
}

func NewSMTPMailer(provider mailer.EmailProvider, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{Provider: provider, Logger: logger}
}

func (m *SMTPMailer) SendInvitation(ctx context.Context, to, userName, invitedBy, inviteURL string) error {
	payload := mailer.EmailPayload{
		To:       to,
		Template: mailer.TemplateInvitation,
		Data: map[string]any{
			"user_name":  userName,
			"invited_by": invitedBy,
			"link":       inviteURL,
		},
		RequestID: uuid.NewString(),
	}
	if _, err := m.Provider.Send(ctx, payload); err != nil {
		m.Logger.Error("failed to send invitation email", "to_hash", mailer.HashRecipient(to), "error", err)
		return fmt.Errorf("send invitation: %w", err)
	}
	m.Logger.Info("invitation email sent", "to_hash", mailer.HashRecipient(to))
	return nil
}

func (m *SMTPMailer) SendPasswordReset(ctx context.Context, to, userName, resetURL string) error {
	payload := mailer.EmailPayload{
		To:       to,
		Template: mailer.TemplatePasswordReset,
		Data: map[string]any{
			"user_name": userName,
			"link":      resetURL,
		},
		RequestID: uuid.NewString(),
	}
	if _, err := m.Provider.Send(ctx, payload); err != nil {
		m.Logger.Error("failed to send password reset email", "to_hash", mailer.HashRecipient(to), "error", err)
		return fmt.Errorf("send password reset: %w", err)
	}
	m.Logger.Info("password reset email sent", "to_hash", mailer.HashRecipient(to))
	return nil
}

func (m *SMTPMailer) SendMFAReset(ctx context.Context, to, userName, resetURL string) error {
	payload := mailer.EmailPayload{
		To:       to,
		Template: mailer.TemplateMFAReset,
		Data: map[string]any{
			"user_name": userName,
			"link":      resetURL,
		},
		RequestID: uuid.NewString(),
	}
	if _, err := m.Provider.Send(ctx, payload); err != nil {
		m.Logger.Error("failed to send MFA reset email", "to_hash", mailer.HashRecipient(to), "error", err)
		return fmt.Errorf("send MFA reset: %w", err)
	}
	m.Logger.Info("MFA reset email sent", "to_hash", mailer.HashRecipient(to))
	return nil
}

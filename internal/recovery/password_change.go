package recovery

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lavente/identitycore/internal/audit"
)

// ChangePassword implements the authenticated password-change path:
// verify the current password, set the new one, and — per I8 — revoke
// every other session while leaving the one the request arrived on
// intact, so the user isn't logged out of the tab they just used.
func (s *Service) ChangePassword(ctx context.Context, principalID uuid.UUID, email, currentPassword, newPassword string, currentSessionID uuid.UUID, ip, userAgent string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	if _, err := s.identity.VerifyLocalCredential(ctx, email, currentPassword); err != nil {
		return err
	}

	if err := s.identity.SetPassword(ctx, principalID, newPassword); err != nil {
		return fmt.Errorf("recovery: set password: %w", err)
	}

	if _, err := s.sessions.RevokeOthers(ctx, principalID, currentSessionID); err != nil {
		return fmt.Errorf("recovery: revoke other sessions: %w", err)
	}

	s.auditLog.Log(ctx, audit.EventPasswordChanged, audit.SeverityInfo, audit.Params{
		PrincipalID: principalID,
		SessionID:   currentSessionID,
		IP:          ip,
		UserAgent:   userAgent,
	})
	return nil
}

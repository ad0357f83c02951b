package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/identity"
	"github.com/lavente/identitycore/internal/storage/db"
)

// RequestPasswordReset implements spec.md §4.7.1's request step.
// Constant-response: the caller always gets a nil error, whether or not
// the email resolves to a principal, so account existence never leaks
// (spec.md §7's "Silence is Golden"). Rate-limited to 3 issuances per
// hour per principal via CountRecentResetTokens.
func (s *Service) RequestPasswordReset(ctx context.Context, email, ip, userAgent string) error {
	principal, err := s.identity.LookupByPrimaryEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrPrincipalNotFound) {
			return nil
		}
		return err
	}

	count, err := s.queries.CountRecentResetTokens(ctx, db.ToUUID(principal.ID), db.TokenTypePasswordReset)
	if err != nil {
		return fmt.Errorf("recovery: count recent reset tokens: %w", err)
	}
	if count >= resetIssuancesPerHr {
		return nil
	}

	raw, err := s.issueRawToken(ctx, principal.ID, db.TokenTypePasswordReset, passwordResetTTL, ip, userAgent)
	if err != nil {
		return err
	}

	resetURL := fmt.Sprintf("%s/reset-password?token=%s", s.frontendURL, raw)
	if err := s.mail.SendPasswordReset(ctx, email, principal.DisplayName, resetURL); err != nil {
		return fmt.Errorf("recovery: send password reset email: %w", err)
	}
	return nil
}

// CompletePasswordReset implements spec.md §4.7.1's complete step: redeem
// the token, enforce the password policy, set the new credential, and —
// per I8 — revoke every session and refresh token for the principal.
func (s *Service) CompletePasswordReset(ctx context.Context, rawToken, newPassword, ip, userAgent string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	tok, err := s.redeemToken(ctx, rawToken, db.TokenTypePasswordReset)
	if err != nil {
		return err
	}
	principalID := db.FromUUID(tok.PrincipalID)

	if err := s.identity.SetPassword(ctx, principalID, newPassword); err != nil {
		return fmt.Errorf("recovery: set password: %w", err)
	}

	if _, err := s.sessions.RevokeAll(ctx, principalID); err != nil {
		return fmt.Errorf("recovery: revoke sessions: %w", err)
	}

	s.auditLog.Log(ctx, audit.EventPasswordReset, audit.SeverityWarning, audit.Params{
		PrincipalID: principalID,
		IP:          ip,
		UserAgent:   userAgent,
	})
	return nil
}

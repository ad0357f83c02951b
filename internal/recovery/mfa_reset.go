package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/identity"
	"github.com/lavente/identitycore/internal/storage/db"
	"github.com/lavente/identitycore/internal/tokenmint"
)

// RequestMFAReset implements spec.md §4.7.2's request step: same
// constant-response shape as password reset, but with a 15-minute
// expiry since the resulting token grants a scoped recovery session.
func (s *Service) RequestMFAReset(ctx context.Context, email, ip, userAgent string) error {
	principal, err := s.identity.LookupByPrimaryEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrPrincipalNotFound) {
			return nil
		}
		return err
	}
	if !principal.MfaEnabled {
		return nil
	}

	count, err := s.queries.CountRecentResetTokens(ctx, db.ToUUID(principal.ID), db.TokenTypeMFAReset)
	if err != nil {
		return fmt.Errorf("recovery: count recent reset tokens: %w", err)
	}
	if count >= resetIssuancesPerHr {
		return nil
	}

	raw, err := s.issueRawToken(ctx, principal.ID, db.TokenTypeMFAReset, mfaResetTTL, ip, userAgent)
	if err != nil {
		return err
	}

	resetURL := fmt.Sprintf("%s/mfa-recovery?token=%s", s.frontendURL, raw)
	if err := s.mail.SendMFAReset(ctx, email, principal.DisplayName, resetURL); err != nil {
		return fmt.Errorf("recovery: send MFA reset email: %w", err)
	}
	return nil
}

// CompleteMFAReset implements spec.md §4.7.2's complete step: redeem the
// token and mint an access token scoped mfa_recovery, accepted only by
// the MFA-management endpoints (disable / re-enroll). It does not itself
// disable MFA or revoke sessions — that happens when the caller actually
// uses the scoped token to disable or re-enroll.
func (s *Service) CompleteMFAReset(ctx context.Context, rawToken, ip, userAgent string) (string, error) {
	tok, err := s.redeemToken(ctx, rawToken, db.TokenTypeMFAReset)
	if err != nil {
		return "", err
	}
	principalID := db.FromUUID(tok.PrincipalID)

	principal, err := s.identity.GetByID(ctx, principalID)
	if err != nil {
		return "", err
	}
	primaryEmail, err := s.queries.GetPrimaryEmail(ctx, tok.PrincipalID)
	if err != nil {
		return "", fmt.Errorf("recovery: load primary email: %w", err)
	}

	accessToken, err := s.mint.IssueAccessToken(principalID, principal.DisplayName, primaryEmail.Email, tokenmint.Role(principal.Role), tokenmint.ScopeMFARecovery)
	if err != nil {
		return "", fmt.Errorf("recovery: issue mfa_recovery token: %w", err)
	}

	s.auditLog.Log(ctx, audit.EventMFAReset, audit.SeverityWarning, audit.Params{
		PrincipalID: principalID,
		IP:          ip,
		UserAgent:   userAgent,
	})
	return accessToken, nil
}

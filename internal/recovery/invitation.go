package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/cryptoutil"
	"github.com/lavente/identitycore/internal/storage/db"
)

// InvitationInfo is what ValidateInvitation reveals to an unauthenticated
// caller about a pending invite before it accepts a password — enough to
// prefill a setup form, nothing that identifies anyone else.
type InvitationInfo struct {
	Email       string
	DisplayName string
}

// CreateInvitation implements spec.md §4.7.3: an admin creates a
// Principal with no local password, and a 7-day invitation ResetToken is
// issued and emailed.
func (s *Service) CreateInvitation(ctx context.Context, email, displayName string, role db.Role, invitedByName string) error {
	principal, err := s.identity.CreatePrincipalWithPrimaryEmail(ctx, displayName, role, email, "invitation", false)
	if err != nil {
		return fmt.Errorf("recovery: create invited principal: %w", err)
	}

	raw, err := s.issueRawToken(ctx, principal.ID, db.TokenTypeInvitation, invitationTTL, "", "")
	if err != nil {
		return err
	}

	inviteURL := fmt.Sprintf("%s/accept-invitation?token=%s", s.frontendURL, raw)
	if err := s.mail.SendInvitation(ctx, email, displayName, invitedByName, inviteURL); err != nil {
		return fmt.Errorf("recovery: send invitation email: %w", err)
	}
	return nil
}

// ValidateInvitation looks up a pending invitation without consuming it,
// so the accept-invitation page can show who the invite is for.
func (s *Service) ValidateInvitation(ctx context.Context, rawToken string) (InvitationInfo, error) {
	tok, err := s.queries.GetResetToken(ctx, cryptoutil.HashToken(rawToken))
	if errors.Is(err, db.ErrNoRows) {
		return InvitationInfo{}, ErrTokenInvalid
	}
	if err != nil {
		return InvitationInfo{}, err
	}
	if tok.TokenType != db.TokenTypeInvitation || tok.IsUsed || tok.ExpiresAt.Time.Before(time.Now()) {
		return InvitationInfo{}, ErrTokenInvalid
	}

	principal, err := s.identity.GetByID(ctx, db.FromUUID(tok.PrincipalID))
	if err != nil {
		return InvitationInfo{}, err
	}
	email, err := s.queries.GetPrimaryEmail(ctx, tok.PrincipalID)
	if err != nil {
		return InvitationInfo{}, err
	}

	return InvitationInfo{Email: email.Email, DisplayName: principal.DisplayName}, nil
}

// AcceptInvitation implements spec.md §4.7.3's accept step: redeem the
// token, set the local credential, and mark the primary email verified.
func (s *Service) AcceptInvitation(ctx context.Context, rawToken, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	tok, err := s.redeemToken(ctx, rawToken, db.TokenTypeInvitation)
	if err != nil {
		return err
	}
	principalID := db.FromUUID(tok.PrincipalID)

	if _, err := s.identity.CreateLocalIdentity(ctx, principalID, password); err != nil {
		return fmt.Errorf("recovery: create local identity: %w", err)
	}
	if err := s.identity.VerifyPrimaryEmail(ctx, principalID); err != nil {
		return fmt.Errorf("recovery: verify primary email: %w", err)
	}

	s.auditLog.Log(ctx, audit.EventInvitationAccept, audit.SeverityInfo, audit.Params{
		PrincipalID: principalID,
	})
	return nil
}

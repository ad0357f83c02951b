// Package identity is the identity core's Identity Store: creation,
// lookup, and mutation of Principals, their EmailBindings, and their
// AuthIdentities. It owns the invariants I1-I4, I6, I7, I10 directly;
// session and MFA concerns live in their own packages and call back into
// identity for the Principal-level mutations they need.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/cryptoutil"
	"github.com/lavente/identitycore/internal/storage/db"
)

var (
	ErrPrincipalNotFound  = errors.New("identity: principal not found")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrAlreadyLinked      = errors.New("identity: identity already linked")
	ErrEmailTaken         = errors.New("identity: email already bound to another principal")
	ErrLastAdmin          = errors.New("identity: cannot delete the last admin principal")
	ErrNoLocalIdentity    = errors.New("identity: principal has no local credential")
)

const uniqueViolation = "23505"

// Store is the identity core's Identity Store. It is agnostic of HTTP
// transport; callers in internal/api wire it behind handlers.
type Store struct {
	pool    *pgxpool.Pool
	queries *db.Queries
	hasher  cryptoutil.PasswordHasher
	audit   audit.Service
}

func New(pool *pgxpool.Pool, queries *db.Queries, hasher cryptoutil.PasswordHasher, auditor audit.Service) *Store {
	return &Store{pool: pool, queries: queries, hasher: hasher, audit: auditor}
}

// withTx runs fn against a Queries bound to a fresh transaction, committing
// on success and rolling back on any error or panic.
func (s *Store) withTx(ctx context.Context, fn func(q *db.Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("identity: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// LookupByPrimaryEmail resolves a principal by its one primary email
// (spec.md I1/I2): secondary, unverified-source emails are never a login
// selector.
func (s *Store) LookupByPrimaryEmail(ctx context.Context, email string) (db.Principal, error) {
	p, err := s.queries.GetPrincipalByPrimaryEmail(ctx, email)
	if errors.Is(err, db.ErrNoRows) {
		return db.Principal{}, ErrPrincipalNotFound
	}
	return p, err
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (db.Principal, error) {
	p, err := s.queries.GetPrincipalByID(ctx, db.ToUUID(id))
	if errors.Is(err, db.ErrNoRows) {
		return db.Principal{}, ErrPrincipalNotFound
	}
	return p, err
}

// CreatePrincipalWithPrimaryEmail creates a new principal and its sole
// primary EmailBinding in one transaction, so a crash between the two
// inserts can never produce a principal with zero emails (I1).
func (s *Store) CreatePrincipalWithPrimaryEmail(ctx context.Context, displayName string, role db.Role, email, source string, verified bool) (db.Principal, error) {
	if exists, err := s.queries.EmailExists(ctx, email); err != nil {
		return db.Principal{}, err
	} else if exists {
		return db.Principal{}, ErrEmailTaken
	}

	var principal db.Principal
	err := s.withTx(ctx, func(q *db.Queries) error {
		var err error
		principal, err = q.CreatePrincipal(ctx, db.ToUUID(uuid.New()), displayName, role)
		if err != nil {
			return err
		}
		_, err = q.CreateEmailBinding(ctx, db.ToUUID(uuid.New()), principal.ID, email, true, verified, source)
		return err
	})
	if err != nil {
		return db.Principal{}, err
	}

	s.audit.Log(ctx, audit.EventPrincipalCreated, audit.SeverityInfo, audit.Params{
		PrincipalID: db.FromUUID(principal.ID),
		Metadata:    map[string]any{"role": string(role), "email_source": source},
	})
	return principal, nil
}

// CreateLocalIdentity attaches a password-authenticated local AuthIdentity
// to an existing principal. The provided password is hashed here; callers
// never pass a pre-hashed value.
func (s *Store) CreateLocalIdentity(ctx context.Context, principalID uuid.UUID, password string) (db.AuthIdentity, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return db.AuthIdentity{}, fmt.Errorf("identity: hash password: %w", err)
	}

	ident, err := s.queries.CreateAuthIdentity(ctx, db.ToUUID(uuid.New()), db.ToUUID(principalID),
		db.ProviderLocal, principalID.String(), db.ToText("", true), []byte("{}"), db.ToText(hash, false))
	if isUniqueViolation(err) {
		return db.AuthIdentity{}, ErrAlreadyLinked
	}
	return ident, err
}

// LinkExternalIdentity binds an external provider identity to a principal,
// enforcing I3 (one identity per principal+provider) and I4 (one identity
// per provider+external_id) via the unique constraints on auth_identities;
// a constraint violation here surfaces as ErrAlreadyLinked rather than a
// raw pgx error.
func (s *Store) LinkExternalIdentity(ctx context.Context, principalID uuid.UUID, provider db.ProviderType, externalID, emailAtLink string, rawClaims []byte) (db.AuthIdentity, error) {
	ident, err := s.queries.CreateAuthIdentity(ctx, db.ToUUID(uuid.New()), db.ToUUID(principalID),
		provider, externalID, db.ToText(emailAtLink, true), rawClaims, db.ToText("", true))
	if isUniqueViolation(err) {
		return db.AuthIdentity{}, ErrAlreadyLinked
	}
	if err != nil {
		return db.AuthIdentity{}, err
	}

	s.audit.Log(ctx, audit.EventIdentityLinked, audit.SeverityInfo, audit.Params{
		PrincipalID: principalID,
		Metadata:    map[string]any{"provider": string(provider)},
	})
	return ident, nil
}

// FindByProviderExternalID backs the federation link/create decision
// (spec.md §4.6.3 step 1): look up an existing AuthIdentity before ever
// falling back to email matching.
func (s *Store) FindByProviderExternalID(ctx context.Context, provider db.ProviderType, externalID string) (db.AuthIdentity, error) {
	return s.queries.GetAuthIdentityByProviderExternalID(ctx, provider, externalID)
}

func (s *Store) FindByPrincipalProvider(ctx context.Context, principalID uuid.UUID, provider db.ProviderType) (db.AuthIdentity, error) {
	return s.queries.GetAuthIdentityByPrincipalProvider(ctx, db.ToUUID(principalID), provider)
}

// UpdateIdentityClaims refreshes the raw claims blob and last-seen link
// email on an existing federated identity, e.g. after every successful
// OIDC login so directory sync has fresh attributes to reconcile from.
func (s *Store) UpdateIdentityClaims(ctx context.Context, identityID uuid.UUID, rawClaims []byte, emailAtLink string) error {
	return s.queries.UpdateIdentityClaims(ctx, db.ToUUID(identityID), rawClaims, db.ToText(emailAtLink, true))
}

// VerifyLocalCredential checks a plaintext password against a principal's
// local AuthIdentity. It returns ErrInvalidCredentials for both "no such
// email" and "wrong password" so callers can give a uniform response and
// avoid leaking account existence.
func (s *Store) VerifyLocalCredential(ctx context.Context, email, password string) (db.Principal, error) {
	principal, err := s.LookupByPrimaryEmail(ctx, email)
	if err != nil {
		return db.Principal{}, ErrInvalidCredentials
	}

	ident, err := s.queries.GetAuthIdentityByPrincipalProvider(ctx, principal.ID, db.ProviderLocal)
	if err != nil || !ident.PasswordHash.Valid {
		return db.Principal{}, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, ident.PasswordHash.String) {
		return db.Principal{}, ErrInvalidCredentials
	}
	return principal, nil
}

// SetPassword hashes and stores a new local password, stamping
// password_changed_at. Per I8, the caller is responsible for revoking
// sessions and emitting the audit event — SetPassword itself is a pure
// credential mutation so it can also be used for the initial set on
// invitation accept, where no prior sessions exist to revoke.
func (s *Store) SetPassword(ctx context.Context, principalID uuid.UUID, newPassword string) error {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("identity: hash password: %w", err)
	}

	return s.withTx(ctx, func(q *db.Queries) error {
		if err := q.UpdateLocalPasswordHash(ctx, db.ToUUID(principalID), hash); err != nil {
			return err
		}
		return q.SetPasswordChanged(ctx, db.ToUUID(principalID))
	})
}

// EnableMFA persists the AEAD-encrypted TOTP secret and flips mfa_enabled.
// Callers in internal/mfa are responsible for encrypting the secret first.
func (s *Store) EnableMFA(ctx context.Context, principalID uuid.UUID, encryptedSecret string) error {
	return s.queries.EnableMFA(ctx, db.ToUUID(principalID), encryptedSecret)
}

func (s *Store) DisableMFA(ctx context.Context, principalID uuid.UUID) error {
	return s.queries.DisableMFA(ctx, db.ToUUID(principalID))
}

// ReplaceBackupCodes deletes any existing backup codes and stores freshly
// bcrypt-hashed replacements, used by both initial MFA setup and the
// regenerate-codes operation.
func (s *Store) ReplaceBackupCodes(ctx context.Context, principalID uuid.UUID, plaintextCodes []string) error {
	return s.withTx(ctx, func(q *db.Queries) error {
		if err := q.DeleteBackupCodes(ctx, db.ToUUID(principalID)); err != nil {
			return err
		}
		for _, code := range plaintextCodes {
			hash, err := s.hasher.Hash(code)
			if err != nil {
				return fmt.Errorf("identity: hash backup code: %w", err)
			}
			if err := q.CreateBackupCode(ctx, db.ToUUID(uuid.New()), db.ToUUID(principalID), hash); err != nil {
				return err
			}
		}
		return nil
	})
}

// ConsumeBackupCode bcrypt-compares the supplied code against every unused
// backup code for the principal and atomically deletes the first match
// inside one transaction, satisfying I6 (a backup code is usable exactly
// once). bcrypt comparison can't be pushed into SQL, so the scan-then-
// delete happens in Go but under the same transaction that performs the
// delete, closing the TOCTOU window a separate read/compare/delete would
// leave open.
func (s *Store) ConsumeBackupCode(ctx context.Context, principalID uuid.UUID, code string) (remaining int, err error) {
	err = s.withTx(ctx, func(q *db.Queries) error {
		codes, err := q.ListBackupCodes(ctx, db.ToUUID(principalID))
		if err != nil {
			return err
		}

		var matchedID uuid.UUID
		for _, c := range codes {
			if s.hasher.Verify(code, c.CodeHash) {
				matchedID = db.FromUUID(c.ID)
				break
			}
		}
		if matchedID == uuid.Nil {
			return ErrInvalidCredentials
		}

		if err := q.DeleteBackupCodeByID(ctx, db.ToUUID(matchedID)); err != nil {
			return err
		}
		remaining = len(codes) - 1
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.audit.Log(ctx, audit.EventBackupCodeUsed, audit.SeverityWarning, audit.Params{
		PrincipalID: principalID,
		Metadata:    map[string]any{"remaining": remaining},
	})
	return remaining, nil
}

func (s *Store) CountBackupCodes(ctx context.Context, principalID uuid.UUID) (int, error) {
	return s.queries.CountBackupCodes(ctx, db.ToUUID(principalID))
}

// VerifyPrimaryEmail flips the primary EmailBinding's verified flag, used
// by invitation accept (spec.md §4.7.3) once the invitee has proven
// control of the mailbox by redeeming the invite token.
func (s *Store) VerifyPrimaryEmail(ctx context.Context, principalID uuid.UUID) error {
	return s.queries.MarkPrimaryEmailVerified(ctx, db.ToUUID(principalID))
}

// UpdateProfile updates display name and theme; avatar/banner sync happens
// through internal/federation's Graph photo path instead.
func (s *Store) UpdateProfile(ctx context.Context, principalID uuid.UUID, displayName, theme string) error {
	return s.queries.UpdateProfile(ctx, db.ToUUID(principalID), displayName, db.ToText(theme, true))
}

// DeletePrincipal enforces I10: a principal may only be deleted if at
// least one other admin principal would remain afterward, since
// documentation authorship must always be reassignable to a live admin.
func (s *Store) DeletePrincipal(ctx context.Context, principalID uuid.UUID) error {
	p, err := s.GetByID(ctx, principalID)
	if err != nil {
		return err
	}

	if p.Role == db.RoleAdmin {
		n, err := s.queries.CountOtherAdmins(ctx, db.ToUUID(principalID))
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrLastAdmin
		}
	}

	return s.queries.DeletePrincipal(ctx, db.ToUUID(principalID))
}

// UpdateRole changes a principal's role, enforcing I10 the same way
// DeletePrincipal does: demoting the last remaining admin is rejected
// rather than silently leaving the system without one.
func (s *Store) UpdateRole(ctx context.Context, principalID uuid.UUID, role db.Role) error {
	p, err := s.GetByID(ctx, principalID)
	if err != nil {
		return err
	}
	if p.Role == db.RoleAdmin && role != db.RoleAdmin {
		n, err := s.queries.CountOtherAdmins(ctx, db.ToUUID(principalID))
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrLastAdmin
		}
	}
	return s.queries.UpdatePrincipalRole(ctx, db.ToUUID(principalID), role)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/identity"
	"github.com/lavente/identitycore/internal/storage/db"
)

// ExternalPrincipal is the provider-agnostic shape reconcile needs from
// either an OIDC login or a Graph-sync row — oidc.UserInfo and
// graph.GraphUser each adapt into one of these at their call sites.
type ExternalPrincipal struct {
	Provider    db.ProviderType
	ExternalID  string
	Email       string
	DisplayName string
	RawClaims   []byte
}

// Outcome reports what Reconcile actually did, so callers can decide
// whether to emit an audit event, trigger a welcome email, or neither.
type Outcome int

const (
	OutcomeMatchedExisting Outcome = iota
	OutcomeLinkedByEmail
	OutcomeCreated
)

// Reconcile implements the link/create decision shared by the OIDC
// callback and Microsoft Graph directory sync (spec.md §4.6.3), grounded
// on original_source's process_microsoft_user: look up an AuthIdentity
// for this provider+external_id first; if none exists, fall back to a
// primary-email match and link; only create a brand new principal when
// neither lookup succeeds.
func Reconcile(ctx context.Context, store *identity.Store, auditLog audit.Service, defaultRole db.Role, ext ExternalPrincipal) (db.Principal, Outcome, error) {
	if existing, err := store.FindByProviderExternalID(ctx, ext.Provider, ext.ExternalID); err == nil {
		principal, err := store.GetByID(ctx, db.FromUUID(existing.PrincipalID))
		if err != nil {
			return db.Principal{}, 0, err
		}
		if err := store.UpdateIdentityClaims(ctx, db.FromUUID(existing.ID), ext.RawClaims, ext.Email); err != nil {
			return db.Principal{}, 0, fmt.Errorf("federation: refresh identity claims: %w", err)
		}
		return principal, OutcomeMatchedExisting, nil
	} else if !errors.Is(err, db.ErrNoRows) {
		return db.Principal{}, 0, err
	}

	if ext.Email != "" {
		if principal, err := store.LookupByPrimaryEmail(ctx, ext.Email); err == nil {
			if _, err := store.LinkExternalIdentity(ctx, db.FromUUID(principal.ID), ext.Provider, ext.ExternalID, ext.Email, ext.RawClaims); err != nil {
				return db.Principal{}, 0, err
			}
			return principal, OutcomeLinkedByEmail, nil
		} else if !errors.Is(err, identity.ErrPrincipalNotFound) {
			return db.Principal{}, 0, err
		}
	}

	principal, err := store.CreatePrincipalWithPrimaryEmail(ctx, ext.DisplayName, defaultRole, ext.Email, "federation", true)
	if err != nil {
		return db.Principal{}, 0, err
	}
	if _, err := store.LinkExternalIdentity(ctx, db.FromUUID(principal.ID), ext.Provider, ext.ExternalID, ext.Email, ext.RawClaims); err != nil {
		return db.Principal{}, 0, err
	}

	auditLog.Log(ctx, audit.EventPrincipalCreated, audit.SeverityInfo, audit.Params{
		PrincipalID: db.FromUUID(principal.ID),
		Metadata:    map[string]any{"source": "federation", "provider": string(ext.Provider)},
	})
	return principal, OutcomeCreated, nil
}

// FromOIDC adapts an oidc.UserInfo into the provider-agnostic shape
// Reconcile expects.
func FromOIDC(info UserInfo, usernameClaim string) ExternalPrincipal {
	return ExternalPrincipal{
		Provider:    db.ProviderOIDC,
		ExternalID:  info.Subject,
		Email:       info.Email,
		DisplayName: info.DisplayName(usernameClaim),
		RawClaims:   info.RawClaims,
	}
}

// FromGraphUser adapts a GraphUser into the provider-agnostic shape
// Reconcile expects.
func FromGraphUser(u GraphUser) (ExternalPrincipal, error) {
	raw, err := marshalGraphUser(u)
	if err != nil {
		return ExternalPrincipal{}, err
	}
	return ExternalPrincipal{
		Provider:    db.ProviderMicrosoft,
		ExternalID:  u.ID,
		Email:       u.Email(),
		DisplayName: u.DisplayNameOrFallback(),
		RawClaims:   raw,
	}, nil
}

func marshalGraphUser(u GraphUser) ([]byte, error) {
	raw, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("federation: marshal graph user: %w", err)
	}
	return raw, nil
}

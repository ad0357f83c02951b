// Package mfa is the identity core's MFA Engine: TOTP secret setup,
// verification with clock-skew tolerance, backup-code issuance, and the
// admin/technician MFA policy gate. Secrets are never persisted in the
// clear — internal/identity stores only the AEAD-encrypted blob this
// package produces.
package mfa

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/lavente/identitycore/internal/audit"
	"github.com/lavente/identitycore/internal/cryptoutil"
	"github.com/lavente/identitycore/internal/identity"
	"github.com/lavente/identitycore/internal/ratelimit"
	"github.com/lavente/identitycore/internal/storage/db"
)

const (
	backupCodeCount  = 10
	qrImageDimension = 200
	// MaxAttempts and LockoutWindow gate brute-forcing a 6-digit TOTP code.
	MaxAttempts   = 5
	LockoutWindow = "15m"
)

var (
	ErrInvalidCode    = errors.New("mfa: invalid verification code")
	ErrLockedOut      = errors.New("mfa: too many failed attempts, try again later")
	ErrMFANotEnabled  = errors.New("mfa: not enabled for this principal")
	ErrAlreadyEnabled = errors.New("mfa: already enabled")
)

// Setup is what BeginSetup hands back to the client: enough to render a QR
// code and let the user confirm possession of the authenticator before
// anything is persisted.
type Setup struct {
	Secret      string
	QRCodePNG   []byte
	OTPAuthURL  string
	BackupCodes []string
}

// Engine orchestrates TOTP and backup-code MFA on top of internal/identity.
type Engine struct {
	issuer   string
	store    *identity.Store
	aeadKey  []byte
	limiter  ratelimit.Limiter
	auditLog audit.Service
}

func New(issuer string, store *identity.Store, aeadKey []byte, limiter ratelimit.Limiter, auditor audit.Service) *Engine {
	return &Engine{issuer: issuer, store: store, aeadKey: aeadKey, limiter: limiter, auditLog: auditor}
}

// ShouldRequireMFA implements the admin/technician MFA policy gate
// (spec.md §3): these roles must have MFA enabled to retain access, while
// plain users are never forced.
func ShouldRequireMFA(role db.Role) bool {
	return role == db.RoleAdmin || role == db.RoleTechnician
}

// BeginSetup generates a new TOTP secret and ten backup codes. Nothing is
// persisted yet — the caller must round-trip through VerifyAndEnable with
// a code proving the user's authenticator app accepted the secret.
func (e *Engine) BeginSetup(accountEmail string) (Setup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountEmail,
	})
	if err != nil {
		return Setup{}, fmt.Errorf("mfa: generate totp key: %w", err)
	}

	img, err := key.Image(qrImageDimension, qrImageDimension)
	if err != nil {
		return Setup{}, fmt.Errorf("mfa: render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Setup{}, fmt.Errorf("mfa: encode qr png: %w", err)
	}

	codes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return Setup{}, err
	}

	return Setup{
		Secret:      key.Secret(),
		QRCodePNG:   buf.Bytes(),
		OTPAuthURL:  key.String(),
		BackupCodes: codes,
	}, nil
}

// VerifyAndEnable confirms the secret with a live TOTP code, then
// encrypts and persists the secret plus the hashed backup codes in one
// shot. This is the only path that actually flips mfa_enabled.
func (e *Engine) VerifyAndEnable(ctx context.Context, principalID uuid.UUID, setup Setup, code string) error {
	if !totp.Validate(code, setup.Secret) {
		return ErrInvalidCode
	}

	encrypted, err := cryptoutil.EncryptSecret([]byte(setup.Secret), e.aeadKey)
	if err != nil {
		return fmt.Errorf("mfa: encrypt secret: %w", err)
	}

	if err := e.store.ReplaceBackupCodes(ctx, principalID, setup.BackupCodes); err != nil {
		return err
	}
	if err := e.store.EnableMFA(ctx, principalID, encrypted); err != nil {
		return err
	}

	e.auditLog.Log(ctx, audit.EventMFAEnabled, audit.SeverityInfo, audit.Params{PrincipalID: principalID})
	return nil
}

// VerifyCode decrypts the principal's stored secret and validates a
// live TOTP code against it, rate limiting by principal to blunt brute
// force (spec.md §5: 5 failures locks the principal out for 15 minutes).
func (e *Engine) VerifyCode(ctx context.Context, principalID uuid.UUID, encryptedSecret, code string) (bool, error) {
	allowed, err := e.limiter.Allow(ctx, "mfa:"+principalID.String())
	if err != nil {
		return false, err
	}
	if !allowed {
		return false, ErrLockedOut
	}

	plaintext, err := cryptoutil.DecryptSecret(encryptedSecret, e.aeadKey)
	if err != nil {
		return false, fmt.Errorf("mfa: decrypt secret: %w", err)
	}
	defer cryptoutil.Zero(plaintext)

	valid, err := totp.ValidateCustom(code, string(plaintext), time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("mfa: validate totp: %w", err)
	}

	if !valid {
		e.auditLog.Log(ctx, audit.EventMFAFailed, audit.SeverityWarning, audit.Params{PrincipalID: principalID})
	}
	return valid, nil
}

// ConsumeBackupCode delegates to internal/identity and flags whether the
// caller should be prompted to regenerate codes (spec.md: at most 2 left).
func (e *Engine) ConsumeBackupCode(ctx context.Context, principalID uuid.UUID, code string) (remaining int, shouldRegenerate bool, err error) {
	remaining, err = e.store.ConsumeBackupCode(ctx, principalID, code)
	if err != nil {
		return 0, false, err
	}
	return remaining, remaining <= 2, nil
}

// Disable turns MFA off, clears the encrypted secret, and deletes any
// remaining backup codes — callers are responsible for revoking sessions
// (I8) as part of the same request.
func (e *Engine) Disable(ctx context.Context, principalID uuid.UUID) error {
	if err := e.store.ReplaceBackupCodes(ctx, principalID, nil); err != nil {
		return err
	}
	if err := e.store.DisableMFA(ctx, principalID); err != nil {
		return err
	}
	e.auditLog.Log(ctx, audit.EventMFADisabled, audit.SeverityWarning, audit.Params{PrincipalID: principalID})
	return nil
}

// RegenerateBackupCodes replaces every unused backup code with a fresh
// set, used both voluntarily and after the "only 2 left" prompt.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, principalID uuid.UUID) ([]string, error) {
	codes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, err
	}
	if err := e.store.ReplaceBackupCodes(ctx, principalID, codes); err != nil {
		return nil, err
	}
	return codes, nil
}

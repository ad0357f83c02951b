// Package ratelimit provides the keyed rate limiters the identity core
// uses to gate login attempts and MFA challenges (password-reset issuance
// is limited by a database count in internal/recovery instead). Memory is
// the dev/single-instance backend; Redis is the
// production backend for multi-instance deployments (spec.md §5).
package ratelimit

import "context"

// Limiter decides whether an action identified by key may proceed right
// now. Implementations are safe for concurrent use.
type Limiter interface {
	// Allow reports whether the action may proceed, consuming one unit of
	// budget if so.
	Allow(ctx context.Context, key string) (bool, error)
}

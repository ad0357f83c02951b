package middleware

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// SetSentryUser adds user context to the Sentry scope.
func SetSentryUser(ctx context.Context, userID string, email string, ip string) {
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetUser(sentry.User{ID: userID, Email: email, IPAddress: ip})
	})
}

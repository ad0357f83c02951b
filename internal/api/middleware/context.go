package middleware

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lavente/identitycore/internal/tokenmint"
)

// contextKey is a custom type for context keys to avoid collisions.
// This prevents accidental key conflicts with other packages.
type contextKey string

// Context keys for request-scoped values, populated by AuthMiddleware from
// the access-token cookie's claims.
const (
	UserIDKey contextKey = "user_id"
	RoleKey   contextKey = "user_role"
	ScopeKey  contextKey = "token_scope"
	EmailKey  contextKey = "user_email"
)

// GetUserID safely extracts the user ID from context.
// Returns an error if the value is missing or wrong type.
func GetUserID(ctx context.Context) (uuid.UUID, error) {
	val := ctx.Value(UserIDKey)
	if val == nil {
		return uuid.Nil, fmt.Errorf("user_id not found in context")
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil, fmt.Errorf("user_id has wrong type: %T", val)
	}
	return id, nil
}

// GetRole safely extracts the user role from context.
// Returns an error if the value is missing or wrong type.
func GetRole(ctx context.Context) (tokenmint.Role, error) {
	val := ctx.Value(RoleKey)
	if val == nil {
		return "", fmt.Errorf("user_role not found in context")
	}
	role, ok := val.(tokenmint.Role)
	if !ok {
		return "", fmt.Errorf("user_role has wrong type: %T", val)
	}
	return role, nil
}

// GetScope safely extracts the access token's scope from context.
func GetScope(ctx context.Context) (tokenmint.Scope, error) {
	val := ctx.Value(ScopeKey)
	if val == nil {
		return "", fmt.Errorf("token_scope not found in context")
	}
	scope, ok := val.(tokenmint.Scope)
	if !ok {
		return "", fmt.Errorf("token_scope has wrong type: %T", val)
	}
	return scope, nil
}

// GetEmail safely extracts the user email from context.
func GetEmail(ctx context.Context) (string, error) {
	val := ctx.Value(EmailKey)
	if val == nil {
		return "", fmt.Errorf("user_email not found in context")
	}
	email, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("user_email has wrong type: %T", val)
	}
	return email, nil
}

// MustGetUserID extracts user ID and panics if not found.
// Use only in contexts where UserID is guaranteed to be set by middleware.
func MustGetUserID(ctx context.Context) uuid.UUID {
	id, err := GetUserID(ctx)
	if err != nil {
		panic(fmt.Sprintf("CRITICAL: %v", err))
	}
	return id
}

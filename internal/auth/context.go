package auth

import (
	"context"
)

// ctxKey is a private type for context keys to prevent collisions.
type ctxKey int

const authResultKey ctxKey = iota

// WithAuthResult returns a context carrying the given AuthResult.
func WithAuthResult(ctx context.Context, a *AuthResult) context.Context {
	return context.WithValue(ctx, authResultKey, a)
}

// FromContext retrieves the AuthResult attached by the middleware.
// Returns nil if the request was not authenticated.
func FromContext(ctx context.Context) *AuthResult {
	if v := ctx.Value(authResultKey); v != nil {
		if a, ok := v.(*AuthResult); ok {
			return a
		}
	}
	return nil
}

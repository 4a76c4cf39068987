// Package auth handles API key verification and scope-based authorization.
package auth

import (
	"errors"
)

// Scopes granted to principals. Scope strings are opaque permission names;
// membership is what authorization checks test.
const (
	// ScopeAdminAll grants every permission.
	ScopeAdminAll = "admin:all"
	// ScopeStoriesRead allows reading story/text generation resources.
	ScopeStoriesRead = "stories:read"
	// ScopeStoriesWrite allows text generation. Write implies read.
	ScopeStoriesWrite = "stories:write"
	// ScopeImagesWrite allows image generation.
	ScopeImagesWrite = "images:write"
)

// Errors for authentication and authorization failures.
var (
	// ErrMissingKey indicates no API key was provided.
	ErrMissingKey = errors.New("auth: missing API key")
	// ErrInvalidKey indicates the API key is unknown, inactive, or expired.
	ErrInvalidKey = errors.New("auth: invalid API key")
	// ErrForbidden indicates the key lacks the required scope.
	ErrForbidden = errors.New("auth: permission denied")
)

// AuthResult is the request-scoped outcome of a successful verification.
// It is only ever constructed by Verifier.Verify.
type AuthResult struct {
	PrincipalID string
	Email       string
	Scopes      []string
}

// HasScope reports whether the principal satisfies the required scope.
// A scope is satisfied by an exact literal match, by holding admin:all, or by
// the single hard-coded implication that stories:write covers stories:read.
// There is no general hierarchy beyond these rules.
func (a *AuthResult) HasScope(required string) bool {
	for _, s := range a.Scopes {
		if s == required {
			return true
		}
		if s == ScopeAdminAll {
			return true
		}
		if required == ScopeStoriesRead && s == ScopeStoriesWrite {
			return true
		}
	}
	return false
}

package storage

import "time"

// Principal is the owner of one or more API keys.
type Principal struct {
	ID        string
	Email     string
	Name      string
	Role      string
	CreatedAt time.Time
}

// APIKey is a stored credential. The plaintext secret is never stored:
// KeyPrefix holds the first PrefixLength characters for indexed lookup and
// KeyHash holds the bcrypt hash used for verification.
type APIKey struct {
	ID          string
	PrincipalID string
	KeyPrefix   string
	KeyHash     string
	Scopes      []string
	IsActive    bool
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// PrefixLength is the number of leading secret characters stored in the
// key_prefix column. Secrets shorter than this can never match.
const PrefixLength = 16

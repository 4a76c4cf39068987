package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fictures/ai-gateway/internal/storage"
)

// maxPrefixCandidates bounds how many stored keys share one prefix before we
// stop checking. Bcrypt comparison is expensive; the prefix index exists so
// we never run it against the whole table.
const maxPrefixCandidates = 10

// Store is the subset of storage operations the verifier needs.
type Store interface {
	ListKeysByPrefix(ctx context.Context, prefix string, limit int) ([]*storage.APIKey, error)
	GetPrincipal(ctx context.Context, id string) (*storage.Principal, error)
	TouchKeyLastUsed(ctx context.Context, id string) error
}

// Verifier checks API keys against the credential store.
type Verifier struct {
	store  Store
	logger *slog.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// NewVerifier creates a Verifier backed by the given store.
func NewVerifier(s Store, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{store: s, logger: logger, now: time.Now}
}

// Verify checks a caller-supplied secret and resolves its principal.
//
// Two-stage check: an indexed prefix lookup narrows the candidate set, then
// each candidate's bcrypt hash is compared in order until one verifies.
// Expired keys and keys whose principal row is missing are reported as
// ErrInvalidKey; the caller learns nothing beyond "not valid".
func (v *Verifier) Verify(ctx context.Context, secret string) (*AuthResult, error) {
	if len(secret) < storage.PrefixLength {
		return nil, ErrInvalidKey
	}

	prefix := secret[:storage.PrefixLength]

	candidates, err := v.store.ListKeysByPrefix(ctx, prefix, maxPrefixCandidates)
	if err != nil {
		return nil, err
	}

	var matched *storage.APIKey
	for _, k := range candidates {
		if storage.VerifyKey(secret, k.KeyHash) == nil {
			matched = k
			break
		}
	}
	if matched == nil {
		return nil, ErrInvalidKey
	}

	// Expiry is an authorization fact, not a separate error class.
	if matched.ExpiresAt != nil && matched.ExpiresAt.Before(v.now()) {
		v.logger.Warn("API key expired", "key_id", matched.ID)
		return nil, ErrInvalidKey
	}

	principal, err := v.store.GetPrincipal(ctx, matched.PrincipalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Internal consistency failure: the key verified but its owner
			// row is gone. Surface as invalid, never as a crash.
			v.logger.Error("principal missing for verified API key",
				"key_id", matched.ID, "principal_id", matched.PrincipalID)
			return nil, ErrInvalidKey
		}
		return nil, err
	}

	v.touchLastUsed(matched.ID)

	return &AuthResult{
		PrincipalID: principal.ID,
		Email:       principal.Email,
		Scopes:      matched.Scopes,
	}, nil
}

// touchLastUsed records key usage in the background. Failure to record it
// must never fail the surrounding verification.
func (v *Verifier) touchLastUsed(keyID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := v.store.TouchKeyLastUsed(ctx, keyID); err != nil {
			v.logger.Warn("failed to update last_used_at", "key_id", keyID, "error", err)
		}
	}()
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// CreateAPIKey inserts a new API key row. The caller supplies the prefix and
// bcrypt hash; the plaintext secret never reaches this layer.
// Returns ErrDuplicate if the id already exists.
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, k *APIKey) error {
	scopesJSON, err := json.Marshal(k.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, principal_id, key_prefix, key_hash, scopes, is_active, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.PrincipalID, k.KeyPrefix, k.KeyHash, string(scopesJSON), k.IsActive, k.ExpiresAt)
	if err != nil {
		if isConstraintErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// ListKeysByPrefix returns the active keys sharing the given lookup prefix,
// capped at limit rows. Prefix collisions are expected: the caller verifies
// each candidate's hash in turn. Returns an empty slice when nothing matches.
func (s *SQLiteStore) ListKeysByPrefix(ctx context.Context, prefix string, limit int) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, principal_id, key_prefix, key_hash, scopes, is_active, expires_at, last_used_at, created_at
		 FROM api_keys
		 WHERE key_prefix = ? AND is_active = TRUE
		 LIMIT ?`,
		prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var keys []*APIKey
	for rows.Next() {
		var k APIKey
		var scopesJSON string

		if err := rows.Scan(&k.ID, &k.PrincipalID, &k.KeyPrefix, &k.KeyHash,
			&scopesJSON, &k.IsActive, &k.ExpiresAt, &k.LastUsedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key row: %w", err)
		}

		if err := json.Unmarshal([]byte(scopesJSON), &k.Scopes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scopes: %w", err)
		}

		keys = append(keys, &k)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating api key rows: %w", err)
	}

	if keys == nil {
		keys = make([]*APIKey, 0)
	}

	return keys, nil
}

// TouchKeyLastUsed records the current time as the key's last-used timestamp.
// Returns ErrNotFound if the key doesn't exist.
func (s *SQLiteStore) TouchKeyLastUsed(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = ? WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last_used_at: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// DeactivateAPIKey clears the active flag. Keys are never deleted by the
// gateway; deactivation is the only revocation mechanism.
// Returns ErrNotFound if the key doesn't exist.
func (s *SQLiteStore) DeactivateAPIKey(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET is_active = FALSE WHERE id = ?",
		id)
	if err != nil {
		return fmt.Errorf("failed to deactivate api key: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// CreatePrincipal inserts a new principal.
// Returns ErrDuplicate if the id or email is already taken.
func (s *SQLiteStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO principals (id, email, name, role) VALUES (?, ?, ?, ?)",
		p.ID, p.Email, p.Name, p.Role)
	if err != nil {
		if isConstraintErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create principal: %w", err)
	}
	return nil
}

// GetPrincipal retrieves a principal by ID.
// Returns ErrNotFound if no row exists.
func (s *SQLiteStore) GetPrincipal(ctx context.Context, id string) (*Principal, error) {
	var p Principal

	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, name, role, created_at FROM principals WHERE id = ?",
		id).
		Scan(&p.ID, &p.Email, &p.Name, &p.Role, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get principal: %w", err)
	}

	return &p, nil
}

// isConstraintErr reports whether err is a SQLite UNIQUE/constraint violation.
// The extended error code for UNIQUE constraint is 2067; the base code is 19.
func isConstraintErr(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.Code() == 2067 || (sqliteErr.Code()&0xFF) == sqlite3.SQLITE_CONSTRAINT {
			return true
		}
	}
	return false
}

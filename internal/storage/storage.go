// Package storage provides SQLite persistence for principals and API keys.
package storage

import (
	"context"
)

// Store defines the persistence operations used by the gateway.
type Store interface {
	// Principal operations
	CreatePrincipal(ctx context.Context, p *Principal) error
	GetPrincipal(ctx context.Context, id string) (*Principal, error)

	// API key operations
	CreateAPIKey(ctx context.Context, k *APIKey) error
	ListKeysByPrefix(ctx context.Context, prefix string, limit int) ([]*APIKey, error)
	TouchKeyLastUsed(ctx context.Context, id string) error
	DeactivateAPIKey(ctx context.Context, id string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

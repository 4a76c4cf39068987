package storage

import (
	"context"
	"errors"
	"testing"
)

func TestCreateAndGetPrincipal(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	p := &Principal{
		ID:    "user-1",
		Email: "alice@example.com",
		Name:  "Alice",
		Role:  "manager",
	}
	if err := s.CreatePrincipal(ctx, p); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}

	got, err := s.GetPrincipal(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetPrincipal failed: %v", err)
	}
	if got.Email != "alice@example.com" || got.Name != "Alice" || got.Role != "manager" {
		t.Errorf("unexpected principal: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestGetPrincipal_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.GetPrincipal(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreatePrincipal_DuplicateEmail(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	p1 := &Principal{ID: "user-1", Email: "dup@example.com"}
	p2 := &Principal{ID: "user-2", Email: "dup@example.com"}

	if err := s.CreatePrincipal(ctx, p1); err != nil {
		t.Fatalf("CreatePrincipal failed: %v", err)
	}
	if err := s.CreatePrincipal(ctx, p2); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

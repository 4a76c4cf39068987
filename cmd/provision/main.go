// Package main provides the provisioning CLI: it seeds a principal and an
// API key into the credential database and prints the plaintext key once.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fictures/ai-gateway/internal/auth"
	"github.com/fictures/ai-gateway/internal/storage"
)

func main() {
	var (
		dbPath     = flag.String("db", envOr("DATABASE_PATH", "/data/gateway.db"), "credential database path")
		email      = flag.String("email", "", "principal email (required)")
		name       = flag.String("name", "", "principal display name")
		role       = flag.String("role", "user", "principal role")
		scopes     = flag.String("scopes", auth.ScopeStoriesWrite, "comma-separated scopes for the key")
		expireDays = flag.Int("expire-days", 0, "key lifetime in days (0 = never expires)")
		revoke     = flag.String("revoke", "", "deactivate the key with this id instead of provisioning")
	)
	flag.Parse()

	if *revoke != "" {
		revokeKey(*dbPath, *revoke)
		return
	}

	if *email == "" {
		flag.Usage()
		log.Fatal("missing required -email")
	}

	scopeList := splitScopes(*scopes)
	if len(scopeList) == 0 {
		log.Fatal("at least one scope is required")
	}

	store, err := storage.New(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database %s: %v", *dbPath, err)
	}
	defer func() {
		//nolint:errcheck
		store.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	principal := &storage.Principal{
		ID:    uuid.New().String(),
		Email: *email,
		Name:  *name,
		Role:  *role,
	}
	if err := store.CreatePrincipal(ctx, principal); err != nil {
		log.Fatalf("failed to create principal: %v", err)
	}

	secret, err := generateSecret()
	if err != nil {
		log.Fatalf("failed to generate key material: %v", err)
	}
	hash, err := storage.HashKey(secret)
	if err != nil {
		log.Fatalf("failed to hash key: %v", err)
	}

	key := &storage.APIKey{
		ID:          uuid.New().String(),
		PrincipalID: principal.ID,
		KeyPrefix:   secret[:storage.PrefixLength],
		KeyHash:     hash,
		Scopes:      scopeList,
		IsActive:    true,
	}
	if *expireDays > 0 {
		exp := time.Now().AddDate(0, 0, *expireDays)
		key.ExpiresAt = &exp
	}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		log.Fatalf("failed to create API key: %v", err)
	}

	fmt.Printf("principal: %s (%s)\n", principal.ID, principal.Email)
	fmt.Printf("key id:    %s\n", key.ID)
	fmt.Printf("scopes:    %s\n", strings.Join(scopeList, ", "))
	if key.ExpiresAt != nil {
		fmt.Printf("expires:   %s\n", key.ExpiresAt.Format(time.RFC3339))
	}
	// The plaintext is shown exactly once; only the bcrypt hash is stored.
	fmt.Printf("\napi key:   %s\n", secret)
}

// revokeKey deactivates an existing key. The row is kept for auditability.
func revokeKey(dbPath, keyID string) {
	store, err := storage.New(dbPath)
	if err != nil {
		log.Fatalf("failed to open database %s: %v", dbPath, err)
	}
	defer func() {
		//nolint:errcheck
		store.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.DeactivateAPIKey(ctx, keyID); err != nil {
		log.Fatalf("failed to revoke key %s: %v", keyID, err)
	}
	fmt.Printf("key %s deactivated\n", keyID)
}

// generateSecret produces the plaintext key: 32 random bytes hex-encoded,
// giving 64 characters of which the first 16 form the lookup prefix.
func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func splitScopes(s string) []string {
	var out []string
	for _, scope := range strings.Split(s, ",") {
		if scope = strings.TrimSpace(scope); scope != "" {
			out = append(out, scope)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

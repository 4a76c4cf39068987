// Package testenv assembles a complete in-process gateway stack for E2E
// tests: an in-memory credential store, a scriptable mock text engine, a
// mock ComfyUI backend, and the real router wired the way main wires it.
package testenv

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fictures/ai-gateway/internal/api"
	"github.com/fictures/ai-gateway/internal/auth"
	"github.com/fictures/ai-gateway/internal/comfy"
	"github.com/fictures/ai-gateway/internal/dispatch"
	"github.com/fictures/ai-gateway/internal/guided"
	"github.com/fictures/ai-gateway/internal/storage"
	"github.com/fictures/ai-gateway/internal/testutil/mockcomfy"
	"github.com/fictures/ai-gateway/internal/textengine"
)

// Env is a running in-process gateway plus handles on its fakes.
type Env struct {
	// Gateway is the public HTTP surface under test.
	Gateway *httptest.Server
	// Engine scripts the mock text engine's replies.
	Engine *MockEngine
	// Comfy is the mock workflow backend.
	Comfy *mockcomfy.Server
	// Store is the live credential store for direct seeding.
	Store *storage.SQLiteStore
}

// MockEngine is a scriptable vLLM-style completion server. Responses are
// consumed in order; the last one repeats once the script runs out.
type MockEngine struct {
	*httptest.Server

	mu        sync.Mutex
	responses []EngineResponse
	calls     int
}

// EngineResponse is one scripted completion.
type EngineResponse struct {
	Text         string
	FinishReason string
	Tokens       int
}

// Script replaces the response script.
func (m *MockEngine) Script(responses ...EngineResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = responses
	m.calls = 0
}

// Calls reports how many completions were served.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockEngine) next() EngineResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if len(m.responses) == 0 {
		return EngineResponse{Text: "mock output", FinishReason: "stop", Tokens: 2}
	}
	i := m.calls - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i]
}

func newMockEngine() *MockEngine {
	m := &MockEngine{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/completions", func(w http.ResponseWriter, r *http.Request) {
		resp := m.next()
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "cmpl-" + uuid.New().String()[:8],
			"model": "mock-model",
			"choices": []map[string]any{{
				"text":          resp.Text,
				"finish_reason": resp.FinishReason,
			}},
			"usage": map[string]int{"completion_tokens": resp.Tokens},
		})
	})
	mux.HandleFunc("GET /v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck
		w.Write([]byte(`{"data": [{"id": "mock-model", "owned_by": "testenv"}]}`))
	})

	m.Server = httptest.NewServer(mux)
	return m
}

// Setup builds and starts the full stack. Everything is torn down via
// t.Cleanup.
func Setup(t *testing.T) *Env {
	t.Helper()

	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}

	engine := newMockEngine()
	comfyMock := mockcomfy.New()

	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))

	textClient := textengine.NewClient("mock-model", textengine.WithBaseURL(engine.URL))
	comfyClient := comfy.NewClient("testenv", comfy.WithBaseURL(comfyMock.URL))
	dispatcher := dispatch.New(comfyClient, logger, dispatch.WithPollInterval(time.Millisecond))

	handler := api.NewHandler(textClient, guided.New(textClient, logger), dispatcher, logger)
	handler.SetImageTimeout(2 * time.Second)

	health := api.NewHealthHandler(store, comfyClient, "e2e")
	verifier := auth.NewVerifier(store, logger)
	router := api.NewRouter(handler, health, verifier, api.RouterConfig{
		TextEnabled:  true,
		ImageEnabled: true,
	}, logger)

	gateway := httptest.NewServer(router)

	t.Cleanup(func() {
		gateway.Close()
		comfyMock.Close()
		engine.Close()
		//nolint:errcheck
		store.Close()
	})

	return &Env{
		Gateway: gateway,
		Engine:  engine,
		Comfy:   comfyMock,
		Store:   store,
	}
}

// SeedKey provisions a principal and an active API key with the given scopes
// and returns the plaintext key.
func (e *Env) SeedKey(t *testing.T, scopes ...string) string {
	t.Helper()

	secret := strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
	hash, err := storage.HashKey(secret)
	if err != nil {
		t.Fatalf("failed to hash key: %v", err)
	}

	principal := &storage.Principal{
		ID:    uuid.New().String(),
		Email: fmt.Sprintf("%s@testenv.local", uuid.New().String()[:8]),
		Role:  "user",
	}
	if err := e.Store.CreatePrincipal(t.Context(), principal); err != nil {
		t.Fatalf("failed to seed principal: %v", err)
	}

	key := &storage.APIKey{
		ID:          uuid.New().String(),
		PrincipalID: principal.ID,
		KeyPrefix:   secret[:storage.PrefixLength],
		KeyHash:     hash,
		Scopes:      scopes,
		IsActive:    true,
	}
	if err := e.Store.CreateAPIKey(t.Context(), key); err != nil {
		t.Fatalf("failed to seed API key: %v", err)
	}

	return secret
}

// Package main provides the entry point for the AI gateway server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fictures/ai-gateway/internal/api"
	"github.com/fictures/ai-gateway/internal/auth"
	"github.com/fictures/ai-gateway/internal/comfy"
	"github.com/fictures/ai-gateway/internal/config"
	"github.com/fictures/ai-gateway/internal/dispatch"
	"github.com/fictures/ai-gateway/internal/guided"
	"github.com/fictures/ai-gateway/internal/logging"
	"github.com/fictures/ai-gateway/internal/metrics"
	"github.com/fictures/ai-gateway/internal/storage"
	"github.com/fictures/ai-gateway/internal/textengine"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open credential store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() {
		//nolint:errcheck
		store.Close()
	}()

	if err := metrics.Init(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", "error", err)
		os.Exit(1)
	}

	verifier := auth.NewVerifier(store, logger)

	var (
		text         api.TextEngine
		structured   api.StructuredEngine
		images       api.ImageDispatcher
		workflowPing api.Pinger
	)
	if cfg.TextEnabled() {
		client := textengine.NewClient(cfg.TextModel,
			textengine.WithBaseURL(cfg.TextEngineURL),
			textengine.WithHTTPClient(backendHTTPClient(logger, "text-engine")))
		text = client
		structured = guided.New(client, logger)
	}
	if cfg.ImageEnabled() {
		client := comfy.NewClient("ai-gateway-"+uuid.New().String()[:8],
			comfy.WithBaseURL(cfg.ComfyUIURL),
			comfy.WithHTTPClient(backendHTTPClient(logger, "comfyui")))
		images = dispatch.New(client, logger)
		workflowPing = client
	}

	handler := api.NewHandler(text, structured, images, logger)
	handler.SetImageTimeout(cfg.ImageTimeout)

	health := api.NewHealthHandler(store, workflowPing, version)
	router := api.NewRouter(handler, health, verifier, api.RouterConfig{
		TextEnabled:  cfg.TextEnabled(),
		ImageEnabled: cfg.ImageEnabled(),
	}, logger)

	// Metrics on a separate listener so the public surface never exposes it.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		logger.Info("metrics listening", "addr", cfg.MetricsListenAddr)
		if err := http.ListenAndServe(cfg.MetricsListenAddr, mux); err != nil {
			logger.Error("metrics listener failed", "error", err)
		}
	}()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	logger.Info("ai-gateway starting",
		"version", version,
		"addr", cfg.ListenAddr,
		"mode", cfg.GenerationMode)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	<-done
	logger.Info("ai-gateway stopped")
}

// backendHTTPClient builds the HTTP client used to talk to a backend.
// The transport logs full exchanges when debug logging is on. No client
// timeout: generation calls are long-lived and bounded per request by
// context deadlines.
func backendHTTPClient(logger *slog.Logger, backend string) *http.Client {
	return &http.Client{
		Transport: &logging.Transport{Logger: logger, Backend: backend},
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

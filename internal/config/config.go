// Package config provides configuration loading and validation from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Generation modes controlling which route groups the gateway mounts.
const (
	ModeText  = "text"
	ModeImage = "image"
	ModeBoth  = "both"
)

// Config holds all application configuration.
type Config struct {
	LogLevel          string        // debug, info, warn, error
	ListenAddr        string        // Server listen address (e.g., ":8080")
	DatabasePath      string        // SQLite credential database path
	TextEngineURL     string        // Base URL of the text inference engine
	TextModel         string        // Model name requested from the text engine
	ComfyUIURL        string        // Base URL of the image workflow backend
	GenerationMode    string        // text, image, or both
	ImageTimeout      time.Duration // Wall-clock limit for one image job
	MetricsListenAddr string        // Metrics listener address (e.g., "localhost:9090")
}

// Load parses configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment variables
// win over it. All options have deployment-friendly defaults.
func Load() (*Config, error) {
	//nolint:errcheck // a missing .env file is the normal case
	godotenv.Load()

	cfg := &Config{
		LogLevel:          getenv("LOG_LEVEL", "info"),
		ListenAddr:        getenv("LISTEN_ADDR", ":8080"),
		DatabasePath:      getenv("DATABASE_PATH", "/data/gateway.db"),
		TextEngineURL:     getenv("TEXT_ENGINE_URL", "http://127.0.0.1:8000"),
		TextModel:         getenv("TEXT_MODEL", "qwen3-14b-awq"),
		ComfyUIURL:        getenv("COMFYUI_URL", "http://127.0.0.1:8188"),
		GenerationMode:    getenv("GENERATION_MODE", ModeBoth),
		MetricsListenAddr: getenv("METRICS_LISTEN_ADDR", "localhost:9090"),
	}

	timeoutSecs := getenv("IMAGE_TIMEOUT_SECONDS", "120")
	secs, err := strconv.Atoi(timeoutSecs)
	if err != nil || secs <= 0 {
		return nil, fmt.Errorf("IMAGE_TIMEOUT_SECONDS must be a positive integer, got %q", timeoutSecs)
	}
	cfg.ImageTimeout = time.Duration(secs) * time.Second

	return cfg, nil
}

// Validate checks all configuration constraints.
func (c *Config) Validate() error {
	switch c.GenerationMode {
	case ModeText, ModeImage, ModeBoth:
	default:
		return fmt.Errorf("GENERATION_MODE must be one of text, image, both; got %q", c.GenerationMode)
	}

	if c.TextEnabled() && c.TextEngineURL == "" {
		return fmt.Errorf("TEXT_ENGINE_URL is required when text generation is enabled")
	}
	if c.ImageEnabled() && c.ComfyUIURL == "" {
		return fmt.Errorf("COMFYUI_URL is required when image generation is enabled")
	}

	return nil
}

// TextEnabled reports whether text generation routes should be mounted.
func (c *Config) TextEnabled() bool {
	return c.GenerationMode == ModeText || c.GenerationMode == ModeBoth
}

// ImageEnabled reports whether image generation routes should be mounted.
func (c *Config) ImageEnabled() bool {
	return c.GenerationMode == ModeImage || c.GenerationMode == ModeBoth
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

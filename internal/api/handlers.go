// Package api implements the gateway's HTTP surface: request decoding,
// parameter defaulting, and dispatch into the generation backends.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/fictures/ai-gateway/internal/comfy"
	"github.com/fictures/ai-gateway/internal/dispatch"
	"github.com/fictures/ai-gateway/internal/guided"
	"github.com/fictures/ai-gateway/internal/middleware"
	"github.com/fictures/ai-gateway/internal/textengine"
)

// Request parameter defaults and bounds. Values outside the bounds are
// rejected rather than clamped so callers learn about their mistakes.
const (
	defaultMaxTokens   = 1024
	maxMaxTokens       = 8192
	defaultTemperature = 0.7
	defaultTopP        = 0.9

	defaultImageSize  = 1024
	minImageSize      = 64
	maxImageSize      = 2048
	defaultImageSteps = 4
	maxImageSteps     = 50
	defaultGuidance   = 1.0
)

// TextEngine is the text generation surface the handlers call.
type TextEngine interface {
	Generate(ctx context.Context, req *textengine.GenerateRequest) (*textengine.Result, error)
	GenerateStream(ctx context.Context, req *textengine.GenerateRequest) (<-chan textengine.Chunk, error)
	ListModels(ctx context.Context) ([]textengine.ModelInfo, error)
	Model() string
}

// StructuredEngine drives the structured-output retry loop.
type StructuredEngine interface {
	Generate(ctx context.Context, req *guided.Request) (*guided.Result, error)
}

// ImageDispatcher runs one image workflow job to completion.
type ImageDispatcher interface {
	SubmitAndWait(ctx context.Context, params *comfy.JobParams, timeout time.Duration) (*dispatch.Artifact, error)
}

// Handler handles generation requests.
type Handler struct {
	text       TextEngine
	structured StructuredEngine
	images     ImageDispatcher
	logger     *slog.Logger

	imageModel   string
	imageTimeout time.Duration
}

// NewHandler creates a new generation handler. Backends for disabled modes
// may be nil; the router never mounts their routes.
func NewHandler(text TextEngine, structured StructuredEngine, images ImageDispatcher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		text:         text,
		structured:   structured,
		images:       images,
		logger:       logger,
		imageModel:   "qwen-image",
		imageTimeout: dispatch.DefaultTimeout,
	}
}

// SetImageTimeout overrides the per-job wall-clock limit for image requests.
func (h *Handler) SetImageTimeout(d time.Duration) {
	h.imageTimeout = d
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log encoding errors but don't fail the response
		slog.Default().Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// handleEngineError maps backend errors to HTTP responses. Upstream faults
// are gateway-class statuses so clients can tell them from their own errors.
func (h *Handler) handleEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, textengine.ErrUnavailable), errors.Is(err, comfy.ErrUnavailable):
		h.logger.Error("generation backend unreachable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "generation backend unavailable")
	case errors.Is(err, dispatch.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "image generation timed out")
	case errors.Is(err, dispatch.ErrNoArtifact):
		h.logger.Error("workflow produced no image", "error", err)
		writeError(w, http.StatusBadGateway, "image generation produced no output")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		var apiErr *textengine.APIError
		if errors.As(err, &apiErr) {
			h.logger.Error("text engine error", "status", apiErr.StatusCode, "error", apiErr.Message)
			writeError(w, http.StatusBadGateway, "text engine error: "+apiErr.Message)
			return
		}
		var comfyErr *comfy.APIError
		if errors.As(err, &comfyErr) {
			h.logger.Error("workflow backend error", "status", comfyErr.StatusCode, "error", comfyErr.Message)
			writeError(w, http.StatusBadGateway, "workflow backend error")
			return
		}
		h.logger.Error("generation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// HandleTextGenerate serves POST /api/v1/text/generate.
func (h *Handler) HandleTextGenerate(w http.ResponseWriter, r *http.Request) {
	var req TextGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.Stream {
		// The streamed contract is served by the engine client but not
		// exposed yet; structured generation requires complete mode.
		writeError(w, http.StatusBadRequest, "streaming is not supported on this endpoint")
		return
	}
	maxTokens, err := resolveMaxTokens(req.MaxTokens)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.text.Generate(r.Context(), &textengine.GenerateRequest{
		Prompt:      req.Prompt,
		MaxTokens:   maxTokens,
		Temperature: valueOr(req.Temperature, defaultTemperature),
		TopP:        valueOr(req.TopP, defaultTopP),
		Stop:        req.StopSequences,
		RequestID:   middleware.GetRequestID(r.Context()),
	})
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &TextGenerateResponse{
		Text:         result.Text,
		Model:        result.Model,
		TokensUsed:   result.TokensUsed,
		FinishReason: string(result.StopReason),
	})
}

// HandleStructuredGenerate serves POST /api/v1/text/structured.
func (h *Handler) HandleStructuredGenerate(w http.ResponseWriter, r *http.Request) {
	var req StructuredGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.GuidedDecoding == nil {
		writeError(w, http.StatusBadRequest, "guided_decoding is required")
		return
	}
	constraint, err := toConstraint(req.GuidedDecoding)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxTokens, err := resolveMaxTokens(req.MaxTokens)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	maxRetries := -1 // controller default
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 || *req.MaxRetries > 5 {
			writeError(w, http.StatusBadRequest, "max_retries must be between 0 and 5")
			return
		}
		maxRetries = *req.MaxRetries
	}

	result, err := h.structured.Generate(r.Context(), &guided.Request{
		Prompt:      req.Prompt,
		Constraint:  *constraint,
		MaxTokens:   maxTokens,
		Temperature: valueOr(req.Temperature, defaultTemperature),
		TopP:        valueOr(req.TopP, defaultTopP),
		MaxRetries:  maxRetries,
	})
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	resp := &StructuredGenerateResponse{
		Output:         result.Output,
		IsValid:        result.IsValid,
		Model:          result.Model,
		TokensUsed:     result.TokensUsed,
		FinishReason:   string(result.StopReason),
		AttemptsUsed:   result.AttemptsUsed,
		AttemptBudgets: result.AttemptBudgets,
		ParseError:     result.ParseError,
	}
	if result.Parsed != nil {
		resp.ParsedOutput = json.RawMessage(result.Parsed)
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleImageGenerate serves POST /api/v1/images/generate.
func (h *Handler) HandleImageGenerate(w http.ResponseWriter, r *http.Request) {
	var req ImageGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	width, err := resolveImageSize("width", req.Width)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	height, err := resolveImageSize("height", req.Height)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	steps := req.NumInferenceSteps
	if steps == 0 {
		steps = defaultImageSteps
	}
	if steps < 1 || steps > maxImageSteps {
		writeError(w, http.StatusBadRequest, "num_inference_steps out of range")
		return
	}

	seed := rand.Int63()
	if req.Seed != nil {
		seed = *req.Seed
	}

	artifact, err := h.images.SubmitAndWait(r.Context(), &comfy.JobParams{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Width:          width,
		Height:         height,
		Steps:          steps,
		GuidanceScale:  valueOr(req.GuidanceScale, defaultGuidance),
		Seed:           seed,
	}, h.imageTimeout)
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, &ImageGenerateResponse{
		ImageURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(artifact.Data),
		Model:    h.imageModel,
		Width:    artifact.Width,
		Height:   artifact.Height,
		Seed:     artifact.Seed,
	})
}

// HandleTextModels serves GET /api/v1/text/models.
func (h *Handler) HandleTextModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.text.ListModels(r.Context())
	if err != nil {
		h.handleEngineError(w, err)
		return
	}

	entries := make([]ModelEntry, 0, len(models))
	for _, m := range models {
		entries = append(entries, ModelEntry{ID: m.ID, Kind: "text", OwnedBy: m.OwnedBy})
	}
	writeJSON(w, http.StatusOK, &ModelsResponse{Models: entries})
}

// HandleModels serves GET /api/v1/models: the combined listing across
// enabled backends. A missing text engine is not an error when the gateway
// runs image-only.
func (h *Handler) HandleModels(w http.ResponseWriter, r *http.Request) {
	entries := []ModelEntry{}

	if h.text != nil {
		models, err := h.text.ListModels(r.Context())
		if err != nil {
			h.handleEngineError(w, err)
			return
		}
		for _, m := range models {
			entries = append(entries, ModelEntry{ID: m.ID, Kind: "text", OwnedBy: m.OwnedBy})
		}
	}

	if h.images != nil {
		entries = append(entries, ModelEntry{ID: h.imageModel, Kind: "image"})
	}

	writeJSON(w, http.StatusOK, &ModelsResponse{Models: entries})
}

// toConstraint validates the wire-level guided decoding selection and maps
// it onto the engine constraint type.
func toConstraint(g *GuidedDecoding) (*textengine.Constraint, error) {
	c := &textengine.Constraint{
		JSONSchema: g.Schema,
		Regex:      g.Regex,
		Choices:    g.Choices,
		Grammar:    g.Grammar,
	}
	switch g.Type {
	case "json":
		c.Kind = textengine.KindJSONSchema
	case "regex":
		c.Kind = textengine.KindRegex
	case "choice":
		c.Kind = textengine.KindChoice
	case "grammar":
		c.Kind = textengine.KindGrammar
	default:
		return nil, errors.New("guided_decoding.type must be one of json, regex, choice, grammar")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func resolveMaxTokens(requested int) (int, error) {
	if requested == 0 {
		return defaultMaxTokens, nil
	}
	if requested < 1 || requested > maxMaxTokens {
		return 0, errors.New("max_tokens out of range")
	}
	return requested, nil
}

func resolveImageSize(field string, requested int) (int, error) {
	if requested == 0 {
		return defaultImageSize, nil
	}
	if requested < minImageSize || requested > maxImageSize {
		return 0, errors.New(field + " out of range")
	}
	return requested, nil
}

func valueOr(p *float64, fallback float64) float64 {
	if p != nil {
		return *p
	}
	return fallback
}

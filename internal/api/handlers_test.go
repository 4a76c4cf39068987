package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fictures/ai-gateway/internal/comfy"
	"github.com/fictures/ai-gateway/internal/dispatch"
	"github.com/fictures/ai-gateway/internal/guided"
	"github.com/fictures/ai-gateway/internal/textengine"
)

type fakeTextEngine struct {
	result  *textengine.Result
	err     error
	lastReq *textengine.GenerateRequest
	models  []textengine.ModelInfo
}

func (f *fakeTextEngine) Generate(ctx context.Context, req *textengine.GenerateRequest) (*textengine.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeTextEngine) GenerateStream(ctx context.Context, req *textengine.GenerateRequest) (<-chan textengine.Chunk, error) {
	ch := make(chan textengine.Chunk)
	close(ch)
	return ch, nil
}

func (f *fakeTextEngine) ListModels(ctx context.Context) ([]textengine.ModelInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.models, nil
}

func (f *fakeTextEngine) Model() string { return "test-model" }

type fakeStructured struct {
	result  *guided.Result
	err     error
	lastReq *guided.Request
}

func (f *fakeStructured) Generate(ctx context.Context, req *guided.Request) (*guided.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeDispatcher struct {
	artifact   *dispatch.Artifact
	err        error
	lastParams *comfy.JobParams
}

func (f *fakeDispatcher) SubmitAndWait(ctx context.Context, params *comfy.JobParams, timeout time.Duration) (*dispatch.Artifact, error) {
	f.lastParams = params
	if f.err != nil {
		return nil, f.err
	}
	return f.artifact, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func postJSON(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %s: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandleTextGenerate(t *testing.T) {
	t.Parallel()
	engine := &fakeTextEngine{result: &textengine.Result{
		Text: "a story", Model: "test-model", TokensUsed: 7, StopReason: textengine.StopNatural,
	}}
	h := NewHandler(engine, nil, nil, testLogger())

	rec := postJSON(t, h.HandleTextGenerate, `{"prompt": "tell a story", "max_tokens": 128}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[TextGenerateResponse](t, rec)
	if resp.Text != "a story" || resp.TokensUsed != 7 || resp.FinishReason != "stop" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if engine.lastReq.MaxTokens != 128 {
		t.Errorf("max_tokens not forwarded: %d", engine.lastReq.MaxTokens)
	}
	if engine.lastReq.Temperature != defaultTemperature {
		t.Errorf("expected default temperature, got %f", engine.lastReq.Temperature)
	}
}

func TestHandleTextGenerate_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"missing prompt", `{"max_tokens": 10}`},
		{"invalid json", `{"prompt":`},
		{"stream requested", `{"prompt": "p", "stream": true}`},
		{"max_tokens too large", `{"prompt": "p", "max_tokens": 100000}`},
		{"negative max_tokens", `{"prompt": "p", "max_tokens": -1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHandler(&fakeTextEngine{}, nil, nil, testLogger())
			rec := postJSON(t, h.HandleTextGenerate, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestHandleTextGenerate_EngineUnavailable(t *testing.T) {
	t.Parallel()
	engine := &fakeTextEngine{err: textengine.ErrUnavailable}
	h := NewHandler(engine, nil, nil, testLogger())

	rec := postJSON(t, h.HandleTextGenerate, `{"prompt": "p"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestHandleTextGenerate_EngineAPIError(t *testing.T) {
	t.Parallel()
	engine := &fakeTextEngine{err: &textengine.APIError{StatusCode: 500, Message: "boom"}}
	h := NewHandler(engine, nil, nil, testLogger())

	rec := postJSON(t, h.HandleTextGenerate, `{"prompt": "p"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestHandleStructuredGenerate(t *testing.T) {
	t.Parallel()
	structured := &fakeStructured{result: &guided.Result{
		Output:         `{"title": "x"}`,
		Parsed:         json.RawMessage(`{"title": "x"}`),
		IsValid:        true,
		Model:          "test-model",
		TokensUsed:     20,
		StopReason:     textengine.StopNatural,
		AttemptsUsed:   1,
		AttemptBudgets: []int{160, 192},
	}}
	h := NewHandler(&fakeTextEngine{}, structured, nil, testLogger())

	rec := postJSON(t, h.HandleStructuredGenerate, `{
		"prompt": "produce a title",
		"guided_decoding": {"type": "json", "schema": {"type": "object"}},
		"max_tokens": 100,
		"max_retries": 3
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[StructuredGenerateResponse](t, rec)
	if !resp.IsValid || resp.AttemptsUsed != 1 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(resp.AttemptBudgets) != 2 || resp.AttemptBudgets[1] != 192 {
		t.Errorf("attempt budgets not reported: %v", resp.AttemptBudgets)
	}
	if structured.lastReq.MaxRetries != 3 {
		t.Errorf("max_retries not forwarded: %d", structured.lastReq.MaxRetries)
	}
	if structured.lastReq.Constraint.Kind != textengine.KindJSONSchema {
		t.Errorf("unexpected constraint kind: %s", structured.lastReq.Constraint.Kind)
	}
}

func TestHandleStructuredGenerate_DefaultRetries(t *testing.T) {
	t.Parallel()
	structured := &fakeStructured{result: &guided.Result{IsValid: true}}
	h := NewHandler(&fakeTextEngine{}, structured, nil, testLogger())

	rec := postJSON(t, h.HandleStructuredGenerate, `{
		"prompt": "p",
		"guided_decoding": {"type": "choice", "choices": ["a", "b"]}
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if structured.lastReq.MaxRetries != -1 {
		t.Errorf("expected controller default sentinel, got %d", structured.lastReq.MaxRetries)
	}
}

func TestHandleStructuredGenerate_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"missing guided_decoding", `{"prompt": "p"}`},
		{"unknown type", `{"prompt": "p", "guided_decoding": {"type": "xml"}}`},
		{"kind without payload", `{"prompt": "p", "guided_decoding": {"type": "regex"}}`},
		{"mismatched payload", `{"prompt": "p", "guided_decoding": {"type": "json", "regex": "\\d+"}}`},
		{"retries out of range", `{"prompt": "p", "guided_decoding": {"type": "choice", "choices": ["a"]}, "max_retries": 9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHandler(&fakeTextEngine{}, &fakeStructured{}, nil, testLogger())
			rec := postJSON(t, h.HandleStructuredGenerate, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHandleImageGenerate(t *testing.T) {
	t.Parallel()
	data := []byte{0x89, 'P', 'N', 'G'}
	images := &fakeDispatcher{artifact: &dispatch.Artifact{
		Data: data, Width: 768, Height: 1024, Seed: 42,
	}}
	h := NewHandler(nil, nil, images, testLogger())

	rec := postJSON(t, h.HandleImageGenerate, `{
		"prompt": "a lighthouse",
		"negative_prompt": "blurry",
		"width": 768,
		"height": 1024,
		"seed": 42
	}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody[ImageGenerateResponse](t, rec)
	wantURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	if resp.ImageURL != wantURL {
		t.Errorf("unexpected image url: %s", resp.ImageURL)
	}
	if resp.Width != 768 || resp.Height != 1024 || resp.Seed != 42 {
		t.Errorf("unexpected metadata: %+v", resp)
	}
	if images.lastParams.NegativePrompt != "blurry" {
		t.Errorf("negative prompt not forwarded: %q", images.lastParams.NegativePrompt)
	}
	if images.lastParams.Steps != defaultImageSteps {
		t.Errorf("expected default steps, got %d", images.lastParams.Steps)
	}
}

func TestHandleImageGenerate_RandomSeedWhenOmitted(t *testing.T) {
	t.Parallel()
	images := &fakeDispatcher{artifact: &dispatch.Artifact{Data: []byte{1}}}
	h := NewHandler(nil, nil, images, testLogger())

	rec := postJSON(t, h.HandleImageGenerate, `{"prompt": "p"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if images.lastParams.Seed < 0 {
		t.Errorf("expected non-negative random seed, got %d", images.lastParams.Seed)
	}
}

func TestHandleImageGenerate_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"missing prompt", `{"width": 512}`},
		{"width too small", `{"prompt": "p", "width": 8}`},
		{"height too large", `{"prompt": "p", "height": 4096}`},
		{"steps out of range", `{"prompt": "p", "num_inference_steps": 200}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHandler(nil, nil, &fakeDispatcher{}, testLogger())
			rec := postJSON(t, h.HandleImageGenerate, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestHandleImageGenerate_FailureModes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"timeout", dispatch.ErrTimeout, http.StatusGatewayTimeout},
		{"no artifact", dispatch.ErrNoArtifact, http.StatusBadGateway},
		{"backend down", comfy.ErrUnavailable, http.StatusServiceUnavailable},
		{"backend rejection", &comfy.APIError{StatusCode: 400, Message: "bad graph"}, http.StatusBadGateway},
		{"unknown", errors.New("weird"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := NewHandler(nil, nil, &fakeDispatcher{err: tt.err}, testLogger())
			rec := postJSON(t, h.HandleImageGenerate, `{"prompt": "p"}`)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestHandleModels_Combined(t *testing.T) {
	t.Parallel()
	engine := &fakeTextEngine{models: []textengine.ModelInfo{{ID: "qwen3-14b-awq", OwnedBy: "vllm"}}}
	h := NewHandler(engine, nil, &fakeDispatcher{}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/models", nil)
	rec := httptest.NewRecorder()
	h.HandleModels(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	resp := decodeBody[ModelsResponse](t, rec)
	if len(resp.Models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(resp.Models))
	}
	if resp.Models[0].Kind != "text" || resp.Models[1].Kind != "image" {
		t.Errorf("unexpected model kinds: %+v", resp.Models)
	}
}

func TestHandleModels_ImageOnly(t *testing.T) {
	t.Parallel()
	h := NewHandler(nil, nil, &fakeDispatcher{}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/models", nil)
	rec := httptest.NewRecorder()
	h.HandleModels(rec, req)

	resp := decodeBody[ModelsResponse](t, rec)
	if len(resp.Models) != 1 || resp.Models[0].Kind != "image" {
		t.Errorf("unexpected models: %+v", resp.Models)
	}
}

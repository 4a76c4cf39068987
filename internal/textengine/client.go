package textengine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// DefaultBaseURL is the default address of the local inference server.
	DefaultBaseURL = "http://127.0.0.1:8000"

	completionPath = "/v1/completions"
	modelsPath     = "/v1/models"
)

// Client is an HTTP client for the text generation engine.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (useful for testing with a mock server).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a new engine client for the given model name.
func NewClient(model string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		model:      model,
		httpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Generate runs one complete-mode engine call and returns the final result.
// Inference can take seconds to minutes; the engine runs it outside this
// process and the call suspends on ctx until the response arrives.
func (c *Client) Generate(ctx context.Context, genReq *GenerateRequest) (*Result, error) {
	payload, err := buildBody(c.model, genReq, false)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if genReq.RequestID != "" {
		req.Header.Set("X-Request-Id", genReq.RequestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}

	var result completionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("textengine: response contained no choices")
	}

	model := result.Model
	if model == "" {
		model = c.model
	}

	return &Result{
		Text:       result.Choices[0].Text,
		Model:      model,
		TokensUsed: result.Usage.CompletionTokens,
		StopReason: mapStopReason(result.Choices[0].FinishReason),
	}, nil
}

// GenerateStream runs one streamed engine call. Chunks carry the growing
// text deltas; the final chunk has Done set together with the stop reason.
// The channel is closed when the stream ends or ctx is cancelled.
func (c *Client) GenerateStream(ctx context.Context, genReq *GenerateRequest) (<-chan Chunk, error) {
	payload, err := buildBody(c.model, genReq, true)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if genReq.RequestID != "" {
		req.Header.Set("X-Request-Id", genReq.RequestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body) //nolint:errcheck
		_ = resp.Body.Close()            //nolint:errcheck
		return nil, parseError(resp.StatusCode, body)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer func() {
			//nolint:errcheck
			resp.Body.Close()
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var ev completionResponse
			if err := json.Unmarshal([]byte(data), &ev); err != nil || len(ev.Choices) == 0 {
				continue
			}

			chunk := Chunk{Text: ev.Choices[0].Text}
			if ev.Choices[0].FinishReason != "" {
				chunk.Done = true
				chunk.StopReason = mapStopReason(ev.Choices[0].FinishReason)
			}

			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// ModelInfo describes one model served by the engine.
type ModelInfo struct {
	ID      string `json:"id"`
	OwnedBy string `json:"owned_by"`
}

// ListModels queries the engine for its served models.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+modelsPath, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}

	var result struct {
		Data []ModelInfo `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}

	return result.Data, nil
}

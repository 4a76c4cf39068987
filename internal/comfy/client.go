// Package comfy is an HTTP client for a ComfyUI-compatible workflow backend.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

const (
	// DefaultBaseURL is the default base URL for the workflow backend.
	DefaultBaseURL = "http://127.0.0.1:8188"
)

// Sentinel errors for common backend error cases.
var (
	// ErrUnavailable wraps transport-level failures reaching the backend.
	ErrUnavailable = errors.New("comfy: backend unavailable")
	// ErrNotFound is returned when an artifact or job id is unknown.
	ErrNotFound = errors.New("comfy: resource not found")
)

// APIError represents a non-2xx response from the workflow backend.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("comfy: request failed (status %d): %s", e.StatusCode, e.Message)
}

// ArtifactRef locates one produced image on the backend's output store.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// HistoryEntry is the completed-job record for one prompt id. Outputs is
// keyed by node id; only nodes that persist artifacts appear in it.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
}

// NodeOutput is the artifact list produced by a single output node.
type NodeOutput struct {
	Images []ArtifactRef `json:"images"`
}

// Images flattens all artifact references across output nodes.
func (h *HistoryEntry) Images() []ArtifactRef {
	var refs []ArtifactRef
	for _, out := range h.Outputs {
		refs = append(refs, out.Images...)
	}
	return refs
}

// Client is an HTTP client for the ComfyUI workflow API.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom base URL (useful for testing with mock server).
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a new workflow backend client. The clientID identifies
// this gateway instance in the backend's job bookkeeping.
func NewClient(clientID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		clientID:   clientID,
		httpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type queuePromptRequest struct {
	Prompt   Workflow `json:"prompt"`
	ClientID string   `json:"client_id"`
}

type queuePromptResponse struct {
	PromptID string `json:"prompt_id"`
}

// QueuePrompt submits a workflow graph for execution and returns the job id
// assigned by the backend.
func (c *Client) QueuePrompt(ctx context.Context, wf Workflow) (string, error) {
	body, err := json.Marshal(&queuePromptRequest{Prompt: wf, ClientID: c.clientID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", parseError(resp.StatusCode, respBody)
	}

	var result queuePromptResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to decode queue response: %w", err)
	}
	if result.PromptID == "" {
		return "", fmt.Errorf("comfy: queue response missing prompt id")
	}

	return result.PromptID, nil
}

// GetHistory looks up the completion record for a job. It returns nil with no
// error while the job is still queued or executing; the history endpoint only
// lists finished jobs.
func (c *Client) GetHistory(ctx context.Context, promptID string) (*HistoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
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

	// The response is a map keyed by prompt id; absence means not finished yet.
	var history map[string]*HistoryEntry
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}

	return history[promptID], nil
}

// FetchArtifact downloads one produced image's bytes from the output store.
func (c *Client) FetchArtifact(ctx context.Context, ref ArtifactRef) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("subfolder", ref.Subfolder)
	query.Set("type", ref.Type)

	endpoint := c.baseURL + "/view?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp.StatusCode, body)
	}

	return body, nil
}

// Ping checks backend reachability via the system stats endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Message: "system stats unavailable"}
	}

	return nil
}

// parseError turns a non-2xx backend response into an error. ComfyUI error
// bodies carry an {"error": {"message": ...}} envelope on validation
// failures; anything else falls back to the raw body.
func parseError(statusCode int, body []byte) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{StatusCode: statusCode, Message: envelope.Error.Message}
	}

	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return &APIError{StatusCode: statusCode, Message: msg}
}

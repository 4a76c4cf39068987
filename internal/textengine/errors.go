package textengine

import (
	"encoding/json"
	"errors"
	"fmt"
)

// APIError represents a structured error response from the engine.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("textengine: engine returned %d: %s", e.StatusCode, e.Message)
}

// ErrUnavailable is returned when the engine cannot be reached at all.
var ErrUnavailable = errors.New("textengine: engine unavailable")

// parseError builds an APIError from a non-2xx response body.
func parseError(statusCode int, body []byte) error {
	// OpenAI-style error envelope; fall back to the raw body.
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := string(body)
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		msg = envelope.Error.Message
	}

	return &APIError{StatusCode: statusCode, Message: msg}
}

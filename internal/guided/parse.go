package guided

import (
	"encoding/json"
)

// ParseOutcome is the result of checking an attempt's output for syntactic
// parseability. It is an explicit sum: either Value is set (valid) or Err is
// set (malformed). The retry state machine consumes this directly instead of
// driving control flow through a thrown error.
type ParseOutcome struct {
	Value json.RawMessage
	Err   error
}

// Valid reports whether the output parsed.
func (p ParseOutcome) Valid() bool {
	return p.Err == nil
}

// parseJSON checks that text is one complete JSON value. Only generic
// syntactic parseability is checked, not conformance to the request schema:
// a structurally complete document with a missing field still counts as
// valid here and never triggers a retry.
func parseJSON(text string) ParseOutcome {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return ParseOutcome{Err: err}
	}
	return ParseOutcome{Value: json.RawMessage(text)}
}

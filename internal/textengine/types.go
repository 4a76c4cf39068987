// Package textengine provides an HTTP client for the text generation engine.
//
// The engine is an OpenAI-compatible completion server (vLLM) reached over
// HTTP. It is treated as an opaque service: prompt and sampling config in,
// text plus stop metadata out. Guided decoding constraints are passed through
// as engine-specific request fields.
package textengine

import (
	"encoding/json"
	"fmt"
)

// ConstraintKind selects which guided-decoding constraint a request carries.
type ConstraintKind string

const (
	// KindNone requests free text.
	KindNone ConstraintKind = ""
	// KindJSONSchema constrains output to a JSON document shaped by a schema.
	KindJSONSchema ConstraintKind = "json"
	// KindRegex constrains output to match a regular expression.
	KindRegex ConstraintKind = "regex"
	// KindChoice constrains output to one of an enumerated set of strings.
	KindChoice ConstraintKind = "choice"
	// KindGrammar constrains output to a context-free grammar.
	KindGrammar ConstraintKind = "grammar"
)

// Constraint is a guided-decoding constraint. Exactly one payload field is
// set, and it must match Kind.
type Constraint struct {
	Kind       ConstraintKind
	JSONSchema map[string]any
	Regex      string
	Choices    []string
	Grammar    string
}

// Validate checks that the payload matching Kind is present and no other is.
func (c *Constraint) Validate() error {
	set := 0
	if c.JSONSchema != nil {
		set++
	}
	if c.Regex != "" {
		set++
	}
	if len(c.Choices) > 0 {
		set++
	}
	if c.Grammar != "" {
		set++
	}

	switch c.Kind {
	case KindJSONSchema:
		if c.JSONSchema == nil || set != 1 {
			return fmt.Errorf("constraint kind %q requires exactly a schema payload", c.Kind)
		}
	case KindRegex:
		if c.Regex == "" || set != 1 {
			return fmt.Errorf("constraint kind %q requires exactly a regex payload", c.Kind)
		}
	case KindChoice:
		if len(c.Choices) == 0 || set != 1 {
			return fmt.Errorf("constraint kind %q requires exactly a choices payload", c.Kind)
		}
	case KindGrammar:
		if c.Grammar == "" || set != 1 {
			return fmt.Errorf("constraint kind %q requires exactly a grammar payload", c.Kind)
		}
	case KindNone:
		if set != 0 {
			return fmt.Errorf("unconstrained request must not carry a constraint payload")
		}
	default:
		return fmt.Errorf("unknown constraint kind %q", c.Kind)
	}
	return nil
}

// StopReason reports why the engine stopped emitting tokens.
type StopReason string

const (
	// StopNatural means the engine finished on its own or hit a stop marker.
	StopNatural StopReason = "stop"
	// StopLength means the token budget ceiling cut generation off.
	StopLength StopReason = "length"
	// StopOther covers any reason the engine reports that we don't classify.
	StopOther StopReason = "other"
)

// GenerateRequest is one engine invocation.
type GenerateRequest struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
	TopP        float64
	Stop        []string
	Constraint  *Constraint

	// RequestID correlates engine-side logs with gateway attempts.
	// Each retry attempt uses a distinct id.
	RequestID string
}

// Result is the complete-mode outcome of one engine call.
type Result struct {
	Text       string
	Model      string
	TokensUsed int
	StopReason StopReason
}

// Chunk is one streamed partial result. Done is set on the final chunk,
// together with the stop reason.
type Chunk struct {
	Text       string
	Done       bool
	StopReason StopReason
}

// wire types for the OpenAI-compatible completion API

type completionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Stream      bool     `json:"stream,omitempty"`

	// vLLM guided decoding extensions.
	GuidedJSON    map[string]any `json:"guided_json,omitempty"`
	GuidedRegex   string         `json:"guided_regex,omitempty"`
	GuidedChoice  []string       `json:"guided_choice,omitempty"`
	GuidedGrammar string         `json:"guided_grammar,omitempty"`
}

type completionChoice struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type completionUsage struct {
	CompletionTokens int `json:"completion_tokens"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
	Usage   completionUsage    `json:"usage"`
}

// mapStopReason normalizes the engine's finish_reason string.
func mapStopReason(finishReason string) StopReason {
	switch finishReason {
	case "stop":
		return StopNatural
	case "length":
		return StopLength
	default:
		return StopOther
	}
}

// buildBody assembles the wire request for a GenerateRequest.
func buildBody(model string, req *GenerateRequest, stream bool) ([]byte, error) {
	body := completionRequest{
		Model:       model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
		Stream:      stream,
	}

	if c := req.Constraint; c != nil && c.Kind != KindNone {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		switch c.Kind {
		case KindJSONSchema:
			body.GuidedJSON = c.JSONSchema
		case KindRegex:
			body.GuidedRegex = c.Regex
		case KindChoice:
			body.GuidedChoice = c.Choices
		case KindGrammar:
			body.GuidedGrammar = c.Grammar
		}
	}

	return json.Marshal(body)
}

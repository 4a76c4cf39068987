// Package guided drives constrained text generation to a valid result.
//
// Schema-constrained output can be truncated by the token ceiling
// mid-structure. The controller reserves a shape-derived extra budget up
// front, then retries with a grown budget when the output still fails to
// parse. Retries cover only that truncation/malformed failure mode; engine
// failures propagate immediately.
package guided

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/fictures/ai-gateway/internal/metrics"
	"github.com/fictures/ai-gateway/internal/schema"
	"github.com/fictures/ai-gateway/internal/textengine"
)

// DefaultMaxRetries bounds the retry loop: at most DefaultMaxRetries+1
// engine calls per logical request.
const DefaultMaxRetries = 2

// Engine is the complete-mode generation contract the controller drives.
type Engine interface {
	Generate(ctx context.Context, req *textengine.GenerateRequest) (*textengine.Result, error)
	Model() string
}

// Request is one logical structured-generation request.
type Request struct {
	Prompt      string
	Constraint  textengine.Constraint
	MaxTokens   int
	Temperature float64
	TopP        float64

	// MaxRetries < 0 means DefaultMaxRetries.
	MaxRetries int
}

// Result is the outcome of the retry loop: the last attempt that mattered
// (first valid, or final invalid), plus observability fields covering all
// attempts made.
type Result struct {
	Output     string
	Parsed     json.RawMessage
	IsValid    bool
	Model      string
	TokensUsed int
	StopReason textengine.StopReason

	// AttemptsUsed is the zero-based index of the returned attempt.
	AttemptsUsed int
	// AttemptBudgets records the token budget of every attempt made.
	AttemptBudgets []int
	// ParseError holds the final parse failure when IsValid is false.
	ParseError string
}

// Controller runs bounded, strictly sequential generation attempts.
type Controller struct {
	engine Engine
	logger *slog.Logger
}

// New creates a Controller over the given engine.
func New(engine Engine, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{engine: engine, logger: logger}
}

// Generate drives one or more engine attempts until the output parses or
// attempts are exhausted. Non-schema constraint kinds get exactly one call
// and their output is accepted as-is; only JSON-schema output is mechanically
// checkable after the fact, so only it is subject to truncation retries.
//
// Engine errors are returned immediately and are never retried here.
func (c *Controller) Generate(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Constraint.Validate(); err != nil {
		return nil, err
	}

	maxRetries := req.MaxRetries
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}

	isSchema := req.Constraint.Kind == textengine.KindJSONSchema

	budget := req.MaxTokens
	if isSchema {
		reserve := schema.EstimateBudget(req.Constraint.JSONSchema)
		budget += reserve
		c.logger.Debug("reserved structure-closing budget",
			"requested", req.MaxTokens, "reserve", reserve)
	}

	var budgets []int
	for attempt := 0; ; attempt++ {
		budgets = append(budgets, budget)

		engineReq := &textengine.GenerateRequest{
			Prompt:      req.Prompt,
			MaxTokens:   budget,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			Constraint:  &req.Constraint,
			// Distinct id per attempt so engine-side logs can be correlated.
			RequestID: uuid.NewString(),
		}

		metrics.RecordGenerationAttempt(constraintLabel(req.Constraint.Kind))

		res, err := c.engine.Generate(ctx, engineReq)
		if err != nil {
			return nil, err
		}

		result := &Result{
			Output:         res.Text,
			Model:          res.Model,
			TokensUsed:     res.TokensUsed,
			StopReason:     res.StopReason,
			AttemptsUsed:   attempt,
			AttemptBudgets: budgets,
		}

		if !isSchema {
			result.IsValid = true
			return result, nil
		}

		outcome := parseJSON(res.Text)
		if outcome.Valid() {
			result.IsValid = true
			result.Parsed = outcome.Value
			return result, nil
		}

		if attempt == maxRetries {
			c.logger.Warn("structured output still malformed after final attempt",
				"attempts", attempt+1, "stop_reason", res.StopReason)
			result.ParseError = outcome.Err.Error()
			return result, nil
		}

		c.logger.Info("structured output failed to parse, growing budget",
			"attempt", attempt, "budget", budget, "stop_reason", res.StopReason)
		budget = grow(budget)
	}
}

// grow returns the next attempt's budget: 20% over the previous one.
// Truncation is usually under-provisioning by a bounded margin, so
// percentage growth converges within a retry or two for realistic schemas.
func grow(budget int) int {
	next := budget + budget/5
	if next <= budget {
		next = budget + 1
	}
	return next
}

func constraintLabel(kind textengine.ConstraintKind) string {
	if kind == textengine.KindNone {
		return "none"
	}
	return string(kind)
}

// Package dispatch runs image workflow jobs to completion: submit the graph,
// poll for the finished record, fetch the produced artifact.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png" // artifact dimension probing
	"log/slog"
	"time"

	"github.com/fictures/ai-gateway/internal/comfy"
	"github.com/fictures/ai-gateway/internal/metrics"
)

// DefaultPollInterval is the wait between completion checks. The backend has
// no push channel for job completion, so the dispatcher polls its history.
const DefaultPollInterval = time.Second

// DefaultTimeout bounds a single job's wall-clock time from submission to
// completion.
const DefaultTimeout = 120 * time.Second

// Sentinel errors distinguishing the ways a job can fail to yield an image.
var (
	// ErrTimeout means the job did not complete within the deadline. The job
	// may still finish on the backend afterwards; its output is abandoned.
	ErrTimeout = errors.New("dispatch: workflow job timed out")
	// ErrNoArtifact means the job completed but produced no image output.
	ErrNoArtifact = errors.New("dispatch: workflow completed without producing an image")
)

// Backend is the workflow API surface the dispatcher drives.
type Backend interface {
	QueuePrompt(ctx context.Context, wf comfy.Workflow) (string, error)
	GetHistory(ctx context.Context, promptID string) (*comfy.HistoryEntry, error)
	FetchArtifact(ctx context.Context, ref comfy.ArtifactRef) ([]byte, error)
}

// Artifact is one completed generation: the image bytes plus the metadata
// callers need to reproduce or describe it.
type Artifact struct {
	Data     []byte
	Filename string
	Width    int
	Height   int
	Seed     int64
}

// Dispatcher submits job graphs and waits for their artifacts.
type Dispatcher struct {
	backend      Backend
	logger       *slog.Logger
	pollInterval time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPollInterval overrides the completion poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(disp *Dispatcher) {
		disp.pollInterval = d
	}
}

// New creates a Dispatcher over the given backend.
func New(backend Backend, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		backend:      backend,
		logger:       logger,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SubmitAndWait builds the workflow for params, submits it, polls until the
// job finishes or timeout elapses, and downloads the first produced image.
// A non-positive timeout means DefaultTimeout.
//
// Backend errors during submit, poll, or download propagate as-is; ErrTimeout
// and ErrNoArtifact mark the two non-transport failure modes.
func (d *Dispatcher) SubmitAndWait(ctx context.Context, params *comfy.JobParams, timeout time.Duration) (*Artifact, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	wf, err := comfy.BuildWorkflow(params)
	if err != nil {
		return nil, err
	}

	promptID, err := d.backend.QueuePrompt(ctx, wf)
	if err != nil {
		metrics.RecordWorkflowJob("error")
		return nil, fmt.Errorf("failed to submit workflow: %w", err)
	}

	d.logger.Info("workflow job submitted",
		"prompt_id", promptID,
		"width", params.Width,
		"height", params.Height,
		"seed", params.Seed)

	entry, err := d.waitForCompletion(ctx, promptID, timeout)
	if err != nil {
		return nil, err
	}

	images := entry.Images()
	if len(images) == 0 {
		d.logger.Warn("workflow finished with empty output", "prompt_id", promptID)
		metrics.RecordWorkflowJob("no_artifact")
		return nil, ErrNoArtifact
	}

	ref := images[0]
	data, err := d.backend.FetchArtifact(ctx, ref)
	if err != nil {
		metrics.RecordWorkflowJob("error")
		return nil, fmt.Errorf("failed to fetch artifact: %w", err)
	}

	metrics.RecordWorkflowJob("completed")

	artifact := &Artifact{
		Data:     data,
		Filename: ref.Filename,
		Seed:     params.Seed,
	}
	artifact.Width, artifact.Height = d.probeDimensions(data, params)

	return artifact, nil
}

// waitForCompletion polls history until the job appears or the deadline
// passes. The deadline is wall-clock across the whole wait, not per poll.
func (d *Dispatcher) waitForCompletion(ctx context.Context, promptID string, timeout time.Duration) (*comfy.HistoryEntry, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		entry, err := d.backend.GetHistory(ctx, promptID)
		if err != nil {
			metrics.RecordWorkflowJob("error")
			return nil, fmt.Errorf("failed to poll workflow status: %w", err)
		}
		if entry != nil {
			return entry, nil
		}

		if !time.Now().Before(deadline) {
			d.logger.Warn("workflow job timed out", "prompt_id", promptID, "timeout", timeout)
			metrics.RecordWorkflowJob("timeout")
			return nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			metrics.RecordWorkflowJob("error")
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// probeDimensions reads the actual image dimensions from the artifact header.
// The backend may clamp or round the requested resolution, so the bytes are
// authoritative; an undecodable header falls back to the requested values.
func (d *Dispatcher) probeDimensions(data []byte, params *comfy.JobParams) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		d.logger.Warn("failed to probe artifact dimensions", "error", err)
		return params.Width, params.Height
	}
	return cfg.Width, cfg.Height
}

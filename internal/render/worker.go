// Package render is the sandbox's simulated render farm. It claims queued
// generation jobs and walks them through the backend's stage sequence,
// producing placeholder assets.
package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/thumbforge/internal/genapi"
	"github.com/kalambet/thumbforge/internal/storage"
)

// JobStore abstracts the render queue operations.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	UpdateJobProgress(id, stage string, progress int, message string) error
	CompleteJob(id, resultJSON string) error
	RejectJob(id, errMsg, code, suggestion string) error
	FailJob(id string, errMsg string) error
}

// Renderer produces the asset of a validated job.
type Renderer interface {
	Render(ctx context.Context, req genapi.StartRequest) (genapi.Result, error)
}

type stage struct {
	code     genapi.StatusCode
	progress int
	message  string
}

var stages = []stage{
	{genapi.StatusAnalyzing, 15, "Analyzing request"},
	{genapi.StatusEnhancing, 35, "Enhancing prompt"},
	{genapi.StatusGenerating, 60, "Generating image"},
	{genapi.StatusUploading, 90, "Uploading"},
}

var jobTypes = []string{
	string(genapi.KindThumbnail),
	string(genapi.KindSmartMerge),
	string(genapi.KindEnhance),
}

// Option configures a Worker.
type Option func(*Worker)

// WithStageDelay sets how long each simulated stage takes.
func WithStageDelay(d time.Duration) Option {
	return func(w *Worker) {
		if d >= 0 {
			w.stageDelay = d
		}
	}
}

// WithPollInterval sets how often an idle worker checks the queue.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// Worker processes generation jobs from the SQLite queue.
type Worker struct {
	store      JobStore
	renderer   Renderer
	poll       time.Duration
	stageDelay time.Duration
	logger     *slog.Logger
}

// NewWorker creates a Worker. Defaults: 500ms poll interval, 750ms per stage.
func NewWorker(store JobStore, renderer Renderer, opts ...Option) *Worker {
	w := &Worker{
		store:      store,
		renderer:   renderer,
		poll:       500 * time.Millisecond,
		stageDelay: 750 * time.Millisecond,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(jobTypes)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	log := w.logger.With("job_id", job.ID, "kind", job.Type)
	resultJSON, err := w.processJob(ctx, job)

	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		log.Info("job rejected", "code", verr.Code, "reason", verr.Message)
		if rejErr := w.store.RejectJob(job.ID, verr.Message, verr.Code, verr.Suggestion); rejErr != nil {
			log.Error("failed to mark job as rejected", "error", rejErr)
		}
		return true, nil
	case err != nil:
		log.Warn("job failed", "attempt", job.Attempts+1, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			log.Error("failed to mark job as failed", "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID, resultJSON); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	log.Info("job complete")
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) (string, error) {
	var req genapi.StartRequest
	if err := json.Unmarshal([]byte(job.PayloadJSON), &req); err != nil {
		return "", &ValidationError{Code: "invalid_payload", Message: fmt.Sprintf("parsing payload: %v", err)}
	}
	if req.Kind == "" {
		req.Kind = genapi.JobKind(job.Type)
	}
	if err := Validate(req); err != nil {
		return "", err
	}

	var res genapi.Result
	for _, st := range stages {
		if err := w.store.UpdateJobProgress(job.ID, string(st.code), st.progress, st.message); err != nil {
			return "", fmt.Errorf("recording stage %s: %w", st.code, err)
		}
		if err := sleep(ctx, w.stageDelay); err != nil {
			return "", err
		}
		if st.code == genapi.StatusGenerating {
			r, err := w.renderer.Render(ctx, req)
			if err != nil {
				return "", fmt.Errorf("rendering: %w", err)
			}
			res = r
		}
	}

	raw, err := genapi.EncodeResult(res)
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(raw), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

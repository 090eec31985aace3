package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/thumbforge/internal/apierr"
	"github.com/kalambet/thumbforge/internal/genapi"
	"github.com/kalambet/thumbforge/internal/storage"
)

// JobAPI is the generation backend as seen by the poller.
type JobAPI interface {
	StartJob(ctx context.Context, req genapi.StartRequest) (genapi.JobHandle, error)
	PollJob(ctx context.Context, jobID string) (genapi.JobStatus, error)
}

// JobLog persists a local history of started jobs. Implemented by storage.Store.
type JobLog interface {
	UpsertJobRecord(rec storage.JobRecord) error
}

// Tracker receives fire-and-forget analytics events.
type Tracker interface {
	Track(name string, props map[string]any)
}

// ProgressFunc receives the human-readable status and 0-100 progress of every
// successful poll, including the terminal one. Progress is passed through as
// reported and may go backwards.
type ProgressFunc func(status string, progress int)

// Config bounds the poll loop. Zero values fall back to DefaultConfig.
type Config struct {
	Interval        time.Duration
	MaxPolls        int
	MaxDuration     time.Duration
	MaxPollFailures int
}

// DefaultConfig returns the poll settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Interval:        2 * time.Second,
		MaxPolls:        600,
		MaxDuration:     15 * time.Minute,
		MaxPollFailures: 3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.MaxPolls <= 0 {
		c.MaxPolls = d.MaxPolls
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = d.MaxPollFailures
	}
	return c
}

// Outcome is the terminal state of a polled job. Exactly one of Result and
// Failure is set.
type Outcome struct {
	JobID   string
	Result  genapi.Result
	Failure *Failure
	Final   genapi.JobStatus
	Polls   int
}

// Succeeded reports whether the job completed with a result.
func (o *Outcome) Succeeded() bool {
	return o.Failure == nil
}

// Err returns an *OutcomeFailure for failed outcomes and nil otherwise.
func (o *Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return &OutcomeFailure{JobID: o.JobID, Failure: *o.Failure}
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Poller) { p.logger = l }
}

// WithJobLog records every start and observed status in log.
func WithJobLog(log JobLog) Option {
	return func(p *Poller) { p.log = log }
}

// WithTracker emits job lifecycle analytics events to t.
func WithTracker(t Tracker) Option {
	return func(p *Poller) { p.tracker = t }
}

// Poller starts generation jobs and polls them to a terminal state.
type Poller struct {
	api     JobAPI
	cfg     Config
	logger  *slog.Logger
	log     JobLog
	tracker Tracker
	now     func() time.Time
}

// New creates a Poller. It holds no goroutines of its own; every call runs
// on the caller's goroutine and honours its context.
func New(api JobAPI, cfg Config, opts ...Option) *Poller {
	p := &Poller{
		api:    api,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start submits req. A rejected submission is returned as *StartError.
func (p *Poller) Start(ctx context.Context, req genapi.StartRequest) (genapi.JobHandle, error) {
	h, err := p.api.StartJob(ctx, req)
	if err != nil {
		return genapi.JobHandle{}, &StartError{Kind: req.Kind, Err: err}
	}

	p.logger.Debug("job started", "job_id", h.JobID, "kind", req.Kind)
	p.track("job_started", map[string]any{"job_id": h.JobID, "kind": string(req.Kind)})
	if p.log != nil {
		now := p.now().UTC()
		rec := storage.JobRecord{
			ID:         h.JobID,
			Kind:       string(req.Kind),
			Prompt:     req.Prompt,
			ProjectID:  req.ProjectID,
			StatusCode: string(genapi.StatusQueued),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := p.log.UpsertJobRecord(rec); err != nil {
			p.logger.Warn("recording job start failed", "job_id", h.JobID, "error", err)
		}
	}
	return h, nil
}

// Run starts req and polls it until done.
func (p *Poller) Run(ctx context.Context, req genapi.StartRequest, onProgress ProgressFunc) (*Outcome, error) {
	h, err := p.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.PollUntilDone(ctx, h.JobID, onProgress)
}

// PollUntilDone polls jobID every Interval until the backend reports it
// complete or failed. Polls never overlap. A transport failure or a 5xx/429
// response is retried up to MaxPollFailures consecutive times before
// *PollExhaustedError is returned. Any other backend error response ends
// polling at once with *PollRejectedError.
// Exceeding MaxPolls or MaxDuration yields *TimeoutError. Cancelling ctx
// returns ctx.Err().
func (p *Poller) PollUntilDone(ctx context.Context, jobID string, onProgress ProgressFunc) (*Outcome, error) {
	pollCtx, cancel := context.WithTimeout(ctx, p.cfg.MaxDuration)
	defer cancel()

	start := p.now()
	polls, failures := 0, 0

	timeout := func() error {
		return &TimeoutError{JobID: jobID, Polls: polls, Elapsed: p.now().Sub(start)}
	}

	for {
		status, err := p.api.PollJob(pollCtx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if pollCtx.Err() != nil {
				return nil, timeout()
			}
			var apiErr *apierr.APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				p.logger.Warn("job poll rejected", "job_id", jobID, "status", apiErr.StatusCode, "error", err)
				p.track("job_poll_rejected", map[string]any{"job_id": jobID, "status": apiErr.StatusCode})
				return nil, &PollRejectedError{JobID: jobID, Err: apiErr}
			}
			failures++
			p.logger.Warn("job poll failed", "job_id", jobID, "attempt", failures, "error", err)
			if failures >= p.cfg.MaxPollFailures {
				p.track("job_poll_exhausted", map[string]any{"job_id": jobID})
				return nil, &PollExhaustedError{JobID: jobID, Attempts: failures, Err: err}
			}
		} else {
			failures = 0
			polls++
			if onProgress != nil {
				onProgress(status.Status, status.Progress)
			}
			p.record(jobID, status)

			out, done, err := p.terminal(jobID, status, polls)
			if done {
				return out, err
			}
			if polls >= p.cfg.MaxPolls {
				return nil, timeout()
			}
		}

		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, timeout()
		case <-time.After(p.cfg.Interval):
		}
	}
}

func (p *Poller) terminal(jobID string, st genapi.JobStatus, polls int) (*Outcome, bool, error) {
	switch {
	case st.IsComplete && st.HasResult():
		res, err := genapi.DecodeResult(st.Result)
		if err != nil {
			f := &Failure{Message: "job completed with an unreadable result: " + err.Error(), Code: "invalid_result"}
			p.track("job_failed", map[string]any{"job_id": jobID, "code": f.Code})
			return &Outcome{JobID: jobID, Failure: f, Final: st, Polls: polls}, true, nil
		}
		p.track("job_completed", map[string]any{"job_id": jobID, "kind": string(res.Kind()), "polls": polls})
		return &Outcome{JobID: jobID, Result: res, Final: st, Polls: polls}, true, nil

	case st.IsFailed:
		f := &Failure{Message: st.Error}
		if f.Message == "" {
			f.Message = st.Status
		}
		if st.ErrorDetails != nil {
			f.Code = st.ErrorDetails.Code
			f.Suggestion = st.ErrorDetails.Suggestion
		}
		p.track("job_failed", map[string]any{"job_id": jobID, "code": f.Code})
		return &Outcome{JobID: jobID, Failure: f, Final: st, Polls: polls}, true, nil

	case st.IsComplete:
		f := &Failure{Message: "job completed without a result", Code: "missing_result"}
		p.track("job_failed", map[string]any{"job_id": jobID, "code": f.Code})
		return &Outcome{JobID: jobID, Failure: f, Final: st, Polls: polls}, true, nil
	}
	return nil, false, nil
}

func (p *Poller) record(jobID string, st genapi.JobStatus) {
	if p.log == nil {
		return
	}
	rec := storage.JobRecord{
		ID:         jobID,
		StatusCode: string(st.StatusCode),
		Progress:   st.Progress,
		Error:      st.Error,
		UpdatedAt:  p.now().UTC(),
	}
	if st.IsComplete && st.HasResult() {
		if res, err := genapi.DecodeResult(st.Result); err == nil {
			rec.ResultURL = res.Primary()
		}
	}
	if err := p.log.UpsertJobRecord(rec); err != nil {
		p.logger.Debug("recording job state failed", "job_id", jobID, "error", err)
	}
}

func (p *Poller) track(name string, props map[string]any) {
	if p.tracker != nil {
		p.tracker.Track(name, props)
	}
}

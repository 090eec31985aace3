// Package maintenance prunes expired cache entries and finished job history
// on a cron schedule.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kalambet/thumbforge/internal/cache"
)

// Store is the storage the scheduler prunes. Implemented by storage.Store.
type Store interface {
	PurgeKV(prefix string, olderThan time.Time) (int64, error)
	PurgeJobRecords(cutoff time.Time) (int64, error)
	PurgeJobs(cutoff time.Time) (int64, error)
}

// Config controls what is pruned and when.
type Config struct {
	// Schedule is a standard five-field cron expression or a descriptor
	// such as "@hourly".
	Schedule string
	// CacheMaxAge is the age after which cache entries are deleted.
	CacheMaxAge time.Duration
	// HistoryMaxAge is the age after which finished jobs are deleted.
	HistoryMaxAge time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Schedule:      "@hourly",
		CacheMaxAge:   7 * 24 * time.Hour,
		HistoryMaxAge: 30 * 24 * time.Hour,
	}
}

// Report counts the rows removed by one run.
type Report struct {
	CacheEntries int64 `json:"cacheEntries" yaml:"cache_entries"`
	JobRecords   int64 `json:"jobRecords" yaml:"job_records"`
	QueuedJobs   int64 `json:"queuedJobs" yaml:"queued_jobs"`
}

// Scheduler runs maintenance periodically.
type Scheduler struct {
	store  Store
	cfg    Config
	cron   *cron.Cron
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	lastRun time.Time
	last    Report
	running bool
}

// New validates cfg.Schedule and returns an idle Scheduler.
func New(store Store, cfg Config) (*Scheduler, error) {
	d := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = d.Schedule
	}
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = d.CacheMaxAge
	}
	if cfg.HistoryMaxAge <= 0 {
		cfg.HistoryMaxAge = d.HistoryMaxAge
	}

	c := cron.New()
	s := &Scheduler{store: store, cfg: cfg, cron: c, logger: slog.Default(), now: time.Now}
	if _, err := c.AddFunc(cfg.Schedule, s.scheduled); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start begins running on schedule.
func (s *Scheduler) Start() {
	s.logger.Info("maintenance scheduled", "schedule", s.cfg.Schedule, "next", s.Next())
	s.cron.Start()
}

// Stop stops the schedule and waits for a running pass to finish or for ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next scheduled run, or the zero time if not started.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	if !entries[0].Next.IsZero() {
		return entries[0].Next
	}
	return entries[0].Schedule.Next(s.now())
}

// Last returns the time and result of the most recent run.
func (s *Scheduler) Last() (time.Time, Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.last
}

// RunOnce prunes immediately. Failures of individual steps are joined; the
// report counts whatever succeeded.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Report{}, errors.New("maintenance already running")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	now := s.now()
	var r Report
	var errs []error

	steps := []struct {
		name string
		n    *int64
		fn   func() (int64, error)
	}{
		{"cache", &r.CacheEntries, func() (int64, error) { return s.store.PurgeKV(cache.Prefix, now.Add(-s.cfg.CacheMaxAge)) }},
		{"job log", &r.JobRecords, func() (int64, error) { return s.store.PurgeJobRecords(now.Add(-s.cfg.HistoryMaxAge)) }},
		{"render queue", &r.QueuedJobs, func() (int64, error) { return s.store.PurgeJobs(now.Add(-s.cfg.HistoryMaxAge)) }},
	}
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := st.fn()
		if err != nil {
			errs = append(errs, fmt.Errorf("pruning %s: %w", st.name, err))
			continue
		}
		*st.n = n
	}

	s.mu.Lock()
	s.lastRun, s.last = now, r
	s.mu.Unlock()

	return r, errors.Join(errs...)
}

func (s *Scheduler) scheduled() {
	r, err := s.RunOnce(context.Background())
	if err != nil {
		s.logger.Error("maintenance failed", "error", err)
		return
	}
	s.logger.Info("maintenance complete", "cache_entries", r.CacheEntries, "job_records", r.JobRecords, "queued_jobs", r.QueuedJobs)
}

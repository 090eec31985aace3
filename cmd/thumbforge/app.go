package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/thumbforge/internal/analytics"
	"github.com/kalambet/thumbforge/internal/auth"
	"github.com/kalambet/thumbforge/internal/config"
	"github.com/kalambet/thumbforge/internal/genapi"
	"github.com/kalambet/thumbforge/internal/jobs"
	"github.com/kalambet/thumbforge/internal/projectapi"
	"github.com/kalambet/thumbforge/internal/projects"
	"github.com/kalambet/thumbforge/internal/storage"
)

const tokenTimeout = 5 * time.Second

// app holds the client-side components shared by the job and project
// commands.
type app struct {
	cfg      config.Config
	store    *storage.Store
	gen      *genapi.Client
	projects *projectapi.Client
	emitter  *analytics.Emitter
	poller   *jobs.Poller
	logger   *slog.Logger

	orch      *projects.Orchestrator
	ownsStore bool
}

// newApp loads the configuration and builds an app. Tests replace it.
var newApp = func() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return buildApp(cfg)
}

func buildApp(cfg config.Config) (*app, error) {
	setupLogging(cfg.Log.Level)

	if _, err := cfg.RequireAPIToken(); err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := newClientApp(cfg, store)
	a.ownsStore = true
	return a, nil
}

// newClientApp builds an app over an already open store. The caller keeps
// ownership of store.
func newClientApp(cfg config.Config, store *storage.Store) *app {
	tokens := auth.WithTimeout(auth.StaticToken(cfg.Backend.APIToken), tokenTimeout)

	logger := slog.Default()
	var sink analytics.Sink = analytics.LogSink{Logger: logger}
	if cfg.Analytics.Enabled {
		sink = analytics.NewHTTPSink(cfg.BaseURL(), tokens)
	}
	emitter := analytics.NewEmitter(sink, analytics.WithLogger(logger))

	gen := genapi.New(cfg.BaseURL(), tokens)
	poller := jobs.New(gen, jobs.Config{
		Interval:        cfg.Poll.Interval,
		MaxPolls:        cfg.Poll.MaxPolls,
		MaxDuration:     cfg.Poll.MaxDuration,
		MaxPollFailures: cfg.Poll.MaxFailures,
	}, jobs.WithJobLog(store), jobs.WithTracker(emitter), jobs.WithLogger(logger))

	return &app{
		cfg:      cfg,
		store:    store,
		gen:      gen,
		projects: projectapi.New(cfg.BaseURL(), tokens).WithLogger(logger),
		emitter:  emitter,
		poller:   poller,
		logger:   logger,
	}
}

// orchestrator returns the project orchestrator, creating it on first use.
// It is not started.
func (a *app) orchestrator() *projects.Orchestrator {
	if a.orch == nil {
		a.orch = projects.New(a.store, a.projects, a.projects, projects.Config{
			OwnerID:              a.cfg.Backend.OwnerID,
			TTL:                  a.cfg.Cache.TTL,
			StaleWhileRevalidate: a.cfg.Cache.StaleWhileRevalidate,
		}, projects.WithTracker(a.emitter), projects.WithLogger(a.logger))
	}
	return a.orch
}

// Close stops the orchestrator, flushes analytics and closes storage if the
// app opened it.
func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.emitter.Close(ctx); err != nil {
		a.logger.Warn("flushing analytics failed", "error", err)
	}
	if !a.ownsStore {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing storage failed", "error", err)
	}
}

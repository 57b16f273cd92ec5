// Package app wires configuration, storage, the generator and the planning
// engine into one container shared by the CLI, the API server and the bot.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"ai-meal-calendar/internal/calendar"
	"ai-meal-calendar/internal/config"
	"ai-meal-calendar/internal/database"
	"ai-meal-calendar/internal/history"
	"ai-meal-calendar/internal/jobs"
	"ai-meal-calendar/internal/llm"
	"ai-meal-calendar/internal/metrics"
	"ai-meal-calendar/internal/planner"
	"ai-meal-calendar/internal/scheduler"
	"ai-meal-calendar/internal/settings"
	"ai-meal-calendar/internal/storage"
	"ai-meal-calendar/internal/view"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App holds the application's dependencies.
type App struct {
	Config *config.Config

	DB        *database.DB
	Docs      storage.Store
	Settings  *settings.Store
	Calendar  *calendar.Store
	History   *history.Store
	Views     *view.Builder
	Planner   *planner.Planner
	Jobs      *jobs.Tracker
	Scheduler *scheduler.Scheduler

	Metrics  *metrics.Store
	Registry *prometheus.Registry

	generator llm.Generator
	cancel    context.CancelFunc
}

// SetupLogging installs the process-wide slog handler.
func SetupLogging(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// New creates and initializes a new App instance. Background jobs started
// through App.Jobs are cancelled by Close.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	var docs storage.Store
	switch cfg.StateBackend {
	case config.BackendSQL:
		docs = storage.NewSQLStore(db)
	default:
		fs, err := storage.NewFileStore(cfg.DataDir)
		if err != nil {
			db.Close()
			return nil, err
		}
		docs = fs
	}

	gen, err := llm.New(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create generator: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsStore := metrics.NewStore(db)

	settingsStore := settings.NewStore(docs)
	calendarStore := calendar.NewStore(docs)
	historyStore := history.NewStore(docs)

	p := planner.NewPlanner(docs, gen, planner.Options{
		Timeout:      cfg.GenerationTimeout,
		Attempts:     cfg.GenerationAttempts,
		HistoryDepth: cfg.HistoryDepth,
	}).WithRecorder(metrics.Multi{metricsStore, metrics.NewCollectors(reg)})

	jobCtx, cancel := context.WithCancel(context.Background())
	tracker := jobs.NewTracker(jobCtx)

	slog.Info("app: initialized", "backend", cfg.StateBackend, "database", string(db.Dialect), "generator", cfg.Generator)

	return &App{
		Config:    cfg,
		DB:        db,
		Docs:      docs,
		Settings:  settingsStore,
		Calendar:  calendarStore,
		History:   historyStore,
		Views:     view.NewBuilder(calendarStore, historyStore, settingsStore),
		Planner:   p,
		Jobs:      tracker,
		Scheduler: scheduler.New(settingsStore, p, tracker),
		Metrics:   metricsStore,
		Registry:  reg,
		generator: gen,
		cancel:    cancel,
	}, nil
}

// ScheduleKnownUsers registers every user with stored state with the
// scheduler, plus the extra ids given.
func (a *App) ScheduleKnownUsers(ctx context.Context, extra ...string) error {
	users := append([]string(nil), extra...)
	if lister, ok := a.Docs.(storage.Lister); ok {
		found, err := lister.Users(ctx)
		if err != nil {
			return err
		}
		users = append(users, found...)
	}
	seen := make(map[string]bool, len(users))
	for _, u := range users {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		a.Scheduler.Refresh(u)
	}
	return nil
}

// Close cancels background jobs, waits for them and releases resources.
func (a *App) Close() error {
	a.cancel()
	a.Jobs.Wait()
	if c, ok := a.generator.(llm.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("app: failed to close generator", "error", err)
		}
	}
	return a.DB.Close()
}

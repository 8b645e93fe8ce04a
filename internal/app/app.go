// Package app is the composition root. It opens the workspace, wires the
// bus, store and engines together, and owns the background workers.
package app

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"focusline/internal/analytics"
	"focusline/internal/archive"
	"focusline/internal/bus"
	"focusline/internal/classify"
	"focusline/internal/config"
	"focusline/internal/db"
	"focusline/internal/journal"
	"focusline/internal/migrate"
	"focusline/internal/monitor"
	"focusline/internal/session"
	"focusline/internal/store"
	"focusline/internal/suggest"
)

type App struct {
	Workspace string
	Config    *config.Config
	Logger    *slog.Logger

	DB          *sql.DB
	Store       store.Repository
	Bus         *bus.Bus
	Journal     *journal.Writer
	Rules       *classify.Rules
	Sessions    *session.Manager
	Analytics   *analytics.Engine
	Suggestions *suggest.Engine
	Archiver    *archive.Archiver
	Monitor     *monitor.Monitor
}

// Options overrides pieces of the default wiring. Zero values keep the
// defaults.
type Options struct {
	Logger    *slog.Logger
	Predictor suggest.Predictor
	Learner   suggest.Learner
	Sampler   monitor.Sampler
}

// Open loads the workspace config, opens and migrates the database and
// wires every component onto one bus. The journal writer is always
// attached so every event is persisted.
func Open(workspace string, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	cfg, err := config.LoadOptional(workspace, "local")
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}

	st := store.NewSQLite(conn)
	b := bus.New(logger)

	a := &App{
		Workspace: workspace,
		Config:    cfg,
		Logger:    logger,
		DB:        conn,
		Store:     st,
		Bus:       b,
		Journal:   journal.NewWriter(st, logger),
		Rules:     classify.NewRules(cfg, config.Path(workspace), logger),
		Analytics: analytics.New(st, cfg),
		Archiver:  archive.New(st, cfg, workspace, logger),
	}
	a.Journal.Attach(b)

	a.Sessions = session.NewManager(st, b, cfg, logger)
	a.Sessions.Attach()

	predictor := opts.Predictor
	if predictor == nil {
		predictor = suggest.NewHeuristicPredictor(st, cfg)
	}
	a.Suggestions = suggest.New(st, b, cfg, predictor, opts.Learner, logger)

	if opts.Sampler != nil {
		a.Monitor = monitor.New(opts.Sampler, a.Rules, st, b, cfg, logger)
	}
	return a, nil
}

// StartWorkers launches the config watcher and, when enabled, the
// productivity alert worker. Workers stop when ctx is cancelled.
func (a *App) StartWorkers(ctx context.Context) {
	if _, err := os.Stat(config.Path(a.Workspace)); err == nil {
		go func() {
			if err := a.Rules.Watch(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Warn("config watcher exited", "error", err)
			}
		}()
	}
	if a.Config.Alerts.Enabled {
		go a.runAlertWorker(ctx)
	}
}

// runAlertWorker periodically scores the trailing window and raises a
// productivity alert event when the score drops below the threshold.
func (a *App) runAlertWorker(ctx context.Context) {
	interval := a.Config.Alerts.Interval.Std()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.Logger.Info("alert worker started", "interval", interval, "threshold", a.Config.Alerts.Threshold)

	for {
		select {
		case <-ctx.Done():
			a.Logger.Info("alert worker shutting down", "reason", ctx.Err())
			return
		case <-ticker.C:
			a.checkProductivity(ctx)
		}
	}
}

func (a *App) checkProductivity(ctx context.Context) {
	window := a.Config.Alerts.Window.Std()
	end := time.Now().UTC()
	start := end.Add(-window)

	activities, err := a.Store.ActivitiesByTimeframe(ctx, start, end)
	if err != nil {
		a.Logger.Error("alert worker query failed", "error", err)
		return
	}
	if len(activities) == 0 {
		return
	}
	score, err := a.Analytics.Score(ctx, start, end)
	if err != nil {
		a.Logger.Error("alert worker scoring failed", "error", err)
		return
	}
	if score >= a.Config.Alerts.Threshold {
		return
	}

	alert := bus.AlertPayload{
		Score:      score,
		Threshold:  a.Config.Alerts.Threshold,
		Window:     window,
		Suggestion: "consider switching back to a focus task",
	}
	a.Logger.Info("productivity below threshold", "score", score, "threshold", alert.Threshold)
	a.Bus.Dispatch(bus.Event{Kind: bus.ProductivityAlert, Timestamp: end, Alert: &alert})
}

// Close stops the monitor if one is attached and releases the database.
func (a *App) Close() error {
	if a.Monitor != nil {
		a.Monitor.Stop()
	}
	a.Sessions.Detach()
	return a.DB.Close()
}

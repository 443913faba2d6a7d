package app

import (
	"context"
	"database/sql"
	"log/slog"

	"falconeye/internal/alerts"
	"falconeye/internal/collector"
	"falconeye/internal/config"
	"falconeye/internal/db"
	"falconeye/internal/models"
	"falconeye/internal/notifier"
	"falconeye/internal/probe"
)

type App struct {
	cfg config.Config
	log *slog.Logger

	sqldb *sql.DB
	repo  *db.Repository

	collector *collector.Service
	status    *collector.StatusTracker
	alerts    *alerts.Engine
	notify    *notifier.Email
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	registry, err := cfg.BuildRegistry()
	if err != nil {
		return nil, err
	}

	sqldb, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(sqldb); err != nil {
		sqldb.Close()
		return nil, err
	}
	repo := db.NewRepository(sqldb)

	n := notifier.NewEmail(cfg.SMTP, logger.With("module", "notifier"))
	status := collector.NewStatusTracker(collector.CanonicalServerNames(registry))

	engine := alerts.NewEngine(repo, n, status.ServerNames,
		cfg.AlertCooldown, cfg.CoverageFraction, cfg.CollectionInterval,
		cfg.TriggerPolicy, logger.With("module", "alerts"))

	svc := collector.NewService(registry, repo,
		probe.New(cfg.SSHTimeout, logger.With("module", "probe")),
		collector.NewLocalProber(localDiskPath(registry)),
		engine, status, cfg.CollectionInterval, cfg.RetentionCap,
		logger.With("module", "collector"))

	return &App{
		cfg:       cfg,
		log:       logger,
		sqldb:     sqldb,
		repo:      repo,
		collector: svc,
		status:    status,
		alerts:    engine,
		notify:    n,
	}, nil
}

// Run drives the collection loop until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.collector.Run(ctx)
	return a.sqldb.Close()
}

// Repo exposes the storage layer for rule management.
func (a *App) Repo() *db.Repository { return a.repo }

// Status reports the collector's last-cycle summary.
func (a *App) Status() models.CollectorStatus { return a.status.Snapshot() }

// localDiskPath picks the disk mount the local probe should measure. An
// explicit "local" entry in the server list overrides the root default.
func localDiskPath(registry *models.Registry) string {
	if t, ok := registry.Lookup(models.LocalServerName); ok {
		return t.DiskMount()
	}
	return "/"
}

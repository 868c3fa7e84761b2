package main

import (
	"context"
	"log"

	"gorm.io/gorm"

	"github.com/Conceptual-Machines/magda-bebop/internal/builder"
	"github.com/Conceptual-Machines/magda-bebop/internal/config"
	"github.com/Conceptual-Machines/magda-bebop/internal/database"
	"github.com/Conceptual-Machines/magda-bebop/internal/features"
	"github.com/Conceptual-Machines/magda-bebop/internal/index"
	"github.com/Conceptual-Machines/magda-bebop/internal/logger"
	"github.com/Conceptual-Machines/magda-bebop/internal/metrics"
	"github.com/Conceptual-Machines/magda-bebop/internal/services"
	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
	"github.com/Conceptual-Machines/magda-bebop/internal/storage"
)

// app holds the wired services shared by every command
type app struct {
	cfg       *config.Config
	store     *index.Store
	builder   *builder.Service
	snapshots *storage.SnapshotStore
	db        *gorm.DB
	history   *services.HistoryService
	recorder  *metrics.Recorder
}

// newApp connects storage, history and metrics. Postgres and the snapshot
// directory are optional.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, store: index.NewStore(features.Dimension)}

	cw, err := metrics.NewClient(ctx, cfg.Environment)
	if err != nil {
		logger.Warn("CloudWatch metrics disabled", logger.Fields{"error": err.Error()})
	}
	a.recorder = metrics.NewRecorder(metrics.NewSentryMetrics(), cw)

	snapCfg := storage.InMemoryConfig()
	if cfg.SnapshotDir != "" {
		snapCfg = storage.DefaultConfig(cfg.SnapshotDir)
	}
	if a.snapshots, err = storage.Open(snapCfg); err != nil {
		return nil, err
	}

	if cfg.HistoryEnabled() {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := database.Migrate(db); err != nil {
			a.Close()
			return nil, err
		}
		a.db = db
		a.history = services.NewHistoryService(db)
	}

	opts := builder.Options{
		Segment:   cfg.Segment,
		Seed:      cfg.SeedExamples,
		Snapshots: a.snapshots,
		Recorder:  a.recorder,
	}
	if a.history != nil {
		opts.History = a.history
	}
	if a.builder, err = builder.NewService(a.store, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// loadIndex restores the last snapshot, building from the source directory
// when there is none
func (a *app) loadIndex(ctx context.Context) error {
	restored, err := a.builder.Restore(ctx)
	if err != nil {
		logger.Warn("Snapshot restore failed, rebuilding", logger.Fields{"error": err.Error()})
	}
	if restored {
		return nil
	}
	_, err = a.builder.BuildDatabase(ctx, a.cfg.MIDISourceDir)
	return err
}

// newManager creates the session manager with shared preferences restored
// from history
func (a *app) newManager(ctx context.Context) *solo.Manager {
	var feedback solo.FeedbackStore
	if a.history != nil {
		feedback = a.history
	}
	manager := solo.NewManager(a.cfg.Solo, a.store, a.recorder, feedback)

	if a.history != nil {
		applied, err := a.history.RestorePreferences(ctx, manager.Preferences())
		if err != nil {
			logger.Error("Failed to restore preferences", err, nil)
		} else if applied > 0 {
			logger.Info("Restored melody preferences", logger.Fields{"feedback": applied})
		}
	}
	return manager
}

// Close releases storage handles
func (a *app) Close() {
	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			log.Printf("Failed to close snapshot store: %v", err)
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

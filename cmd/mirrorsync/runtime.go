package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/chmdznr/oss-mirror-sync/internal/backup"
	"github.com/chmdznr/oss-mirror-sync/internal/config"
	"github.com/chmdznr/oss-mirror-sync/internal/db"
	"github.com/chmdznr/oss-mirror-sync/internal/gateway"
	"github.com/chmdznr/oss-mirror-sync/internal/logging"
	"github.com/chmdznr/oss-mirror-sync/internal/sync"
)

type options struct {
	dryRun   bool
	progress io.Writer
}

// env is everything a command needs, built from the config file
type env struct {
	cfg       *config.Config
	logger    *slog.Logger
	gw        gateway.Gateway
	db        *db.DB
	engine    *sync.Engine
	scheduler *backup.Scheduler
}

func setup(ctx context.Context, c *cli.Context, opts options) (*env, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if c.IsSet("log-level") {
		level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		format = c.String("log-format")
	}
	logger := logging.New(os.Stderr, level, format)

	store, err := gateway.NewObjectStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	rt := &env{
		cfg:    cfg,
		logger: logger,
		gw:     gateway.New(store, nil, logger.With("component", "gateway")),
	}

	if cfg.PersistentState() {
		rt.db, err = db.New(cfg.State.Path)
		if err != nil {
			return nil, err
		}
	}

	engineCfg := sync.EngineConfig{
		FolderID:  cfg.FolderID,
		Mappings:  cfg.Mappings(),
		Precision: cfg.Sync.MTimePrecision,
		DryRun:    cfg.Sync.DryRun || opts.dryRun,
		Logger:    logger.With("component", "sync"),
	}
	if rt.db != nil {
		engineCfg.Recorder = rt.db
	}
	rt.engine = sync.NewEngine(rt.gw, engineCfg)
	rt.scheduler = newScheduler(rt, opts)

	return rt, nil
}

func (rt *env) Close() {
	if rt.db == nil {
		return
	}
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("failed to close state database", "error", err)
	}
}

// newScheduler returns nil when backups are disabled
func newScheduler(rt *env, opts options) *backup.Scheduler {
	cfg := rt.cfg
	if !cfg.BackupEnabled() {
		return nil
	}

	schedCfg := backup.SchedulerConfig{
		Interval:       cfg.Backup.Interval,
		BackupFolderID: cfg.BackupFolderID,
		Mappings:       cfg.Mappings(),
		TempDir:        cfg.Backup.TempDir,
		SeedFromRemote: cfg.SeedFromRemote(),
		Timer:          backup.NewMemoryTimer(),
		Logger:         rt.logger.With("component", "backup"),
		Progress:       opts.progress,
	}
	if rt.db != nil {
		schedCfg.Timer = rt.db
		schedCfg.Recorder = rt.db
	}
	return backup.NewScheduler(rt.gw, schedCfg)
}

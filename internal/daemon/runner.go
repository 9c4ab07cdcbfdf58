// Package daemon drives the sync engine and the backup scheduler on a fixed
// interval. Cycles run one at a time on the Run goroutine.
package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/chmdznr/oss-mirror-sync/pkg/models"
)

// Syncer runs one reconcile pass over all mappings
type Syncer interface {
	RunCycle(ctx context.Context) models.CycleReport
}

// Backuper is the part of the backup scheduler the runner drives
type Backuper interface {
	Tick(ctx context.Context) models.BackupResult
	ForceBackup(ctx context.Context, now time.Time) models.BackupResult
}

// Trigger is a manual request served between scheduled cycles
type Trigger int

const (
	TriggerSync Trigger = iota
	TriggerBackup
)

func (t Trigger) String() string {
	if t == TriggerBackup {
		return "backup"
	}
	return "sync"
}

// Config holds configuration for the runner
type Config struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Runner is the long-lived loop behind the run command
type Runner struct {
	syncer   Syncer
	backup   Backuper
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	triggers chan Trigger
}

// NewRunner creates a runner. backup may be nil when backups are disabled.
func NewRunner(syncer Syncer, backup Backuper, cfg Config) *Runner {
	r := &Runner{
		syncer:   syncer,
		backup:   backup,
		interval: cfg.Interval,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		triggers: make(chan Trigger, 4),
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// RunOnce runs a sync cycle followed by a backup check
func (r *Runner) RunOnce(ctx context.Context) (models.CycleReport, models.BackupResult) {
	report := r.syncer.RunCycle(ctx)

	var result models.BackupResult
	if r.backup != nil && ctx.Err() == nil {
		result = r.backup.Tick(ctx)
	}
	return report, result
}

// Run runs a cycle immediately, then one per interval until ctx is done.
// Manual triggers are served between cycles.
func (r *Runner) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("mirror loop started", "interval", r.interval)
	r.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("mirror loop stopped")
			return nil
		case <-ticker.Chan():
			r.RunOnce(ctx)
		case t := <-r.triggers:
			r.handle(ctx, t)
		}
	}
}

// Trigger queues a manual request. It reports false when the queue is full.
func (r *Runner) Trigger(t Trigger) bool {
	select {
	case r.triggers <- t:
		return true
	default:
		return false
	}
}

func (r *Runner) handle(ctx context.Context, t Trigger) {
	r.logger.Info("manual trigger", "trigger", t)
	switch t {
	case TriggerSync:
		r.syncer.RunCycle(ctx)
	case TriggerBackup:
		if r.backup == nil {
			r.logger.Warn("backups are disabled")
			return
		}
		r.backup.ForceBackup(ctx, r.clock.Now())
	}
}

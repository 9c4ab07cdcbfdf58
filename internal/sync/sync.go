package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/chmdznr/oss-mirror-sync/internal/gateway"
	"github.com/chmdznr/oss-mirror-sync/pkg/models"
)

// Recorder stores per-mapping transfer outcomes
type Recorder interface {
	RecordTransfer(ctx context.Context, rec models.TransferRecord) error
}

// EngineConfig holds configuration for the engine
type EngineConfig struct {
	FolderID  string
	Mappings  []models.FileMapping
	Precision time.Duration
	DryRun    bool

	// Optional
	Recorder Recorder
	Logger   *slog.Logger
	Clock    clockwork.Clock
}

// Engine reconciles each file mapping against the remote folder
type Engine struct {
	gw        gateway.Gateway
	folderID  string
	mappings  []models.FileMapping
	precision time.Duration
	dryRun    bool
	recorder  Recorder
	logger    *slog.Logger
	clock     clockwork.Clock
}

// NewEngine creates a new engine instance
func NewEngine(gw gateway.Gateway, cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		gw:        gw,
		folderID:  cfg.FolderID,
		mappings:  cfg.Mappings,
		precision: cfg.Precision,
		dryRun:    cfg.DryRun,
		recorder:  cfg.Recorder,
		logger:    logger,
		clock:     clock,
	}
}

// Decide picks the action for one mapping using exact time comparison
func Decide(state models.SyncState) models.Action {
	return DecideWithPrecision(state, 0)
}

// DecideWithPrecision picks the action for one mapping. Both times are
// truncated to precision before comparing; a precision <= 0 compares exactly.
func DecideWithPrecision(state models.SyncState, precision time.Duration) models.Action {
	switch {
	case !state.Remote.Exists && !state.Local.Exists:
		return models.NoOp
	case !state.Remote.Exists:
		return models.Upload
	case !state.Local.Exists:
		return models.Download
	}

	local := state.Local.Time.Truncate(precision)
	remote := state.Remote.Time.Truncate(precision)
	switch {
	case local.After(remote):
		return models.Upload
	case remote.After(local):
		return models.Download
	default:
		return models.NoOp
	}
}

// Decide applies the engine's configured precision
func (e *Engine) Decide(state models.SyncState) models.Action {
	return DecideWithPrecision(state, e.precision)
}

// State fetches both modification times for a mapping without acting on them
func (e *Engine) State(ctx context.Context, m models.FileMapping) (models.SyncState, error) {
	state := models.SyncState{RemoteName: m.RemoteName}

	remote, err := e.gw.RemoteModifiedTime(ctx, e.folderID, m.RemoteName)
	if err != nil {
		return state, err
	}
	local, err := e.gw.LocalModifiedTime(m.LocalPath)
	if err != nil {
		return state, err
	}

	state.Remote = remote
	state.Local = local
	return state, nil
}

// Reconcile brings one mapping up to date. At most one transfer is made.
func (e *Engine) Reconcile(ctx context.Context, m models.FileMapping) (models.Action, error) {
	action, _, err := e.reconcile(ctx, m)
	return action, err
}

func (e *Engine) reconcile(ctx context.Context, m models.FileMapping) (models.Action, bool, error) {
	state, err := e.State(ctx, m)
	if err != nil {
		return models.NoOp, false, err
	}

	missing := !state.Remote.Exists && !state.Local.Exists
	if missing {
		e.logger.Warn("file missing both locally and remotely, check the mapping",
			"remote", m.RemoteName, "local", m.LocalPath)
		return models.NoOp, true, nil
	}

	action := e.Decide(state)
	if action == models.NoOp {
		e.logger.Debug("up to date", "remote", m.RemoteName, "mtime", state.Local)
		return action, false, nil
	}

	if e.dryRun {
		e.logger.Info("dry run, skipping transfer",
			"remote", m.RemoteName, "action", action, "local_mtime", state.Local, "remote_mtime", state.Remote)
		return action, false, nil
	}

	switch action {
	case models.Upload:
		err = e.gw.Upload(ctx, m.LocalPath, m.RemoteName, e.folderID)
	case models.Download:
		err = e.gw.Download(ctx, m.RemoteName, m.LocalPath, e.folderID)
	}
	if err != nil {
		return action, false, err
	}

	e.logger.Info("transferred", "remote", m.RemoteName, "action", action, "local", m.LocalPath)
	return action, false, nil
}

// RunCycle reconciles every mapping in order. A failure on one mapping is
// logged and recorded, and the cycle moves on to the next.
func (e *Engine) RunCycle(ctx context.Context) models.CycleReport {
	start := e.clock.Now()
	report := models.CycleReport{CycleID: uuid.NewString(), DryRun: e.dryRun}
	logger := e.logger.With("cycle", report.CycleID)

	for _, m := range e.mappings {
		if err := ctx.Err(); err != nil {
			logger.Warn("sync cycle interrupted", "error", err)
			break
		}

		action, missing, err := e.reconcile(ctx, m)
		rec := models.TransferRecord{
			CycleID:    report.CycleID,
			RemoteName: m.RemoteName,
			LocalPath:  m.LocalPath,
			Action:     action,
			Status:     models.StatusCompleted,
		}

		switch {
		case err != nil:
			report.Failed++
			rec.Status = models.StatusFailed
			rec.Error = err.Error()
			logger.Error("sync failed", "remote", m.RemoteName, "op", opOf(err, action), "error", err)
		case missing:
			report.Missing++
			rec.Status = models.StatusSkipped
		case action == models.Upload:
			report.Uploaded++
		case action == models.Download:
			report.Downloaded++
		default:
			report.Unchanged++
			continue
		}

		if e.dryRun {
			continue
		}
		e.record(ctx, logger, rec)
	}

	report.Duration = e.clock.Since(start)
	logger.Info("sync cycle finished",
		"uploaded", report.Uploaded,
		"downloaded", report.Downloaded,
		"unchanged", report.Unchanged,
		"missing", report.Missing,
		"failed", report.Failed,
		"dry_run", report.DryRun,
		"duration", report.Duration)
	return report
}

// Mappings returns the mappings this engine reconciles
func (e *Engine) Mappings() []models.FileMapping {
	return e.mappings
}

func (e *Engine) record(ctx context.Context, logger *slog.Logger, rec models.TransferRecord) {
	if e.recorder == nil {
		return
	}
	rec.CreatedAt = e.clock.Now()
	if err := e.recorder.RecordTransfer(ctx, rec); err != nil {
		logger.Warn("failed to record transfer", "remote", rec.RemoteName, "error", err)
	}
}

func opOf(err error, action models.Action) string {
	var gwErr *models.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Op
	}
	return action.String()
}

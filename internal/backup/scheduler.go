// Package backup builds zip snapshots of the mapped files and uploads them to
// the backup folder once per interval.
package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/chmdznr/oss-mirror-sync/internal/gateway"
	"github.com/chmdznr/oss-mirror-sync/pkg/models"
)

// Recorder stores backup attempts
type Recorder interface {
	RecordBackup(ctx context.Context, rec models.BackupRecord) error
}

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	Interval       time.Duration
	BackupFolderID string
	Mappings       []models.FileMapping
	TempDir        string
	SeedFromRemote bool
	Timer          TimerStore

	// Optional
	Recorder Recorder
	Fs       afero.Fs
	Clock    clockwork.Clock
	Logger   *slog.Logger
	Progress io.Writer
}

// Scheduler gates backups to one per interval
type Scheduler struct {
	gw             gateway.Gateway
	interval       time.Duration
	backupFolderID string
	mappings       []models.FileMapping
	tempDir        string
	seedFromRemote bool
	timer          TimerStore
	recorder       Recorder
	fs             afero.Fs
	clock          clockwork.Clock
	logger         *slog.Logger
	progress       io.Writer
}

// NewScheduler creates a new scheduler instance
func NewScheduler(gw gateway.Gateway, cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		gw:             gw,
		interval:       cfg.Interval,
		backupFolderID: cfg.BackupFolderID,
		mappings:       cfg.Mappings,
		tempDir:        cfg.TempDir,
		seedFromRemote: cfg.SeedFromRemote,
		timer:          cfg.Timer,
		recorder:       cfg.Recorder,
		fs:             cfg.Fs,
		clock:          cfg.Clock,
		logger:         cfg.Logger,
		progress:       cfg.Progress,
	}
	if s.timer == nil {
		s.timer = NewMemoryTimer()
	}
	if s.fs == nil {
		s.fs = afero.NewOsFs()
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tempDir == "" {
		s.tempDir = os.TempDir()
	}
	return s
}

// Tick checks the gate against the scheduler's clock
func (s *Scheduler) Tick(ctx context.Context) models.BackupResult {
	return s.MaybeBackup(ctx, s.clock.Now())
}

// MaybeBackup runs a backup when at least one interval has passed since the
// last committed one. An unset timer counts as due.
func (s *Scheduler) MaybeBackup(ctx context.Context, now time.Time) models.BackupResult {
	last, ok, err := s.LastBackup(ctx)
	if err != nil {
		s.logger.Error("failed to read backup timer", "error", err)
		return models.BackupResult{State: models.BackupIdle, Err: err}
	}

	if ok && now.Sub(last) < s.interval {
		return models.BackupResult{
			State:      models.BackupIdle,
			LastBackup: last,
			NextDue:    last.Add(s.interval),
		}
	}
	return s.run(ctx, now, last)
}

// ForceBackup runs the backup pipeline regardless of the timer
func (s *Scheduler) ForceBackup(ctx context.Context, now time.Time) models.BackupResult {
	last, _, err := s.LastBackup(ctx)
	if err != nil {
		s.logger.Warn("failed to read backup timer", "error", err)
	}
	return s.run(ctx, now, last)
}

// LastBackup returns the last committed backup time. When the store is unset
// and seeding is enabled, the newest archive in the backup folder is used and
// written back to the store.
func (s *Scheduler) LastBackup(ctx context.Context) (time.Time, bool, error) {
	last, ok, seeded, err := s.lastBackup(ctx)
	if err != nil || !seeded {
		return last, ok, err
	}
	if err := s.timer.SetLastBackupTime(ctx, last); err != nil {
		return time.Time{}, false, err
	}
	s.logger.Info("backup timer seeded from remote", "last_backup", last)
	return last, true, nil
}

// PeekLastBackup is LastBackup without side effects: a time seeded from the
// backup folder is returned but not written to the store.
func (s *Scheduler) PeekLastBackup(ctx context.Context) (time.Time, bool, error) {
	last, ok, _, err := s.lastBackup(ctx)
	return last, ok, err
}

func (s *Scheduler) lastBackup(ctx context.Context) (last time.Time, ok, seeded bool, err error) {
	last, ok, err = s.timer.LastBackupTime(ctx)
	if err != nil || ok || !s.seedFromRemote {
		return last, ok, false, err
	}

	latest, err := s.gw.LatestBackup(ctx, s.backupFolderID)
	if err != nil {
		s.logger.Warn("failed to look up latest backup, treating backup as due", "error", err)
		return time.Time{}, false, false, nil
	}
	if !latest.Exists {
		return time.Time{}, false, false, nil
	}
	return latest.Time, true, true, nil
}

// Interval returns the configured backup interval
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) run(ctx context.Context, now, last time.Time) models.BackupResult {
	result := models.BackupResult{
		State:      models.BackupDue,
		Triggered:  true,
		LastBackup: last,
	}
	if !last.IsZero() {
		result.NextDue = last.Add(s.interval)
	}

	name, err := s.archiveName(ctx, now)
	logger := s.logger.With("archive", name)
	if err != nil {
		return s.fail(ctx, logger, result, name, now, "archive", err)
	}
	logger.Info("backup due", "last_backup", last)

	result.State = models.BackupArchiving
	archive, err := BuildArchive(s.fs, s.tempDir, name, s.mappings, ArchiveOptions{
		Progress:  s.progress,
		CreatedAt: now,
	})
	if err != nil {
		return s.fail(ctx, logger, result, name, now, "archive", err)
	}
	result.Archive = archive
	defer func() {
		if err := s.fs.Remove(archive.Path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove temp archive", "path", archive.Path, "error", err)
		}
	}()

	if len(archive.Missing) > 0 {
		logger.Warn("files missing from backup", "missing", archive.Missing)
	}
	if archive.Files == 0 {
		logger.Warn("no mapped files exist locally, uploading empty archive")
	}

	result.State = models.BackupUploading
	if err := s.gw.UploadBackupArchive(ctx, archive.Path, s.backupFolderID); err != nil {
		return s.fail(ctx, logger, result, name, now, "upload", err)
	}

	if err := s.timer.SetLastBackupTime(ctx, now); err != nil {
		return s.fail(ctx, logger, result, name, now, "commit", err)
	}

	result.State = models.BackupCommitted
	result.LastBackup = now
	result.NextDue = now.Add(s.interval)

	s.record(ctx, logger, models.BackupRecord{
		Name:      name,
		CreatedAt: now,
		Size:      archive.Size,
		Files:     archive.Files,
		Digest:    archive.Digest,
		Status:    models.StatusCompleted,
	})
	logger.Info("backup uploaded",
		"files", archive.Files,
		"size", archive.Size,
		"digest", archive.Digest,
		"next_due", result.NextDue)
	return result
}

// fail leaves the timer untouched so the next cycle retries from scratch
// Archives taken within the same second get a sequence suffix.
const maxArchiveSeq = 100

func (s *Scheduler) archiveName(ctx context.Context, now time.Time) (string, error) {
	for seq := 1; seq <= maxArchiveSeq; seq++ {
		name := models.ArchiveNameSeq(now, seq)
		existing, err := s.gw.RemoteModifiedTime(ctx, s.backupFolderID, name)
		if err != nil {
			return name, err
		}
		if !existing.Exists {
			return name, nil
		}
	}
	return models.ArchiveName(now), fmt.Errorf("%d backups already named for %s", maxArchiveSeq, now.UTC().Format(time.DateTime))
}

func (s *Scheduler) fail(ctx context.Context, logger *slog.Logger, result models.BackupResult, name string, now time.Time, stage string, err error) models.BackupResult {
	result.State = models.BackupDue
	result.Err = &models.ArchiveError{Stage: stage, Err: err}
	logger.Error("backup failed", "stage", stage, "error", err)

	rec := models.BackupRecord{
		Name:      name,
		CreatedAt: now,
		Status:    models.StatusFailed,
		Error:     err.Error(),
	}
	if result.Archive != nil {
		rec.Size = result.Archive.Size
		rec.Files = result.Archive.Files
		rec.Digest = result.Archive.Digest
	}
	s.record(ctx, logger, rec)
	return result
}

func (s *Scheduler) record(ctx context.Context, logger *slog.Logger, rec models.BackupRecord) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordBackup(ctx, rec); err != nil {
		logger.Warn("failed to record backup", "error", fmt.Errorf("record %s: %w", rec.Name, err))
	}
}

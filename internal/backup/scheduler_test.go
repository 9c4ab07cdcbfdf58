package backup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/oss-mirror-sync/internal/gateway/gatewaytest"
	"github.com/chmdznr/oss-mirror-sync/internal/logging"
	"github.com/chmdznr/oss-mirror-sync/pkg/models"
)

const (
	backupFolder = "backups"
	tenDays      = 240 * time.Hour
)

var day0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type memRecorder struct {
	records []models.BackupRecord
}

func (r *memRecorder) RecordBackup(_ context.Context, rec models.BackupRecord) error {
	r.records = append(r.records, rec)
	return nil
}

type failingTimer struct {
	MemoryTimer
	setErr error
}

func (f *failingTimer) SetLastBackupTime(ctx context.Context, t time.Time) error {
	if f.setErr != nil {
		return f.setErr
	}
	return f.MemoryTimer.SetLastBackupTime(ctx, t)
}

type fixture struct {
	fs       afero.Fs
	gw       *gatewaytest.Gateway
	timer    *MemoryTimer
	recorder *memRecorder
	mappings []models.FileMapping
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fs:       afero.NewMemMapFs(),
		gw:       gatewaytest.New(),
		timer:    NewMemoryTimer(),
		recorder: &memRecorder{},
		mappings: []models.FileMapping{
			{RemoteName: "notes.txt", LocalPath: "/home/me/notes.txt"},
			{RemoteName: "todo.md", LocalPath: "/home/me/todo.md"},
		},
	}
	writeFile(t, f.fs, "/home/me/notes.txt", "my notes", day0)
	writeFile(t, f.fs, "/home/me/todo.md", "- ship it", day0)
	return f
}

func (f *fixture) scheduler(mutate func(*SchedulerConfig)) *Scheduler {
	cfg := SchedulerConfig{
		Interval:       tenDays,
		BackupFolderID: backupFolder,
		Mappings:       f.mappings,
		TempDir:        "/tmp",
		Timer:          f.timer,
		Recorder:       f.recorder,
		Fs:             f.fs,
		Clock:          clockwork.NewFakeClockAt(day0),
		Logger:         logging.Discard(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewScheduler(f.gw, cfg)
}

func lastBackup(t *testing.T, timer TimerStore) time.Time {
	t.Helper()
	last, ok, err := timer.LastBackupTime(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	return last
}

func TestMaybeBackup_Boundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.timer.SetLastBackupTime(ctx, day0))
	s := f.scheduler(nil)

	result := s.MaybeBackup(ctx, day0.Add(tenDays-time.Second))
	assert.Equal(t, models.BackupIdle, result.State)
	assert.False(t, result.Triggered)
	assert.NoError(t, result.Err)
	assert.True(t, result.NextDue.Equal(day0.Add(tenDays)))
	assert.Empty(t, f.gw.Calls())

	result = s.MaybeBackup(ctx, day0.Add(tenDays))
	require.NoError(t, result.Err)
	assert.Equal(t, models.BackupCommitted, result.State)
	assert.True(t, result.Triggered)
	assert.True(t, lastBackup(t, f.timer).Equal(day0.Add(tenDays)))
	assert.Equal(t, []string{"backup_20240311_120000.zip"}, f.gw.Archives(backupFolder))
}

func TestMaybeBackup_ElevenDays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.timer.SetLastBackupTime(ctx, day0))

	var entries map[string]string
	f.gw.OnArchive = func(path string) error {
		entries = readArchive(t, f.fs, path)
		return nil
	}
	s := f.scheduler(nil)

	day11 := day0.Add(11 * 24 * time.Hour)
	result := s.MaybeBackup(ctx, day11)
	require.NoError(t, result.Err)
	assert.Equal(t, models.BackupCommitted, result.State)

	require.NotNil(t, result.Archive)
	assert.Equal(t, 2, result.Archive.Files)
	assert.Equal(t, map[string]string{"notes.txt": "my notes", "todo.md": "- ship it"}, entries)
	assert.True(t, lastBackup(t, f.timer).Equal(day11))
	assert.True(t, result.NextDue.Equal(day11.Add(tenDays)))

	calls := f.gw.CallsFor("upload backup")
	require.Len(t, calls, 1)
	assert.Equal(t, backupFolder, calls[0].FolderID)

	// temp archive is cleaned up
	exists, err := afero.Exists(f.fs, result.Archive.Path)
	require.NoError(t, err)
	assert.False(t, exists)

	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, models.StatusCompleted, f.recorder.records[0].Status)
	assert.Equal(t, result.Archive.Digest, f.recorder.records[0].Digest)
}

func TestMaybeBackup_FailedUploadRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.timer.SetLastBackupTime(ctx, day0))
	f.gw.ArchiveErr = errors.New("service unavailable")
	s := f.scheduler(nil)

	now := day0.Add(tenDays + time.Hour)
	result := s.MaybeBackup(ctx, now)
	require.Error(t, result.Err)
	assert.Equal(t, models.BackupDue, result.State)

	var archiveErr *models.ArchiveError
	require.True(t, errors.As(result.Err, &archiveErr))
	assert.Equal(t, "upload", archiveErr.Stage)

	assert.True(t, lastBackup(t, f.timer).Equal(day0))
	exists, err := afero.Exists(f.fs, "/tmp/"+models.ArchiveName(now))
	require.NoError(t, err)
	assert.False(t, exists)
	require.Len(t, f.recorder.records, 1)
	assert.Equal(t, models.StatusFailed, f.recorder.records[0].Status)

	// next cycle retries from scratch
	f.gw.ArchiveErr = nil
	later := now.Add(5 * time.Minute)
	result = s.MaybeBackup(ctx, later)
	require.NoError(t, result.Err)
	assert.Equal(t, models.BackupCommitted, result.State)
	assert.True(t, lastBackup(t, f.timer).Equal(later))
	assert.Len(t, f.gw.CallsFor("upload backup"), 2)
}

func TestMaybeBackup_CommitFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	timer := &failingTimer{setErr: errors.New("database is locked")}
	s := f.scheduler(func(cfg *SchedulerConfig) {
		cfg.Timer = timer
	})

	result := s.MaybeBackup(ctx, day0)
	var archiveErr *models.ArchiveError
	require.True(t, errors.As(result.Err, &archiveErr))
	assert.Equal(t, "commit", archiveErr.Stage)
	assert.Equal(t, models.BackupDue, result.State)

	_, ok, err := timer.LastBackupTime(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMaybeBackup_UnsetTimerIsDue(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(nil)

	result := s.MaybeBackup(context.Background(), day0)
	require.NoError(t, result.Err)
	assert.Equal(t, models.BackupCommitted, result.State)
	assert.True(t, lastBackup(t, f.timer).Equal(day0))
}

func TestMaybeBackup_SeedFromRemote(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.AddArchive(backupFolder, "backup_20240225_120000.zip")
	f.gw.AddArchive(backupFolder, "backup_20240228_083000.zip")
	f.gw.AddArchive(backupFolder, "notes.txt")
	s := f.scheduler(func(cfg *SchedulerConfig) {
		cfg.SeedFromRemote = true
	})

	result := s.MaybeBackup(ctx, day0)
	require.NoError(t, result.Err)
	assert.Equal(t, models.BackupIdle, result.State)

	seeded := time.Date(2024, 2, 28, 8, 30, 0, 0, time.UTC)
	assert.True(t, lastBackup(t, f.timer).Equal(seeded))
	assert.True(t, result.NextDue.Equal(seeded.Add(tenDays)))
}

func TestPeekLastBackup_DoesNotSeed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gw.AddArchive(backupFolder, "backup_20240228_083000.zip")
	s := f.scheduler(func(cfg *SchedulerConfig) {
		cfg.SeedFromRemote = true
	})

	last, ok, err := s.PeekLastBackup(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, last.Equal(time.Date(2024, 2, 28, 8, 30, 0, 0, time.UTC)))

	_, stored, err := f.timer.LastBackupTime(ctx)
	require.NoError(t, err)
	assert.False(t, stored, "peek must leave the timer unset")

	_, ok, err = s.LastBackup(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	_, stored, err = f.timer.LastBackupTime(ctx)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestMaybeBackup_SeedFromEmptyRemote(t *testing.T) {
	f := newFixture(t)
	s := f.scheduler(func(cfg *SchedulerConfig) {
		cfg.SeedFromRemote = true
	})

	result := s.MaybeBackup(context.Background(), day0)
	require.NoError(t, result.Err)
	assert.Equal(t, models.BackupCommitted, result.State)
}

func TestMaybeBackup_MissingFiles(t *testing.T) {
	f := newFixture(t)
	f.mappings = append(f.mappings, models.FileMapping{RemoteName: "gone.txt", LocalPath: "/home/me/gone.txt"})
	s := f.scheduler(nil)

	result := s.MaybeBackup(context.Background(), day0)
	require.NoError(t, result.Err)
	assert.Equal(t, 2, result.Archive.Files)
	assert.Equal(t, []string{"gone.txt"}, result.Archive.Missing)
}

func TestForceBackup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.timer.SetLastBackupTime(ctx, day0))
	s := f.scheduler(nil)

	now := day0.Add(time.Hour)
	result := s.ForceBackup(ctx, now)
	require.NoError(t, result.Err)
	assert.Equal(t, models.BackupCommitted, result.State)
	assert.True(t, result.LastBackup.Equal(now))
	assert.True(t, lastBackup(t, f.timer).Equal(now))
}

func TestForceBackup_SameSecond(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.scheduler(nil)

	now := day0.Add(time.Hour)
	first := s.ForceBackup(ctx, now)
	require.NoError(t, first.Err)
	second := s.ForceBackup(ctx, now.Add(500*time.Millisecond))
	require.NoError(t, second.Err)

	assert.Equal(t, "backup_20240301_130000.zip", first.Archive.Name)
	assert.Equal(t, "backup_20240301_130000_2.zip", second.Archive.Name)
	assert.Equal(t, []string{first.Archive.Name, second.Archive.Name}, f.gw.Archives(backupFolder))
}

func TestTickUsesClock(t *testing.T) {
	f := newFixture(t)
	clock := clockwork.NewFakeClockAt(day0)
	s := f.scheduler(func(cfg *SchedulerConfig) {
		cfg.Clock = clock
	})

	result := s.Tick(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, models.BackupCommitted, result.State)

	clock.Advance(tenDays - time.Second)
	assert.Equal(t, models.BackupIdle, s.Tick(context.Background()).State)

	clock.Advance(time.Second)
	assert.Equal(t, models.BackupCommitted, s.Tick(context.Background()).State)
	assert.Len(t, f.gw.Archives(backupFolder), 2)
}

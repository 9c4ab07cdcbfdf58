package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/oss-mirror-sync/pkg/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func TestBackupTimer(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, ok, err := db.LastBackupTime(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	first := time.Date(2024, 3, 1, 12, 0, 0, 123, time.UTC)
	require.NoError(t, db.SetLastBackupTime(ctx, first))

	got, ok, err := db.LastBackupTime(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(first))

	second := first.Add(240 * time.Hour)
	require.NoError(t, db.SetLastBackupTime(ctx, second))

	got, _, err = db.LastBackupTime(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(second))
}

func TestBackupTimerSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	db, err := New(path)
	require.NoError(t, err)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.SetLastBackupTime(ctx, ts))
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()

	got, ok, err := db.LastBackupTime(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(ts))
}

func TestRecordTransfer(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []models.TransferRecord{
		{CycleID: "c1", RemoteName: "a.txt", LocalPath: "/l/a.txt", Action: models.Upload, Status: models.StatusCompleted, CreatedAt: base},
		{CycleID: "c1", RemoteName: "b.txt", LocalPath: "/l/b.txt", Action: models.Download, Status: models.StatusCompleted, CreatedAt: base.Add(time.Second)},
		{CycleID: "c2", RemoteName: "c.txt", LocalPath: "/l/c.txt", Action: models.Upload, Status: models.StatusFailed, Error: "boom", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, rec := range records {
		require.NoError(t, db.RecordTransfer(ctx, rec))
	}

	recent, err := db.RecentTransfers(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c.txt", recent[0].RemoteName)
	assert.Equal(t, models.Upload, recent[0].Action)
	assert.Equal(t, models.StatusFailed, recent[0].Status)
	assert.Equal(t, "boom", recent[0].Error)
	assert.True(t, recent[0].CreatedAt.Equal(base.Add(2*time.Second)))
	assert.Equal(t, models.Download, recent[1].Action)

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalTransfers)
	assert.Equal(t, int64(1), stats.Uploads)
	assert.Equal(t, int64(1), stats.Downloads)
	assert.Equal(t, int64(1), stats.FailedTransfers)
	assert.True(t, stats.LastTransfer.Equal(base.Add(2*time.Second)))
}

func TestRecordBackup(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.RecordBackup(ctx, models.BackupRecord{
		Name: "backup_20240301_120000.zip", CreatedAt: base, Size: 1000, Files: 2, Digest: "abc", Status: models.StatusCompleted,
	}))
	require.NoError(t, db.RecordBackup(ctx, models.BackupRecord{
		Name: "backup_20240311_120000.zip", CreatedAt: base.Add(240 * time.Hour), Status: models.StatusFailed, Error: "upload failed",
	}))
	require.NoError(t, db.RecordBackup(ctx, models.BackupRecord{
		Name: "backup_20240311_120500.zip", CreatedAt: base.Add(240*time.Hour + 5*time.Minute), Size: 500, Files: 2, Status: models.StatusCompleted,
	}))

	recent, err := db.RecentBackups(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "backup_20240311_120500.zip", recent[0].Name)
	assert.Equal(t, "upload failed", recent[1].Error)
	assert.Equal(t, "abc", recent[2].Digest)
	assert.Equal(t, 2, recent[2].Files)

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalBackups)
	assert.Equal(t, int64(1), stats.FailedBackups)
	assert.Equal(t, int64(1500), stats.BackupSize)
	assert.True(t, stats.LastBackup.Equal(base.Add(240*time.Hour+5*time.Minute)))
}

func TestGetStatsEmpty(t *testing.T) {
	db := newTestDB(t)

	stats, err := db.GetStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalTransfers)
	assert.Zero(t, stats.TotalBackups)
	assert.True(t, stats.LastTransfer.IsZero())
	assert.True(t, stats.LastBackup.IsZero())
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chmdznr/oss-mirror-sync/pkg/models"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

const keyLastBackup = "last_backup_time"

// DB represents a database connection
type DB struct {
	*sql.DB
}

// New opens (and creates if needed) the state database at path
func New(path string) (*DB, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// Each :memory: connection is a separate database.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.initialize(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize state database: %w", err)
	}

	return db, nil
}

// initialize creates the necessary tables if they don't exist
func (db *DB) initialize() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS transfers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT,
			remote_name TEXT NOT NULL,
			local_path TEXT,
			action TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			created_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS backups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			size INTEGER,
			files INTEGER,
			digest TEXT,
			status TEXT NOT NULL,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_transfers_remote ON transfers(remote_name, created_at);
		CREATE INDEX IF NOT EXISTS idx_backups_created ON backups(created_at);
		PRAGMA journal_mode=WAL;
		PRAGMA synchronous=NORMAL;
		PRAGMA busy_timeout=5000;
		PRAGMA temp_store=MEMORY;
	`)
	return err
}

// LastBackupTime returns the persisted backup timer, ok=false when no backup
// was ever committed
func (db *DB) LastBackupTime(ctx context.Context) (time.Time, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, keyLastBackup).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read backup timer: %v", err)
	}

	t, err := parseTime(value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt backup timer %q: %v", value, err)
	}
	return t, true, nil
}

// SetLastBackupTime persists the backup timer
func (db *DB) SetLastBackupTime(ctx context.Context, t time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, keyLastBackup, formatTime(t))
	if err != nil {
		return fmt.Errorf("failed to save backup timer: %v", err)
	}
	return nil
}

// RecordTransfer saves the outcome of one reconcile
func (db *DB) RecordTransfer(ctx context.Context, rec models.TransferRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO transfers (cycle_id, remote_name, local_path, action, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.CycleID,
		rec.RemoteName,
		rec.LocalPath,
		rec.Action.String(),
		rec.Status,
		rec.Error,
		formatTime(rec.CreatedAt),
	)
	return err
}

// RecordBackup saves a backup attempt
func (db *DB) RecordBackup(ctx context.Context, rec models.BackupRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO backups (name, created_at, size, files, digest, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Name,
		formatTime(rec.CreatedAt),
		rec.Size,
		rec.Files,
		rec.Digest,
		rec.Status,
		rec.Error,
	)
	return err
}

// RecentTransfers returns the latest transfer records, newest first
func (db *DB) RecentTransfers(ctx context.Context, limit int) ([]models.TransferRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT cycle_id, remote_name, local_path, action, status, COALESCE(error, ''), created_at
		FROM transfers
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.TransferRecord
	for rows.Next() {
		var rec models.TransferRecord
		var action, createdAt string
		err = rows.Scan(&rec.CycleID, &rec.RemoteName, &rec.LocalPath, &action, &rec.Status, &rec.Error, &createdAt)
		if err != nil {
			return nil, err
		}
		rec.Action = models.ParseAction(action)
		rec.CreatedAt, _ = parseTime(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecentBackups returns the latest backup attempts, newest first
func (db *DB) RecentBackups(ctx context.Context, limit int) ([]models.BackupRecord, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name, created_at, size, files, COALESCE(digest, ''), status, COALESCE(error, '')
		FROM backups
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.BackupRecord
	for rows.Next() {
		var rec models.BackupRecord
		var createdAt string
		err = rows.Scan(&rec.Name, &createdAt, &rec.Size, &rec.Files, &rec.Digest, &rec.Status, &rec.Error)
		if err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = parseTime(createdAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetStats returns aggregated transfer and backup history
func (db *DB) GetStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	var lastTransfer, lastBackup sql.NullString

	err := db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) as total_transfers,
			COUNT(CASE WHEN action = 'upload' AND status = 'completed' THEN 1 END) as uploads,
			COUNT(CASE WHEN action = 'download' AND status = 'completed' THEN 1 END) as downloads,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) as failed,
			MAX(created_at) as last_transfer
		FROM transfers
	`).Scan(
		&stats.TotalTransfers,
		&stats.Uploads,
		&stats.Downloads,
		&stats.FailedTransfers,
		&lastTransfer,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer stats: %v", err)
	}

	err = db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status = 'completed' THEN 1 END) as total_backups,
			COUNT(CASE WHEN status = 'failed' THEN 1 END) as failed_backups,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN size ELSE 0 END), 0) as backup_size,
			MAX(CASE WHEN status = 'completed' THEN created_at END) as last_backup
		FROM backups
	`).Scan(
		&stats.TotalBackups,
		&stats.FailedBackups,
		&stats.BackupSize,
		&lastBackup,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get backup stats: %v", err)
	}

	if lastTransfer.Valid {
		stats.LastTransfer, _ = parseTime(lastTransfer.String)
	}
	if lastBackup.Valid {
		stats.LastBackup, _ = parseTime(lastBackup.String)
	}
	return &stats, nil
}

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

package models

import "time"

// Stats represents aggregated sync and backup history
type Stats struct {
	TotalTransfers  int64
	Uploads         int64
	Downloads       int64
	FailedTransfers int64
	LastTransfer    time.Time
	TotalBackups    int64
	FailedBackups   int64
	BackupSize      int64
	LastBackup      time.Time
}

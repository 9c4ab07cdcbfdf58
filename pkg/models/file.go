package models

import "time"

// Transfer status values stored in the state database
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// TransferRecord represents one reconcile outcome recorded for a mapping
type TransferRecord struct {
	CycleID    string
	RemoteName string
	LocalPath  string
	Action     Action
	Status     string
	Error      string
	CreatedAt  time.Time
}

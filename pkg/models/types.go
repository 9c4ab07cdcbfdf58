package models

import "time"

// FileMapping pairs a remote object name with a local file path.
type FileMapping struct {
	RemoteName string
	LocalPath  string
}

// ModTime is a modification time that may be absent, for example when the
// file does not exist on one side yet.
type ModTime struct {
	Time   time.Time
	Exists bool
}

// At returns a present ModTime.
func At(t time.Time) ModTime {
	return ModTime{Time: t, Exists: true}
}

// Absent returns a ModTime for a missing file.
func Absent() ModTime {
	return ModTime{}
}

func (m ModTime) String() string {
	if !m.Exists {
		return "absent"
	}
	return m.Time.UTC().Format(time.RFC3339Nano)
}

// SyncState is the per-mapping snapshot a reconcile decision is made from.
// It is rebuilt on every cycle and never persisted.
type SyncState struct {
	RemoteName string
	Remote     ModTime
	Local      ModTime
}

// Action is the outcome of reconciling one mapping.
type Action int

const (
	NoOp Action = iota
	Upload
	Download
)

func (a Action) String() string {
	switch a {
	case Upload:
		return "upload"
	case Download:
		return "download"
	default:
		return "noop"
	}
}

// ParseAction is the inverse of Action.String. Unknown values map to NoOp.
func ParseAction(s string) Action {
	switch s {
	case "upload":
		return Upload
	case "download":
		return Download
	default:
		return NoOp
	}
}

// CycleReport summarizes one pass of the sync engine over all mappings.
// In a dry run Uploaded and Downloaded count decisions; nothing was moved.
type CycleReport struct {
	CycleID    string
	DryRun     bool
	Uploaded   int
	Downloaded int
	Unchanged  int
	Missing    int
	Failed     int
	Duration   time.Duration
}

// Total returns the number of mappings processed in the cycle.
func (r CycleReport) Total() int {
	return r.Uploaded + r.Downloaded + r.Unchanged + r.Missing + r.Failed
}

package models

import (
	"strconv"
	"strings"
	"time"
)

// BackupState is a step of the backup state machine.
type BackupState int

const (
	BackupIdle BackupState = iota
	BackupDue
	BackupArchiving
	BackupUploading
	BackupCommitted
)

func (s BackupState) String() string {
	switch s {
	case BackupDue:
		return "due"
	case BackupArchiving:
		return "archiving"
	case BackupUploading:
		return "uploading"
	case BackupCommitted:
		return "committed"
	default:
		return "idle"
	}
}

// BackupArchive describes a zip snapshot of the mapped files.
type BackupArchive struct {
	Name      string
	Path      string
	CreatedAt time.Time
	Size      int64
	Files     int
	Missing   []string
	Digest    string
}

// BackupResult is what one scheduler check produced. Err is set when the
// backup was attempted and failed; the timer is left untouched in that case.
type BackupResult struct {
	State      BackupState
	Triggered  bool
	Archive    *BackupArchive
	LastBackup time.Time
	NextDue    time.Time
	Err        error
}

// BackupRecord is a backup attempt as stored in the state database.
type BackupRecord struct {
	Name      string
	CreatedAt time.Time
	Size      int64
	Files     int
	Digest    string
	Status    string
	Error     string
}

const archiveLayout = "20060102_150405"

// ArchiveName returns the object name for a backup taken at t, e.g.
// backup_20240301_120000.zip. The timestamp is rendered in UTC.
func ArchiveName(t time.Time) string {
	return ArchiveNameSeq(t, 1)
}

// ArchiveNameSeq names the seq-th backup taken within the same second.
// seq 1 is the plain ArchiveName; later ones get a _<seq> suffix, e.g.
// backup_20240301_120000_2.zip.
func ArchiveNameSeq(t time.Time, seq int) string {
	name := "backup_" + t.UTC().Format(archiveLayout)
	if seq > 1 {
		name += "_" + strconv.Itoa(seq)
	}
	return name + ".zip"
}

// ParseArchiveName recovers the timestamp from an ArchiveName or
// ArchiveNameSeq result
func ParseArchiveName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, "backup_") || !strings.HasSuffix(name, ".zip") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, "backup_"), ".zip")
	if len(stamp) > len(archiveLayout) {
		seq, err := strconv.Atoi(strings.TrimPrefix(stamp[len(archiveLayout):], "_"))
		if err != nil || seq < 2 || stamp[len(archiveLayout)] != '_' {
			return time.Time{}, false
		}
		stamp = stamp[:len(archiveLayout)]
	}
	t, err := time.ParseInLocation(archiveLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

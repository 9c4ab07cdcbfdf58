// Package gateway is the storage boundary: it answers "when was this file
// last modified" for both sides and moves file contents between the local
// filesystem and an object store folder.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/chmdznr/oss-mirror-sync/pkg/models"
)

// MetaMTime is the object metadata key carrying the source file's mtime.
// Object stores set LastModified to the upload time, so the source mtime
// has to travel as metadata for the comparison to be idempotent.
const MetaMTime = "mtime"

// ErrNotFound is returned by an ObjectStore when the object does not exist
var ErrNotFound = errors.New("object not found")

// Gateway is what the sync engine and the backup scheduler need from storage.
// Folder ids are key prefixes inside the configured bucket.
type Gateway interface {
	RemoteModifiedTime(ctx context.Context, folderID, remoteName string) (models.ModTime, error)
	LocalModifiedTime(localPath string) (models.ModTime, error)
	Upload(ctx context.Context, localPath, remoteName, folderID string) error
	Download(ctx context.Context, remoteName, localPath, folderID string) error
	UploadBackupArchive(ctx context.Context, archivePath, backupFolderID string) error
	LatestBackup(ctx context.Context, backupFolderID string) (models.ModTime, error)
}

// ObjectInfo is the backend-neutral view of a stored object
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	Metadata     map[string]string
}

// ModTime returns the mtime recorded at upload, falling back to the store's
// LastModified for objects written by other tools.
func (o ObjectInfo) ModTime() time.Time {
	for k, v := range o.Metadata {
		if !strings.EqualFold(k, MetaMTime) {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return o.LastModified
}

// PutOptions carries per-object attributes for an upload
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore is the minimal object storage API the gateway is built on.
// Implementations must return an error wrapping ErrNotFound for missing keys.
type ObjectStore interface {
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Put(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ObjectKey joins a folder id and an object name into a bucket key
func ObjectKey(folderID, name string) string {
	folder := strings.Trim(folderID, "/")
	if folder == "" {
		return name
	}
	return path.Join(folder, name)
}

func formatMTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func gatewayError(op, remoteName string, err error) error {
	return &models.GatewayError{Op: op, RemoteName: remoteName, Err: err}
}

func notFound(key string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, key)
}

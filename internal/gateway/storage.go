package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/chmdznr/oss-mirror-sync/pkg/models"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// Storage implements Gateway on top of an ObjectStore and a local filesystem
type Storage struct {
	store  ObjectStore
	fs     afero.Fs
	logger *slog.Logger
}

// New creates a Storage gateway. A nil fs means the OS filesystem.
func New(store ObjectStore, fs afero.Fs, logger *slog.Logger) *Storage {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		store:  store,
		fs:     fs,
		logger: logger,
	}
}

// RemoteModifiedTime returns the mtime of folderID/remoteName, absent when
// the object does not exist.
func (s *Storage) RemoteModifiedTime(ctx context.Context, folderID, remoteName string) (models.ModTime, error) {
	info, err := s.store.Stat(ctx, ObjectKey(folderID, remoteName))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return models.Absent(), nil
		}
		return models.Absent(), gatewayError("stat remote", remoteName, err)
	}
	return models.At(info.ModTime()), nil
}

// LocalModifiedTime returns the mtime of localPath, absent when the file
// does not exist.
func (s *Storage) LocalModifiedTime(localPath string) (models.ModTime, error) {
	info, err := s.fs.Stat(localPath)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Absent(), nil
		}
		return models.Absent(), gatewayError("stat local", localPath, err)
	}
	if info.IsDir() {
		return models.Absent(), gatewayError("stat local", localPath, fmt.Errorf("%s is a directory", localPath))
	}
	return models.At(info.ModTime()), nil
}

// Upload copies localPath to folderID/remoteName, recording the local mtime
// in the object metadata.
func (s *Storage) Upload(ctx context.Context, localPath, remoteName, folderID string) error {
	if err := s.put(ctx, localPath, ObjectKey(folderID, remoteName), ""); err != nil {
		return gatewayError("upload", remoteName, err)
	}
	s.logger.Debug("uploaded object", "remote", remoteName, "key", ObjectKey(folderID, remoteName))
	return nil
}

// Download replaces localPath with folderID/remoteName. The content is
// written to a temp file next to the destination and renamed into place, then
// the file mtime is set to the remote mtime.
func (s *Storage) Download(ctx context.Context, remoteName, localPath, folderID string) error {
	key := ObjectKey(folderID, remoteName)

	body, info, err := s.store.Get(ctx, key)
	if err != nil {
		return gatewayError("download", remoteName, err)
	}
	defer func() {
		_ = body.Close()
	}()

	if err := s.writeAtomic(localPath, body); err != nil {
		return gatewayError("download", remoteName, err)
	}

	mtime := info.ModTime()
	if err := s.fs.Chtimes(localPath, mtime, mtime); err != nil {
		return gatewayError("download", remoteName, fmt.Errorf("failed to set mtime: %w", err))
	}

	s.logger.Debug("downloaded object", "remote", remoteName, "key", key, "local", localPath)
	return nil
}

// UploadBackupArchive uploads archivePath into the backup folder under its
// base name.
func (s *Storage) UploadBackupArchive(ctx context.Context, archivePath, backupFolderID string) error {
	name := filepath.Base(archivePath)
	if err := s.put(ctx, archivePath, ObjectKey(backupFolderID, name), "application/zip"); err != nil {
		return gatewayError("upload backup", name, err)
	}
	return nil
}

// LatestBackup returns the timestamp of the newest backup archive in the
// folder, decoded from its name.
func (s *Storage) LatestBackup(ctx context.Context, backupFolderID string) (models.ModTime, error) {
	prefix := strings.Trim(backupFolderID, "/")
	if prefix != "" {
		prefix += "/"
	}

	objects, err := s.store.List(ctx, prefix)
	if err != nil {
		return models.Absent(), gatewayError("list backups", backupFolderID, err)
	}

	latest := models.Absent()
	for _, obj := range objects {
		ts, ok := models.ParseArchiveName(path.Base(obj.Key))
		if !ok {
			continue
		}
		if !latest.Exists || ts.After(latest.Time) {
			latest = models.At(ts)
		}
	}
	return latest, nil
}

func (s *Storage) put(ctx context.Context, localPath, key, contentType string) error {
	f, err := s.fs.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", localPath)
	}

	if contentType == "" {
		contentType = detectContentType(f)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("failed to rewind %s: %w", localPath, err)
		}
	}

	return s.store.Put(ctx, key, f, info.Size(), PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{MetaMTime: formatMTime(info.ModTime())},
	})
}

// writeAtomic writes r to dst via a temp file and rename. An existing file
// keeps its permissions.
func (s *Storage) writeAtomic(dst string, r io.Reader) error {
	dir := filepath.Dir(dst)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return err
	}

	mode := os.FileMode(0644)
	if info, err := s.fs.Stat(dst); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := afero.TempFile(s.fs, dir, ".mirrorsync-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = s.fs.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := s.fs.Chmod(tmpPath, mode); err != nil {
		return err
	}

	return s.fs.Rename(tmpPath, dst)
}

func detectContentType(r io.Reader) string {
	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}

var _ Gateway = (*Storage)(nil)

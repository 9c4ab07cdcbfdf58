package backup

import (
	"bytes"
	"encoding/hex"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"github.com/chmdznr/oss-mirror-sync/pkg/models"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0644))
	require.NoError(t, fs.Chtimes(path, mtime, mtime))
}

// readArchive returns entry name -> content
func readArchive(t *testing.T, fs afero.Fs, path string) map[string]string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		out[f.Name] = string(b)
	}
	return out
}

func TestBuildArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	writeFile(t, fs, "/home/me/notes.txt", "my notes", mtime)
	writeFile(t, fs, "/home/me/work/todo.md", "- ship it", mtime)

	mappings := []models.FileMapping{
		{RemoteName: "notes.txt", LocalPath: "/home/me/notes.txt"},
		{RemoteName: "gone.txt", LocalPath: "/home/me/gone.txt"},
		{RemoteName: "todo.md", LocalPath: "/home/me/work/todo.md"},
	}

	archive, err := BuildArchive(fs, "/tmp", "backup_20240311_120000.zip", mappings, ArchiveOptions{CreatedAt: mtime})
	require.NoError(t, err)

	assert.Equal(t, "backup_20240311_120000.zip", archive.Name)
	assert.Equal(t, "/tmp/backup_20240311_120000.zip", archive.Path)
	assert.Equal(t, 2, archive.Files)
	assert.Equal(t, []string{"gone.txt"}, archive.Missing)
	assert.True(t, archive.CreatedAt.Equal(mtime))

	data, err := afero.ReadFile(fs, archive.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), archive.Size)
	sum := blake2b.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), archive.Digest)

	entries := readArchive(t, fs, archive.Path)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"notes.txt", "todo.md"}, names)
	assert.Equal(t, "my notes", entries["notes.txt"])
	assert.Equal(t, "- ship it", entries["todo.md"])
}

func TestBuildArchive_NothingToArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	mappings := []models.FileMapping{{RemoteName: "gone.txt", LocalPath: "/home/me/gone.txt"}}

	archive, err := BuildArchive(fs, "/tmp", "backup_20240311_120000.zip", mappings, ArchiveOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, archive.Files)
	assert.Equal(t, []string{"gone.txt"}, archive.Missing)
	assert.Empty(t, readArchive(t, fs, archive.Path))
}

func TestBuildArchive_DirectoryRejected(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/home/me/dir", 0755))
	mappings := []models.FileMapping{{RemoteName: "dir", LocalPath: "/home/me/dir"}}

	_, err := BuildArchive(fs, "/tmp", "backup_20240311_120000.zip", mappings, ArchiveOptions{})
	require.Error(t, err)

	exists, err := afero.Exists(fs, "/tmp/backup_20240311_120000.zip")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBuildArchive_Progress(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/home/me/notes.txt", "my notes", time.Now())
	mappings := []models.FileMapping{{RemoteName: "notes.txt", LocalPath: "/home/me/notes.txt"}}

	archive, err := BuildArchive(fs, "/tmp", "backup_20240311_120000.zip", mappings, ArchiveOptions{Progress: io.Discard})
	require.NoError(t, err)
	assert.Equal(t, "my notes", readArchive(t, fs, archive.Path)["notes.txt"])
}

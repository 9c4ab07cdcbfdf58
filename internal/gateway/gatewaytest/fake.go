// Package gatewaytest provides an in-memory gateway.Gateway for tests.
package gatewaytest

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/chmdznr/oss-mirror-sync/internal/gateway"
	"github.com/chmdznr/oss-mirror-sync/pkg/models"
)

// Call is one recorded transfer
type Call struct {
	Op         string
	LocalPath  string
	RemoteName string
	FolderID   string
}

// Gateway keeps remote and local mtimes in maps. Transfers copy the mtime
// across, the way the real gateway preserves it.
type Gateway struct {
	mu sync.Mutex

	remote   map[string]time.Time
	local    map[string]time.Time
	archives map[string][]string
	calls    []Call

	StatErr     error
	UploadErr   error
	DownloadErr error
	ArchiveErr  error

	// OnArchive runs before an archive upload succeeds, while the file
	// still exists.
	OnArchive func(archivePath string) error
}

// New returns an empty fake
func New() *Gateway {
	return &Gateway{
		remote:   make(map[string]time.Time),
		local:    make(map[string]time.Time),
		archives: make(map[string][]string),
	}
}

// SetRemote places remoteName in folderID with the given mtime
func (g *Gateway) SetRemote(folderID, remoteName string, t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.remote[gateway.ObjectKey(folderID, remoteName)] = t
}

// SetLocal creates localPath with the given mtime
func (g *Gateway) SetLocal(localPath string, t time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.local[localPath] = t
}

// Remote returns the stored mtime of folderID/remoteName
func (g *Gateway) Remote(folderID, remoteName string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.remote[gateway.ObjectKey(folderID, remoteName)]
	return t, ok
}

// Local returns the stored mtime of localPath
func (g *Gateway) Local(localPath string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.local[localPath]
	return t, ok
}

// AddArchive registers an existing archive name in a backup folder
func (g *Gateway) AddArchive(backupFolderID, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.archives[backupFolderID] = append(g.archives[backupFolderID], name)
}

// Archives returns the archive names uploaded to a backup folder
func (g *Gateway) Archives(backupFolderID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.archives[backupFolderID]...)
}

// Calls returns the recorded transfers in order
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallsFor returns the recorded transfers with the given op
func (g *Gateway) CallsFor(op string) []Call {
	var out []Call
	for _, c := range g.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (g *Gateway) RemoteModifiedTime(_ context.Context, folderID, remoteName string) (models.ModTime, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.StatErr != nil {
		return models.Absent(), &models.GatewayError{Op: "stat remote", RemoteName: remoteName, Err: g.StatErr}
	}
	if t, ok := g.remote[gateway.ObjectKey(folderID, remoteName)]; ok {
		return models.At(t), nil
	}
	for _, name := range g.archives[folderID] {
		if name == remoteName {
			ts, _ := models.ParseArchiveName(name)
			return models.At(ts), nil
		}
	}
	return models.Absent(), nil
}

func (g *Gateway) LocalModifiedTime(localPath string) (models.ModTime, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.local[localPath]
	if !ok {
		return models.Absent(), nil
	}
	return models.At(t), nil
}

func (g *Gateway) Upload(_ context.Context, localPath, remoteName, folderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Op: "upload", LocalPath: localPath, RemoteName: remoteName, FolderID: folderID})
	if g.UploadErr != nil {
		return &models.GatewayError{Op: "upload", RemoteName: remoteName, Err: g.UploadErr}
	}
	g.remote[gateway.ObjectKey(folderID, remoteName)] = g.local[localPath]
	return nil
}

func (g *Gateway) Download(_ context.Context, remoteName, localPath, folderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Op: "download", LocalPath: localPath, RemoteName: remoteName, FolderID: folderID})
	if g.DownloadErr != nil {
		return &models.GatewayError{Op: "download", RemoteName: remoteName, Err: g.DownloadErr}
	}
	g.local[localPath] = g.remote[gateway.ObjectKey(folderID, remoteName)]
	return nil
}

func (g *Gateway) UploadBackupArchive(_ context.Context, archivePath, backupFolderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	name := filepath.Base(archivePath)
	g.calls = append(g.calls, Call{Op: "upload backup", LocalPath: archivePath, RemoteName: name, FolderID: backupFolderID})
	if g.ArchiveErr != nil {
		return &models.GatewayError{Op: "upload backup", RemoteName: name, Err: g.ArchiveErr}
	}
	if g.OnArchive != nil {
		if err := g.OnArchive(archivePath); err != nil {
			return &models.GatewayError{Op: "upload backup", RemoteName: name, Err: err}
		}
	}
	g.archives[backupFolderID] = append(g.archives[backupFolderID], name)
	return nil
}

func (g *Gateway) LatestBackup(_ context.Context, backupFolderID string) (models.ModTime, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	latest := models.Absent()
	for _, name := range g.archives[backupFolderID] {
		ts, ok := models.ParseArchiveName(name)
		if !ok {
			continue
		}
		if !latest.Exists || ts.After(latest.Time) {
			latest = models.At(ts)
		}
	}
	return latest, nil
}

var _ gateway.Gateway = (*Gateway)(nil)

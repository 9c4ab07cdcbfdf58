package backup

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"golang.org/x/crypto/blake2b"

	"github.com/chmdznr/oss-mirror-sync/pkg/models"
)

// ArchiveOptions controls how an archive is built
type ArchiveOptions struct {
	// Progress, when set, receives a byte progress bar
	Progress io.Writer
	// CreatedAt is recorded on the archive; zero means time.Now
	CreatedAt time.Time
}

// BuildArchive zips every mapped file that exists into dir/name. Entries are
// named by the mapping's remote name. Files missing locally are skipped and
// listed in the result. On error the partial archive is removed.
func BuildArchive(fs afero.Fs, dir, name string, mappings []models.FileMapping, opts ArchiveOptions) (*models.BackupArchive, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir %s: %w", dir, err)
	}

	type entry struct {
		mapping models.FileMapping
		info    os.FileInfo
	}

	archive := &models.BackupArchive{
		Name:      name,
		Path:      filepath.Join(dir, name),
		CreatedAt: opts.CreatedAt,
	}
	if archive.CreatedAt.IsZero() {
		archive.CreatedAt = time.Now()
	}

	var entries []entry
	var totalSize int64
	for _, m := range mappings {
		info, err := fs.Stat(m.LocalPath)
		if os.IsNotExist(err) {
			archive.Missing = append(archive.Missing, m.RemoteName)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", m.LocalPath, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", m.LocalPath)
		}
		entries = append(entries, entry{mapping: m, info: info})
		totalSize += info.Size()
	}

	f, err := fs.Create(archive.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	var bar *pb.ProgressBar
	if opts.Progress != nil {
		bar = pb.New64(totalSize)
		bar.Set(pb.Bytes, true)
		bar.SetTemplate(`{{string . "name"}} {{counters . }} {{bar . }} {{percent . }}`)
		bar.Set("name", name)
		bar.SetWriter(opts.Progress)
		bar.Start()
	}

	digest, _ := blake2b.New256(nil)
	counter := &countingWriter{w: io.MultiWriter(f, digest)}
	zw := zip.NewWriter(counter)

	werr := func() error {
		for _, e := range entries {
			if err := addFile(fs, zw, e.mapping, e.info, bar); err != nil {
				return err
			}
		}
		return zw.Close()
	}()
	if bar != nil {
		bar.Finish()
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = fs.Remove(archive.Path)
		return nil, werr
	}

	archive.Files = len(entries)
	archive.Size = counter.n
	archive.Digest = hex.EncodeToString(digest.Sum(nil))
	return archive, nil
}

func addFile(fs afero.Fs, zw *zip.Writer, m models.FileMapping, info os.FileInfo, bar *pb.ProgressBar) error {
	src, err := fs.Open(m.LocalPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", m.LocalPath, err)
	}
	defer src.Close()

	hdr := &zip.FileHeader{
		Name:     m.RemoteName,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	}
	hdr.SetMode(info.Mode())

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", m.RemoteName, err)
	}

	var r io.Reader = src
	if bar != nil {
		r = bar.NewProxyReader(src)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", m.RemoteName, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

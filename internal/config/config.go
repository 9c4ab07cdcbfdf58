package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chmdznr/oss-mirror-sync/pkg/models"
	"gopkg.in/yaml.v3"
)

// Backend selects the object store implementation
type Backend string

const (
	BackendMinio Backend = "minio"
	BackendS3    Backend = "s3"
)

const (
	DefaultSyncInterval   = 5 * time.Minute
	DefaultBackupInterval = 10 * 24 * time.Hour
	// Exact comparison; mtime_precision opts in to truncation.
	DefaultMTimePrecision time.Duration = 0
)

// Config represents the complete mirrorsync configuration
type Config struct {
	FolderID       string            `yaml:"folder_id"`
	BackupFolderID string            `yaml:"backup_folder_id"`
	FileMappings   map[string]string `yaml:"file_mappings"`
	Storage        StorageConfig     `yaml:"storage"`
	Sync           SyncConfig        `yaml:"sync"`
	Backup         BackupConfig      `yaml:"backup"`
	State          StateConfig       `yaml:"state"`
	Log            LogConfig         `yaml:"log"`
}

// StorageConfig configures the object store holding both folders
type StorageConfig struct {
	Backend   Backend `yaml:"backend"`
	Endpoint  string  `yaml:"endpoint"`
	Region    string  `yaml:"region"`
	Bucket    string  `yaml:"bucket"`
	AccessKey string  `yaml:"access_key"`
	SecretKey string  `yaml:"secret_key"`
	Secure    *bool   `yaml:"secure"`
}

// SyncConfig configures the reconcile loop
type SyncConfig struct {
	Interval       time.Duration `yaml:"interval"`
	MTimePrecision time.Duration `yaml:"mtime_precision"`
	DryRun         bool          `yaml:"dry_run"`
}

// BackupConfig configures the archive scheduler
type BackupConfig struct {
	Enabled        *bool         `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	TempDir        string        `yaml:"temp_dir"`
	SeedFromRemote *bool         `yaml:"seed_from_remote"`
}

// StateConfig configures where the backup timer and history are kept.
// An empty path keeps the timer in memory only.
type StateConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file. Every error it returns is a
// *models.ConfigurationError.
func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ConfigurationError{Err: fmt.Errorf("failed to read config file: %w", err)}
	}

	return Parse(data)
}

// Parse decodes a YAML (or JSON) document into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &models.ConfigurationError{Err: fmt.Errorf("failed to parse config file: %w", err)}
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.FolderID = os.ExpandEnv(c.FolderID)
	c.BackupFolderID = os.ExpandEnv(c.BackupFolderID)
	c.Storage.Endpoint = os.ExpandEnv(c.Storage.Endpoint)
	c.Storage.Region = os.ExpandEnv(c.Storage.Region)
	c.Storage.Bucket = os.ExpandEnv(c.Storage.Bucket)
	c.Storage.AccessKey = os.ExpandEnv(c.Storage.AccessKey)
	c.Storage.SecretKey = os.ExpandEnv(c.Storage.SecretKey)
	c.Backup.TempDir = expandPath(c.Backup.TempDir)
	c.State.Path = expandPath(c.State.Path)

	mappings := make(map[string]string, len(c.FileMappings))
	for remote, local := range c.FileMappings {
		mappings[remote] = expandPath(local)
	}
	c.FileMappings = mappings
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMinio
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Storage.Secure == nil {
		c.Storage.Secure = boolPtr(true)
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = DefaultSyncInterval
	}
	if c.Backup.Enabled == nil {
		c.Backup.Enabled = boolPtr(true)
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = DefaultBackupInterval
	}
	if c.Backup.TempDir == "" {
		c.Backup.TempDir = os.TempDir()
	}
	if c.Backup.SeedFromRemote == nil {
		c.Backup.SeedFromRemote = boolPtr(true)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if strings.Trim(c.FolderID, "/") == "" {
		return invalid("folder_id", "is required")
	}
	if c.BackupEnabled() {
		if strings.Trim(c.BackupFolderID, "/") == "" {
			return invalid("backup_folder_id", "is required when backups are enabled")
		}
		if strings.Trim(c.BackupFolderID, "/") == strings.Trim(c.FolderID, "/") {
			return invalid("backup_folder_id", "must differ from folder_id")
		}
	}

	if len(c.FileMappings) == 0 {
		return invalid("file_mappings", "at least one mapping is required")
	}
	seen := make(map[string]string, len(c.FileMappings))
	for remote, local := range c.FileMappings {
		if err := validateRemoteName(remote); err != nil {
			return &models.ConfigurationError{Field: "file_mappings." + remote, Err: err}
		}
		if local == "" {
			return invalid("file_mappings."+remote, "local path is required")
		}
		if !filepath.IsAbs(local) {
			return invalid("file_mappings."+remote, "local path must be absolute: "+local)
		}
		clean := filepath.Clean(local)
		if other, dup := seen[clean]; dup {
			return invalid("file_mappings."+remote, fmt.Sprintf("local path %s is already mapped to %s", local, other))
		}
		seen[clean] = remote
	}

	switch c.Storage.Backend {
	case BackendMinio:
		if c.Storage.Endpoint == "" {
			return invalid("storage.endpoint", "is required for the minio backend")
		}
	case BackendS3:
		// endpoint is optional, the AWS default resolver is used when empty
	default:
		return invalid("storage.backend", fmt.Sprintf("unknown backend %q (must be minio or s3)", c.Storage.Backend))
	}
	if c.Storage.Bucket == "" {
		return invalid("storage.bucket", "is required")
	}
	if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
		return invalid("storage", "access_key and secret_key are required")
	}

	if c.Sync.Interval < 0 {
		return invalid("sync.interval", "must be positive")
	}
	if c.Sync.MTimePrecision < 0 {
		return invalid("sync.mtime_precision", "must be positive")
	}
	if c.Backup.Interval < 0 {
		return invalid("backup.interval", "must be positive")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}

	return nil
}

// Mappings returns the configured file mappings ordered by remote name
func (c *Config) Mappings() []models.FileMapping {
	mappings := make([]models.FileMapping, 0, len(c.FileMappings))
	for remote, local := range c.FileMappings {
		mappings = append(mappings, models.FileMapping{RemoteName: remote, LocalPath: local})
	}
	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].RemoteName < mappings[j].RemoteName
	})
	return mappings
}

// BackupEnabled reports whether the backup scheduler should run
func (c *Config) BackupEnabled() bool {
	return c.Backup.Enabled == nil || *c.Backup.Enabled
}

// SeedFromRemote reports whether an empty backup timer is seeded from the
// newest archive in the backup folder
func (c *Config) SeedFromRemote() bool {
	return c.Backup.SeedFromRemote == nil || *c.Backup.SeedFromRemote
}

// Secure reports whether the object store is reached over TLS
func (c *Config) Secure() bool {
	return c.Storage.Secure == nil || *c.Storage.Secure
}

// PersistentState reports whether the backup timer survives restarts
func (c *Config) PersistentState() bool {
	return c.State.Path != ""
}

// DefaultPath returns $HOME/.config/mirrorsync/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "mirrorsync", "config.yaml")
}

func validateRemoteName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("remote name is empty")
	case name == "." || name == "..":
		return fmt.Errorf("invalid remote name %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("remote name %q must not contain path separators", name)
	}
	return nil
}

// expandPath expands environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func invalid(field, msg string) error {
	return &models.ConfigurationError{Field: field, Err: errors.New(msg)}
}

func boolPtr(b bool) *bool { return &b }

package gateway

import (
	"context"
	"fmt"

	"github.com/chmdznr/oss-mirror-sync/internal/config"
	"github.com/chmdznr/oss-mirror-sync/pkg/models"
)

// NewObjectStore builds the ObjectStore selected by storage.backend
func NewObjectStore(ctx context.Context, cfg *config.Config) (ObjectStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendMinio:
		return NewMinioStore(MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			Bucket:    cfg.Storage.Bucket,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Secure:    cfg.Secure(),
		})
	case config.BackendS3:
		return NewS3Store(ctx, S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			Bucket:    cfg.Storage.Bucket,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
		})
	default:
		return nil, &models.ConfigurationError{
			Field: "storage.backend",
			Err:   fmt.Errorf("unknown backend %q", cfg.Storage.Backend),
		}
	}
}

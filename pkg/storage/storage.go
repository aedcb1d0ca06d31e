package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	cfg "github.com/esg-lite/emissions-pipeline/config"
	"github.com/esg-lite/emissions-pipeline/pkg/logger"
	"github.com/esg-lite/emissions-pipeline/pkg/storage/minio"
	"github.com/esg-lite/emissions-pipeline/pkg/storage/s3"
)

// Storage holds uploaded document bytes under opaque keys. The database
// keeps only the key.
type Storage interface {
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// New selects the configured object storage backend.
func New(c cfg.StorageConfig, log logger.Logger) (Storage, error) {
	switch c.Backend {
	case "minio":
		return minio.NewStorage(c.Minio, log)
	case "s3":
		return s3.NewStorage(c.S3, log)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", c.Backend)
	}
}

// Package storage persists uploaded image objects on local disk or MinIO.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"

	"projecthub/internal/config"
)

// ErrNotFound is returned when an object key does not exist.
var ErrNotFound = errors.New("object not found")

// Store is the object backend used by the upload service.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
	// Get returns a reader for key; callers close it.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Backend() string
}

var keyPattern = regexp.MustCompile(`^[a-f0-9]{64}/[a-z0-9_-]+\.(jpg|webp)$`)

// ValidKey reports whether key has the content-addressed "<sha256>/<name>.<ext>" shape.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// New builds the backend selected by cfg.
func New(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.UploadBackend {
	case config.UploadMinIO:
		m, err := NewMinIO(MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	case config.UploadLocal, "":
		return NewLocal(cfg.UploadDir)
	default:
		return nil, fmt.Errorf("unknown upload backend %q", cfg.UploadBackend)
	}
}

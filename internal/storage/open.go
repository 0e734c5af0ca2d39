package storage

import (
	"context"
	"fmt"

	"github.com/dunamismax/imagebench/internal/config"
)

// Open builds the asset store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "fs":
		return NewFileStore(cfg.OriginalsDir, cfg.ModifiedDir)
	case "minio":
		s, err := NewObjectStore(ObjectConfig{
			Endpoint: cfg.MinIO.Endpoint,
			Access:   cfg.MinIO.AccessKey,
			Secret:   cfg.MinIO.SecretKey,
			Bucket:   cfg.MinIO.Bucket,
			UseSSL:   cfg.MinIO.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}
}

package storage

import (
	"context"

	"github.com/dunamismax/imagebench/internal/domain"
)

// Store is a flat name to bytes mapping per bucket. Put always overwrites and
// Delete of a missing asset is not an error.
type Store interface {
	Put(ctx context.Context, bucket domain.Bucket, name string, data []byte) (domain.Asset, error)
	Get(ctx context.Context, bucket domain.Bucket, name string) ([]byte, error)
	Stat(ctx context.Context, bucket domain.Bucket, name string) (domain.Asset, error)
	Delete(ctx context.Context, bucket domain.Bucket, name string) error
}

func lockKey(bucket domain.Bucket, name string) string {
	return string(bucket) + "/" + name
}

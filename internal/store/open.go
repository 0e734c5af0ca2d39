package store

import (
	"context"
	"strings"
)

// Open returns a Postgres run store for a non-empty DSN and an in-memory one
// otherwise. The returned close function is never nil.
func Open(ctx context.Context, dsn string) (RunStore, func() error, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryRunStore(), func() error { return nil }, nil
	}
	pg, err := NewPostgresRunStore(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

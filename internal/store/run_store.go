package store

import (
	"context"
	"errors"

	"github.com/dunamismax/imagebench/internal/domain"
)

var ErrRunNotFound = errors.New("benchmark run not found")

// RunStore persists benchmark runs between the api and the worker.
type RunStore interface {
	Create(ctx context.Context, run domain.BenchmarkRun) error
	Get(ctx context.Context, id string) (domain.BenchmarkRun, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.BenchmarkRun, error)
	AppendResult(ctx context.Context, id string, result domain.BackendResult) (domain.BenchmarkRun, error)
}

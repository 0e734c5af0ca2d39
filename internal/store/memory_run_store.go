package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/imagebench/internal/domain"
)

// MemoryRunStore keeps runs in process memory. Runs are lost on restart and
// are not visible to other processes.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]domain.BenchmarkRun
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs: make(map[string]domain.BenchmarkRun),
	}
}

func (s *MemoryRunStore) Create(_ context.Context, run domain.BenchmarkRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = clone(run)
	return nil
}

func (s *MemoryRunStore) Get(_ context.Context, id string) (domain.BenchmarkRun, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return clone(run), ok, nil
}

func (s *MemoryRunStore) UpdateStatus(_ context.Context, id, status string) (domain.BenchmarkRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.BenchmarkRun{}, ErrRunNotFound
	}

	run.Status = status
	run.UpdatedAt = time.Now().UTC()
	s.runs[id] = run
	return clone(run), nil
}

func (s *MemoryRunStore) AppendResult(_ context.Context, id string, result domain.BackendResult) (domain.BenchmarkRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return domain.BenchmarkRun{}, ErrRunNotFound
	}

	run.Results = append(run.Results, result)
	run.UpdatedAt = time.Now().UTC()
	s.runs[id] = run
	return clone(run), nil
}

// clone detaches the slices so callers cannot mutate stored runs.
func clone(run domain.BenchmarkRun) domain.BenchmarkRun {
	run.Backends = append([]string(nil), run.Backends...)
	run.Results = append([]domain.BackendResult(nil), run.Results...)
	return run
}

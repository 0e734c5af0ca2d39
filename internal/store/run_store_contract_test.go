package store

import (
	"context"
	"testing"
	"time"

	"github.com/dunamismax/imagebench/internal/domain"
	"github.com/dunamismax/imagebench/internal/id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRunStoreContract exercises the behaviour every RunStore shares. IDs are
// random so the suite can run against a database that outlives the test.
func testRunStoreContract(t *testing.T, runs RunStore) {
	t.Run("lifecycle", func(t *testing.T) {
		ctx := context.Background()
		runID := "run-" + id.New()
		now := time.Now().UTC().Truncate(time.Microsecond)

		require.NoError(t, runs.Create(ctx, domain.BenchmarkRun{
			ID:         runID,
			Status:     domain.RunStatusQueued,
			FileName:   "r.png",
			Operation:  domain.OperationSpec{Kind: domain.OperationCrop, X: 4, Y: 2, CropWidth: 10, CropHeight: 8},
			Iterations: 2,
			Backends:   []string{"imaging", "bild"},
			WebhookURL: "https://hooks.example.test/r",
			CreatedAt:  now,
			UpdatedAt:  now,
		}))

		run, ok, err := runs.Get(ctx, runID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.RunStatusQueued, run.Status)
		assert.Equal(t, "r.png", run.FileName)
		assert.Equal(t, domain.OperationSpec{Kind: domain.OperationCrop, X: 4, Y: 2, CropWidth: 10, CropHeight: 8}, run.Operation)
		assert.Equal(t, []string{"imaging", "bild"}, run.Backends)
		assert.Equal(t, "https://hooks.example.test/r", run.WebhookURL)
		assert.True(t, run.CreatedAt.Equal(now), "created_at %v != %v", run.CreatedAt, now)
		assert.Empty(t, run.Results)

		run, err = runs.UpdateStatus(ctx, runID, domain.RunStatusRunning)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusRunning, run.Status)
		assert.False(t, run.UpdatedAt.Before(now))

		_, err = runs.AppendResult(ctx, runID, domain.BackendResult{Backend: "imaging", Iterations: 2, MeanMS: 1.5})
		require.NoError(t, err)
		run, err = runs.AppendResult(ctx, runID, domain.BackendResult{Backend: "bild", Iterations: 2, Error: "boom"})
		require.NoError(t, err)
		require.Len(t, run.Results, 2)
		assert.Equal(t, "imaging", run.Results[0].Backend)
		assert.InDelta(t, 1.5, run.Results[0].MeanMS, 1e-9)
		assert.Equal(t, "bild", run.Results[1].Backend)
		assert.Equal(t, "boom", run.Results[1].Error)

		again, ok, err := runs.Get(ctx, runID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, again.Results, 2)
	})

	t.Run("missing run", func(t *testing.T) {
		ctx := context.Background()
		missing := "missing-" + id.New()

		_, ok, err := runs.Get(ctx, missing)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = runs.UpdateStatus(ctx, missing, domain.RunStatusFailed)
		assert.ErrorIs(t, err, ErrRunNotFound)

		_, err = runs.AppendResult(ctx, missing, domain.BackendResult{Backend: "native"})
		assert.ErrorIs(t, err, ErrRunNotFound)
	})
}

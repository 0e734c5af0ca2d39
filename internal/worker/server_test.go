package worker

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/imagebench/internal/backend"
	"github.com/dunamismax/imagebench/internal/domain"
	"github.com/dunamismax/imagebench/internal/queue"
	"github.com/dunamismax/imagebench/internal/storage"
	"github.com/dunamismax/imagebench/internal/store"
	"github.com/dunamismax/imagebench/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryRunStore, *captureWebhook) {
	t.Helper()

	root := t.TempDir()
	assets, err := storage.NewFileStore(filepath.Join(root, "Images_after"), filepath.Join(root, "Images_modified"))
	require.NoError(t, err)

	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	_, err = assets.Put(context.Background(), domain.BucketOriginals, "bench.png", buf.Bytes())
	require.NoError(t, err)

	reg, err := backend.NewRegistry(assets, "")
	require.NoError(t, err)

	runs := store.NewMemoryRunStore()
	hooks := &captureWebhook{}
	return newServer(zaptest.NewLogger(t), 1, reg, runs, hooks), runs, hooks
}

func seedRun(t *testing.T, runs store.RunStore, run domain.BenchmarkRun) *asynq.Task {
	t.Helper()

	now := time.Now().UTC()
	run.Status = domain.RunStatusQueued
	run.CreatedAt, run.UpdatedAt = now, now
	require.NoError(t, runs.Create(context.Background(), run))

	task, err := queue.NewRunBenchmarkTask(queue.RunBenchmarkPayload{RunID: run.ID, RequestedAt: now})
	require.NoError(t, err)
	return task
}

func TestHandleRunBenchmarkSucceeds(t *testing.T) {
	s, runs, hooks := newTestServer(t)
	task := seedRun(t, runs, domain.BenchmarkRun{
		ID:         "run-ok",
		FileName:   "bench.png",
		Operation:  domain.OperationSpec{Kind: domain.OperationResize, Width: 32, Height: 16},
		Iterations: 3,
		Backends:   []string{"imaging", "native"},
		WebhookURL: "https://hooks.example.test/bench",
	})

	require.NoError(t, s.handleRunBenchmark(context.Background(), task))

	run, ok, err := runs.Get(context.Background(), "run-ok")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.RunStatusSucceeded, run.Status)
	require.Len(t, run.Results, 2)
	for i, name := range []string{"imaging", "native"} {
		r := run.Results[i]
		assert.Equal(t, name, r.Backend)
		assert.Empty(t, r.Error)
		assert.Equal(t, 3, r.Iterations)
		assert.Equal(t, 32, r.Width)
		assert.Equal(t, 16, r.Height)
		assert.Positive(t, r.OutputBytes)
		assert.LessOrEqual(t, r.MinMS, r.MeanMS)
		assert.LessOrEqual(t, r.MeanMS, r.MaxMS)
	}

	deliveries := hooks.deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, webhook.EventBenchmarkCompleted, deliveries[0].Event)
	assert.Equal(t, "run-ok:"+webhook.EventBenchmarkCompleted, deliveries[0].ID)
	assert.Equal(t, "https://hooks.example.test/bench", deliveries[0].Endpoint)
}

func TestHandleRunBenchmarkDefaultsToAllBackends(t *testing.T) {
	s, runs, _ := newTestServer(t)
	task := seedRun(t, runs, domain.BenchmarkRun{
		ID:         "run-all",
		FileName:   "bench.png",
		Operation:  domain.OperationSpec{Kind: domain.OperationGrayscale},
		Iterations: 1,
	})

	require.NoError(t, s.handleRunBenchmark(context.Background(), task))

	run, _, err := runs.Get(context.Background(), "run-all")
	require.NoError(t, err)
	assert.Len(t, run.Results, len(s.backends.Names()))
}

func TestHandleRunBenchmarkRecordsBackendFailures(t *testing.T) {
	s, runs, hooks := newTestServer(t)
	task := seedRun(t, runs, domain.BenchmarkRun{
		ID:       "run-bad",
		FileName: "bench.png",
		Operation: domain.OperationSpec{
			Kind: domain.OperationCrop, X: 60, Y: 0, Width: 10, Height: 10,
		},
		Iterations: 2,
		Backends:   []string{"bild", "magick"},
		WebhookURL: "https://hooks.example.test/bench",
	})

	require.NoError(t, s.handleRunBenchmark(context.Background(), task))

	run, _, err := runs.Get(context.Background(), "run-bad")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	require.Len(t, run.Results, 2)
	assert.Contains(t, run.Results[0].Error, domain.ErrGeometryOutOfBounds.Error())
	assert.Zero(t, run.Results[0].Iterations)
	assert.Contains(t, run.Results[1].Error, backend.ErrUnknownBackend.Error())
	assert.Equal(t, []string{webhook.EventBenchmarkFailed}, hooks.events())
}

func TestHandleRunBenchmarkSkipsFinishedRuns(t *testing.T) {
	s, runs, hooks := newTestServer(t)
	task := seedRun(t, runs, domain.BenchmarkRun{
		ID:         "run-done",
		FileName:   "bench.png",
		Operation:  domain.OperationSpec{Kind: domain.OperationGrayscale},
		Iterations: 1,
		WebhookURL: "https://hooks.example.test/bench",
	})
	_, err := runs.UpdateStatus(context.Background(), "run-done", domain.RunStatusSucceeded)
	require.NoError(t, err)

	require.NoError(t, s.handleRunBenchmark(context.Background(), task))

	run, _, err := runs.Get(context.Background(), "run-done")
	require.NoError(t, err)
	assert.Empty(t, run.Results)
	assert.Empty(t, hooks.events())
}

func TestHandleRunBenchmarkRejectsUnknownRun(t *testing.T) {
	s, _, _ := newTestServer(t)
	task, err := queue.NewRunBenchmarkTask(queue.RunBenchmarkPayload{RunID: "ghost"})
	require.NoError(t, err)

	err = s.handleRunBenchmark(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, store.ErrRunNotFound)

	err = s.handleRunBenchmark(context.Background(), asynq.NewTask(queue.TypeRunBenchmark, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

type captureWebhook struct {
	mu   sync.Mutex
	sent []webhook.Delivery
}

func (c *captureWebhook) Deliver(_ context.Context, d webhook.Delivery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, d)
	return nil
}

func (c *captureWebhook) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]string, 0, len(c.sent))
	for _, d := range c.sent {
		events = append(events, d.Event)
	}
	return events
}

func (c *captureWebhook) deliveries() []webhook.Delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webhook.Delivery(nil), c.sent...)
}

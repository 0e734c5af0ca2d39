package queue

import (
	"testing"
	"time"

	"github.com/hibiken/asynq"
)

func TestRunBenchmarkTaskRoundTrip(t *testing.T) {
	payload := RunBenchmarkPayload{
		RunID:       "2f1c9a8e-1d2b-4c1e-9f7a-0b1c2d3e4f50",
		RequestedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	task, err := NewRunBenchmarkTask(payload)
	if err != nil {
		t.Fatalf("NewRunBenchmarkTask returned error: %v", err)
	}
	if task.Type() != TypeRunBenchmark {
		t.Fatalf("expected task type %q, got %q", TypeRunBenchmark, task.Type())
	}

	parsed, err := ParseRunBenchmarkPayload(task)
	if err != nil {
		t.Fatalf("ParseRunBenchmarkPayload returned error: %v", err)
	}
	if parsed.RunID != payload.RunID {
		t.Fatalf("expected run_id %q, got %q", payload.RunID, parsed.RunID)
	}
	if !parsed.RequestedAt.Equal(payload.RequestedAt) {
		t.Fatalf("expected requested_at %v, got %v", payload.RequestedAt, parsed.RequestedAt)
	}
}

func TestRunBenchmarkTaskRequiresRunID(t *testing.T) {
	if _, err := NewRunBenchmarkTask(RunBenchmarkPayload{}); err == nil {
		t.Fatal("expected error for empty run_id")
	}

	task := asynq.NewTask(TypeRunBenchmark, []byte(`{"requested_at":"2026-01-02T03:04:05Z"}`))
	if _, err := ParseRunBenchmarkPayload(task); err == nil {
		t.Fatal("expected error for payload without run_id")
	}

	task = asynq.NewTask(TypeRunBenchmark, []byte(`not json`))
	if _, err := ParseRunBenchmarkPayload(task); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

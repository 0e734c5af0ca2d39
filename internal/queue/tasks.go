package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const TypeRunBenchmark = "benchmark:run"

// RunBenchmarkPayload only carries the run ID. Workers read the request
// itself from the run store.
type RunBenchmarkPayload struct {
	RunID       string    `json:"run_id"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewRunBenchmarkTask(payload RunBenchmarkPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.RunID) == "" {
		return nil, errors.New("run_id is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal benchmark payload: %w", err)
	}
	return asynq.NewTask(TypeRunBenchmark, body), nil
}

func ParseRunBenchmarkPayload(task *asynq.Task) (RunBenchmarkPayload, error) {
	var payload RunBenchmarkPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RunBenchmarkPayload{}, fmt.Errorf("unmarshal benchmark payload: %w", err)
	}
	if strings.TrimSpace(payload.RunID) == "" {
		return RunBenchmarkPayload{}, errors.New("benchmark payload is missing run_id")
	}
	return payload, nil
}

package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueBenchmark schedules a run. The task ID is the run ID, so a run can
// only be queued once while its task is retained.
func (c *Client) EnqueueBenchmark(ctx context.Context, payload RunBenchmarkPayload) (*asynq.TaskInfo, error) {
	task, err := NewRunBenchmarkTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.RunID),
		asynq.MaxRetry(3),
		asynq.Timeout(10*time.Minute),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "imagebench:ratelimit"

var ErrCostExceedsCapacity = errors.New("cost exceeds bucket capacity")

// Decision reports the outcome of one Take call.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

type Config struct {
	// Capacity tokens refill evenly over Window.
	Capacity  int
	Window    time.Duration
	KeyPrefix string
}

// takeScript refills the bucket for the elapsed time, then withdraws the
// requested cost when enough tokens are present. It returns
// {allowed, remaining, retry_after_ms}.
var takeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "updated_ms")
local tokens = tonumber(state[1]) or capacity
local updated = tonumber(state[2]) or now
if now > updated then
  tokens = math.min(capacity, tokens + (now - updated) * rate)
end

local allowed = 0
local wait = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / rate)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "updated_ms", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {allowed, math.floor(tokens), wait}
`)

// RedisTokenBucket keeps one bucket per subject in a Redis hash. The refill
// and withdrawal run atomically inside a Lua script.
type RedisTokenBucket struct {
	client   redis.Scripter
	capacity int64
	perMS    float64
	ttl      time.Duration
	prefix   string
	now      func() time.Time
}

func NewRedisTokenBucket(client redis.Scripter, cfg Config) (*RedisTokenBucket, error) {
	switch {
	case client == nil:
		return nil, errors.New("ratelimit: redis client is required")
	case cfg.Capacity <= 0:
		return nil, fmt.Errorf("ratelimit: capacity must be positive, got %d", cfg.Capacity)
	case cfg.Window <= 0:
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", cfg.Window)
	}

	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisTokenBucket{
		client:   client,
		capacity: int64(cfg.Capacity),
		perMS:    float64(cfg.Capacity) / float64(max(1, cfg.Window.Milliseconds())),
		ttl:      2 * cfg.Window,
		prefix:   prefix,
		now:      time.Now,
	}, nil
}

// Take withdraws cost tokens from subject's bucket. A cost above the bucket
// capacity can never be satisfied and is rejected without touching Redis.
func (l *RedisTokenBucket) Take(ctx context.Context, subject string, cost int) (Decision, error) {
	cost = max(1, cost)
	if int64(cost) > l.capacity {
		return Decision{}, fmt.Errorf("%w: %d > %d", ErrCostExceedsCapacity, cost, l.capacity)
	}

	raw, err := takeScript.Run(ctx, l.client,
		[]string{l.key(subject)},
		l.capacity, l.perMS, l.now().UnixMilli(), cost, l.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: take %s: %w", subject, err)
	}
	return l.decision(raw)
}

func (l *RedisTokenBucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.prefix + ":" + subject
}

func (l *RedisTokenBucket) decision(values []int64) (Decision, error) {
	if len(values) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: script returned %d values, want 3", len(values))
	}
	return Decision{
		Allowed:    values[0] == 1,
		Limit:      l.capacity,
		Remaining:  values[1],
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}

// Costs is the token price of each rate limited request class.
type Costs struct {
	Upload    int
	Delete    int
	Benchmark int
}

func DefaultCosts() Costs {
	return Costs{Upload: 2, Delete: 1, Benchmark: 5}
}

// ParseCosts reads "upload=2,delete=1,benchmark=5". Omitted classes keep
// their defaults.
func ParseCosts(spec string) (Costs, error) {
	costs := DefaultCosts()
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok {
			return costs, fmt.Errorf("ratelimit: cost %q is not name=value", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 1 {
			return costs, fmt.Errorf("ratelimit: cost %q must be a positive integer", part)
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "upload":
			costs.Upload = n
		case "delete":
			costs.Delete = n
		case "benchmark":
			costs.Benchmark = n
		default:
			return costs, fmt.Errorf("ratelimit: unknown cost class %q", name)
		}
	}
	return costs, nil
}

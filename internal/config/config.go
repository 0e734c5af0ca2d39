package config

import (
	"runtime"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	API       APIConfig
	Storage   StorageConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Trace     TraceConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

type APIConfig struct {
	Addr           string
	DefaultBackend string
	MaxUploadBytes int64
	// MaxPixels bounds decoded sources and resize targets for every backend.
	MaxPixels int64
}

type StorageConfig struct {
	// Driver is "fs" for the two local directories or "minio" for object storage.
	Driver       string
	OriginalsDir string
	ModifiedDir  string
	MinIO        MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveRuns int
	MetricsAddr   string
}

// DatabaseConfig selects the run store. An empty DSN keeps runs in memory.
type DatabaseConfig struct {
	DSN string
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
	// Costs prices request classes, e.g. "upload=2,delete=1,benchmark=5".
	Costs string
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

// Load reads the environment, after merging an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return Config{
		API: APIConfig{
			Addr:           v.GetString("IMAGEBENCH_API_ADDR"),
			DefaultBackend: strings.ToLower(v.GetString("IMAGEBENCH_BACKEND")),
			MaxUploadBytes: v.GetInt64("IMAGEBENCH_MAX_UPLOAD_BYTES"),
			MaxPixels:      v.GetInt64("IMAGEBENCH_MAX_PIXELS"),
		},
		Storage: StorageConfig{
			Driver:       strings.ToLower(v.GetString("IMAGEBENCH_STORAGE_DRIVER")),
			OriginalsDir: v.GetString("IMAGEBENCH_ORIGINALS_DIR"),
			ModifiedDir:  v.GetString("IMAGEBENCH_MODIFIED_DIR"),
			MinIO: MinIOConfig{
				Endpoint:  v.GetString("MINIO_ENDPOINT"),
				AccessKey: v.GetString("MINIO_ACCESS_KEY"),
				SecretKey: v.GetString("MINIO_SECRET_KEY"),
				Bucket:    v.GetString("MINIO_BUCKET"),
				UseSSL:    v.GetBool("MINIO_USE_SSL"),
			},
		},
		Queue: QueueConfig{
			RedisAddr:     v.GetString("REDIS_ADDR"),
			RedisPassword: v.GetString("REDIS_PASSWORD"),
			RedisDB:       v.GetInt("REDIS_DB"),
			Name:          v.GetString("ASYNC_QUEUE"),
		},
		Worker: WorkerConfig{
			Concurrency:   max(1, v.GetInt("WORKER_CONCURRENCY")),
			MaxActiveRuns: max(1, v.GetInt("WORKER_MAX_ACTIVE_RUNS")),
			MetricsAddr:   v.GetString("WORKER_METRICS_ADDR"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("POSTGRES_DSN"),
		},
		RateLimit: RateLimitConfig{
			Enabled:  v.GetBool("RATE_LIMIT_ENABLED"),
			Capacity: v.GetInt("RATE_LIMIT_CAPACITY"),
			Window:   v.GetDuration("RATE_LIMIT_WINDOW"),
			Costs:    v.GetString("RATE_LIMIT_COSTS"),
		},
		Trace: TraceConfig{
			Exporter:     v.GetString("TRACE_EXPORTER"),
			OTLPEndpoint: v.GetString("OTLP_ENDPOINT"),
			OTLPInsecure: v.GetBool("OTLP_INSECURE"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  v.GetString("WEBHOOK_SIGNING_SECRET"),
			Timeout:        v.GetDuration("WEBHOOK_TIMEOUT"),
			MaxAttempts:    v.GetInt("WEBHOOK_MAX_ATTEMPTS"),
			InitialBackoff: v.GetDuration("WEBHOOK_INITIAL_BACKOFF"),
			MaxBackoff:     v.GetDuration("WEBHOOK_MAX_BACKOFF"),
		},
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
			File:   v.GetString("LOG_FILE"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("IMAGEBENCH_API_ADDR", ":8080")
	v.SetDefault("IMAGEBENCH_BACKEND", "imaging")
	v.SetDefault("IMAGEBENCH_MAX_UPLOAD_BYTES", 32<<20)
	v.SetDefault("IMAGEBENCH_MAX_PIXELS", 100_000_000)
	v.SetDefault("IMAGEBENCH_STORAGE_DRIVER", "fs")
	v.SetDefault("IMAGEBENCH_ORIGINALS_DIR", "./Images_after")
	v.SetDefault("IMAGEBENCH_MODIFIED_DIR", "./Images_modified")

	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "minioadmin")
	v.SetDefault("MINIO_SECRET_KEY", "minioadmin")
	v.SetDefault("MINIO_BUCKET", "imagebench")
	v.SetDefault("MINIO_USE_SSL", false)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ASYNC_QUEUE", "default")

	v.SetDefault("WORKER_CONCURRENCY", max(2, runtime.NumCPU()))
	v.SetDefault("WORKER_MAX_ACTIVE_RUNS", max(1, runtime.NumCPU()/2))
	v.SetDefault("WORKER_METRICS_ADDR", ":9091")

	v.SetDefault("POSTGRES_DSN", "")

	v.SetDefault("RATE_LIMIT_ENABLED", false)
	v.SetDefault("RATE_LIMIT_CAPACITY", 60)
	v.SetDefault("RATE_LIMIT_WINDOW", time.Minute)
	v.SetDefault("RATE_LIMIT_COSTS", "upload=2,delete=1,benchmark=5")

	v.SetDefault("TRACE_EXPORTER", "none")
	v.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	v.SetDefault("OTLP_INSECURE", true)

	v.SetDefault("WEBHOOK_SIGNING_SECRET", "")
	v.SetDefault("WEBHOOK_TIMEOUT", 10*time.Second)
	v.SetDefault("WEBHOOK_MAX_ATTEMPTS", 3)
	v.SetDefault("WEBHOOK_INITIAL_BACKOFF", time.Second)
	v.SetDefault("WEBHOOK_MAX_BACKOFF", 10*time.Second)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_FILE", "")
}

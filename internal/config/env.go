package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3100"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
	APIKey   string `envconfig:"API_KEY" required:"true"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".taskforge/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"taskforge/"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
}

type QueueEnv struct {
	DefaultPriority   int           `envconfig:"QUEUE_DEFAULT_PRIORITY" default:"5"`
	MaxRetries        int           `envconfig:"QUEUE_MAX_RETRIES" default:"3"`
	StallThreshold    time.Duration `envconfig:"QUEUE_STALL_THRESHOLD" default:"30m"`
	RecoveryInterval  time.Duration `envconfig:"QUEUE_RECOVERY_INTERVAL" default:"30s"`
	ReconcileInterval time.Duration `envconfig:"QUEUE_RECONCILE_INTERVAL" default:"1m"`
	AssignIncludeIdle bool          `envconfig:"ASSIGN_INCLUDE_IDLE" default:"true"`
}

type SessionEnv struct {
	Expiry        time.Duration `envconfig:"SESSION_EXPIRY" default:"30m"`
	SweepInterval time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"5m"`
}

type Env struct {
	BaseEnv
	StorageEnv
	QueueEnv
	SessionEnv
}

const namespace = "TASKFORGE"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

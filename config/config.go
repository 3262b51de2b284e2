package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jobukit/jobu/internal/database"
	"github.com/jobukit/jobu/internal/queue"
)

// Config is the process-level environment configuration. The database and
// component topology lives in the YAML file named by JOBU_CONFIG, so the same
// binary can run against different deployments without rebuilding.
type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	File     string `env:"JOBU_CONFIG" envDefault:"configs/jobu.yaml" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	Port        string `env:"PORT" envDefault:"8080" validate:"required"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// Empty JWTSecret leaves the admin API unauthenticated; fine on a
	// private network, hence optional.
	JWTSecret string `env:"JWT_SECRET" validate:"omitempty,min=32"`

	ResendAPIKey string `env:"RESEND_API_KEY"`
	ResendFrom   string `env:"RESEND_FROM"`
}

func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type DispatcherConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds" validate:"omitempty,min=1,max=3600"`
	MaxSleepSeconds     int `yaml:"max_sleep_seconds" validate:"omitempty,min=1,max=86400"`
	// MinIntervalSeconds is the fastest schedule accepted by the admin API
	// and materialized by the dispatcher. Defaults to 60.
	MinIntervalSeconds int `yaml:"min_interval_seconds" validate:"omitempty,min=0"`
}

func (c DispatcherConfig) PollInterval() time.Duration {
	return secondsOr(c.PollIntervalSeconds, 60*time.Second)
}

func (c DispatcherConfig) MaxSleep() time.Duration {
	return secondsOr(c.MaxSleepSeconds, 5*time.Minute)
}

func (c DispatcherConfig) MinInterval() time.Duration {
	return secondsOr(c.MinIntervalSeconds, time.Minute)
}

type ReaperConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" validate:"omitempty,min=1"`
	GraceSeconds    int `yaml:"grace_seconds" validate:"omitempty,min=1"`
}

func (c ReaperConfig) Interval() time.Duration {
	return secondsOr(c.IntervalSeconds, time.Minute)
}

func (c ReaperConfig) Grace() time.Duration {
	return secondsOr(c.GraceSeconds, time.Minute)
}

type WorkerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds" validate:"omitempty,min=1,max=3600"`
	Concurrency         int `yaml:"concurrency" validate:"omitempty,min=1,max=1000"`
	// ClaimBatchSize caps how many pending rows one poll considers; defaults
	// to the concurrency so a worker never lists more than it can run.
	ClaimBatchSize       int          `yaml:"claim_batch_size" validate:"omitempty,min=1,max=1000"`
	ShutdownGraceSeconds int          `yaml:"shutdown_grace_seconds" validate:"omitempty,min=1"`
	Reaper               ReaperConfig `yaml:"reaper"`
}

func (c WorkerConfig) PollInterval() time.Duration {
	return secondsOr(c.PollIntervalSeconds, 5*time.Second)
}

func (c WorkerConfig) ConcurrencyOrDefault() int {
	if c.Concurrency == 0 {
		return 5
	}
	return c.Concurrency
}

func (c WorkerConfig) ClaimBatchOrDefault() int {
	if c.ClaimBatchSize == 0 {
		return c.ConcurrencyOrDefault()
	}
	return c.ClaimBatchSize
}

func (c WorkerConfig) ShutdownGrace() time.Duration {
	return secondsOr(c.ShutdownGraceSeconds, 30*time.Second)
}

type QueueConfig struct {
	Kafka queue.KafkaConfig `yaml:"kafka"`
}

// FileConfig is the deployment topology: named databases plus per-component
// tuning.
type FileConfig struct {
	Databases map[string]database.Config `yaml:"databases" validate:"required,min=1,dive"`
	// MigrateOnStart applies pending migrations during startup; deployments
	// that run `jobu migrate` as a release step leave it off.
	MigrateOnStart bool             `yaml:"migrate_on_start"`
	Dispatcher     DispatcherConfig `yaml:"dispatcher"`
	Worker         WorkerConfig     `yaml:"worker"`
	Queue          QueueConfig      `yaml:"queue"`
}

// Load parses the environment and the YAML file it points at.
func Load() (*Config, *FileConfig, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, nil, fmt.Errorf("parse env: %w", err)
	}

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	raw, err := os.ReadFile(cfg.File)
	if err != nil {
		return nil, nil, fmt.Errorf("read config file: %w", err)
	}

	fileCfg := &FileConfig{}
	if err := yaml.Unmarshal(raw, fileCfg); err != nil {
		return nil, nil, fmt.Errorf("parse config file %s: %w", cfg.File, err)
	}
	if err := v.Struct(fileCfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config file %s: %w", cfg.File, err)
	}

	return cfg, fileCfg, nil
}

func secondsOr(s int, def time.Duration) time.Duration {
	if s == 0 {
		return def
	}
	return time.Duration(s) * time.Second
}

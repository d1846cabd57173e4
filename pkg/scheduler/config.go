package scheduler

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/jzx17/retryq/pkg/queue"
	"github.com/jzx17/retryq/pkg/types"
)

// EnvPrefix is prepended to every environment variable read by LoadEnv
const EnvPrefix = "RETRYQ_"

// Settings holds the tunables that can be loaded from the environment or a file
type Settings struct {
	// Workers is the number of consumer goroutines
	Workers int `env:"WORKERS" yaml:"workers"`

	// QueueCapacity bounds the deadline queue
	QueueCapacity int `env:"QUEUE_CAPACITY" yaml:"queue_capacity"`

	// CallbackWorkers is the size of the callback pool
	CallbackWorkers int `env:"CALLBACK_WORKERS" yaml:"callback_workers"`

	// CallbackQueueSize is the job buffer of the callback pool
	CallbackQueueSize int `env:"CALLBACK_QUEUE_SIZE" yaml:"callback_queue_size"`

	// DrainPollInterval is how often Shutdown checks for pending tasks
	DrainPollInterval time.Duration `env:"DRAIN_POLL_INTERVAL" yaml:"drain_poll_interval"`

	// LogLevel is applied to Logger; empty keeps the logger's own level
	LogLevel string `env:"LOG_LEVEL" yaml:"log_level"`
}

// Config configures a Scheduler
type Config struct {
	Settings `yaml:",inline"`

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock `yaml:"-"`

	// Logger (optional, defaults to no logging)
	Logger *zerolog.Logger `yaml:"-"`
}

// DefaultWorkers is half the available CPUs, at least one
func DefaultWorkers() int {
	n := runtime.NumCPU() / 2
	if n < 1 {
		return 1
	}
	return n
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Settings: Settings{
			Workers:           DefaultWorkers(),
			QueueCapacity:     queue.DefaultCapacity,
			CallbackWorkers:   runtime.NumCPU(),
			CallbackQueueSize: 1024,
			DrainPollInterval: 10 * time.Millisecond,
			LogLevel:          "info",
		},
	}
}

// Validate checks every tunable
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return types.NewConfigError("workers", "must be at least 1, got %d", c.Workers)
	}
	if c.QueueCapacity < 1 {
		return types.NewConfigError("queue_capacity", "must be at least 1, got %d", c.QueueCapacity)
	}
	if c.CallbackWorkers < 1 {
		return types.NewConfigError("callback_workers", "must be at least 1, got %d", c.CallbackWorkers)
	}
	if c.CallbackQueueSize < 1 {
		return types.NewConfigError("callback_queue_size", "must be at least 1, got %d", c.CallbackQueueSize)
	}
	if c.DrainPollInterval <= 0 {
		return types.NewConfigError("drain_poll_interval", "must be positive, got %v", c.DrainPollInterval)
	}
	return nil
}

// LoadEnv layers RETRYQ_* environment variables over DefaultConfig.
// Named dotenv files must exist; without names an optional ./.env is read.
// Variables already set in the process environment win over dotenv values.
func LoadEnv(files ...string) (Config, error) {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	} else {
		// the default .env file is optional
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg.Settings, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile layers a YAML file over DefaultConfig
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg.Settings); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

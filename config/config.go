// Package config loads the service configuration from defaults, files and
// the environment, and validates the result.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "SERVICETREE"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Scheduler SchedulerConfig `yaml:"scheduler" toml:"scheduler"`
	Service   ServiceConfig   `yaml:"service" toml:"service"`
	Query     QueryConfig     `yaml:"query" toml:"query"`
	Log       LogConfig       `yaml:"log" toml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" toml:"addr" env:"SERVER_ADDR" default:":8080" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout" env:"SERVER_READ_TIMEOUT" default:"10s" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" default:"30s" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" default:"15s" validate:"gt=0"`
}

// SchedulerConfig configures the initialization job scheduler.
type SchedulerConfig struct {
	Workers       int           `yaml:"workers" toml:"workers" env:"SCHEDULER_WORKERS" default:"5" validate:"min=1"`
	QueueSize     int           `yaml:"queue_size" toml:"queue_size" env:"SCHEDULER_QUEUE_SIZE" default:"100" validate:"min=1"`
	CheckInterval time.Duration `yaml:"check_interval" toml:"check_interval" env:"SCHEDULER_CHECK_INTERVAL" default:"250ms" validate:"gt=0"`
	MisfireGrace  time.Duration `yaml:"misfire_grace" toml:"misfire_grace" env:"SCHEDULER_MISFIRE_GRACE" default:"50s" validate:"gte=0"`
	Retention     time.Duration `yaml:"retention" toml:"retention" env:"SCHEDULER_RETENTION" default:"24h" validate:"gt=0"`
}

// ServiceConfig configures every node in the tree.
type ServiceConfig struct {
	InitializeAfter time.Duration `yaml:"initialize_after" toml:"initialize_after" env:"SERVICE_INITIALIZE_AFTER" default:"5s" validate:"gte=0"`
	MaxDepth        int           `yaml:"max_depth" toml:"max_depth" env:"SERVICE_MAX_DEPTH" default:"16" validate:"min=1"`
	RetrySchedule   string        `yaml:"retry_schedule" toml:"retry_schedule" env:"SERVICE_RETRY_SCHEDULE" default:"@every 1m"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	ModelURL      string  `yaml:"model_url" toml:"model_url" env:"QUERY_MODEL_URL" validate:"omitempty,url"`
	ModelPath     string  `yaml:"model_path" toml:"model_path" env:"QUERY_MODEL_PATH" default:"models/classifier.json" validate:"required"`
	S3Region      string  `yaml:"s3_region" toml:"s3_region" env:"QUERY_S3_REGION" default:"us-east-1"`
	S3Endpoint    string  `yaml:"s3_endpoint" toml:"s3_endpoint" env:"QUERY_S3_ENDPOINT" validate:"omitempty,url"`
	TopK          int     `yaml:"top_k" toml:"top_k" env:"QUERY_TOP_K" default:"10" validate:"min=1,max=1000"`
	RateLimit     float64 `yaml:"rate_limit" toml:"rate_limit" env:"QUERY_RATE_LIMIT" default:"50" validate:"gt=0"`
	Burst         int     `yaml:"burst" toml:"burst" env:"QUERY_BURST" default:"100" validate:"min=1"`
	WatchArtifact bool    `yaml:"watch_artifact" toml:"watch_artifact" env:"QUERY_WATCH_ARTIFACT"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" env:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load builds a configuration from defaults and then each feeder in order.
// Later feeders override earlier ones.
func Load(feeders ...Feeder) (*Config, error) {
	cfg := &Config{}
	if err := ProcessDefaults(cfg); err != nil {
		return nil, err
	}
	for _, feeder := range feeders {
		if err := feeder.Feed(cfg); err != nil {
			return nil, fmt.Errorf("failed to feed config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads defaults, then the file at path if set, then the
// environment.
func LoadFile(path string) (*Config, error) {
	var feeders []Feeder
	if path != "" {
		feeder, err := NewFileFeeder(path)
		if err != nil {
			return nil, err
		}
		feeders = append(feeders, feeder)
	}
	return Load(append(feeders, NewEnvFeeder(EnvPrefix))...)
}

// Validate checks the validate tags of every section.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
}

// SampleConfig renders the default configuration as yaml or toml.
func SampleConfig(format string) ([]byte, error) {
	cfg := &Config{}
	if err := ProcessDefaults(cfg); err != nil {
		return nil, err
	}

	switch strings.ToLower(format) {
	case "yaml", "yml":
		data, err := yaml.Marshal(sampleView(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal to YAML: %w", err)
		}
		return data, nil
	case "toml":
		var buf strings.Builder
		if err := toml.NewEncoder(&buf).Encode(sampleView(cfg)); err != nil {
			return nil, fmt.Errorf("failed to marshal to TOML: %w", err)
		}
		return []byte(buf.String()), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

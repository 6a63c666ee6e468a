// Package config provides configuration structures and loading logic for the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/obsgrade/obsgrade/internal/governance"
	"github.com/obsgrade/obsgrade/pkg/classifier"
	"github.com/obsgrade/obsgrade/pkg/collect"
	"github.com/obsgrade/obsgrade/pkg/logging"
	"github.com/obsgrade/obsgrade/pkg/portal"
	"github.com/obsgrade/obsgrade/pkg/telemetry"
	"github.com/obsgrade/obsgrade/pkg/vision"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OBSGRADE_"

var validate = validator.New()

// Config holds the global configuration.
type Config struct {
	Portal      portal.Config     `yaml:"portal"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Session     SessionConfig     `yaml:"session"`
	Collect     collect.Config    `yaml:"collect"`
	Logging     logging.Config    `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// RecognitionConfig holds the segmenter thresholds and the model location.
type RecognitionConfig struct {
	Segmenter  vision.Params     `yaml:"segmenter"`
	Classifier classifier.Config `yaml:"classifier"`
	// AutoSolvePause holds the automatic answer on screen before submitting.
	AutoSolvePause time.Duration `yaml:"auto_solve_pause" validate:"gte=0"`
}

// SessionConfig holds login attempt settings.
type SessionConfig struct {
	TempDir string                 `yaml:"temp_dir"`
	Retry   governance.RetryConfig `yaml:"retry"`
}

// TelemetryConfig holds configuration for OpenTelemetry and the metrics file.
type TelemetryConfig struct {
	OTLPEndpoint string            `yaml:"otlp_endpoint"`
	Insecure     bool              `yaml:"insecure"`
	Headers      map[string]string `yaml:"headers"`
	SampleRatio  float64           `yaml:"sample_ratio" validate:"gte=0,lte=1"`
	MetricsFile  string            `yaml:"metrics_file"`
}

// Default returns the configuration used before any file or override applies.
func Default() *Config {
	return &Config{
		Portal: portal.DefaultConfig(),
		Recognition: RecognitionConfig{
			Segmenter: vision.DefaultParams(),
			Classifier: classifier.Config{
				ModelPath: "models/digits.onnx",
			},
		},
		Session: SessionConfig{
			Retry: governance.DefaultRetryConfig(),
		},
		Collect: collect.DefaultConfig(),
		Logging: logging.Config{
			Level:  "info",
			Pretty: true,
		},
	}
}

// Load reads configuration from a file, a .env file in the working directory
// and OBSGRADE_* environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.Collect.TempDir == "" {
		cfg.Collect.TempDir = cfg.Session.TempDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) {
		if val := os.Getenv(EnvPrefix + name); val != "" {
			*dst = val
		}
	}
	str("LOGIN_URL", &cfg.Portal.LoginURL)
	str("MODEL_PATH", &cfg.Recognition.Classifier.ModelPath)
	str("ONNXRUNTIME_LIBRARY", &cfg.Recognition.Classifier.LibraryPath)
	str("TEMP_DIR", &cfg.Session.TempDir)
	str("DATASET_ROOT", &cfg.Collect.DatasetRoot)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	str("METRICS_FILE", &cfg.Telemetry.MetricsFile)

	if val := os.Getenv(EnvPrefix + "LOG_PRETTY"); val != "" {
		cfg.Logging.Pretty = val == "true"
	}
	if val := os.Getenv(EnvPrefix + "OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv(EnvPrefix + "ATTEMPTS"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%sATTEMPTS: %w", EnvPrefix, err)
		}
		cfg.Session.Retry.MaxAttempts = n
	}
	if val := os.Getenv(EnvPrefix + "SAMPLES"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%sSAMPLES: %w", EnvPrefix, err)
		}
		cfg.Collect.Samples = n
	}
	if val := os.Getenv(EnvPrefix + "AUTO_SOLVE_PAUSE"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%sAUTO_SOLVE_PAUSE: %w", EnvPrefix, err)
		}
		cfg.Recognition.AutoSolvePause = d
	}
	return nil
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	if err := validate.Struct(c); err != nil {
		return err
	}

	if err := c.Portal.Validate(); err != nil {
		return fmt.Errorf("portal configuration: %w", err)
	}

	if err := c.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition configuration: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session configuration: %w", err)
	}

	return nil
}

// Validate checks the segmenter thresholds.
func (c *RecognitionConfig) Validate() error {
	return c.Segmenter.Validate()
}

// Validate checks the retry settings.
func (c *SessionConfig) Validate() error {
	r := c.Retry
	if r.MaxAttempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1, got %d", r.MaxAttempts)
	}
	if r.MaxBackoff > 0 && r.InitialBackoff > r.MaxBackoff {
		return fmt.Errorf("retry.initial_backoff (%s) exceeds retry.max_backoff (%s)", r.InitialBackoff, r.MaxBackoff)
	}
	return nil
}

// Trace converts the telemetry section for the tracer bootstrap.
func (c TelemetryConfig) Trace(service, version string) telemetry.Config {
	return telemetry.Config{
		ServiceName: service,
		Endpoint:    strings.TrimSpace(c.OTLPEndpoint),
		Insecure:    c.Insecure,
		Headers:     c.Headers,
		SampleRatio: c.SampleRatio,
		Version:     version,
	}
}

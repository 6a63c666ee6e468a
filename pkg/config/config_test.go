package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
portal:
  login_url: "https://portal.example.edu/login.aspx"
  captcha_field: "txtCaptcha"
  timeout: 5s
recognition:
  segmenter:
    max_regions: 4
  classifier:
    model_path: "/opt/models/digits.onnx"
    threads: 2
  auto_solve_pause: 1s
session:
  temp_dir: "/var/tmp/obsgrade"
  retry:
    attempts: 5
    initial_backoff: 200ms
    max_backoff: 2s
collect:
  dataset_root: "/data/digits"
  samples: 20
  delay: 1s
logging:
  level: "DEBUG"
  pretty: true
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  sample_ratio: 0.5
  metrics_file: "/var/lib/node_exporter/obsgrade.prom"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://portal.example.edu/login.aspx", cfg.Portal.LoginURL)
	assert.Equal(t, "txtCaptcha", cfg.Portal.CaptchaField)
	assert.Equal(t, "password", cfg.Portal.PasswordField, "unset keys keep their defaults")
	assert.Equal(t, 5*time.Second, cfg.Portal.Timeout)

	assert.Equal(t, 4, cfg.Recognition.Segmenter.MaxRegions)
	assert.Equal(t, 18, cfg.Recognition.Segmenter.MinHeight)
	assert.Equal(t, "/opt/models/digits.onnx", cfg.Recognition.Classifier.ModelPath)
	assert.Equal(t, 2, cfg.Recognition.Classifier.Threads)
	assert.Equal(t, time.Second, cfg.Recognition.AutoSolvePause)

	assert.Equal(t, 5, cfg.Session.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Session.Retry.InitialBackoff)
	assert.True(t, cfg.Session.Retry.Jitter)

	assert.Equal(t, "/data/digits", cfg.Collect.DatasetRoot)
	assert.Equal(t, 20, cfg.Collect.Samples)
	assert.Equal(t, "/var/tmp/obsgrade", cfg.Collect.TempDir, "collect inherits the session temp dir")
	assert.Equal(t, 5, cfg.Collect.Breaker.MaxFailures)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)

	tc := cfg.Telemetry.Trace("obsgrade", "test")
	assert.Equal(t, "localhost:4317", tc.Endpoint)
	assert.True(t, tc.Insecure)
	assert.InDelta(t, 0.5, tc.SampleRatio, 1e-9)
	assert.Equal(t, "/var/lib/node_exporter/obsgrade.prom", cfg.Telemetry.MetricsFile)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing login url",
			content: "logging:\n  level: info\n",
			wantErr: "LoginURL",
		},
		{
			name:    "unsupported scheme",
			content: "portal:\n  login_url: \"ftp://portal.example.edu/\"\n",
			wantErr: "unsupported scheme",
		},
		{
			name:    "invalid log level",
			content: "portal:\n  login_url: \"https://p.example\"\nlogging:\n  level: verbose\n",
			wantErr: "invalid log level",
		},
		{
			name:    "zero attempts",
			content: "portal:\n  login_url: \"https://p.example\"\nsession:\n  retry:\n    attempts: 0\n",
			wantErr: "retry.attempts",
		},
		{
			name:    "backoff bounds inverted",
			content: "portal:\n  login_url: \"https://p.example\"\nsession:\n  retry:\n    initial_backoff: 5s\n    max_backoff: 1s\n",
			wantErr: "initial_backoff",
		},
		{
			name:    "split widths inverted",
			content: "portal:\n  login_url: \"https://p.example\"\nrecognition:\n  segmenter:\n    split_width: 50\n    triple_split_width: 40\n",
			wantErr: "triple_split_width",
		},
		{
			name:    "sample ratio above one",
			content: "portal:\n  login_url: \"https://p.example\"\ntelemetry:\n  sample_ratio: 2\n",
			wantErr: "SampleRatio",
		},
		{
			name:    "negative pause",
			content: "portal:\n  login_url: \"https://p.example\"\nrecognition:\n  auto_solve_pause: -1s\n",
			wantErr: "AutoSolvePause",
		},
		{
			name:    "zero samples",
			content: "portal:\n  login_url: \"https://p.example\"\ncollect:\n  samples: 0\n",
			wantErr: "Samples",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "portal: [unterminated"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("OBSGRADE_LOGIN_URL", "http://127.0.0.1:8080/login")
	t.Setenv("OBSGRADE_MODEL_PATH", "/tmp/model.onnx")
	t.Setenv("OBSGRADE_DATASET_ROOT", "/tmp/dataset")
	t.Setenv("OBSGRADE_TEMP_DIR", "/tmp/challenges")
	t.Setenv("OBSGRADE_LOG_LEVEL", "warn")
	t.Setenv("OBSGRADE_LOG_PRETTY", "true")
	t.Setenv("OBSGRADE_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("OBSGRADE_OTLP_INSECURE", "true")
	t.Setenv("OBSGRADE_METRICS_FILE", "/tmp/obsgrade.prom")
	t.Setenv("OBSGRADE_ATTEMPTS", "7")
	t.Setenv("OBSGRADE_SAMPLES", "12")
	t.Setenv("OBSGRADE_AUTO_SOLVE_PAUSE", "750ms")

	path := writeConfig(t, `
portal:
  login_url: "https://from-file.example/login"
logging:
  level: error
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://127.0.0.1:8080/login", cfg.Portal.LoginURL, "environment wins over the file")
	assert.Equal(t, "/tmp/model.onnx", cfg.Recognition.Classifier.ModelPath)
	assert.Equal(t, "/tmp/dataset", cfg.Collect.DatasetRoot)
	assert.Equal(t, "/tmp/challenges", cfg.Session.TempDir)
	assert.Equal(t, "/tmp/challenges", cfg.Collect.TempDir)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Pretty)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, "/tmp/obsgrade.prom", cfg.Telemetry.MetricsFile)
	assert.Equal(t, 7, cfg.Session.Retry.MaxAttempts)
	assert.Equal(t, 12, cfg.Collect.Samples)
	assert.Equal(t, 750*time.Millisecond, cfg.Recognition.AutoSolvePause)
}

func TestEnvironmentOverrides_Malformed(t *testing.T) {
	for _, name := range []string{"OBSGRADE_ATTEMPTS", "OBSGRADE_SAMPLES", "OBSGRADE_AUTO_SOLVE_PAUSE"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("OBSGRADE_LOGIN_URL", "https://p.example")
			t.Setenv(name, "many")
			_, err := Load("")
			assert.ErrorContains(t, err, name)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("OBSGRADE_LOGIN_URL=https://dotenv.example/login\nOBSGRADE_SAMPLES=3\n"), 0o600))
	t.Chdir(dir)
	t.Cleanup(func() {
		_ = os.Unsetenv("OBSGRADE_LOGIN_URL")
		_ = os.Unsetenv("OBSGRADE_SAMPLES")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.example/login", cfg.Portal.LoginURL)
	assert.Equal(t, 3, cfg.Collect.Samples)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3, cfg.Session.Retry.MaxAttempts)
	assert.Equal(t, "dataset_digits", cfg.Collect.DatasetRoot)
	assert.Equal(t, 50, cfg.Collect.Samples)
	assert.Equal(t, 500*time.Millisecond, cfg.Collect.Delay)
	assert.Zero(t, cfg.Recognition.AutoSolvePause)
	assert.Empty(t, cfg.Telemetry.OTLPEndpoint)

	cfg.Portal.LoginURL = "https://p.example/login"
	assert.NoError(t, cfg.Validate())
}

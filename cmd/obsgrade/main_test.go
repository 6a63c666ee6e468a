package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsgrade/obsgrade/internal/governance"
	"github.com/obsgrade/obsgrade/pkg/domain"
	"github.com/obsgrade/obsgrade/pkg/metrics"
	"github.com/obsgrade/obsgrade/pkg/portal/portaltest"
	"github.com/obsgrade/obsgrade/pkg/prompt"
)

type cliRun struct {
	stdout, stderr bytes.Buffer
	err            error
}

func writeTestConfig(t *testing.T, srv *portaltest.Server, extra string) string {
	t.Helper()
	content := fmt.Sprintf(`
portal:
  login_url: %q
  username_field: txtUser
  password_field: txtPass
  captcha_field: txtCode
recognition:
  classifier:
    model_path: %q
session:
  temp_dir: %q
  retry:
    attempts: 2
    initial_backoff: 1ms
    max_backoff: 5ms
logging:
  level: debug
%s`, srv.URL+"/login", filepath.Join(t.TempDir(), "missing.onnx"), t.TempDir(), extra)

	path := filepath.Join(t.TempDir(), "obsgrade.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, stdin string, args ...string) *cliRun {
	t.Helper()

	prev := newViewer
	newViewer = func() prompt.Viewer {
		return prompt.ViewerFunc(func(context.Context, string) error { return nil })
	}
	t.Cleanup(func() { newViewer = prev })

	run := &cliRun{}
	root := newRootCmd(strings.NewReader(stdin), &run.stdout, &run.stderr)
	root.SetArgs(args)
	run.err = root.ExecuteContext(context.Background())
	return run
}

func TestLogin_HumanFallback(t *testing.T) {
	srv := portaltest.NewServer(portaltest.ChallengePNG(), "739")
	defer srv.Close()
	cfg := writeTestConfig(t, srv, "")

	run := execute(t, "739\n", "login", "--config", cfg, "--username", "user", "--password", "secret")
	require.NoError(t, run.err, run.stderr.String())

	assert.Equal(t, "Signed in as user (captcha 739, human)\n", run.stdout.String())
	assert.Contains(t, run.stderr.String(), "Captcha code: ")
	assert.NotContains(t, run.stderr.String(), "secret", "passwords are never logged")

	subs := srv.Submissions()
	require.Len(t, subs, 1)
	assert.Equal(t, "739", subs[0].Get("txtCode"))
}

func TestLogin_RetriesAfterRejection(t *testing.T) {
	srv := portaltest.NewServer(portaltest.ChallengePNG(), "739")
	defer srv.Close()
	cfg := writeTestConfig(t, srv, "")

	run := execute(t, "111\n739\n", "login", "--config", cfg, "-u", "user", "-p", "secret")
	require.NoError(t, run.err, run.stderr.String())
	assert.Len(t, srv.Submissions(), 2)
	assert.Contains(t, run.stderr.String(), "Login attempt")
}

func TestLogin_AttemptsExhausted(t *testing.T) {
	srv := portaltest.NewServer(portaltest.ChallengePNG(), "739")
	defer srv.Close()
	cfg := writeTestConfig(t, srv, "")

	run := execute(t, "1\n2\n3\n", "login", "--config", cfg, "-u", "user", "-p", "secret", "--attempts", "3")
	require.Error(t, run.err)
	assert.ErrorIs(t, run.err, governance.ErrMaxAttemptsExceeded)
	assert.ErrorIs(t, run.err, domain.ErrRejected)
	assert.Contains(t, run.err.Error(), "after 3 attempts")
	assert.Len(t, srv.Submissions(), 3)
	assert.Empty(t, run.stdout.String())
}

func TestLogin_FallbackFailureStopsRetrying(t *testing.T) {
	srv := portaltest.NewServer(portaltest.ChallengePNG(), "739")
	defer srv.Close()
	cfg := writeTestConfig(t, srv, "")

	run := execute(t, "", "login", "--config", cfg, "-u", "user", "-p", "secret")
	require.Error(t, run.err)
	assert.ErrorIs(t, run.err, domain.ErrFallbackFailed)
	assert.ErrorIs(t, run.err, prompt.ErrNoInput)
	assert.NotErrorIs(t, run.err, governance.ErrMaxAttemptsExceeded)
	assert.Empty(t, srv.Submissions())
}

func TestLogin_PromptsForCredentials(t *testing.T) {
	srv := portaltest.NewServer(portaltest.ChallengePNG(), "739")
	defer srv.Close()
	cfg := writeTestConfig(t, srv, "")

	run := execute(t, "user\nsecret\n739\n", "login", "--config", cfg)
	require.NoError(t, run.err, run.stderr.String())
	assert.Contains(t, run.stderr.String(), "Username: ")
	assert.Contains(t, run.stderr.String(), "Password: ")
	assert.Contains(t, run.stdout.String(), "Signed in as user")
}

func TestLogin_CredentialsFromEnvironment(t *testing.T) {
	srv := portaltest.NewServer(portaltest.ChallengePNG(), "739")
	defer srv.Close()
	cfg := writeTestConfig(t, srv, "")
	t.Setenv("OBSGRADE_USERNAME", "user")
	t.Setenv("OBSGRADE_PASSWORD", "secret")

	run := execute(t, "739\n", "login", "--config", cfg)
	require.NoError(t, run.err, run.stderr.String())
	assert.NotContains(t, run.stderr.String(), "Username: ")
}

func TestLogin_WritesMetricsFile(t *testing.T) {
	srv := portaltest.NewServer(portaltest.ChallengePNG(), "739")
	defer srv.Close()
	metricsFile := filepath.Join(t.TempDir(), "obsgrade.prom")
	cfg := writeTestConfig(t, srv, fmt.Sprintf("telemetry:\n  metrics_file: %q\n", metricsFile))

	run := execute(t, "739\n", "login", "--config", cfg, "-u", "user", "-p", "secret")
	require.NoError(t, run.err, run.stderr.String())

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `obsgrade_logins_total{outcome="authenticated",source="human"} 1`)
	assert.Contains(t, string(data), `obsgrade_captcha_resolutions_total{reason="model_unavailable",source="human"} 1`)
	assert.Contains(t, string(data), "obsgrade_last_run_timestamp_seconds")
}

func TestLogin_LogLevelFlag(t *testing.T) {
	srv := portaltest.NewServer(portaltest.ChallengePNG(), "739")
	defer srv.Close()
	cfg := writeTestConfig(t, srv, "")

	run := execute(t, "739\n", "login", "--config", cfg, "-u", "user", "-p", "secret", "--log-level", "error")
	require.NoError(t, run.err)
	assert.NotContains(t, run.stderr.String(), "Login attempt")

	run = execute(t, "739\n", "login", "--config", cfg, "-u", "user", "-p", "secret", "--log-level", "chatty")
	assert.ErrorContains(t, run.err, "invalid log level")
}

func TestCollect_RequiresModel(t *testing.T) {
	srv := portaltest.NewServer(portaltest.ChallengePNG(), "739")
	defer srv.Close()
	cfg := writeTestConfig(t, srv, "")

	run := execute(t, "", "collect", "--config", cfg, "--samples", "1")
	assert.ErrorContains(t, run.err, "collect needs the digit model")
	assert.Empty(t, srv.ImageHits())
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("portal:\n  login_url: \"ftp://nowhere\"\n"), 0o600))

	run := execute(t, "", "login", "--config", path, "-u", "user", "-p", "secret")
	assert.ErrorContains(t, run.err, "unsupported scheme")
}

func TestServeMetrics(t *testing.T) {
	a := &app{metrics: metrics.New(), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	a.metrics.RecordSample("processed")

	addr, stop, err := a.serveMetrics("127.0.0.1:0")
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `obsgrade_collect_samples_total{result="processed"} 1`)
}

func TestLogin_NoCodeEntered(t *testing.T) {
	srv := portaltest.NewServer(portaltest.ChallengePNG(), "739")
	defer srv.Close()
	cfg := writeTestConfig(t, srv, "")

	run := execute(t, "", "login", "--config", cfg, "-u", "user", "-p", "secret")
	assert.ErrorContains(t, run.err, "no captcha code was entered")
}

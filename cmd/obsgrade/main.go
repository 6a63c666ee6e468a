// Package main is the entry point for the obsgrade binary.
// It logs in to the student portal, solving the captcha automatically when
// the digit model can, and harvests labelled digit crops for training.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsgrade/obsgrade/pkg/classifier"
	"github.com/obsgrade/obsgrade/pkg/config"
	"github.com/obsgrade/obsgrade/pkg/logging"
	"github.com/obsgrade/obsgrade/pkg/metrics"
	"github.com/obsgrade/obsgrade/pkg/portal"
	"github.com/obsgrade/obsgrade/pkg/prompt"
	"github.com/obsgrade/obsgrade/pkg/telemetry"
	"github.com/obsgrade/obsgrade/pkg/vision"
)

const serviceName = "obsgrade"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// newViewer is replaced in tests so no external program is launched.
var newViewer = func() prompt.Viewer { return prompt.NewSystemViewer() }

func main() {
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "cancelled")
		cancel()
		os.Exit(130)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// signalContext cancels the returned context on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Default().Debug("Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// newRootCmd creates the root command for obsgrade
func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Captcha-solving login client for the student portal",
		Long: `obsgrade signs in to the student portal. The captcha is read by a small
digit classifier; when it cannot read every digit the challenge image is
opened and you type the code yourself.

Example:
  obsgrade login --config obsgrade.yaml --username 20231234
  obsgrade collect --samples 200`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newLoginCmd(), newCollectCmd())
	return rootCmd
}

// app carries what both subcommands share.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	events     *logging.EventLogger
	metrics    *metrics.Metrics
	client     *portal.Client
	segmenter  *vision.Segmenter
	classifier *classifier.DigitClassifier
	shutdown   telemetry.ShutdownFunc
}

// newApp loads configuration and builds the logger, tracer, metrics and the
// recognition pipeline.
func newApp(cmd *cobra.Command) (*app, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Logging.Output == nil {
		cfg.Logging.Output = cmd.ErrOrStderr()
	}

	logger := logging.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	shutdown, err := telemetry.SetupProvider(cmd.Context(), cfg.Telemetry.Trace(serviceName, version))
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	client, err := portal.NewClient(cfg.Portal, portal.WithLogger(logger))
	if err != nil {
		_ = shutdown(context.Background())
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		events:     logging.NewEventLogger(logger),
		metrics:    metrics.New(),
		client:     client,
		segmenter:  vision.NewSegmenter(cfg.Recognition.Segmenter),
		classifier: classifier.Load(cfg.Recognition.Classifier, logger),
		shutdown:   shutdown,
	}, nil
}

// close flushes spans, writes the metrics file and releases the model.
func (a *app) close(ctx context.Context) {
	if err := telemetry.Shutdown(ctx, a.shutdown, 5*time.Second); err != nil {
		a.logger.Warn("Failed to flush traces", "error", err)
	}
	if path := a.cfg.Telemetry.MetricsFile; path != "" {
		if err := a.metrics.WriteTextfile(path); err != nil {
			a.logger.Warn("Failed to write metrics file", "path", path, "error", err)
		}
	}
	if err := a.classifier.Close(); err != nil {
		a.logger.Debug("Failed to release classifier", "error", err)
	}
}

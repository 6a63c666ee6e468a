package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsgrade/obsgrade/pkg/collect"
)

func newCollectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Harvest labelled digit crops from live challenges",
		Long: `Fetch challenges without submitting the login form, segment them and store
every crop the classifier reads as a digit under <dataset-root>/<digit>/.
Review the folders by hand before training on them.`,
		Args: cobra.NoArgs,
		RunE: runCollect,
	}
	cmd.Flags().IntP("samples", "n", 0, "Number of challenges to fetch (overrides collect.samples)")
	cmd.Flags().String("dataset-root", "", "Output directory (overrides collect.dataset_root)")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while collecting (e.g. :9464)")
	return cmd
}

func runCollect(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	cfg := a.cfg.Collect
	if root, _ := cmd.Flags().GetString("dataset-root"); root != "" {
		cfg.DatasetRoot = root
	}
	samples, _ := cmd.Flags().GetInt("samples")

	if !a.classifier.Available() {
		return fmt.Errorf("collect needs the digit model: %s", a.cfg.Recognition.Classifier.ModelPath)
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		_, stop, err := a.serveMetrics(addr)
		if err != nil {
			return err
		}
		defer stop()
	}

	c := collect.New(a.client, a.segmenter, a.classifier, cfg,
		collect.WithEventLogger(a.events),
		collect.WithObserver(a.metrics),
	)
	sum, err := c.Run(cmd.Context(), samples)

	fmt.Fprintf(cmd.OutOrStdout(), "Processed %d of %d challenges, saved %d crops to %s (%d skipped)\n",
		sum.Processed, sum.Attempted, sum.Saved, cfg.DatasetRoot, sum.Skipped)
	return err
}

// serveMetrics exposes /metrics until the returned stop function is called.
// It returns the address actually bound.
func (a *app) serveMetrics(addr string) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server error", "error", err)
		}
	}()
	a.logger.Info("Serving metrics", "addr", ln.Addr().String())

	return ln.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// Package collect harvests labelled digit crops from live challenges to grow
// the classifier's training set.
package collect

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/obsgrade/obsgrade/internal/governance"
	"github.com/obsgrade/obsgrade/pkg/classifier"
	"github.com/obsgrade/obsgrade/pkg/domain"
	"github.com/obsgrade/obsgrade/pkg/logging"
	"github.com/obsgrade/obsgrade/pkg/portal"
	"github.com/obsgrade/obsgrade/pkg/vision"
)

// Skip reasons reported per iteration.
const (
	SkipDownload     = "download_failed"
	SkipDecode       = "decode_failed"
	SkipSegmentation = "segmentation_empty"
	SkipStore        = "store_failed"
	SkipCircuitOpen  = "circuit_open"
)

// Config controls a collection run.
type Config struct {
	DatasetRoot string        `yaml:"dataset_root" validate:"required"`
	Samples     int           `yaml:"samples" validate:"gte=1"`
	Delay       time.Duration `yaml:"delay" validate:"gte=0"`
	TempDir     string        `yaml:"temp_dir"`

	Breaker governance.CircuitBreakerConfig `yaml:"breaker"`
}

// DefaultConfig returns the defaults for a collection run.
func DefaultConfig() Config {
	return Config{
		DatasetRoot: "dataset_digits",
		Samples:     50,
		Delay:       500 * time.Millisecond,
		Breaker:     governance.DefaultCircuitBreakerConfig(),
	}
}

// Summary counts what a run did.
type Summary struct {
	// Attempted iterations, including skipped ones.
	Attempted int
	// Processed iterations that reached classification.
	Processed int
	// Saved crops.
	Saved int
	// Skipped iterations.
	Skipped int
}

// Segmenter finds character regions.
type Segmenter interface {
	Segment(img *image.Gray) ([]domain.Region, error)
}

// Classifier reads one region crop.
type Classifier interface {
	Classify(roi *image.Gray) (domain.Label, error)
}

// Observer receives per-iteration results.
type Observer interface {
	RecordSample(result string)
	RecordCrop(label string)
}

// Option configures a Collector.
type Option func(*Collector)

// WithEventLogger sets the event logger.
func WithEventLogger(events *logging.EventLogger) Option {
	return func(c *Collector) {
		if events != nil {
			c.events = events
		}
	}
}

// WithObserver registers an observer such as the Prometheus metrics set.
func WithObserver(o Observer) Option {
	return func(c *Collector) {
		c.observer = o
	}
}

// WithTracer sets the tracer used for iteration spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Collector) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// Collector fetches challenges without submitting them and stores every
// classified crop under its predicted label.
type Collector struct {
	client     *portal.Client
	segmenter  Segmenter
	classifier Classifier
	cfg        Config
	breaker    *governance.CircuitBreaker
	events     *logging.EventLogger
	observer   Observer
	tracer     trace.Tracer
	sleep      func(context.Context, time.Duration) error
}

// New creates a collector.
func New(client *portal.Client, seg Segmenter, cls Classifier, cfg Config, opts ...Option) *Collector {
	c := &Collector{
		client:     client,
		segmenter:  seg,
		classifier: cls,
		cfg:        cfg,
		breaker:    governance.NewCircuitBreaker(cfg.Breaker),
		events:     logging.NewEventLogger(nil),
		tracer:     otel.Tracer("obsgrade/collect"),
		sleep:      governance.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Prepare creates the dataset root with one directory per digit.
func (c *Collector) Prepare() error {
	for _, label := range classifier.DefaultClasses {
		if err := os.MkdirAll(filepath.Join(c.cfg.DatasetRoot, string(label)), 0o755); err != nil {
			return fmt.Errorf("create dataset directory: %w", err)
		}
	}
	return nil
}

// Run performs up to samples iterations (cfg.Samples when samples <= 0).
// Cancellation ends the run early and returns the summary so far together
// with ctx.Err().
func (c *Collector) Run(ctx context.Context, samples int) (Summary, error) {
	if samples <= 0 {
		samples = c.cfg.Samples
	}
	if err := c.Prepare(); err != nil {
		return Summary{}, err
	}

	sess, err := c.client.NewSession()
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for i := 1; i <= samples; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Attempted++

		parsed, saved, skip := c.iterate(ctx, sess, i, samples)
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		c.events.LogSample(ctx, i, samples, parsed, saved, skip)
		sum.Saved += saved
		if skip != "" {
			sum.Skipped++
			c.observe(skip)
			continue
		}
		sum.Processed++
		c.observe("processed")

		if i < samples {
			if err := c.sleep(ctx, c.cfg.Delay); err != nil {
				return sum, err
			}
		}
	}

	c.events.Logger().Info("Collection finished",
		"processed", sum.Processed,
		"saved", sum.Saved,
		"skipped", sum.Skipped,
	)
	return sum, nil
}

func (c *Collector) iterate(ctx context.Context, sess *portal.Session, i, total int) (string, int, string) {
	ctx, span := c.tracer.Start(ctx, "collect.sample",
		trace.WithAttributes(attribute.Int("collect.iteration", i), attribute.Int("collect.total", total)),
	)
	defer span.End()

	if wait, err := c.breaker.Allow(); err != nil {
		span.SetAttributes(attribute.String("collect.skip", SkipCircuitOpen))
		// Sleep out the cooldown so the next iteration gets a probe.
		_ = c.sleep(ctx, wait)
		return "", 0, SkipCircuitOpen
	}

	challenge, err := sess.FetchChallenge(ctx)
	c.breaker.Record(err)
	if err != nil {
		span.RecordError(err)
		return "", 0, SkipDownload
	}

	img, err := challenge.Save(c.cfg.TempDir)
	if err != nil {
		span.RecordError(err)
		return "", 0, SkipStore
	}
	defer os.Remove(img.Path)

	gray, err := vision.Decode(img.Data)
	if err != nil {
		return "", 0, SkipDecode
	}

	regions, err := c.segmenter.Segment(gray)
	if err != nil || len(regions) == 0 {
		return "", 0, SkipSegmentation
	}
	// The temp file is no longer needed once regions are extracted.
	_ = os.Remove(img.Path)

	var parsed strings.Builder
	saved := 0
	for _, region := range regions {
		roi := vision.CropColumn(gray, region.Rect(), vision.CropPadding)
		label, err := c.classifier.Classify(roi)
		if err != nil || !label.IsDigit() {
			continue
		}
		parsed.WriteString(string(label))

		if err := c.store(roi, label); err != nil {
			c.events.Logger().Warn("Failed to store crop", "label", label, "error", err)
			continue
		}
		saved++
		if c.observer != nil {
			c.observer.RecordCrop(string(label))
		}
	}

	span.SetAttributes(attribute.String("collect.parsed", parsed.String()), attribute.Int("collect.saved", saved))
	return parsed.String(), saved, ""
}

// store writes the 32x32 canvas the classifier sees.
func (c *Collector) store(roi *image.Gray, label domain.Label) error {
	dir := filepath.Join(c.cfg.DatasetRoot, string(label))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + ".png"
	if err := imaging.Save(classifier.Preprocess(roi), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("save crop: %w", err)
	}
	return nil
}

func (c *Collector) observe(result string) {
	if c.observer != nil {
		c.observer.RecordSample(result)
	}
}

// IsCancelled reports whether a Run error only means the run was interrupted.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Package captcha resolves a challenge image into a code, automatically when
// segmentation and classification succeed and through a human otherwise.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/obsgrade/obsgrade/pkg/domain"
	"github.com/obsgrade/obsgrade/pkg/telemetry"
	"github.com/obsgrade/obsgrade/pkg/vision"
)

// Segmenter finds character regions in a grayscale challenge.
type Segmenter interface {
	Segment(img *image.Gray) ([]domain.Region, error)
}

// Classifier reads one region crop.
type Classifier interface {
	Available() bool
	Classify(roi *image.Gray) (domain.Label, error)
}

// ResolutionObserver is told how every challenge was resolved.
type ResolutionObserver interface {
	RecordResolution(source, reason string)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer sets the tracer used for resolution spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Resolver) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// WithAutoSolvePause holds an automatic answer on screen for d before returning it.
func WithAutoSolvePause(d time.Duration) Option {
	return func(r *Resolver) {
		r.pause = d
	}
}

// WithObserver registers an observer such as the Prometheus metrics set.
func WithObserver(o ResolutionObserver) Option {
	return func(r *Resolver) {
		r.observer = o
	}
}

// Resolver orchestrates segmentation and classification and decides between
// the automatic answer and the human fallback.
type Resolver struct {
	segmenter  Segmenter
	classifier Classifier
	logger     *slog.Logger
	tracer     trace.Tracer
	pause      time.Duration
	observer   ResolutionObserver
}

// NewResolver creates a resolver.
func NewResolver(segmenter Segmenter, classifier Classifier, opts ...Option) *Resolver {
	r := &Resolver{
		segmenter:  segmenter,
		classifier: classifier,
		logger:     slog.Default(),
		tracer:     otel.Tracer("obsgrade/captcha"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns a code for img. When the automatic path yields a complete
// code it is returned with SourceAutomatic and fallback is never consulted.
// Otherwise fallback supplies the code and the result carries SourceHuman. The
// only errors returned originate in the fallback channel.
func (r *Resolver) Resolve(ctx context.Context, img domain.ChallengeImage, fallback FallbackChannel) (domain.ResolvedCode, error) {
	ctx, span := r.tracer.Start(ctx, "captcha.resolve")
	defer span.End()
	start := time.Now()

	res := r.Attempt(img)
	if res.Automatic() {
		span.SetAttributes(
			attribute.String("captcha.source", string(domain.SourceAutomatic)),
			attribute.Int("captcha.regions", len(res.Classifications)),
		)
		telemetry.RecordResolution(ctx, telemetry.ResolutionMetrics{
			Source:   string(domain.SourceAutomatic),
			Regions:  len(res.Classifications),
			Duration: time.Since(start),
		})
		r.observe(domain.SourceAutomatic, "")
		r.logger.Info("Captcha solved automatically", "code", res.Code)

		if err := sleep(ctx, r.pause); err != nil {
			return domain.ResolvedCode{}, err
		}
		return domain.ResolvedCode{Code: res.Code, Source: domain.SourceAutomatic}, nil
	}

	span.SetAttributes(
		attribute.String("captcha.source", string(domain.SourceHuman)),
		attribute.String("captcha.fallback_reason", string(res.Fallback.Reason)),
	)
	r.logger.Warn("Automatic recognition failed, manual entry required",
		"reason", res.Fallback.Reason,
		"detail", res.Fallback.Err,
	)

	code, err := fallback.ProvideCode(ctx, img)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fallback failed")
		if ctx.Err() != nil {
			return domain.ResolvedCode{}, ctx.Err()
		}
		return domain.ResolvedCode{}, fmt.Errorf("%w: %w", domain.ErrFallbackFailed, err)
	}

	telemetry.RecordResolution(ctx, telemetry.ResolutionMetrics{
		Source:   string(domain.SourceHuman),
		Reason:   string(res.Fallback.Reason),
		Regions:  len(res.Classifications),
		Duration: time.Since(start),
	})
	r.observe(domain.SourceHuman, res.Fallback.Reason)
	return domain.ResolvedCode{Code: code, Source: domain.SourceHuman}, nil
}

func (r *Resolver) observe(source domain.Source, reason Reason) {
	if r.observer != nil {
		r.observer.RecordResolution(string(source), string(reason))
	}
}

// Attempt runs the automatic path. It never fails: every problem, including a
// panic inside segmentation or inference, becomes a FallbackNeeded value.
func (r *Resolver) Attempt(img domain.ChallengeImage) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			res = fallbackResult(ReasonClassifierFault, fmt.Errorf("%w: panic: %v", domain.ErrClassifierFault, p), res.Classifications)
		}
	}()

	gray, err := vision.Decode(img.Data)
	if err != nil {
		return fallbackResult(ReasonDecodeFailed, err, nil)
	}

	if !r.classifier.Available() {
		return fallbackResult(ReasonModelUnavailable, domain.ErrModelUnavailable, nil)
	}

	regions, err := r.segmenter.Segment(gray)
	if err != nil {
		return fallbackResult(ReasonSegmentationEmpty, err, nil)
	}
	if len(regions) == 0 {
		return fallbackResult(ReasonSegmentationEmpty, domain.ErrSegmentationEmpty, nil)
	}

	return r.classify(gray, regions)
}

func (r *Resolver) classify(gray *image.Gray, regions []domain.Region) Result {
	classes := make([]domain.Classification, 0, len(regions))
	for _, region := range regions {
		roi := vision.CropColumn(gray, region.Rect(), vision.CropPadding)
		label, err := r.classifier.Classify(roi)
		if err != nil {
			return fallbackResult(ReasonClassifierFault, err, classes)
		}
		classes = append(classes, domain.Classification{Label: label, Region: region})
	}
	return codeResult(classes)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsFallbackFailure reports whether err came from the human fallback channel
// rather than from cancellation.
func IsFallbackFailure(err error) bool {
	return errors.Is(err, domain.ErrFallbackFailed)
}

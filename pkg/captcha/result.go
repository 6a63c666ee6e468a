package captcha

import (
	"context"
	"fmt"
	"strings"

	"github.com/obsgrade/obsgrade/pkg/domain"
)

// Reason explains why the automatic path could not produce a code.
type Reason string

const (
	ReasonDecodeFailed      Reason = "decode_failed"
	ReasonSegmentationEmpty Reason = "segmentation_empty"
	ReasonModelUnavailable  Reason = "model_unavailable"
	ReasonLabelUnknown      Reason = "label_unknown"
	ReasonClassifierFault   Reason = "classifier_fault"
)

// FallbackNeeded is the automatic path's explicit "hand over to a human" value.
type FallbackNeeded struct {
	Reason Reason
	Err    error
}

func (f *FallbackNeeded) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("fallback needed (%s): %v", f.Reason, f.Err)
	}
	return fmt.Sprintf("fallback needed (%s)", f.Reason)
}

func (f *FallbackNeeded) Unwrap() error {
	return f.Err
}

// Result is the outcome of the automatic path: either a complete code or a
// FallbackNeeded. Exactly one of Code and Fallback is set.
type Result struct {
	Code            string
	Fallback        *FallbackNeeded
	Classifications []domain.Classification
}

// Automatic reports whether the result holds a usable code.
func (r Result) Automatic() bool {
	return r.Fallback == nil && r.Code != ""
}

func codeResult(classes []domain.Classification) Result {
	var b strings.Builder
	for _, c := range classes {
		if !c.Label.IsDigit() {
			return fallbackResult(ReasonLabelUnknown, fmt.Errorf("region %s read as %q", c.Region, c.Label), classes)
		}
		b.WriteString(string(c.Label))
	}
	if b.Len() == 0 {
		return fallbackResult(ReasonSegmentationEmpty, domain.ErrSegmentationEmpty, classes)
	}
	return Result{Code: b.String(), Classifications: classes}
}

func fallbackResult(reason Reason, err error, classes []domain.Classification) Result {
	return Result{Fallback: &FallbackNeeded{Reason: reason, Err: err}, Classifications: classes}
}

// FallbackChannel obtains a code from a human when automatic recognition fails.
type FallbackChannel interface {
	ProvideCode(ctx context.Context, img domain.ChallengeImage) (string, error)
}

// FallbackFunc adapts a function to FallbackChannel.
type FallbackFunc func(ctx context.Context, img domain.ChallengeImage) (string, error)

// ProvideCode calls f.
func (f FallbackFunc) ProvideCode(ctx context.Context, img domain.ChallengeImage) (string, error) {
	return f(ctx, img)
}

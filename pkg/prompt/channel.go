package prompt

import (
	"context"
	"log/slog"

	"github.com/obsgrade/obsgrade/pkg/domain"
)

// HumanChannel shows the challenge to the operator and reads the code they
// type. The caller's indicator is stopped while the prompt waits.
type HumanChannel struct {
	prompter  *CliPrompter
	viewer    Viewer
	indicator Indicator
	logger    *slog.Logger
	label     string
}

// ChannelOption configures a HumanChannel.
type ChannelOption func(*HumanChannel)

// WithChannelLogger sets the logger. Defaults to slog.Default().
func WithChannelLogger(logger *slog.Logger) ChannelOption {
	return func(h *HumanChannel) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithLabel changes the prompt text.
func WithLabel(label string) ChannelOption {
	return func(h *HumanChannel) {
		if label != "" {
			h.label = label
		}
	}
}

// NewHumanChannel creates a channel. A nil viewer or indicator disables that part.
func NewHumanChannel(p *CliPrompter, viewer Viewer, indicator Indicator, opts ...ChannelOption) *HumanChannel {
	if viewer == nil {
		viewer = ViewerFunc(func(context.Context, string) error { return nil })
	}
	if indicator == nil {
		indicator = NopIndicator{}
	}
	h := &HumanChannel{
		prompter:  p,
		viewer:    viewer,
		indicator: indicator,
		logger:    slog.Default(),
		label:     "Captcha code",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ProvideCode suspends the indicator, opens img in the viewer and reads one
// line. The indicator is restarted exactly once unless ctx was cancelled.
func (h *HumanChannel) ProvideCode(ctx context.Context, img domain.ChallengeImage) (string, error) {
	guard := Suspend(h.indicator)
	defer guard.Release(ctx)

	if img.Path != "" {
		if err := h.viewer.Open(ctx, img.Path); err != nil {
			h.logger.Warn("Could not open challenge viewer, open the file manually",
				"path", img.Path,
				"error", err,
			)
		} else {
			h.logger.Info("Challenge opened", "path", img.Path)
		}
	}

	return h.prompter.Ask(ctx, h.label)
}

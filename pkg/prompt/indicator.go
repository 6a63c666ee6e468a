package prompt

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"
)

// Indicator is a caller-owned progress animation.
type Indicator interface {
	Start()
	Stop()
}

// NopIndicator does nothing.
type NopIndicator struct{}

func (NopIndicator) Start() {}
func (NopIndicator) Stop()  {}

// SpinnerIndicator renders a terminal spinner. It stays silent when the writer
// is not a terminal.
type SpinnerIndicator struct {
	s *spinner.Spinner
}

// NewSpinner creates a stopped spinner writing to out with the given message.
func NewSpinner(out io.Writer, message string) *SpinnerIndicator {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond,
		spinner.WithWriter(out),
		spinner.WithSuffix(" "+message),
	)
	return &SpinnerIndicator{s: s}
}

func (i *SpinnerIndicator) Start() { i.s.Start() }
func (i *SpinnerIndicator) Stop()  { i.s.Stop() }

// Guard holds an indicator stopped for the duration of a blocking prompt.
type Guard struct {
	indicator Indicator
	once      sync.Once
}

// Suspend stops ind and returns a guard that restarts it on Release.
func Suspend(ind Indicator) *Guard {
	if ind == nil {
		ind = NopIndicator{}
	}
	ind.Stop()
	return &Guard{indicator: ind}
}

// Release restarts the indicator. Only the first call has an effect, and the
// indicator stays stopped if ctx has been cancelled.
func (g *Guard) Release(ctx context.Context) {
	g.once.Do(func() {
		if ctx.Err() != nil {
			return
		}
		g.indicator.Start()
	})
}

package prompt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/obsgrade/obsgrade/pkg/domain"
)

type countingIndicator struct {
	mu     sync.Mutex
	starts int
	stops  int
	events []string
}

func (c *countingIndicator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	c.events = append(c.events, "start")
}

func (c *countingIndicator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	c.events = append(c.events, "stop")
}

func (c *countingIndicator) record(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// logEvents records each log line as an indicator event.
type logEvents struct{ ind *countingIndicator }

func (l logEvents) Write(p []byte) (int, error) {
	l.ind.record("log")
	return len(p), nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCliPrompter_Ask(t *testing.T) {
	t.Run("trims the line", func(t *testing.T) {
		out := &bytes.Buffer{}
		p := NewCliPrompter(strings.NewReader("  4821 \r\n"), out)

		got, err := p.Ask(context.Background(), "Captcha code")
		require.NoError(t, err)
		assert.Equal(t, "4821", got)
		assert.Equal(t, "Captcha code: ", out.String())
	})

	t.Run("last line without newline", func(t *testing.T) {
		p := NewCliPrompter(strings.NewReader("739"), io.Discard)
		got, err := p.Ask(context.Background(), "Captcha code")
		require.NoError(t, err)
		assert.Equal(t, "739", got)
	})

	t.Run("empty stream", func(t *testing.T) {
		p := NewCliPrompter(strings.NewReader(""), io.Discard)
		_, err := p.Ask(context.Background(), "Captcha code")
		assert.ErrorIs(t, err, ErrNoInput)
	})

	t.Run("successive lines", func(t *testing.T) {
		p := NewCliPrompter(strings.NewReader("alice\nhunter2\n"), io.Discard)
		user, err := p.Ask(context.Background(), "Username")
		require.NoError(t, err)
		pass, err := p.AskSecret(context.Background(), "Password")
		require.NoError(t, err)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "hunter2", pass)
	})
}

func TestCliPrompter_CancelKeepsPendingRead(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	p := NewCliPrompter(pr, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := p.Ask(ctx, "Captcha code")
	require.ErrorIs(t, err, context.Canceled)

	go func() { _, _ = pw.Write([]byte("123\n")) }()
	got, err := p.Ask(context.Background(), "Captcha code")
	require.NoError(t, err)
	assert.Equal(t, "123", got)
}

func TestCliPrompter_NotInteractiveForBuffers(t *testing.T) {
	assert.False(t, NewCliPrompter(strings.NewReader(""), io.Discard).IsInteractive())
}

func TestGuard_ReleaseRestartsOnce(t *testing.T) {
	ind := &countingIndicator{}
	g := Suspend(ind)
	g.Release(context.Background())
	g.Release(context.Background())

	assert.Equal(t, []string{"stop", "start"}, ind.events)
}

func TestGuard_CancelledLeavesStopped(t *testing.T) {
	ind := &countingIndicator{}
	ctx, cancel := context.WithCancel(context.Background())
	g := Suspend(ind)
	cancel()
	g.Release(ctx)
	g.Release(context.Background())

	assert.Equal(t, 1, ind.stops)
	assert.Zero(t, ind.starts)
}

// Property 7: however many times Release is called, the indicator restarts at most once.
func TestGuardProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ind := &countingIndicator{}
		calls := rapid.IntRange(1, 20).Draw(t, "calls")
		cancelled := rapid.Bool().Draw(t, "cancelled")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if cancelled {
			cancel()
		}

		g := Suspend(ind)
		for range calls {
			g.Release(ctx)
		}

		want := 1
		if cancelled {
			want = 0
		}
		if ind.starts != want || ind.stops != 1 {
			t.Fatalf("starts=%d stops=%d, want starts=%d stops=1", ind.starts, ind.stops, want)
		}
	})
}

func TestSuspend_NilIndicator(t *testing.T) {
	g := Suspend(nil)
	assert.NotPanics(t, func() { g.Release(context.Background()) })
}

func TestHumanChannel_ProvideCode(t *testing.T) {
	ind := &countingIndicator{}
	var opened []string
	viewer := ViewerFunc(func(_ context.Context, path string) error {
		opened = append(opened, path)
		return nil
	})

	ch := NewHumanChannel(NewCliPrompter(strings.NewReader("4821\n"), io.Discard), viewer, ind,
		WithChannelLogger(quiet()),
	)
	code, err := ch.ProvideCode(context.Background(), domain.ChallengeImage{Path: "/tmp/captcha-1.png"})
	require.NoError(t, err)

	assert.Equal(t, "4821", code)
	assert.Equal(t, []string{"/tmp/captcha-1.png"}, opened)
	assert.Equal(t, []string{"stop", "start"}, ind.events)
}

func TestHumanChannel_ViewerFailureIsNotFatal(t *testing.T) {
	ind := &countingIndicator{}
	viewer := ViewerFunc(func(context.Context, string) error { return errors.New("no display") })

	ch := NewHumanChannel(NewCliPrompter(strings.NewReader("12\n"), io.Discard), viewer, ind,
		WithChannelLogger(quiet()),
	)
	code, err := ch.ProvideCode(context.Background(), domain.ChallengeImage{Path: "/tmp/c.png"})
	require.NoError(t, err)
	assert.Equal(t, "12", code)
}

func TestHumanChannel_OutputWaitsForStoppedIndicator(t *testing.T) {
	for name, openErr := range map[string]error{
		"opened": nil,
		"failed": errors.New("no display"),
	} {
		t.Run(name, func(t *testing.T) {
			ind := &countingIndicator{}
			viewer := ViewerFunc(func(context.Context, string) error {
				ind.record("open")
				return openErr
			})
			logger := slog.New(slog.NewTextHandler(logEvents{ind}, nil))

			ch := NewHumanChannel(NewCliPrompter(strings.NewReader("12\n"), io.Discard), viewer, ind,
				WithChannelLogger(logger),
			)
			_, err := ch.ProvideCode(context.Background(), domain.ChallengeImage{Path: "/tmp/c.png"})
			require.NoError(t, err)

			assert.Equal(t, []string{"stop", "open", "log", "start"}, ind.events)
		})
	}
}

func TestHumanChannel_PromptFailureStillRestarts(t *testing.T) {
	ind := &countingIndicator{}
	ch := NewHumanChannel(NewCliPrompter(strings.NewReader(""), io.Discard), nil, ind,
		WithChannelLogger(quiet()),
	)
	_, err := ch.ProvideCode(context.Background(), domain.ChallengeImage{Path: "/tmp/c.png"})
	require.ErrorIs(t, err, ErrNoInput)

	assert.Equal(t, 1, ind.stops)
	assert.Equal(t, 1, ind.starts)
}

func TestHumanChannel_InterruptLeavesIndicatorStopped(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	ind := &countingIndicator{}
	ch := NewHumanChannel(NewCliPrompter(pr, io.Discard), nil, ind, WithChannelLogger(quiet()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := ch.ProvideCode(ctx, domain.ChallengeImage{Path: "/tmp/c.png"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, ind.stops)
	assert.Zero(t, ind.starts)
}

func TestSystemViewer_Command(t *testing.T) {
	tests := []struct {
		goos string
		name string
		args []string
	}{
		{"linux", "xdg-open", []string{"/tmp/c.png"}},
		{"freebsd", "xdg-open", []string{"/tmp/c.png"}},
		{"darwin", "open", []string{"/tmp/c.png"}},
		{"windows", "rundll32", []string{"url.dll,FileProtocolHandler", "/tmp/c.png"}},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			name, args := (&SystemViewer{goos: tt.goos}).Command("/tmp/c.png")
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestSpinnerIndicator_StartStop(t *testing.T) {
	s := NewSpinner(&bytes.Buffer{}, "Connecting")
	assert.NotPanics(t, func() {
		s.Start()
		s.Stop()
		s.Stop()
	})
}

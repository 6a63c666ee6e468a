// Package session drives one login attempt against the portal: fetch the
// challenge, resolve it, submit the form and report the outcome.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/obsgrade/obsgrade/pkg/captcha"
	"github.com/obsgrade/obsgrade/pkg/domain"
	"github.com/obsgrade/obsgrade/pkg/logging"
	"github.com/obsgrade/obsgrade/pkg/portal"
	"github.com/obsgrade/obsgrade/pkg/telemetry"
)

// Resolver turns a challenge into a code.
type Resolver interface {
	Resolve(ctx context.Context, img domain.ChallengeImage, fallback captcha.FallbackChannel) (domain.ResolvedCode, error)
}

// LoginRecorder receives the outcome of every finished attempt.
type LoginRecorder interface {
	RecordLogin(outcome, source string, duration time.Duration)
}

// Result is the terminal report of one Login call.
type Result struct {
	Outcome domain.AuthOutcome
	State   domain.AuthState
	Code    domain.ResolvedCode
	// Cause is set when Outcome is OutcomeTransportError.
	Cause error
	// Session carries the authenticated cookies. Nil unless OK.
	Session *portal.Session
}

// OK reports whether the portal accepted the login.
func (r Result) OK() bool {
	return r.Outcome == domain.OutcomeAuthenticated
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.events = logging.NewEventLogger(logger)
		}
	}
}

// WithTracer sets the tracer used for login spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Authenticator) {
		if tracer != nil {
			a.tracer = tracer
		}
	}
}

// WithTempDir sets where challenge images are written. Empty means os.TempDir().
func WithTempDir(dir string) Option {
	return func(a *Authenticator) {
		a.tempDir = dir
	}
}

// WithRecorder registers a recorder such as the Prometheus metrics set.
func WithRecorder(rec LoginRecorder) Option {
	return func(a *Authenticator) {
		a.recorder = rec
	}
}

// Authenticator runs login attempts. It keeps no state between calls.
type Authenticator struct {
	client   *portal.Client
	resolver Resolver
	tempDir  string
	events   *logging.EventLogger
	tracer   trace.Tracer
	recorder LoginRecorder
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(client *portal.Client, resolver Resolver, opts ...Option) *Authenticator {
	a := &Authenticator{
		client:   client,
		resolver: resolver,
		events:   logging.NewEventLogger(nil),
		tracer:   otel.Tracer("obsgrade/session"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Login performs one attempt with a fresh cookie jar. Rejection and network
// failures are reported through Result; the error is non-nil only when ctx
// is cancelled or the fallback channel fails, and then Result is empty. The
// challenge image file is removed before Login returns.
func (a *Authenticator) Login(ctx context.Context, creds domain.Credentials, fallback captcha.FallbackChannel) (Result, error) {
	if !creds.Valid() {
		return Result{}, domain.ErrInvalidCredentials
	}

	ctx, span := a.tracer.Start(ctx, "session.login",
		trace.WithAttributes(attribute.String("portal.username", creds.Username)),
	)
	defer span.End()

	start := time.Now()
	m := newMachine(creds.Username, span, a.events)

	res, err := a.run(ctx, m, creds, fallback)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login aborted")
		return Result{}, err
	}

	res.State = m.state
	a.finish(ctx, span, creds.Username, res, time.Since(start))
	return res, nil
}

func (a *Authenticator) run(ctx context.Context, m *machine, creds domain.Credentials, fallback captcha.FallbackChannel) (Result, error) {
	sess, err := a.client.NewSession()
	if err != nil {
		m.to(ctx, domain.StateTransportError)
		return transportFailure(err), nil
	}

	challenge, err := sess.FetchChallenge(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		m.to(ctx, domain.StateTransportError)
		return transportFailure(err), nil
	}

	img, err := challenge.Save(a.tempDir)
	if err != nil {
		m.to(ctx, domain.StateTransportError)
		return transportFailure(&domain.TransportError{Op: "store", Err: err}), nil
	}
	defer func() {
		if rmErr := os.Remove(img.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			a.events.Logger().Warn("Failed to remove challenge file", "path", img.Path, "error", rmErr)
		}
	}()
	m.to(ctx, domain.StateChallengeFetched)

	m.to(ctx, domain.StateResolving)
	code, err := a.resolver.Resolve(ctx, img, fallback)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("resolve challenge: %w", err)
	}

	m.to(ctx, domain.StateSubmitted)
	ok, err := sess.Submit(ctx, challenge.Page, creds, code.Code)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		m.to(ctx, domain.StateTransportError)
		res := transportFailure(err)
		res.Code = code
		return res, nil
	}

	if !ok {
		m.to(ctx, domain.StateRejected)
		return Result{Outcome: domain.OutcomeRejected, Code: code}, nil
	}

	m.to(ctx, domain.StateAuthenticated)
	return Result{Outcome: domain.OutcomeAuthenticated, Code: code, Session: sess}, nil
}

func (a *Authenticator) finish(ctx context.Context, span trace.Span, username string, res Result, d time.Duration) {
	source := string(res.Code.Source)

	span.SetAttributes(
		attribute.String("login.outcome", string(res.Outcome)),
		attribute.String("captcha.source", source),
	)
	if res.Cause != nil {
		span.RecordError(res.Cause)
		span.SetStatus(codes.Error, "transport error")
	}

	telemetry.RecordLogin(ctx, telemetry.LoginMetrics{
		Outcome:  string(res.Outcome),
		Source:   source,
		Duration: d,
	})
	if a.recorder != nil {
		a.recorder.RecordLogin(string(res.Outcome), source, d)
	}
	a.events.LogLogin(ctx, username, string(res.Outcome), source, d, res.Cause)
}

func transportFailure(err error) Result {
	return Result{Outcome: domain.OutcomeTransportError, Cause: err}
}

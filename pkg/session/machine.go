package session

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/obsgrade/obsgrade/pkg/domain"
	"github.com/obsgrade/obsgrade/pkg/logging"
	"github.com/obsgrade/obsgrade/pkg/telemetry"
)

var transitions = map[domain.AuthState][]domain.AuthState{
	domain.StateIdle:             {domain.StateChallengeFetched, domain.StateTransportError},
	domain.StateChallengeFetched: {domain.StateResolving},
	domain.StateResolving:        {domain.StateSubmitted},
	domain.StateSubmitted:        {domain.StateAuthenticated, domain.StateRejected, domain.StateTransportError},
}

// CanTransition reports whether the login state machine allows from -> to.
func CanTransition(from, to domain.AuthState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks the state of one Login call and reports every step.
type machine struct {
	state    domain.AuthState
	username string
	span     trace.Span
	events   *logging.EventLogger
}

func newMachine(username string, span trace.Span, events *logging.EventLogger) *machine {
	return &machine{
		state:    domain.StateIdle,
		username: username,
		span:     span,
		events:   events,
	}
}

func (m *machine) to(ctx context.Context, next domain.AuthState) {
	if !CanTransition(m.state, next) {
		panic(fmt.Sprintf("session: illegal transition %s -> %s", m.state, next))
	}
	telemetry.RecordTransition(m.span, string(m.state), string(next))
	m.events.LogTransition(ctx, m.username, string(m.state), string(next))
	m.state = next
}

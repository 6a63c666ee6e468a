package domain

// AuthState is a state of the login state machine.
type AuthState string

const (
	StateIdle             AuthState = "idle"
	StateChallengeFetched AuthState = "challenge_fetched"
	StateResolving        AuthState = "resolving"
	StateSubmitted        AuthState = "submitted"
	StateAuthenticated    AuthState = "authenticated"
	StateRejected         AuthState = "rejected"
	StateTransportError   AuthState = "transport_error"
)

// Terminal reports whether no further transition is possible from the state.
func (s AuthState) Terminal() bool {
	switch s {
	case StateAuthenticated, StateRejected, StateTransportError:
		return true
	default:
		return false
	}
}

// AuthOutcome is the terminal result of one login attempt.
type AuthOutcome string

const (
	OutcomeAuthenticated  AuthOutcome = "authenticated"
	OutcomeRejected       AuthOutcome = "rejected"
	OutcomeTransportError AuthOutcome = "transport_error"
)

// Credentials identify the portal account. Password is never logged.
type Credentials struct {
	Username string
	Password string
}

// Valid reports whether both fields are present.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

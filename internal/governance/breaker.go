package governance

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker refuses a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed indicates calls are allowed.
	StateClosed CircuitBreakerState = "closed"
	// StateOpen indicates calls are refused until the cooldown ends.
	StateOpen CircuitBreakerState = "open"
	// StateHalfOpen allows a single probe after the cooldown.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig defines the consecutive-failure threshold.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit.
	// Zero disables the breaker.
	MaxFailures int `yaml:"max_consecutive_failures" validate:"gte=0"`
	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown time.Duration `yaml:"cooldown" validate:"gte=0"`
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
	}
}

// CircuitBreaker counts consecutive failures of calls to the portal.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     CircuitBreakerState
	config    CircuitBreakerConfig
	failures  int
	openUntil time.Time
	now       func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the provided configuration.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures < 0 {
		config.MaxFailures = 0
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultCircuitBreakerConfig().Cooldown
	}
	return &CircuitBreaker{state: StateClosed, config: config, now: time.Now}
}

// Allow reports whether a call may proceed. When the circuit is open it
// returns ErrCircuitOpen and the remaining cooldown.
func (cb *CircuitBreaker) Allow() (time.Duration, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return 0, nil
	}
	now := cb.now()
	if now.Before(cb.openUntil) {
		return cb.openUntil.Sub(now), ErrCircuitOpen
	}
	cb.state = StateHalfOpen
	return 0, nil
}

// Record reports the result of an allowed call.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.state = StateClosed
		return
	}
	if cb.config.MaxFailures == 0 {
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.config.MaxFailures {
		cb.state = StateOpen
		cb.openUntil = cb.now().Add(cb.config.Cooldown)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

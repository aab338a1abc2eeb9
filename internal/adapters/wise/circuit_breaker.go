package wise

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker
type CircuitState int

const (
	// StateClosed - requests flow normally
	StateClosed CircuitState = iota
	// StateOpen - requests fail immediately
	StateOpen
	// StateHalfOpen - one trial request is allowed through
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the provider while the circuit is open
var ErrCircuitOpen = errors.New("provider circuit breaker is open")

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive counted failures before opening
	MaxFailures uint32
	// Cooldown is how long the circuit stays open before a trial request
	Cooldown time.Duration
	// Counts decides which errors count as provider failures. Client errors
	// such as a rejected quote do not say anything about provider health.
	Counts func(error) bool
	// OnStateChange is called with the new state, outside the lock
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig opens after 5 counted failures for 30 seconds
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures: 5,
		Cooldown:    30 * time.Second,
		Counts:      func(err error) bool { return err != nil },
	}
}

// CircuitBreaker guards calls to the transfer provider
type CircuitBreaker struct {
	mu       sync.Mutex
	now      func() time.Time
	openedAt time.Time
	config   CircuitBreakerConfig
	state    CircuitState
	failures uint32
	probing  bool
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Counts == nil {
		config.Counts = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{config: config, now: time.Now}
}

// Call executes fn if the circuit allows it and records the outcome
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		from := cb.setState(StateHalfOpen)
		cb.probing = true
		cb.mu.Unlock()
		cb.notify(from, StateHalfOpen)
		return nil
	case StateHalfOpen:
		if cb.probing {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	cb.mu.Unlock()
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()

	failed := err != nil && cb.config.Counts(err)
	from, to := cb.state, cb.state

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			break
		}
		cb.failures++
		if cb.failures >= cb.config.MaxFailures {
			to = StateOpen
		}
	case StateHalfOpen:
		cb.probing = false
		if failed {
			to = StateOpen
		} else {
			to = StateClosed
		}
	}

	if to != from {
		cb.setState(to)
	}
	cb.mu.Unlock()

	if to != from {
		cb.notify(from, to)
	}
}

// setState must be called with mu held; returns the previous state
func (cb *CircuitBreaker) setState(to CircuitState) CircuitState {
	from := cb.state
	cb.state = to
	cb.failures = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	return from
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// State returns the current circuit state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

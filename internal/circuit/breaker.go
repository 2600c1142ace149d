// Package circuit protects datafile fetches from a failing CDN.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed lets fetches through
	StateClosed State = iota
	// StateOpen fails fetches fast
	StateOpen
	// StateHalfOpen lets probe fetches through after the cool-down
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
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

// Config holds circuit breaker configuration
type Config struct {
	// Name identifies the protected resource in logs
	Name string

	// MaxFailures is the number of consecutive failures before opening
	MaxFailures int

	// Timeout is how long to stay open before probing
	Timeout time.Duration

	// SuccessThreshold is the number of half-open successes needed to close
	SuccessThreshold int

	// IsFailure classifies errors; nil counts every non-nil error
	IsFailure func(error) bool

	// OnStateChange is called asynchronously when state changes
	OnStateChange func(from, to State)

	Logger *slog.Logger
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		Name:             "datafile",
		MaxFailures:      3,
		Timeout:          30 * time.Second,
		SuccessThreshold: 2,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	mu sync.RWMutex

	name             string
	maxFailures      int
	timeout          time.Duration
	successThreshold int
	isFailure        func(error) bool
	onStateChange    func(from, to State)
	logger           *slog.Logger

	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
	lastStateChange time.Time

	totalRequests   int64
	totalSuccesses  int64
	totalFailures   int64
	totalRejections int64
}

// New creates a new circuit breaker
func New(config Config) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 3
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Breaker{
		name:             config.Name,
		maxFailures:      config.MaxFailures,
		timeout:          config.Timeout,
		successThreshold: config.SuccessThreshold,
		isFailure:        config.IsFailure,
		onStateChange:    config.OnStateChange,
		logger:           config.Logger,
		state:            StateClosed,
		lastStateChange:  time.Now(),
	}
}

// Call executes fn with circuit breaker protection.
// Context cancellation is returned as-is and never counts as a failure.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)

	b.afterCall(ctx, err)

	return err
}

// Allow reports whether a call would currently be let through
func (b *Breaker) Allow() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.state != StateOpen || time.Since(b.lastStateChange) >= b.timeout
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++

	switch b.state {
	case StateClosed, StateHalfOpen:
		return nil

	case StateOpen:
		if time.Since(b.lastStateChange) >= b.timeout {
			b.setState(StateHalfOpen)
			return nil
		}

		b.totalRejections++
		return &OpenError{
			Name:            b.name,
			Failures:        b.failures,
			LastFailureTime: b.lastFailureTime,
			RetryAfter:      b.timeout - time.Since(b.lastStateChange),
		}

	default:
		return fmt.Errorf("unknown circuit breaker state: %d", b.state)
	}
}

func (b *Breaker) afterCall(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case err == nil:
		b.onSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// caller gave up; says nothing about the remote side
	case b.isFailure != nil && !b.isFailure(err):
		b.onSuccess()
	default:
		b.onFailure(err)
	}
}

func (b *Breaker) onSuccess() {
	b.totalSuccesses++
	b.failures = 0

	switch b.state {
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.setState(StateClosed)
			b.successes = 0
		}

	case StateOpen:
		b.setState(StateClosed)
	}
}

func (b *Breaker) onFailure(err error) {
	b.totalFailures++
	b.failures++
	b.lastFailureTime = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.maxFailures {
			b.logger.Warn("circuit opened", "name", b.name, "failures", b.failures, "error", err)
			b.setState(StateOpen)
		}

	case StateHalfOpen:
		// Any failure in half-open reopens the circuit
		b.logger.Warn("circuit reopened", "name", b.name, "error", err)
		b.setState(StateOpen)
		b.successes = 0

	case StateOpen:
		b.lastStateChange = time.Now()
	}
}

// setState must be called with mu held
func (b *Breaker) setState(newState State) {
	oldState := b.state
	if oldState == newState {
		return
	}

	b.state = newState
	b.lastStateChange = time.Now()
	b.logger.Debug("circuit state change", "name", b.name, "from", oldState.String(), "to", newState.String())

	if b.onStateChange != nil {
		go b.onStateChange(oldState, newState)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset closes the circuit, e.g. after a forced refresh succeeded out of band
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.setState(StateClosed)
	b.failures = 0
	b.successes = 0
}

// Stats returns circuit breaker statistics
func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Stats{
		State:           b.state,
		Failures:        b.failures,
		Successes:       b.successes,
		TotalRequests:   b.totalRequests,
		TotalSuccesses:  b.totalSuccesses,
		TotalFailures:   b.totalFailures,
		TotalRejections: b.totalRejections,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	State           State     `json:"-"`
	Failures        int       `json:"failures"`
	Successes       int       `json:"successes"`
	TotalRequests   int64     `json:"total_requests"`
	TotalSuccesses  int64     `json:"total_successes"`
	TotalFailures   int64     `json:"total_failures"`
	TotalRejections int64     `json:"total_rejections"`
	LastFailureTime time.Time `json:"last_failure_time"`
	LastStateChange time.Time `json:"last_state_change"`
}

// OpenError is returned when the circuit rejects a call
type OpenError struct {
	Name            string
	Failures        int
	LastFailureTime time.Time
	RetryAfter      time.Duration
}

// Error implements the error interface
func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open (failures: %d, last failure: %s)",
		e.Name, e.Failures, e.LastFailureTime.Format(time.RFC3339))
}

// IsOpen checks if err is, or wraps, an open circuit error
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}

package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"mindgarden/backend/pkg/logger"
)

// ErrCircuitOpen is returned without calling the wrapped function while the
// breaker is open
var ErrCircuitOpen = errors.New("circuit open")

// CircuitBreakerState is one of closed, open or half-open
type CircuitBreakerState string

const (
	StateClosed   CircuitBreakerState = "closed"
	StateOpen     CircuitBreakerState = "open"
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name string
	// FailureThreshold consecutive failures open a closed breaker
	FailureThreshold uint
	// SuccessThreshold successes in half-open close it again
	SuccessThreshold uint
	// Timeout bounds each call; zero leaves the caller's deadline alone
	Timeout time.Duration
	// RetryTimeout is how long an open breaker rejects calls
	RetryTimeout time.Duration
}

// DefaultCircuitBreakerConfig returns the settings used for upstream
// generation calls
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
		RetryTimeout:     60 * time.Second,
	}
}

// Stats are the counters a breaker keeps over its lifetime
type Stats struct {
	State       CircuitBreakerState
	Calls       uint64
	Failures    uint64
	Successes   uint64
	Opened      uint64
	LastFailure time.Time
}

// CircuitBreaker stops calling an upstream that keeps failing and lets a
// few calls through again once RetryTimeout has passed
type CircuitBreaker struct {
	config CircuitBreakerConfig
	log    *logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     CircuitBreakerState
	failures  uint
	successes uint
	reopenAt  time.Time
	stats     Stats
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(config CircuitBreakerConfig, log *logger.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		log:    log,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute runs fn through the breaker
func (cb *CircuitBreaker) Execute(fn func() error) error {
	return cb.ExecuteContext(context.Background(), func(context.Context) error { return fn() })
}

// ExecuteContext runs fn with a context bounded by the breaker timeout. A
// deadline expiry counts as a failure, a cancelled caller does not.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		cb.log.WithContext(ctx).Warn("Upstream call rejected by open circuit", "name", cb.config.Name)
		return ErrCircuitOpen
	}

	if cb.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.config.Timeout)
		defer cancel()
	}

	started := cb.now()
	err := fn(ctx)
	switch {
	case err == nil:
		cb.succeeded()
	case errors.Is(err, context.Canceled):
		cb.abandoned()
	default:
		cb.failed()
		cb.log.WithContext(ctx).Warn("Upstream call failed",
			"name", cb.config.Name,
			"error", err.Error(),
			"duration", time.Since(started).String(),
		)
	}
	return err
}

// admit counts the call, moving an open breaker to half-open once its
// retry time has come
func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Before(cb.reopenAt) {
			return false
		}
		cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen && cb.successes >= cb.config.SuccessThreshold {
		return false
	}
	cb.stats.Calls++
	return true
}

func (cb *CircuitBreaker) succeeded() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.Successes++
	cb.failures = 0
	if cb.state != StateHalfOpen {
		return
	}
	cb.successes++
	if cb.successes >= cb.config.SuccessThreshold {
		cb.setState(StateClosed)
	}
}

func (cb *CircuitBreaker) failed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.Failures++
	cb.stats.LastFailure = cb.now()
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.setState(StateOpen)
	}
}

// abandoned releases a half-open slot taken by a caller that went away
func (cb *CircuitBreaker) abandoned() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.stats.Calls--
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(state CircuitBreakerState) {
	cb.state = state
	cb.successes = 0
	switch state {
	case StateOpen:
		cb.stats.Opened++
		cb.reopenAt = cb.now().Add(cb.config.RetryTimeout)
		cb.log.Info("Circuit opened",
			"name", cb.config.Name,
			"failures", cb.failures,
			"retry_at", cb.reopenAt.Format(time.RFC3339),
		)
	case StateClosed:
		cb.failures = 0
		cb.log.Info("Circuit closed", "name", cb.config.Name)
	default:
		cb.log.Info("Circuit half-open", "name", cb.config.Name)
	}
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker's counters
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.State = cb.state
	return s
}

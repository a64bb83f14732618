package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/localmind/localmind/pkg/errors"
	"github.com/localmind/localmind/pkg/logging"
	"github.com/localmind/localmind/pkg/metrics"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, limited probe requests are allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive failures in the
	// closed state that opens the circuit
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in the
	// half-open state that closes the circuit
	SuccessThreshold int
	// OpenDuration is the period of the open state, after which the
	// state becomes half-open
	OpenDuration time.Duration
	// HalfOpenMaxCalls is the maximum number of probe calls allowed to
	// be in flight concurrently while the circuit is half-open
	HalfOpenMaxCalls int
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// Counts holds a point-in-time copy of the breaker's counters
type Counts struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	HalfOpenCalls        int
}

// CircuitBreaker is a state machine that stops invoking a failing
// dependency for a cooldown period.
//
// The check-then-transition-then-record sequence runs under a single
// mutex; only the guarded operation itself executes outside of it. A
// half-open probe slot is reserved before the lock is released and
// settled when the outcome is recorded, so a slow probe can never cause
// over-admission.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	openDuration     time.Duration
	halfOpenMaxCalls int
	onStateChange    func(name string, from CircuitState, to CircuitState)

	mutex          sync.Mutex
	state          CircuitState
	generation     uint64
	counts         Counts
	lastTransition time.Time

	// now is the clock source, replaceable in tests
	now func() time.Time

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		openDuration:     config.OpenDuration,
		halfOpenMaxCalls: config.HalfOpenMaxCalls,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		now:              time.Now,
		logger:           logging.GetLogger(),
	}

	if cb.failureThreshold <= 0 {
		cb.failureThreshold = 3
	}
	if cb.successThreshold <= 0 {
		cb.successThreshold = 1
	}
	if cb.openDuration <= 0 {
		cb.openDuration = 60 * time.Second
	}
	if cb.halfOpenMaxCalls <= 0 {
		cb.halfOpenMaxCalls = 1
	}

	cb.lastTransition = cb.now()
	return cb
}

// SetMetrics attaches a metrics sink for transition/rejection counters
func (cb *CircuitBreaker) SetMetrics(m *metrics.Metrics) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.metrics = m
}

// Execute runs the given request if the circuit breaker accepts it
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	generation, err := cb.beforeRequest()
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(generation, false)
			panic(r)
		}
	}()

	result, err := req(ctx)
	cb.afterRequest(generation, err == nil)
	return result, err
}

// Call is a convenience method that wraps Execute for functions that don't need context
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	state, _ := cb.currentState(cb.now())
	return state
}

// PeekState reports the effective state without applying the
// time-based transition, for read-only surfaces such as health
// snapshots. An elapsed open period is reported as HALF_OPEN even
// though the transition itself happens on the next admitted call.
func (cb *CircuitBreaker) PeekState() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastTransition) >= cb.openDuration {
		return StateHalfOpen
	}
	return cb.state
}

// Reconfigure replaces the breaker's thresholds and callbacks in place.
// Live state, counters, and the cooldown clock are kept, so replacing
// the configuration of an OPEN breaker does not mask an outage.
func (cb *CircuitBreaker) Reconfigure(config CircuitBreakerConfig) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if config.FailureThreshold > 0 {
		cb.failureThreshold = config.FailureThreshold
	}
	if config.SuccessThreshold > 0 {
		cb.successThreshold = config.SuccessThreshold
	}
	if config.OpenDuration > 0 {
		cb.openDuration = config.OpenDuration
	}
	if config.HalfOpenMaxCalls > 0 {
		cb.halfOpenMaxCalls = config.HalfOpenMaxCalls
	}
	if config.OnStateChange != nil {
		cb.onStateChange = config.OnStateChange
	}
}

// Counts returns a copy of the current counts
func (cb *CircuitBreaker) Counts() Counts {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.counts
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// LastTransition returns the time of the most recent state transition
func (cb *CircuitBreaker) LastTransition() time.Time {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.lastTransition
}

// beforeRequest admits or rejects the call, reserving a half-open probe
// slot when applicable. It returns the generation the reservation was
// made under so the outcome can be discarded if the state has moved on.
func (cb *CircuitBreaker) beforeRequest() (uint64, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	state, generation := cb.currentState(now)

	switch state {
	case StateOpen:
		if cb.metrics != nil {
			cb.metrics.RecordBreakerRejection(cb.name)
		}
		return generation, errors.NewCircuitOpenError(cb.name)
	case StateHalfOpen:
		if cb.counts.HalfOpenCalls >= cb.halfOpenMaxCalls {
			if cb.metrics != nil {
				cb.metrics.RecordBreakerRejection(cb.name)
			}
			return generation, errors.NewCircuitOpenError(cb.name)
		}
		cb.counts.HalfOpenCalls++
	case StateClosed:
		// Admitted without reservation
	default:
		panic(fmt.Sprintf("circuit breaker %q in impossible state %d", cb.name, state))
	}

	return generation, nil
}

// afterRequest applies the outcome of an admitted call. Outcomes from a
// previous generation are dropped: the state that admitted them no
// longer exists and its counters were already reset.
func (cb *CircuitBreaker) afterRequest(before uint64, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := cb.now()
	state, generation := cb.currentState(now)
	if generation != before {
		return
	}

	// Settle the probe slot reserved in beforeRequest
	if state == StateHalfOpen && cb.counts.HalfOpenCalls > 0 {
		cb.counts.HalfOpenCalls--
	}

	if success {
		cb.onSuccess(state, now)
	} else {
		cb.onFailure(state, now)
	}
}

func (cb *CircuitBreaker) onSuccess(state CircuitState, now time.Time) {
	cb.counts.ConsecutiveSuccesses++
	cb.counts.ConsecutiveFailures = 0

	if state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.successThreshold {
		cb.setState(StateClosed, now)
	}
}

func (cb *CircuitBreaker) onFailure(state CircuitState, now time.Time) {
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	if state == StateClosed {
		if cb.counts.ConsecutiveFailures >= cb.failureThreshold {
			cb.setState(StateOpen, now)
		}
	} else if state == StateHalfOpen {
		// A single failed probe reopens the circuit, no partial credit
		cb.setState(StateOpen, now)
	}
}

// currentState applies the time-based OPEN -> HALF_OPEN transition
// before reporting the state. Must be called with the mutex held.
func (cb *CircuitBreaker) currentState(now time.Time) (CircuitState, uint64) {
	if cb.state == StateOpen && now.Sub(cb.lastTransition) >= cb.openDuration {
		cb.setState(StateHalfOpen, now)
	}
	return cb.state, cb.generation
}

// setState transitions the breaker, resetting all counters. Must be
// called with the mutex held.
func (cb *CircuitBreaker) setState(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.generation++
	cb.counts = Counts{}
	cb.lastTransition = now

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	if cb.metrics != nil {
		cb.metrics.RecordBreakerTransition(cb.name, prev.String(), state.String(), int(state))
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
	)
}

package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/localmind/localmind/pkg/errors"
)

// fakeClock lets tests advance breaker time without sleeping
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreaker(config CircuitBreakerConfig, clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreaker(config)
	cb.now = clock.Now
	cb.lastTransition = clock.Now()
	return cb
}

func failOp(ctx context.Context) (interface{}, error) {
	return nil, errors.New("dependency down")
}

func okOp(ctx context.Context) (interface{}, error) {
	return "ok", nil
}

func TestCircuitBreaker_DefaultBehavior(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenDuration:     time.Minute,
		HalfOpenMaxCalls: 1,
	})

	// Initially closed
	assert.Equal(t, StateClosed, cb.State())

	// Successful requests should keep it closed
	for i := 0; i < 5; i++ {
		result, err := cb.Execute(context.Background(), okOp)
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, StateClosed, cb.State())
	}
}

func TestCircuitBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenDuration:     time.Minute,
		HalfOpenMaxCalls: 1,
	}, clock)

	// Two failures are not enough
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(context.Background(), failOp)
		require.Error(t, err)
		assert.Equal(t, StateClosed, cb.State())
	}

	// A success resets the failure count
	_, err := cb.Execute(context.Background(), okOp)
	require.NoError(t, err)

	// Three consecutive failures trip the breaker
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(context.Background(), failOp)
		require.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Calls are rejected without invoking the operation
	invoked := false
	_, err = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		invoked = true
		return nil, nil
	})
	require.Error(t, err)
	assert.False(t, invoked)
	assert.True(t, apperrors.IsCircuitOpen(err))
}

func TestCircuitBreaker_OpenDurationBoundary(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 3,
		SuccessThreshold: 1,
		OpenDuration:     60 * time.Second,
		HalfOpenMaxCalls: 1,
	}, clock)

	for i := 0; i < 3; i++ {
		cb.Execute(context.Background(), failOp)
	}
	require.Equal(t, StateOpen, cb.State())

	// At 59s the breaker still rejects
	clock.Advance(59 * time.Second)
	_, err := cb.Execute(context.Background(), okOp)
	require.Error(t, err)
	assert.True(t, apperrors.IsCircuitOpen(err))

	// At 61s the call is admitted, transitioning through half-open
	clock.Advance(2 * time.Second)
	result, err := cb.Execute(context.Background(), okOp)
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenSuccessThreshold(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 2,
		SuccessThreshold: 2,
		OpenDuration:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}, clock)

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), failOp)
	}
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(31 * time.Second)

	// First probe succeeds but is below the close threshold
	_, err := cb.Execute(context.Background(), okOp)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())

	// Second success closes the circuit
	_, err = cb.Execute(context.Background(), okOp)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 2,
		SuccessThreshold: 3,
		OpenDuration:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}, clock)

	for i := 0; i < 2; i++ {
		cb.Execute(context.Background(), failOp)
	}
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(31 * time.Second)

	// Two successes, still below the close threshold of three
	cb.Execute(context.Background(), okOp)
	cb.Execute(context.Background(), okOp)
	assert.Equal(t, StateHalfOpen, cb.State())

	// A single failure discards the accumulated successes
	_, err := cb.Execute(context.Background(), failOp)
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_HalfOpenProbeLimit(t *testing.T) {
	clock := newFakeClock()
	cb := newTestBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenDuration:     10 * time.Second,
		HalfOpenMaxCalls: 1,
	}, clock)

	cb.Execute(context.Background(), failOp)
	require.Equal(t, StateOpen, cb.State())
	clock.Advance(11 * time.Second)

	// Hold one probe in flight, then attempt a second concurrently
	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			close(probeStarted)
			<-release
			return "ok", nil
		})
		done <- err
	}()

	<-probeStarted

	// The only probe slot is taken, the second call is rejected
	_, err := cb.Execute(context.Background(), okOp)
	require.Error(t, err)
	assert.True(t, apperrors.IsCircuitOpen(err))

	close(release)
	require.NoError(t, <-done)

	// The slot was settled on completion, a new probe is admitted
	_, err = cb.Execute(context.Background(), okOp)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	cb := newTestBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		OpenDuration:     time.Second,
		HalfOpenMaxCalls: 1,
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	}, clock)

	cb.Execute(context.Background(), failOp)
	clock.Advance(2 * time.Second)
	cb.Execute(context.Background(), okOp)

	assert.Equal(t, []string{
		"CLOSED->OPEN",
		"OPEN->HALF_OPEN",
		"HALF_OPEN->CLOSED",
	}, transitions)
}

func TestCircuitBreaker_ConcurrentClosedCalls(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-cb",
		FailureThreshold: 100,
		SuccessThreshold: 1,
		OpenDuration:     time.Minute,
		HalfOpenMaxCalls: 1,
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				cb.Execute(context.Background(), okOp)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Counts().ConsecutiveFailures)
}

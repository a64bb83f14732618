package degradation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localmind/localmind/internal/memory"
	apperrors "github.com/localmind/localmind/pkg/errors"
	"github.com/localmind/localmind/pkg/resilience"
)

type stubModes struct {
	mode memory.Mode
}

func (s *stubModes) Mode() memory.Mode                    { return s.mode }
func (s *stubModes) AllowsMode(required memory.Mode) bool { return s.mode.Allows(required) }

func defaultBreakerConfig() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenDuration:     time.Minute,
		HalfOpenMaxCalls: 1,
	}
}

func newTestController(modes ModeSource) *Controller {
	return NewController(modes, defaultBreakerConfig(), nil, nil)
}

func failingOp(ctx context.Context) (interface{}, error) {
	return nil, errors.New("provider down")
}

func TestController_CallGuarded(t *testing.T) {
	c := newTestController(&stubModes{mode: memory.ModeFull})
	c.RegisterBreaker("mail-provider", resilience.CircuitBreakerConfig{})

	result, err := c.CallGuarded(context.Background(), "mail-provider", func(ctx context.Context) (interface{}, error) {
		return "inbox", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "inbox", result)
}

func TestController_CallGuardedUnknownDependency(t *testing.T) {
	c := newTestController(&stubModes{mode: memory.ModeFull})

	invoked := false
	_, err := c.CallGuarded(context.Background(), "never-registered", func(ctx context.Context) (interface{}, error) {
		invoked = true
		return nil, nil
	})
	require.Error(t, err)
	assert.False(t, invoked)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNotFound))
	assert.Equal(t, "UNKNOWN_DEPENDENCY", apperrors.GetCode(err))
}

func TestController_CallGuardedTripsBreaker(t *testing.T) {
	c := newTestController(&stubModes{mode: memory.ModeFull})
	c.RegisterBreaker("mail-provider", resilience.CircuitBreakerConfig{FailureThreshold: 2})

	for i := 0; i < 2; i++ {
		_, err := c.CallGuarded(context.Background(), "mail-provider", failingOp)
		require.Error(t, err)
	}

	_, err := c.CallGuarded(context.Background(), "mail-provider", failingOp)
	require.Error(t, err)
	assert.True(t, apperrors.IsCircuitOpen(err))
}

func TestController_RegisterBreakerIdempotent(t *testing.T) {
	c := newTestController(&stubModes{mode: memory.ModeFull})
	cb := c.RegisterBreaker("mail-provider", resilience.CircuitBreakerConfig{FailureThreshold: 1})

	// Trip the breaker
	_, err := c.CallGuarded(context.Background(), "mail-provider", failingOp)
	require.Error(t, err)
	require.Equal(t, resilience.StateOpen, cb.State())

	// Re-registering replaces configuration but keeps the live
	// breaker and its cooldown clock
	again := c.RegisterBreaker("mail-provider", resilience.CircuitBreakerConfig{FailureThreshold: 5})
	assert.Same(t, cb, again)
	assert.Equal(t, resilience.StateOpen, again.State())
}

func TestController_CapabilityAvailable(t *testing.T) {
	modes := &stubModes{mode: memory.ModeFull}
	c := newTestController(modes)
	c.RegisterBreaker("mail-provider", resilience.CircuitBreakerConfig{FailureThreshold: 1})
	c.RegisterCapability(Capability{
		Name:             "mail-sync",
		RequiredBreakers: []string{"mail-provider"},
		MinMode:          memory.ModeLite,
	})

	assert.True(t, c.CapabilityAvailable("mail-sync"))

	// Open breaker makes the capability unavailable
	c.CallGuarded(context.Background(), "mail-provider", failingOp)
	assert.False(t, c.CapabilityAvailable("mail-sync"))
}

func TestController_CapabilityRespectsMode(t *testing.T) {
	modes := &stubModes{mode: memory.ModeFull}
	c := newTestController(modes)
	c.RegisterBreaker("mail-provider", resilience.CircuitBreakerConfig{})
	c.RegisterCapability(Capability{
		Name:             "summarization",
		RequiredBreakers: []string{"mail-provider"},
		MinMode:          memory.ModeFull,
	})

	assert.True(t, c.CapabilityAvailable("summarization"))

	modes.mode = memory.ModeLite
	assert.False(t, c.CapabilityAvailable("summarization"))
}

func TestController_CapabilityUnknownOrMissingBreaker(t *testing.T) {
	c := newTestController(&stubModes{mode: memory.ModeFull})

	assert.False(t, c.CapabilityAvailable("never-registered"))

	c.RegisterCapability(Capability{
		Name:             "calendar-sync",
		RequiredBreakers: []string{"calendar-provider"},
		MinMode:          memory.ModeMinimal,
	})
	assert.False(t, c.CapabilityAvailable("calendar-sync"), "capability requiring an unregistered breaker is unavailable")
}

func TestController_Snapshot(t *testing.T) {
	modes := &stubModes{mode: memory.ModeLite}
	c := newTestController(modes)
	mail := c.RegisterBreaker("mail-provider", resilience.CircuitBreakerConfig{FailureThreshold: 1})
	c.RegisterBreaker("calendar-provider", resilience.CircuitBreakerConfig{})
	c.RegisterCapability(Capability{
		Name:             "mail-sync",
		RequiredBreakers: []string{"mail-provider"},
		MinMode:          memory.ModeLite,
	})
	c.RegisterCapability(Capability{
		Name:             "summarization",
		RequiredBreakers: []string{"mail-provider"},
		MinMode:          memory.ModeFull,
	})

	c.CallGuarded(context.Background(), "mail-provider", failingOp)
	require.Equal(t, resilience.StateOpen, mail.State())

	health := c.Snapshot()
	assert.Equal(t, "LITE", health.Mode)
	assert.Equal(t, "OPEN", health.Breakers["mail-provider"])
	assert.Equal(t, "CLOSED", health.Breakers["calendar-provider"])
	assert.False(t, health.Capabilities["mail-sync"])
	assert.False(t, health.Capabilities["summarization"])
	assert.False(t, health.Timestamp.IsZero())
}

func TestController_SnapshotIsPureRead(t *testing.T) {
	c := newTestController(&stubModes{mode: memory.ModeFull})
	cb := c.RegisterBreaker("mail-provider", resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		OpenDuration:     time.Nanosecond,
	})

	c.CallGuarded(context.Background(), "mail-provider", failingOp)
	transitionAt := cb.LastTransition()
	time.Sleep(time.Millisecond)

	// The open period has elapsed, so the snapshot reports HALF_OPEN,
	// but reading it must not perform the transition itself
	health := c.Snapshot()
	assert.Equal(t, "HALF_OPEN", health.Breakers["mail-provider"])
	assert.Equal(t, transitionAt, cb.LastTransition())
}

func TestController_BreakerLookup(t *testing.T) {
	c := newTestController(&stubModes{mode: memory.ModeFull})
	registered := c.RegisterBreaker("mail-provider", resilience.CircuitBreakerConfig{})

	found, ok := c.Breaker("mail-provider")
	require.True(t, ok)
	assert.Same(t, registered, found)

	_, ok = c.Breaker("missing")
	assert.False(t, ok)
}

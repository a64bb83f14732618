// Package degradation composes circuit breaker and memory pressure
// signals into one system-health view and decides which capabilities
// remain available.
package degradation

import (
	"context"
	"sync"
	"time"

	"github.com/localmind/localmind/internal/memory"
	"github.com/localmind/localmind/pkg/errors"
	"github.com/localmind/localmind/pkg/logging"
	"github.com/localmind/localmind/pkg/metrics"
	"github.com/localmind/localmind/pkg/resilience"
)

// Capability declares the static requirements of a named feature: the
// breakers that must not be open and the minimum memory mode it needs.
type Capability struct {
	Name             string      `json:"name"`
	RequiredBreakers []string    `json:"required_breakers"`
	MinMode          memory.Mode `json:"min_mode"`
}

// SystemHealth is a point-in-time aggregate consumed by the status
// surface. It is recomputed on every query, never cached.
type SystemHealth struct {
	Mode         string            `json:"mode"`
	Capabilities map[string]bool   `json:"capabilities"`
	Breakers     map[string]string `json:"breakers"`
	Timestamp    time.Time         `json:"timestamp"`
}

// ModeSource exposes the current memory mode. Satisfied by
// memory.Controller.
type ModeSource interface {
	Mode() memory.Mode
	AllowsMode(required memory.Mode) bool
}

// Controller owns the registry of named circuit breakers and the
// capability requirements declared against them.
type Controller struct {
	mu           sync.RWMutex
	breakers     map[string]*resilience.CircuitBreaker
	capabilities map[string]Capability

	modes    ModeSource
	alerts   *resilience.AlertManager
	logger   *logging.Logger
	metrics  *metrics.Metrics
	defaults resilience.CircuitBreakerConfig
}

// NewController creates a controller with no registered breakers.
// defaults fill in unset fields of per-breaker configurations; alerts
// and m may be nil.
func NewController(modes ModeSource, defaults resilience.CircuitBreakerConfig, alerts *resilience.AlertManager, m *metrics.Metrics) *Controller {
	return &Controller{
		breakers:     make(map[string]*resilience.CircuitBreaker),
		capabilities: make(map[string]Capability),
		modes:        modes,
		alerts:       alerts,
		logger:       logging.GetLogger(),
		metrics:      m,
		defaults:     defaults,
	}
}

// RegisterBreaker creates (or reconfigures) the breaker guarding the
// named dependency. Registration is idempotent by name: re-registering
// replaces the configuration but keeps the live breaker, so an OPEN
// breaker's cooldown clock is not reset by a config reload.
func (c *Controller) RegisterBreaker(name string, config resilience.CircuitBreakerConfig) *resilience.CircuitBreaker {
	config.Name = name
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = c.defaults.FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = c.defaults.SuccessThreshold
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = c.defaults.OpenDuration
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = c.defaults.HalfOpenMaxCalls
	}
	if config.OnStateChange == nil {
		config.OnStateChange = c.onBreakerStateChange
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.breakers[name]; ok {
		existing.Reconfigure(config)
		c.logger.Info("Circuit breaker reconfigured", "name", name)
		return existing
	}

	cb := resilience.NewCircuitBreaker(config)
	if c.metrics != nil {
		cb.SetMetrics(c.metrics)
	}
	c.breakers[name] = cb
	c.logger.Info("Circuit breaker registered",
		"name", name,
		"failure_threshold", config.FailureThreshold,
		"open_duration", config.OpenDuration,
	)
	return cb
}

// RegisterCapability declares a capability's static requirements.
// Later registrations with the same name replace earlier ones.
func (c *Controller) RegisterCapability(capability Capability) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capabilities[capability.Name] = capability
}

// Breaker returns the breaker registered under name, if any
func (c *Controller) Breaker(name string) (*resilience.CircuitBreaker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cb, ok := c.breakers[name]
	return cb, ok
}

// Capability returns the capability registered under name, if any
func (c *Controller) Capability(name string) (Capability, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	capability, ok := c.capabilities[name]
	return capability, ok
}

// CallGuarded invokes operation through the breaker registered under
// name. Calling an unregistered name is a programming error surfaced
// as a typed failure rather than a panic, since dependency sets are
// wired from configuration.
func (c *Controller) CallGuarded(ctx context.Context, name string, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	c.mu.RLock()
	cb, ok := c.breakers[name]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.NewUnknownDependencyError(name)
	}

	start := time.Now()
	result, err := cb.Execute(ctx, operation)

	if c.metrics != nil {
		status := "success"
		switch {
		case errors.IsCircuitOpen(err):
			status = "rejected"
		case err != nil:
			status = "failure"
		}
		c.metrics.RecordGuardedCall(name, status, time.Since(start))
	}

	return result, err
}

// CapabilityAvailable reports whether the named capability may run:
// every required breaker must be registered and not OPEN, and the
// memory mode must satisfy the capability's minimum. Unknown
// capability names are reported unavailable.
func (c *Controller) CapabilityAvailable(name string) bool {
	c.mu.RLock()
	capability, ok := c.capabilities[name]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return c.capabilityAvailable(capability)
}

func (c *Controller) capabilityAvailable(capability Capability) bool {
	if !c.modes.AllowsMode(capability.MinMode) {
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, breakerName := range capability.RequiredBreakers {
		cb, ok := c.breakers[breakerName]
		if !ok {
			return false
		}
		if cb.PeekState() == resilience.StateOpen {
			return false
		}
	}
	return true
}

// Snapshot returns the aggregate health view. It is a pure read:
// breaker states are peeked, not transitioned, and no controller state
// is mutated.
func (c *Controller) Snapshot() SystemHealth {
	c.mu.RLock()
	breakers := make(map[string]*resilience.CircuitBreaker, len(c.breakers))
	for name, cb := range c.breakers {
		breakers[name] = cb
	}
	capabilities := make([]Capability, 0, len(c.capabilities))
	for _, capability := range c.capabilities {
		capabilities = append(capabilities, capability)
	}
	c.mu.RUnlock()

	health := SystemHealth{
		Mode:         c.modes.Mode().String(),
		Capabilities: make(map[string]bool, len(capabilities)),
		Breakers:     make(map[string]string, len(breakers)),
		Timestamp:    time.Now(),
	}
	for name, cb := range breakers {
		health.Breakers[name] = cb.PeekState().String()
	}
	for _, capability := range capabilities {
		health.Capabilities[capability.Name] = c.capabilityAvailable(capability)
	}
	return health
}

// onBreakerStateChange is the default transition hook wired into every
// registered breaker
func (c *Controller) onBreakerStateChange(name string, from, to resilience.CircuitState) {
	if c.alerts == nil {
		return
	}
	if err := c.alerts.SendAlert(context.Background(), resilience.BreakerAlert(name, from, to)); err != nil {
		c.logger.WithError(err).Warn("Breaker transition alert not delivered")
	}
}

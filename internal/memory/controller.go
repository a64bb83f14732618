package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/localmind/localmind/pkg/config"
	"github.com/localmind/localmind/pkg/logging"
	"github.com/localmind/localmind/pkg/metrics"
)

// PressureObserver is notified synchronously after a mode transition.
// Observers must not block for long and must not call back into the
// controller; panics are recovered and logged, never propagated.
type PressureObserver func(oldMode, newMode Mode)

// Controller turns raw memory samples into an operating mode with
// hysteresis, and fans mode transitions out to registered observers.
type Controller struct {
	mu         sync.Mutex
	mode       Mode
	lastSample *Sample
	observers  []PressureObserver

	monitor Monitor
	cfg     config.MemoryConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewController creates a controller starting in FULL mode. The metrics
// registry may be nil.
func NewController(monitor Monitor, cfg config.MemoryConfig, m *metrics.Metrics) *Controller {
	return &Controller{
		mode:     ModeFull,
		monitor:  monitor,
		cfg:      cfg,
		logger:   logging.GetLogger(),
		metrics:  m,
		stopChan: make(chan struct{}),
	}
}

// Start launches the background sampling loop. It returns immediately;
// the loop stops when ctx is cancelled or Stop is called.
func (c *Controller) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.cfg.SampleInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			case <-ticker.C:
				if _, err := c.SampleNow(); err != nil {
					c.logger.WithError(err).Warn("Memory sample failed, holding mode")
				}
			}
		}
	}()
	c.logger.Info("Memory controller started", "sample_interval", c.cfg.SampleInterval)
}

// Stop terminates the background sampling loop
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
}

// SampleNow takes one sample and applies it immediately. On a sampling
// failure the previous mode is held and the error returned.
func (c *Controller) SampleNow() (Sample, error) {
	sample, err := c.monitor.Sample()
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordSamplingError()
		}
		return Sample{}, err
	}

	c.apply(sample)
	return sample, nil
}

func (c *Controller) apply(sample Sample) {
	pressure := sample.Pressure()

	c.mu.Lock()
	c.lastSample = &sample
	oldMode := c.mode
	newMode := c.candidateMode(oldMode, pressure)
	c.mode = newMode
	var observers []PressureObserver
	if newMode != oldMode {
		observers = make([]PressureObserver, len(c.observers))
		copy(observers, c.observers)
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.UpdateMemorySample(sample.UsedBytes, sample.AvailableBytes, pressure)
	}

	if newMode == oldMode {
		return
	}

	c.logger.LogStateChange(context.Background(), "memory-controller", oldMode.String(), newMode.String(), map[string]interface{}{
		"pressure":        fmt.Sprintf("%.3f", pressure),
		"used_bytes":      sample.UsedBytes,
		"available_bytes": sample.AvailableBytes,
	})
	if c.metrics != nil {
		c.metrics.RecordModeChange(oldMode.String(), newMode.String(), int(newMode))
	}

	for i, observer := range observers {
		c.notify(i, observer, oldMode, newMode)
	}
}

// notify isolates observer faults from the sampling path
func (c *Controller) notify(index int, observer PressureObserver, oldMode, newMode Mode) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Pressure observer panicked",
				"observer_index", index,
				"panic", fmt.Sprintf("%v", r),
				"old_mode", oldMode.String(),
				"new_mode", newMode.String(),
			)
			if c.metrics != nil {
				c.metrics.RecordObserverFailure(fmt.Sprintf("observer-%d", index))
			}
		}
	}()
	observer(oldMode, newMode)
}

// candidateMode applies the hysteresis rule: each boundary has an enter
// threshold and a lower exit threshold, and a single sample may cross
// both bands when physical memory drops sharply. Caller holds c.mu.
func (c *Controller) candidateMode(current Mode, pressure float64) Mode {
	switch current {
	case ModeFull:
		if pressure >= c.cfg.MinimalEnter {
			return ModeMinimal
		}
		if pressure >= c.cfg.LiteEnter {
			return ModeLite
		}
		return ModeFull
	case ModeLite:
		if pressure >= c.cfg.MinimalEnter {
			return ModeMinimal
		}
		if pressure <= c.cfg.LiteExit {
			return ModeFull
		}
		return ModeLite
	case ModeMinimal:
		if pressure > c.cfg.MinimalExit {
			return ModeMinimal
		}
		if pressure <= c.cfg.LiteExit {
			return ModeFull
		}
		return ModeLite
	default:
		panic(fmt.Sprintf("memory: impossible mode %d", int(current)))
	}
}

// Mode returns the current operating mode
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// LastSample returns the most recent successful sample, if any
func (c *Controller) LastSample() (Sample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSample == nil {
		return Sample{}, false
	}
	return *c.lastSample, true
}

// RegisterPressureObserver adds an observer for mode transitions.
// Observers are never removed for the life of the process.
func (c *Controller) RegisterPressureObserver(observer PressureObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, observer)
}

// AllowsMode reports whether an operation requiring at least the
// headroom of required may proceed under the current mode
func (c *Controller) AllowsMode(required Mode) bool {
	return c.Mode().Allows(required)
}

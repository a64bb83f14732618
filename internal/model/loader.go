// Package model manages the lifecycle of the loaded inference model.
// The model is expensive to construct and shares a tight memory budget
// with the rest of the process, so loading is single-flight and gated
// on the current memory mode.
package model

import (
	"context"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/localmind/localmind/internal/memory"
	"github.com/localmind/localmind/pkg/errors"
	"github.com/localmind/localmind/pkg/logging"
	"github.com/localmind/localmind/pkg/metrics"
	"github.com/localmind/localmind/pkg/tracing"
)

// Handle is an opaque reference to a constructed model. Close releases
// any native resources behind it.
type Handle interface {
	Close() error
}

// Factory constructs the model. It is invoked at most once per
// acquisition cycle, and never concurrently with itself.
type Factory func(ctx context.Context) (Handle, error)

// ModeGate answers whether the current memory mode leaves enough
// headroom for an operation. Satisfied by memory.Controller.
type ModeGate interface {
	Mode() memory.Mode
	AllowsMode(required memory.Mode) bool
}

// Loader is a thread-safe lazy holder for the model handle. Concurrent
// Acquire calls during a load wait for the in-flight construction
// instead of starting a second one.
type Loader struct {
	mu      sync.Mutex
	cond    *sync.Cond
	handle  Handle
	loading bool

	// attempt numbers load cycles so a failure is delivered exactly to
	// the waiters of the attempt that produced it
	attempt    uint64
	loadErr    error
	errAttempt uint64

	factory      Factory
	requiredMode memory.Mode
	gate         ModeGate
	logger       *logging.Logger
	metrics      *metrics.Metrics
	tracing      *tracing.TracingService
}

// NewLoader creates an unloaded Loader. The metrics registry may be nil.
func NewLoader(factory Factory, requiredMode memory.Mode, gate ModeGate, m *metrics.Metrics) *Loader {
	l := &Loader{
		factory:      factory,
		requiredMode: requiredMode,
		gate:         gate,
		logger:       logging.GetLogger(),
		metrics:      m,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// SetTracing attaches a tracer so each construction attempt gets a
// span. Safe to skip when tracing is disabled.
func (l *Loader) SetTracing(t *tracing.TracingService) {
	l.tracing = t
}

// Acquire returns the loaded handle, constructing it on first use.
// If another caller is mid-construction, Acquire waits for that attempt
// and shares its outcome. A failed construction is reported to every
// waiter of that attempt, after which the loader resets so the next
// Acquire retries. Construction is refused while the memory mode does
// not satisfy the model's required mode.
func (l *Loader) Acquire(ctx context.Context) (Handle, error) {
	// Wake waiters when the caller gives up
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	l.mu.Lock()
	for l.loading {
		joined := l.attempt
		l.cond.Wait()
		if l.handle == nil && !l.loading && l.loadErr != nil && l.errAttempt == joined {
			err := l.loadErr
			l.mu.Unlock()
			return nil, err
		}
		if err := ctx.Err(); err != nil && l.handle == nil {
			l.mu.Unlock()
			return nil, err
		}
	}
	if l.handle != nil {
		handle := l.handle
		l.mu.Unlock()
		return handle, nil
	}

	if !l.gate.AllowsMode(l.requiredMode) {
		current := l.gate.Mode()
		l.mu.Unlock()
		return nil, errors.NewInsufficientResourcesError(l.requiredMode.String(), current.String())
	}

	l.attempt++
	l.loading = true
	l.loadErr = nil
	l.mu.Unlock()

	start := time.Now()
	l.logger.Info("Loading model", "required_mode", l.requiredMode.String())

	// The factory runs without the lock so IsLoaded and Unload stay
	// responsive; a started construction always completes and is
	// published even if this caller's context expires meanwhile.
	loadCtx := context.WithoutCancel(ctx)
	var span oteltrace.Span
	if l.tracing != nil {
		loadCtx, span = l.tracing.StartModelSpan(loadCtx, "load")
	}
	handle, err := l.factory(loadCtx)
	if span != nil {
		if err != nil {
			l.tracing.RecordError(span, err)
		}
		span.End()
	}

	l.mu.Lock()
	l.loading = false
	if err != nil {
		l.loadErr = errors.NewConstructionError("model", err)
		l.errAttempt = l.attempt
		err = l.loadErr
	} else {
		l.handle = handle
	}
	l.cond.Broadcast()
	l.mu.Unlock()

	if err != nil {
		l.logger.WithError(err).Error("Model construction failed")
		if l.metrics != nil {
			l.metrics.RecordModelLoad("failure", time.Since(start))
		}
		return nil, err
	}

	l.logger.WithDuration(time.Since(start)).Info("Model loaded")
	if l.metrics != nil {
		l.metrics.RecordModelLoad("success", time.Since(start))
		l.metrics.SetModelLoaded(true)
	}
	return handle, nil
}

// Unload releases the handle. It is idempotent and a no-op when
// nothing is loaded. An in-flight construction is allowed to finish
// first, then its result is released.
func (l *Loader) Unload() error {
	l.mu.Lock()
	for l.loading {
		l.cond.Wait()
	}
	handle := l.handle
	l.handle = nil
	l.mu.Unlock()

	if handle == nil {
		return nil
	}

	err := handle.Close()
	if err != nil {
		l.logger.WithError(err).Warn("Model handle close failed")
	} else {
		l.logger.Info("Model unloaded")
	}
	if l.metrics != nil {
		l.metrics.SetModelLoaded(false)
	}
	return err
}

// AutoUnload returns a pressure observer that releases the handle when
// the mode degrades to MINIMAL. The unload runs on its own goroutine:
// observers are invoked synchronously on the sampling loop and must
// not stall it behind an in-flight construction or a slow Close.
func (l *Loader) AutoUnload() func(oldMode, newMode memory.Mode) {
	return func(oldMode, newMode memory.Mode) {
		if newMode != memory.ModeMinimal || !l.IsLoaded() {
			return
		}
		l.logger.Warn("Unloading model under memory pressure",
			"old_mode", oldMode.String(),
			"new_mode", newMode.String(),
		)
		go func() {
			if err := l.Unload(); err != nil {
				l.logger.WithError(err).Error("Model unload failed")
			}
		}()
	}
}

// IsLoaded reports whether a handle is currently held
func (l *Loader) IsLoaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != nil
}

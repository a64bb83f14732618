package provider

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/localmind/localmind/internal/degradation"
	"github.com/localmind/localmind/pkg/cache"
	"github.com/localmind/localmind/pkg/config"
	"github.com/localmind/localmind/pkg/logging"
	"github.com/localmind/localmind/pkg/metrics"
	"github.com/localmind/localmind/pkg/resilience"
	"github.com/localmind/localmind/pkg/tracing"
)

// collectionCache labels the collection-lookup cache in metrics
const collectionCache = "collections"

// Worker periodically syncs all registered providers. Each provider's
// fetch runs through its circuit breaker with retry on transient
// failures, and is skipped entirely while its capability is
// unavailable.
type Worker struct {
	providers []Provider
	degrader  *degradation.Controller
	retrier   *resilience.Retrier
	sink      Sink

	// collections memoizes collection-name lookups across sync rounds
	collections *cache.BoundedCache[string, string]

	cfg     config.SyncConfig
	logger  *logging.Logger
	tracing *tracing.TracingService
	metrics *metrics.Metrics
}

// NewWorker creates a sync worker. Each provider gets a breaker
// registered under its name and a capability requirement tying the two
// together. The tracer and metrics may be nil.
func NewWorker(providers []Provider, degrader *degradation.Controller, cfg config.SyncConfig, tracer *tracing.TracingService, m *metrics.Metrics) *Worker {
	w := &Worker{
		providers: providers,
		degrader:  degrader,
		retrier:   resilience.NewRetrier(resilience.DefaultRetryConfig()),
		sink:      NewMemorySink(),
		collections: cache.NewBoundedCache[string, string](cfg.LookupCacheSize,
			cache.WithEvictionCallback[string, string](func(string, string) {
				if m != nil {
					m.RecordCacheEviction(collectionCache)
				}
			})),
		cfg:     cfg,
		logger:  logging.GetLogger(),
		tracing: tracer,
		metrics: m,
	}

	for _, p := range providers {
		w.degrader.RegisterBreaker(p.Name(), resilience.CircuitBreakerConfig{})
		w.degrader.RegisterCapability(degradation.Capability{
			Name:             p.Capability(),
			RequiredBreakers: []string{p.Name()},
		})
	}
	return w
}

// SetSink replaces the default in-memory sink
func (w *Worker) SetSink(sink Sink) {
	w.sink = sink
}

// Run syncs all providers on the configured interval until ctx is
// cancelled. One provider's failure never blocks the others.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Provider sync worker started",
		"providers", len(w.providers),
		"interval", w.cfg.Interval,
	)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Provider sync worker stopped")
			return
		case <-ticker.C:
			w.SyncAll(ctx)
		}
	}
}

// SyncAll runs one sync round over every provider
func (w *Worker) SyncAll(ctx context.Context) {
	for _, p := range w.providers {
		if !w.degrader.CapabilityAvailable(p.Capability()) {
			w.logger.Debug("Skipping provider sync, capability unavailable",
				"provider", p.Name(),
				"capability", p.Capability(),
			)
			continue
		}
		if err := w.syncProvider(ctx, p); err != nil {
			w.logger.WithError(err).Warn("Provider sync failed", "provider", p.Name())
		}
	}
}

func (w *Worker) syncProvider(ctx context.Context, p Provider) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.OpTimeout)
	defer cancel()

	if w.tracing != nil {
		var span trace.Span
		ctx, span = w.tracing.StartGuardedCallSpan(ctx, p.Name())
		defer span.End()
	}

	result, err := w.retrier.ExecuteWithResult(ctx, func(ctx context.Context) (interface{}, error) {
		return w.degrader.CallGuarded(ctx, p.Name(), func(ctx context.Context) (interface{}, error) {
			return p.Fetch(ctx)
		})
	})
	if err != nil {
		return err
	}

	items, ok := result.([]Item)
	if !ok {
		return fmt.Errorf("provider %s returned unexpected result type %T", p.Name(), result)
	}

	if err := w.sink.Store(ctx, p.Name(), items); err != nil {
		return fmt.Errorf("storing %s items: %w", p.Name(), err)
	}

	w.logger.Debug("Provider synced", "provider", p.Name(), "items", len(items))
	return nil
}

// ResolveCollection resolves a provider collection name to its stable
// identifier, memoizing successful lookups. The cache is keyed per
// provider so two providers may use the same collection name.
func (w *Worker) ResolveCollection(ctx context.Context, p Provider, name string) (string, error) {
	key := p.Name() + "/" + name
	if id, ok := w.collections.Get(key); ok {
		if w.metrics != nil {
			w.metrics.RecordCacheHit(collectionCache)
		}
		return id, nil
	}
	if w.metrics != nil {
		w.metrics.RecordCacheMiss(collectionCache)
	}

	result, err := w.degrader.CallGuarded(ctx, p.Name(), func(ctx context.Context) (interface{}, error) {
		return p.ResolveCollection(ctx, name)
	})
	if err != nil {
		return "", err
	}

	id, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("provider %s returned unexpected identifier type %T", p.Name(), result)
	}

	w.collections.Put(key, id)
	return id, nil
}

// Sink returns the worker's sink, for status surfaces
func (w *Worker) Sink() Sink {
	return w.sink
}

// Package resilience provides circuit breaker, retry, and alerting
// primitives used to guard calls to unreliable dependencies.
//
// This package implements the following patterns:
//
// # Circuit Breaker Pattern
//
// The circuit breaker prevents cascading failures by tracking consecutive
// failures of a dependency and temporarily rejecting calls once a threshold
// is reached. After a cooldown the breaker admits a limited number of probe
// calls before fully restoring traffic.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "mail-provider",
//		FailureThreshold: 3,
//		SuccessThreshold: 2,
//		OpenDuration:     time.Minute,
//		HalfOpenMaxCalls: 1,
//	})
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return provider.Fetch(ctx, query)
//	})
//
// # Retry with Exponential Backoff
//
// The retry mechanism automatically retries failed operations with
// exponential backoff and jitter. Rejections from an open circuit are
// never retried.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// # Alerting
//
// The alerting system routes operational alerts, such as breaker state
// transitions, to registered handlers with per-source rate limiting.
//
//	am := resilience.NewAlertManager()
//	am.AddHandler(resilience.NewLoggingAlertHandler())
//	am.SendAlert(ctx, resilience.BreakerAlert("mail-provider", from, to))
//
// # Combined Usage
//
// GuardedOperation layers retry on top of a circuit breaker:
//
//	op := resilience.NewGuardedOperation("mail-provider", cbConfig, retryConfig)
//	result, err := op.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return provider.Fetch(ctx, query)
//	})
//
// All types in this package are safe for concurrent use.
package resilience

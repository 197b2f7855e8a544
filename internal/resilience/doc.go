/*
Package resilience protects outbound dependency calls with a circuit breaker
and a retry executor.

A Registry owns one CircuitBreaker per dependency name. Breaker state lives in
a Store: RedisStore shares it across instances, MemoryStore keeps it in
process, and FallbackStore uses Redis while it answers and memory otherwise.

An Executor composes the two layers. The breaker is checked first; only a
permitted call enters the Retrier, so a rejection from an open circuit never
consumes a retry attempt. The whole sequence of attempts counts as a single
outcome for the breaker.

Usage:

	registry := resilience.NewRegistry(store, resilience.DefaultBreakerConfig(),
	    resilience.WithLogger(log))
	retrier := resilience.NewRetrier(resilience.DefaultRetryPolicy(), resilience.DefaultClassifier)
	exec := resilience.NewExecutor(registry, retrier, cfg.Disabled)

	quote, err := resilience.Call(ctx, exec, "courier", func(ctx context.Context) (*Quote, error) {
	    return client.Quote(ctx, req)
	})

An open circuit returns *CircuitOpenError carrying a RetryAfter hint.
*/
package resilience

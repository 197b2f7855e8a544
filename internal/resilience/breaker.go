package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CircuitOpenError is returned without calling the dependency while its
// circuit rejects calls.
type CircuitOpenError struct {
	Name       string        `json:"name"`
	State      State         `json:"state"`
	RetryAfter time.Duration `json:"retry_after"`
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %s is %s, retry after %s", e.Name, e.State, e.RetryAfter)
}

// StateObserver receives breaker state after every transition and rejection.
type StateObserver interface {
	ObserveCircuitState(name string, state State)
	RecordCircuitRejection(name string)
}

type noopObserver struct{}

func (noopObserver) ObserveCircuitState(string, State) {}
func (noopObserver) RecordCircuitRejection(string)     {}

// CircuitBreaker guards one dependency. It holds no state itself; every
// decision is an atomic update against the store.
type CircuitBreaker struct {
	name     string
	cfg      BreakerConfig
	store    Store
	counts   Classifier
	logger   *zap.Logger
	observer StateObserver
	now      func() time.Time
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) Config() BreakerConfig {
	return cb.cfg
}

// State loads the current state from the store.
func (cb *CircuitBreaker) State(ctx context.Context) (CircuitState, error) {
	return cb.store.Load(ctx, cb.name)
}

// Execute runs fn if the circuit admits it and records the outcome. Errors the
// classifier deems terminal count as a healthy round trip; cancellation by
// the caller counts as neither.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	var (
		adm    admission
		before State
	)
	after, err := cb.store.Update(ctx, cb.name, func(st *CircuitState) {
		before = st.State
		adm = admit(st, cb.cfg, cb.now())
	})
	if err != nil {
		// Without a store the breaker cannot decide; let the call through.
		cb.logger.Error("circuit state unavailable, passing call through",
			zap.String("name", cb.name), zap.Error(err))
		return fn(ctx)
	}
	cb.transitioned(before, after.State)

	if !adm.allowed {
		cb.observer.RecordCircuitRejection(cb.name)
		return &CircuitOpenError{Name: cb.name, State: after.State, RetryAfter: adm.retryAfter}
	}

	callErr := fn(ctx)
	cb.record(ctx, callErr)
	return callErr
}

func (cb *CircuitBreaker) record(ctx context.Context, callErr error) {
	// The caller's context may already be done; the outcome must still land.
	ctx = context.WithoutCancel(ctx)

	var before State
	after, err := cb.store.Update(ctx, cb.name, func(st *CircuitState) {
		before = st.State
		now := cb.now()
		switch {
		case callErr == nil:
			onSuccess(st, cb.cfg, now)
		case errors.Is(callErr, context.Canceled):
			onRelease(st)
		case cb.counts(callErr):
			onFailure(st, cb.cfg, now)
		default:
			onSuccess(st, cb.cfg, now)
		}
	})
	if err != nil {
		cb.logger.Error("failed to record circuit outcome", zap.String("name", cb.name), zap.Error(err))
		return
	}
	cb.transitioned(before, after.State)
}

func (cb *CircuitBreaker) transitioned(from, to State) {
	if from == to {
		return
	}
	cb.observer.ObserveCircuitState(cb.name, to)

	fields := []zap.Field{
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	}
	if to == StateOpen {
		cb.logger.Warn("circuit breaker opened", append(fields, zap.Duration("cooldown", cb.cfg.Cooldown))...)
		return
	}
	cb.logger.Info("circuit breaker state changed", fields...)
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset(ctx context.Context) error {
	if err := cb.store.Delete(ctx, cb.name); err != nil {
		return fmt.Errorf("failed to reset circuit %s: %w", cb.name, err)
	}
	cb.observer.ObserveCircuitState(cb.name, StateClosed)
	cb.logger.Info("circuit breaker reset", zap.String("name", cb.name))
	return nil
}

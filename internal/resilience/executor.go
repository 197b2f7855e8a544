package resilience

import (
	"context"
	"sync/atomic"
)

// Executor runs calls through the breaker of their dependency, retrying
// inside a permitted call.
type Executor struct {
	registry *Registry
	retrier  *Retrier
	disabled atomic.Bool
}

func NewExecutor(registry *Registry, retrier *Retrier, disabled bool) *Executor {
	e := &Executor{registry: registry, retrier: retrier}
	e.disabled.Store(disabled)
	return e
}

// SetDisabled toggles the emergency bypass. While disabled, calls go straight
// to the dependency with no breaker and no retry.
func (e *Executor) SetDisabled(disabled bool) {
	e.disabled.Store(disabled)
}

func (e *Executor) Disabled() bool {
	return e.disabled.Load()
}

func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute calls fn for the named dependency.
func (e *Executor) Execute(ctx context.Context, dependency string, fn func(context.Context) error) error {
	if e.Disabled() {
		return fn(ctx)
	}
	return e.registry.Breaker(dependency).Execute(ctx, func(ctx context.Context) error {
		return e.retrier.Do(ctx, fn)
	})
}

// Call is Execute for functions returning a value.
func Call[T any](ctx context.Context, e *Executor, dependency string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Execute(ctx, dependency, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

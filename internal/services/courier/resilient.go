package courier

import (
	"context"

	"ledgercore/internal/resilience"
)

// ResilientClient routes every call through the shared executor: breaker
// on the outside, retries inside.
type ResilientClient struct {
	inner    Client
	executor *resilience.Executor
}

// NewResilientClient wraps inner.
func NewResilientClient(inner Client, executor *resilience.Executor) *ResilientClient {
	if inner == nil {
		panic("inner client is required")
	}
	if executor == nil {
		panic("executor is required")
	}
	return &ResilientClient{inner: inner, executor: executor}
}

func (c *ResilientClient) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	return resilience.Call(ctx, c.executor, Dependency, func(ctx context.Context) (*Quote, error) {
		return c.inner.Quote(ctx, req)
	})
}

// Book is retried with the caller's idempotency key so a retried booking
// cannot buy two labels.
func (c *ResilientClient) Book(ctx context.Context, req BookRequest) (*Booking, error) {
	return resilience.Call(ctx, c.executor, Dependency, func(ctx context.Context) (*Booking, error) {
		return c.inner.Book(ctx, req)
	})
}

func (c *ResilientClient) Track(ctx context.Context, trackingNumber string) (*Tracking, error) {
	return resilience.Call(ctx, c.executor, Dependency, func(ctx context.Context) (*Tracking, error) {
		return c.inner.Track(ctx, trackingNumber)
	})
}

func (c *ResilientClient) CancelLabel(ctx context.Context, shipmentID string) error {
	return c.executor.Execute(ctx, Dependency, func(ctx context.Context) error {
		return c.inner.CancelLabel(ctx, shipmentID)
	})
}

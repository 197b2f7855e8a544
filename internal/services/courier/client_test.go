package courier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"ledgercore/internal/resilience"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Book(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/shipments", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req BookRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "ship-123", req.ShipmentID)

		_ = json.NewEncoder(w).Encode(Booking{ShipmentID: req.ShipmentID, TrackingNumber: "TRK1", Cost: decimal.RequireFromString("10.00")})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "secret", time.Second)
	b, err := c.Book(context.Background(), BookRequest{ShipmentID: "ship-123", IdempotencyKey: "book-ship-123"})
	require.NoError(t, err)
	assert.Equal(t, "TRK1", b.TrackingNumber)
	assert.True(t, decimal.RequireFromString("10").Equal(b.Cost))
}

func TestHTTPClient_StatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/tracking/missing":
			http.Error(w, "unknown tracking number", http.StatusNotFound)
		case "/v1/shipments/void/cancel":
			http.Error(w, "already cancelled", http.StatusConflict)
		default:
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, "", time.Second)
	ctx := context.Background()

	_, err := c.Track(ctx, "missing")
	var se *resilience.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.StatusCode)
	assert.Equal(t, "unknown tracking number", se.Body)
	assert.False(t, resilience.DefaultClassifier(err))

	assert.NoError(t, c.CancelLabel(ctx, "void"))

	err = c.CancelLabel(ctx, "other")
	require.ErrorAs(t, err, &se)
	assert.True(t, resilience.DefaultClassifier(err))
}

func newExecutor(threshold int) *resilience.Executor {
	reg := resilience.NewRegistry(resilience.NewMemoryStore(), resilience.BreakerConfig{
		FailureThreshold: threshold,
		SuccessThreshold: 1,
		Cooldown:         time.Minute,
	})
	retrier := resilience.NewRetrier(resilience.RetryPolicy{MaxAttempts: 3}, resilience.DefaultClassifier,
		resilience.WithSleep(func(context.Context, time.Duration) error { return nil }))
	return resilience.NewExecutor(reg, retrier, false)
}

func TestResilientClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewResilientClient(NewHTTPClient(srv.URL, "", time.Second), newExecutor(5))
	require.NoError(t, c.CancelLabel(context.Background(), "ship-123"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestResilientClient_OpensCircuit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	exec := newExecutor(2)
	c := NewResilientClient(NewHTTPClient(srv.URL, "", time.Second), exec)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.Error(t, c.CancelLabel(ctx, "ship-1"))
	}
	before := calls.Load()

	_, err := c.Quote(ctx, QuoteRequest{})
	var openErr *resilience.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, Dependency, openErr.Name)
	assert.Equal(t, before, calls.Load(), "open circuit must not reach the courier")

	exec.SetDisabled(true)
	require.Error(t, c.CancelLabel(ctx, "ship-1"))
	assert.Equal(t, before+1, calls.Load(), "bypass calls once with no retries")
}

func TestResilientClient_TerminalErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewResilientClient(NewHTTPClient(srv.URL, "", time.Second), newExecutor(1))
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := c.Track(ctx, "x")
		var se *resilience.StatusError
		require.ErrorAs(t, err, &se)
	}
	assert.Equal(t, int32(3), calls.Load(), "4xx answers neither retry nor trip the breaker")
}

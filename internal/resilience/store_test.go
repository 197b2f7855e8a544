package resilience

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStore struct{}

var errRedisDown = errors.New("dial tcp: connection refused")

func (brokenStore) Load(context.Context, string) (CircuitState, error) {
	return CircuitState{}, errRedisDown
}

func (brokenStore) Update(context.Context, string, func(*CircuitState)) (CircuitState, error) {
	return CircuitState{}, errRedisDown
}

func (brokenStore) Delete(context.Context, string) error {
	return errRedisDown
}

func TestMemoryStore_ConcurrentUpdates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update(ctx, "courier", func(st *CircuitState) { st.Failures++ })
		}()
	}
	wg.Wait()

	st, err := s.Load(ctx, "courier")
	require.NoError(t, err)
	assert.Equal(t, 100, st.Failures)
}

func TestFallbackStore_DegradesToMemory(t *testing.T) {
	fallback := NewMemoryStore()
	s := NewFallbackStore(brokenStore{}, fallback, nil)
	ctx := context.Background()

	st, err := s.Update(ctx, "courier", func(st *CircuitState) { st.Failures = 2 })
	require.NoError(t, err)
	assert.Equal(t, 2, st.Failures)
	assert.True(t, s.Degraded())

	loaded, err := fallback.Load(ctx, "courier")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Failures)
}

func TestBreaker_WorksOnDegradedStore(t *testing.T) {
	clock := newFakeClock()
	store := NewFallbackStore(brokenStore{}, NewMemoryStore(), nil)
	reg := NewRegistry(store, BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute}, WithClock(clock.Now))

	_ = reg.Breaker("courier").Execute(context.Background(), func(context.Context) error { return errDown })
	err := reg.Breaker("courier").Execute(context.Background(), func(context.Context) error { return nil })

	var openErr *CircuitOpenError
	assert.ErrorAs(t, err, &openErr)
}

func TestRedisStore_AtomicUpdates(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client)
	ctx := context.Background()
	name := "test-" + uuid.NewString()
	t.Cleanup(func() { _ = s.Delete(ctx, name) })

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, name, func(st *CircuitState) { st.Failures++ })
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := s.Load(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, 5, st.Failures)
}

// hungStore blocks every call until the context is done.
type hungStore struct{}

func (hungStore) Load(ctx context.Context, _ string) (CircuitState, error) {
	<-ctx.Done()
	return CircuitState{}, ctx.Err()
}

func (hungStore) Update(ctx context.Context, _ string, _ func(*CircuitState)) (CircuitState, error) {
	<-ctx.Done()
	return CircuitState{}, ctx.Err()
}

func (hungStore) Delete(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestWithTimeout_BoundsEveryCall(t *testing.T) {
	s := WithTimeout(hungStore{}, 20*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	_, err := s.Load(ctx, "courier")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, err = s.Update(ctx, "courier", func(*CircuitState) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	err = s.Delete(ctx, "courier")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFallbackStore_DeleteReportsSharedFailure(t *testing.T) {
	fallback := NewMemoryStore()
	s := NewFallbackStore(brokenStore{}, fallback, nil)
	ctx := context.Background()

	_, err := s.Update(ctx, "courier", func(st *CircuitState) { st.Failures = 3 })
	require.NoError(t, err)

	err = s.Delete(ctx, "courier")
	require.ErrorIs(t, err, errRedisDown)

	// the local copy is cleared regardless
	st, err := fallback.Load(ctx, "courier")
	require.NoError(t, err)
	assert.Zero(t, st.Failures)

	err = NewFallbackStore(NewMemoryStore(), fallback, nil).Delete(ctx, "courier")
	assert.NoError(t, err)
}

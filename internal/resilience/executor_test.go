package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(clock *fakeClock) *Executor {
	reg := NewRegistry(NewMemoryStore(), BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Minute},
		WithClock(clock.Now))
	retrier := NewRetrier(RetryPolicy{MaxAttempts: 3}, DefaultClassifier, noSleep(nil))
	return NewExecutor(reg, retrier, false)
}

func TestExecutor_RetriesInsideOneCircuitCall(t *testing.T) {
	exec := newTestExecutor(newFakeClock())
	ctx := context.Background()

	attempts := 0
	err := exec.Execute(ctx, "courier", func(context.Context) error {
		attempts++
		return errDown
	})
	require.ErrorIs(t, err, errDown)
	assert.Equal(t, 3, attempts)

	st, err := exec.Registry().Breaker("courier").State(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Failures, "a full retry sequence counts once")
}

func TestExecutor_OpenCircuitDoesNotConsumeRetries(t *testing.T) {
	exec := newTestExecutor(newFakeClock())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_ = exec.Execute(ctx, "courier", func(context.Context) error { return errDown })
	}

	attempts := 0
	err := exec.Execute(ctx, "courier", func(context.Context) error {
		attempts++
		return nil
	})
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Zero(t, attempts)
}

func TestExecutor_DisabledBypassesEverything(t *testing.T) {
	exec := newTestExecutor(newFakeClock())
	exec.SetDisabled(true)
	ctx := context.Background()

	attempts := 0
	for i := 0; i < 5; i++ {
		_ = exec.Execute(ctx, "courier", func(context.Context) error {
			attempts++
			return errDown
		})
	}
	assert.Equal(t, 5, attempts, "no retries and no fast-fail while disabled")

	st, err := exec.Registry().Breaker("courier").State(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, st.State)
}

func TestCall_ReturnsValue(t *testing.T) {
	exec := newTestExecutor(newFakeClock())

	n, err := Call(context.Background(), exec, "pricing", func(context.Context) (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	_, err = Call(context.Background(), exec, "pricing", func(context.Context) (int, error) {
		return 0, errors.New("invalid weight")
	})
	assert.EqualError(t, err, "invalid weight")
}

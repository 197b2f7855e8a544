package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorMatchesByCode(t *testing.T) {
	specific := ErrAmountOutOfRange.WithMessage("amount exceeds maximum of 10000")
	wrapped := fmt.Errorf("debit acc-1: %w", specific)

	assert.True(t, stderrors.Is(wrapped, ErrAmountOutOfRange))
	assert.False(t, stderrors.Is(wrapped, ErrInvalidAmount))
	assert.Equal(t, CodeAmountOutOfRange, CodeOf(wrapped))
	assert.Equal(t, "amount exceeds maximum of 10000", specific.Error())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("lock: %w", ErrLockContention)))
	assert.False(t, IsRetryable(ErrInsufficientBalance))
	assert.False(t, IsRetryable(stderrors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(stderrors.New("plain")))
}

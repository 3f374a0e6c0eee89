package errors

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return stderrors.New("transient error")
		}
		return nil
	}

	// When: retrying with default config
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 10 * time.Millisecond // Speed up test
	cfg.Jitter = false

	err := Retry(context.Background(), cfg, fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	attempts := 0
	fn := func() error {
		attempts++
		return stderrors.New("persistent error")
	}

	cfg := RetryConfig{
		MaxRetries:   2,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
	}

	err := Retry(context.Background(), cfg, fn)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts) // Initial + 2 retries
}

func TestRetry_NonRetryableErrorShortCircuits(t *testing.T) {
	// Given: a function returning a typed non-retryable error
	attempts := 0
	fn := func() error {
		attempts++
		return CorruptInput("unreadable document", nil)
	}

	cfg := DefaultRetryConfig()
	cfg.InitialDelay = 10 * time.Millisecond

	err := Retry(context.Background(), cfg, fn)

	// Then: no retries happen
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, ErrCodeCorruptInput, GetCode(err))
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, DefaultRetryConfig(), func() error {
		return stderrors.New("should not matter")
	})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryWithResult(t *testing.T) {
	attempts := 0
	result, err := RetryWithResult(context.Background(), RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
	}, func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, stderrors.New("not yet")
		}
		return 42, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 42, result)
}

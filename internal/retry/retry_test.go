package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/northcloud/jobforge/internal/retry"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := retry.Retry(context.Background(), retry.Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2,
		IsRetryable:  retry.AlwaysRetryable,
	}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	attempts := 0
	sentinel := errors.New("fatal")
	err := retry.Retry(context.Background(), retry.Config{
		MaxAttempts: 5,
		IsRetryable: func(error) bool { return false },
	}, func() error {
		attempts++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 1, attempts)
}

func TestRetry_ExhaustsMaxAttempts(t *testing.T) {
	err := retry.Retry(context.Background(), retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		IsRetryable:  retry.AlwaysRetryable,
	}, func() error {
		return errors.New("always fails")
	})
	require.ErrorIs(t, err, retry.ErrMaxAttemptsExceeded)
}

package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := &ExponentialPolicy{MaxAttempts: 3}
	transient := errors.New("connection reset")

	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(transient, 1))
	require.True(t, p.ShouldRetry(transient, 2))
	require.False(t, p.ShouldRetry(transient, 3))
	require.True(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(Permanent(transient), 1))
}

func TestExponentialPolicyBackoffBounds(t *testing.T) {
	t.Parallel()

	p := &ExponentialPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, 50*time.Millisecond)
		require.LessOrEqual(t, d, 300*time.Millisecond)
	}
	require.Zero(t, (&ExponentialPolicy{MaxAttempts: 2}).Backoff(1))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), &ExponentialPolicy{MaxAttempts: 3}, func(_ context.Context, attempt int) error {
		calls++
		require.Equal(t, calls, attempt)
		if attempt < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoGivesUpAndWrapsLastError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("timeout")
	calls := 0
	err := Do(context.Background(), &ExponentialPolicy{MaxAttempts: 2}, func(context.Context, int) error {
		calls++
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Contains(t, err.Error(), "gave up after 2 attempts")
	require.Equal(t, 2, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("blocked")
	calls := 0
	err := Do(context.Background(), &ExponentialPolicy{MaxAttempts: 5}, func(context.Context, int) error {
		calls++
		return Permanent(sentinel)
	})
	require.ErrorIs(t, err, sentinel)
	require.True(t, IsPermanent(err))
	require.Equal(t, 1, calls)
}

func TestDoStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, &ExponentialPolicy{MaxAttempts: 5, BaseDelay: time.Hour}, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("boom")
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestSleepHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, Sleep(context.Background(), 0))
}

func TestBetween(t *testing.T) {
	t.Parallel()

	for range 50 {
		d := Between(10*time.Millisecond, 20*time.Millisecond)
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
		require.LessOrEqual(t, d, 20*time.Millisecond)
	}
	require.Equal(t, 5*time.Millisecond, Between(5*time.Millisecond, time.Millisecond))
}

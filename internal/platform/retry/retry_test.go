package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var immediate = retry.Policy{MaxAttempts: 3}

var errTransient = errors.New("transient")

func alwaysRetry(error) retry.Action { return retry.Retry }
func alwaysStop(error) retry.Action  { return retry.Stop }

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), immediate, alwaysRetry, func(context.Context) (int, error) {
		calls++
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, val)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetries(t *testing.T) {
	calls := 0
	val, err := retry.Do(context.Background(), immediate, alwaysRetry, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errTransient
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorStopsImmediately(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := retry.Do(context.Background(), immediate, alwaysStop, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, permanent
	})

	var permErr *retry.PermanentError
	require.ErrorAs(t, err, &permErr)
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustedRetries(t *testing.T) {
	calls := 0
	_, err := retry.Do(context.Background(), immediate, alwaysRetry, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errTransient
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, immediate.MaxAttempts, calls)
}

func TestDo_InvalidPolicy(t *testing.T) {
	_, err := retry.Do(context.Background(), retry.Policy{}, alwaysRetry, func(context.Context) (struct{}, error) {
		t.Fatal("operation must not run")
		return struct{}{}, nil
	})
	assert.ErrorIs(t, err, retry.ErrInvalidPolicy)
}

func TestDo_OnlyOn(t *testing.T) {
	other := errors.New("other")
	calls := 0
	err := retry.DoVoid(context.Background(), immediate, retry.OnlyOn(errTransient), func(context.Context) error {
		calls++
		if calls == 1 {
			return errTransient
		}
		return other
	})

	var permErr *retry.PermanentError
	require.ErrorAs(t, err, &permErr)
	assert.ErrorIs(t, err, other)
	assert.Equal(t, 2, calls)
}

func TestDo_BackoffUsesClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var observed []time.Duration
	p := retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		Clock:          clock,
		OnRetry: func(_ int, _ error, backoff time.Duration) {
			observed = append(observed, backoff)
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- retry.DoVoid(context.Background(), p, alwaysRetry, func(context.Context) error {
			return errTransient
		})
	}()

	clock.BlockUntil(1)
	clock.Advance(time.Second)
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errTransient)
	case <-time.After(2 * time.Second):
		t.Fatal("retry loop did not finish")
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, observed)
}

func TestDo_RateLimitBackoff(t *testing.T) {
	var observed time.Duration
	p := retry.Policy{
		MaxAttempts:      2,
		InitialBackoff:   time.Millisecond,
		RateLimitBackoff: 5 * time.Millisecond,
		OnRetry: func(_ int, _ error, backoff time.Duration) {
			observed = backoff
		},
	}

	classify := func(error) retry.Action { return retry.After }
	_ = retry.DoVoid(context.Background(), p, classify, func(context.Context) error {
		return errors.New("throttled")
	})

	assert.Equal(t, 5*time.Millisecond, observed)
}

func TestDo_ContextCancellationDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxAttempts: 3, InitialBackoff: 10 * time.Second}

	calls := 0
	err := retry.DoVoid(ctx, p, alwaysRetry, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryCallbackAttempts(t *testing.T) {
	var recorded []int
	p := immediate
	p.OnRetry = func(attempt int, _ error, _ time.Duration) {
		recorded = append(recorded, attempt)
	}

	_ = retry.DoVoid(context.Background(), p, alwaysRetry, func(context.Context) error {
		return errTransient
	})

	assert.Equal(t, []int{1, 2}, recorded)
}

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), time.Millisecond, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversAfterOneFailure(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 2, calls, "called exactly twice")
}

func TestRetryPropagatesSecondFailure(t *testing.T) {
	sentinel := errors.New("still broken")
	calls := 0
	_, err := Retry(context.Background(), time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	assert.ErrorIs(t, err, sentinel, "second error propagated unmodified")
	assert.Equal(t, 2, calls, "exactly two attempts, never three")
}

func TestRetryNeverRetriesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, time.Minute, func(ctx context.Context) (int, error) {
		calls++
		cancel()
		return 0, context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "no retry into a cancelled request")
}

func TestRetryAbortsDuringBackoffWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := Retry(ctx, time.Hour, func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retry did not abort during backoff wait")
	}
	assert.Equal(t, 1, calls)
}

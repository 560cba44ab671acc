package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func failing(ctx context.Context) error { return errUpstream }
func succeeding(ctx context.Context) error { return nil }

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		err := b.Do(context.Background(), failing)
		assert.ErrorIs(t, err, errUpstream)
	}

	// Fourth call rejected without hitting the dependency.
	called := false
	err := b.Do(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.True(t, b.Open())
}

func TestBreakerSuccessResetsCounter(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	require.Error(t, b.Do(context.Background(), failing))
	require.Error(t, b.Do(context.Background(), failing))
	require.NoError(t, b.Do(context.Background(), succeeding))

	// Two more failures should not trip (counter was reset).
	require.Error(t, b.Do(context.Background(), failing))
	require.Error(t, b.Do(context.Background(), failing))
	assert.False(t, b.Open())
}

func TestBreakerClosesAfterCooldown(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	require.Error(t, b.Do(context.Background(), failing))
	assert.True(t, b.Open())

	// Advance past the cooldown window.
	now = now.Add(61 * time.Second)
	assert.False(t, b.Open())
	require.NoError(t, b.Do(context.Background(), succeeding))
}

func TestBreakerErrorCarriesRetryAfter(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	require.Error(t, b.Do(context.Background(), failing))

	err := b.Do(context.Background(), succeeding)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Contains(t, err.Error(), "retry in")
}

func TestBreakerConcurrentUse(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				_ = b.Do(context.Background(), failing)
			} else {
				_ = b.Do(context.Background(), succeeding)
			}
		}(i)
	}
	wg.Wait()
	// No race; state is whatever interleaving produced, just must not panic.
}

package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is open. Callers surface it
// with retry-after semantics instead of hitting the failing dependency.
var ErrCircuitOpen = errors.New("temporarily unavailable")

const (
	// DefaultFailureThreshold is the consecutive-failure count that trips
	// the breaker open.
	DefaultFailureThreshold = 3

	// DefaultCooldown is how long the breaker rejects calls once open.
	DefaultCooldown = 60 * time.Second
)

// Breaker is a consecutive-failure circuit breaker.
//
// After threshold consecutive failures it trips open for the cooldown window,
// rejecting calls with ErrCircuitOpen. Any success resets the counter. Safe
// for concurrent use from multiple requests hitting the same dependency.
type Breaker struct {
	mu        sync.Mutex
	failures  int
	openUntil time.Time

	threshold int
	cooldown  time.Duration

	// now is swapped in tests.
	now func() time.Time
}

// NewBreaker creates a breaker. Zero values select the defaults.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Do invokes fn unless the breaker is open.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

// Open reports whether the breaker currently rejects calls.
func (b *Breaker) Open() bool {
	return b.allow() != nil
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.openUntil.IsZero() || b.now().After(b.openUntil) {
		return nil
	}
	remaining := b.openUntil.Sub(b.now()).Round(time.Second)
	return fmt.Errorf("%w: retry in %s", ErrCircuitOpen, remaining)
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.openUntil = time.Time{}
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.cooldown)
		b.failures = 0
	}
}

package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay before retry attempt n (1-based).
type Backoff struct {
	// Initial is the delay before the first retry.
	// Default: 20ms
	Initial time.Duration

	// Max caps any single delay.
	// Default: 500ms
	Max time.Duration

	// Jitter adds up to 25% random extra delay.
	Jitter bool
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = 20 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 500 * time.Millisecond
	}
	return b
}

// Delay returns the exponential delay for attempt n.
func (b Backoff) Delay(n int) time.Duration {
	b = b.withDefaults()
	d := b.Initial
	for i := 1; i < n && d < b.Max; i++ {
		d *= 2
	}
	if d > b.Max {
		d = b.Max
	}
	if b.Jitter && d >= 4 {
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		d += time.Duration(rand.Int64N(int64(d / 4)))
	}
	return d
}

// Retry runs op up to attempts times while retryIf(err) holds, sleeping
// per backoff between attempts. Context cancellation stops the loop.
func Retry(ctx context.Context, attempts int, backoff Backoff, retryIf func(error) bool, op func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for n := 1; ; n++ {
		if err = op(ctx); err == nil || n >= attempts || (retryIf != nil && !retryIf(err)) {
			return err
		}
		t := time.NewTimer(backoff.Delay(n))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/SandraRGdev/wp-api-codeia-sub001/clock"
)

// MemoryLimiter keeps windows in process. Each subject has its own lock,
// so contention is limited to requests for the same subject.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	ban     BanPolicy
	clock   clock.Clock
}

type memoryWindow struct {
	mu   sync.Mutex
	w    window
	size time.Duration
	dead bool // pruned; callers holding it must look up again
}

// NewMemoryLimiter creates an in-process limiter. A nil clock uses the
// system clock.
func NewMemoryLimiter(ban BanPolicy, clk clock.Clock) *MemoryLimiter {
	return &MemoryLimiter{
		windows: make(map[string]*memoryWindow),
		ban:     ban,
		clock:   clock.OrSystem(clk),
	}
}

// CheckAndIncrement counts one request for subject.
func (l *MemoryLimiter) CheckAndIncrement(_ context.Context, subject string, limit int, size time.Duration) (Decision, error) {
	for {
		l.mu.Lock()
		mw, ok := l.windows[subject]
		if !ok {
			mw = &memoryWindow{}
			l.windows[subject] = mw
		}
		l.mu.Unlock()

		mw.mu.Lock()
		if mw.dead {
			mw.mu.Unlock()
			continue
		}
		mw.size = size
		d := mw.w.step(l.clock.Now(), limit, size, l.ban)
		mw.mu.Unlock()
		return d, nil
	}
}

// Prune drops windows that have closed and carry no ban. It returns the
// number of subjects removed.
func (l *MemoryLimiter) Prune() int {
	now := l.clock.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for subject, mw := range l.windows {
		mw.mu.Lock()
		if !now.Before(mw.w.expiry(mw.size)) {
			mw.dead = true
			delete(l.windows, subject)
			n++
		}
		mw.mu.Unlock()
	}
	return n
}

// Len returns the number of tracked subjects.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Ensure MemoryLimiter implements Limiter
var _ Limiter = (*MemoryLimiter)(nil)

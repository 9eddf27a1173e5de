package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps failures of the limiter backend.
var ErrUnavailable = errors.New("ratelimit: backend unavailable")

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool

	// Remaining is the number of requests left in the current window.
	Remaining int

	// RetryAfter is set on denial: the time until the window closes or the
	// ban lifts.
	RetryAfter time.Duration

	// Banned reports that the subject is (or just became) banned.
	Banned bool
}

// Limiter checks and counts requests per subject.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use; the
//   increment and comparison are atomic per subject.
// - Errors: backend failures wrap ErrUnavailable.
type Limiter interface {
	// CheckAndIncrement counts one request for subject against limit per
	// window and reports whether it is allowed.
	CheckAndIncrement(ctx context.Context, subject string, limit int, window time.Duration) (Decision, error)
}

// BanPolicy escalates repeated denials to a ban.
type BanPolicy struct {
	// Threshold is the number of denials within one window that triggers a
	// ban. Zero disables bans.
	// Default: 10 (see DefaultBanPolicy)
	Threshold int

	// Duration is how long a ban lasts. Zero disables bans.
	// Default: 15 minutes (see DefaultBanPolicy)
	Duration time.Duration
}

// DefaultBanPolicy returns the default escalation policy.
func DefaultBanPolicy() BanPolicy {
	return BanPolicy{Threshold: 10, Duration: 15 * time.Minute}
}

func (p BanPolicy) enabled() bool { return p.Threshold > 0 && p.Duration > 0 }

// window is the per-subject state shared by every backend.
type window struct {
	start    time.Time
	count    int
	denials  int
	banUntil time.Time
}

// step advances w by one request at now.
func (w *window) step(now time.Time, limit int, size time.Duration, ban BanPolicy) Decision {
	if now.Before(w.banUntil) {
		return Decision{RetryAfter: w.banUntil.Sub(now), Banned: true}
	}

	if w.start.IsZero() || !now.Before(w.start.Add(size)) {
		w.start = now
		w.count = 0
		w.denials = 0
	}
	w.count++

	if w.count <= limit {
		return Decision{Allowed: true, Remaining: limit - w.count}
	}

	w.denials++
	if ban.enabled() && w.denials >= ban.Threshold {
		w.banUntil = now.Add(ban.Duration)
		w.denials = 0
		return Decision{RetryAfter: ban.Duration, Banned: true}
	}
	return Decision{RetryAfter: w.start.Add(size).Sub(now)}
}

// expiry is when the window state stops mattering.
func (w *window) expiry(size time.Duration) time.Time {
	end := w.start.Add(size)
	if w.banUntil.After(end) {
		return w.banUntil
	}
	return end
}

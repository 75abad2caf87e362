package retry

import (
	"context"
	"time"
)

// Backoff is a capped exponential delay schedule: Base * 2^(attempt-1),
// never more than Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the given attempt. Attempts are 1-based;
// anything below 1 returns Base.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	max := b.Max
	if max <= 0 || max < base {
		max = base
	}
	if attempt <= 1 {
		return base
	}
	// 2^30 * base overflows any sane cap.
	if attempt > 30 {
		return max
	}
	d := base * time.Duration(1<<(attempt-1))
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

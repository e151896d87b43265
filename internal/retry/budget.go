package retry

import (
	"context"
	"time"
)

// Budget is a wall-clock deadline derived from a start instant and an
// overall duration. Remaining is recomputed on every call.
type Budget struct {
	start time.Time
	total time.Duration
	now   func() time.Time
}

// NewBudget starts a budget of total at the current time
func NewBudget(total time.Duration) *Budget {
	return &Budget{start: time.Now(), total: total, now: time.Now}
}

func (b *Budget) Total() time.Duration { return b.total }

func (b *Budget) Elapsed() time.Duration { return b.now().Sub(b.start) }

func (b *Budget) Deadline() time.Time { return b.start.Add(b.total) }

// Remaining never goes below zero
func (b *Budget) Remaining() time.Duration {
	left := b.total - b.Elapsed()
	if left < 0 {
		return 0
	}
	return left
}

func (b *Budget) Expired() bool { return b.Remaining() <= 0 }

// Cap returns d clipped to what is left of the budget
func (b *Budget) Cap(d time.Duration) time.Duration {
	if left := b.Remaining(); d > left {
		return left
	}
	return d
}

// Context derives a context that ends at the budget's deadline
func (b *Budget) Context(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithDeadline(parent, b.Deadline())
}

// Sleep waits for d or until the budget runs out, whichever is first. It
// returns ctx's error when ctx ends first and false when the budget expired
// before the full wait.
func (b *Budget) Sleep(ctx context.Context, d time.Duration) (bool, error) {
	wait := b.Cap(d)
	if wait <= 0 {
		return d <= 0, ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return wait == d, nil
	}
}

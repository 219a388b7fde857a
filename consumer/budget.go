package consumer

import "time"

// budget is an absolute deadline. remaining is always derived from the
// deadline and the current time, so per poll durations are never summed.
type budget struct {
	deadline time.Time
}

func newBudget(now time.Time, total time.Duration) budget {
	return budget{deadline: now.Add(total)}
}

// remaining is the time left at now, clamped at zero.
func (b budget) remaining(now time.Time) time.Duration {
	d := b.deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (b budget) expired(now time.Time) bool {
	return !now.Before(b.deadline)
}

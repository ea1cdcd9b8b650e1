package geocode

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// IntervalLimiter enforces a minimum interval between consecutive calls
// across every goroutine that shares it. Calls run one at a time, and each
// starts at least interval after the previous one returned.
type IntervalLimiter struct {
	turn     chan struct{}
	interval time.Duration
	last     time.Time // guarded by turn
	now      func() time.Time
}

// NewIntervalLimiter returns a limiter that spaces calls at least interval
// apart. A non-positive interval disables the spacing but calls still run
// one at a time.
func NewIntervalLimiter(interval time.Duration) *IntervalLimiter {
	return &IntervalLimiter{turn: make(chan struct{}, 1), interval: interval, now: time.Now}
}

// Interval returns the configured minimum spacing.
func (l *IntervalLimiter) Interval() time.Duration { return l.interval }

// Do waits for its turn and the interval since the previous call returned,
// then runs fn. It returns the context error without running fn if ctx is
// done first.
func (l *IntervalLimiter) Do(ctx context.Context, fn func(context.Context) error) error {
	select {
	case l.turn <- struct{}{}:
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "geocode: interval limiter")
	}
	defer func() { <-l.turn }()

	if l.interval > 0 && !l.last.IsZero() {
		if wait := l.interval - l.now().Sub(l.last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return eris.Wrap(ctx.Err(), "geocode: interval limiter")
			case <-timer.C:
			}
		}
	}
	defer func() { l.last = l.now() }()
	return fn(ctx)
}

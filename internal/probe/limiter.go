package probe

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces probe rounds. A zero period disables pacing.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter allows one round per period with no burst, so a slow round is
// not followed by a catch-up volley.
func NewLimiter(period time.Duration) *Limiter {
	if period <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Every(period), 1)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	if l.limiter.Limit() == rate.Inf {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}

package core

import (
	"context"
	"errors"
	"time"
)

// ErrPollDeadline is returned by PollUntil when the deadline passes before
// the condition holds.
var ErrPollDeadline = errors.New("poll deadline exceeded")

// PollUntil evaluates cond immediately and then every interval until it
// returns true, the deadline elapses or ctx is done. It returns nil when the
// condition held, ErrPollDeadline on timeout and ctx.Err() on cancellation.
// A non-positive deadline evaluates cond exactly once.
func PollUntil(ctx context.Context, interval, deadline time.Duration, cond func() bool) error {
	if cond() {
		return nil
	}
	if deadline <= 0 {
		return ErrPollDeadline
	}
	if interval <= 0 {
		interval = deadline
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			// one last look so a condition that became true right at the
			// deadline is not reported as a timeout
			if cond() {
				return nil
			}
			return ErrPollDeadline
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

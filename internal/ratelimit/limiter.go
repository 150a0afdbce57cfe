// Package ratelimit provides the core's token bucket rate limiter: a
// mutable-rate bucket whose capacity always equals its refill rate, shared
// (by pointer) across the workers of a single download.
package ratelimit

import (
	"context"

	"dlcore/internal/domain"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket wrapping golang.org/x/time/rate.Limiter.
// rate.Limiter.SetLimit is documented to leave the current token level
// untouched, which is exactly the "does not reset tokens" behavior the
// rate limiter design requires on a live limit change.
type Limiter struct {
	inner *rate.Limiter
}

// New builds a limiter with capacity and refill rate both equal to
// bytesPerSec. bytesPerSec <= 0 yields an unlimited limiter.
func New(bytesPerSec int64) *Limiter {
	l := &Limiter{}
	if bytesPerSec <= 0 {
		l.inner = rate.NewLimiter(rate.Inf, 0)
		return l
	}
	l.inner = rate.NewLimiter(rate.Limit(bytesPerSec), int(bytesPerSec))
	return l
}

// Unlimited returns a limiter that never blocks.
func Unlimited() *Limiter {
	return New(0)
}

// Acquire blocks until n bytes are budgeted, or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, n int) error {
	for n > 0 {
		step := n
		if l.inner.Limit() != rate.Inf {
			if burst := l.inner.Burst(); burst > 0 && step > burst {
				step = burst
			}
		}
		if err := l.inner.WaitN(ctx, step); err != nil {
			return domain.NewNetworkError(err)
		}
		n -= step
	}
	return nil
}

// SetLimit updates capacity and rate to bytesPerSec without resetting the
// bucket's current token level, so a limit change never produces a burst.
// bytesPerSec <= 0 removes the limit entirely.
func (l *Limiter) SetLimit(bytesPerSec int64) {
	if bytesPerSec <= 0 {
		l.inner.SetLimit(rate.Inf)
		return
	}
	l.inner.SetLimit(rate.Limit(bytesPerSec))
	l.inner.SetBurst(int(bytesPerSec))
}

// Limit reports the current configured rate in bytes/sec, or 0 if unlimited.
func (l *Limiter) Limit() int64 {
	lim := l.inner.Limit()
	if lim == rate.Inf {
		return 0
	}
	return int64(lim)
}

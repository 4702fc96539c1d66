// Package throttle implements the token-bucket rate limiter interposed
// between an HTTP response body and disk (spec.md §4.1).
package throttle

import (
	"context"
	"fmt"
	"io"

	"golang.org/x/time/rate"
)

// Throttle rate-limits bytes written through it to a mutable bytes/second
// ceiling. Bucket size equals the current rate, refilling at the current
// rate per second, matching spec.md §4.1 exactly.
type Throttle struct {
	limiter *rate.Limiter
}

// New creates a Throttle admitting at most ratePerSecond bytes/second. A
// rate of 0 is invalid per spec.md §4.1.
func New(ratePerSecond int64) (*Throttle, error) {
	if ratePerSecond <= 0 {
		return nil, fmt.Errorf("throttle: rate must be positive, got %d", ratePerSecond)
	}
	return &Throttle{
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)),
	}, nil
}

// SetRate atomically replaces both bucket capacity and refill rate.
// Tokens already admitted are never revoked.
func (t *Throttle) SetRate(ratePerSecond int64) error {
	if ratePerSecond <= 0 {
		return fmt.Errorf("throttle: rate must be positive, got %d", ratePerSecond)
	}
	t.limiter.SetLimit(rate.Limit(ratePerSecond))
	t.limiter.SetBurst(int(ratePerSecond))
	return nil
}

// Wait blocks until n bytes are admitted, or ctx is done. It never holds
// any Prometeo-owned lock while suspended — the caller is free to be
// cancelled out from under it by a sibling goroutine.
func (t *Throttle) Wait(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	// rate.Limiter refuses WaitN requests larger than its burst; admit in
	// rate-sized slices so a shrinking SetRate never deadlocks a pending
	// large write.
	for n > 0 {
		burst := t.limiter.Burst()
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := t.limiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}

// NewWriter wraps dst so every Write is throttled before being forwarded,
// the same shape as got.Progress (an io.Writer) in the pack, but gating
// bytes rather than merely counting them.
func (t *Throttle) NewWriter(ctx context.Context, dst io.Writer) io.Writer {
	return &throttledWriter{throttle: t, dst: dst, ctx: ctx}
}

type throttledWriter struct {
	throttle *Throttle
	dst      io.Writer
	ctx      context.Context
}

func (w *throttledWriter) Write(p []byte) (int, error) {
	if err := w.throttle.Wait(w.ctx, len(p)); err != nil {
		return 0, err
	}
	return w.dst.Write(p)
}

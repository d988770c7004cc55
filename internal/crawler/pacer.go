package crawler

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces out article fetches within one crawl run. It is a deliberate
// suspension used purely for rate limiting, not for coordination.
type pacer interface {
	Wait(ctx context.Context) error
}

type limiterPacer struct {
	limiter *rate.Limiter
}

// newLimiterPacer returns a pacer that makes every Wait, including the
// first, block for the configured delay.
func newLimiterPacer(delay time.Duration) pacer {
	if delay <= 0 {
		return nopPacer{}
	}
	limiter := rate.NewLimiter(rate.Every(delay), 1)
	// Spend the initial burst token so the first Wait observes the delay.
	limiter.ReserveN(time.Now(), 1)
	return &limiterPacer{limiter: limiter}
}

func (p *limiterPacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

type nopPacer struct{}

func (nopPacer) Wait(context.Context) error { return nil }

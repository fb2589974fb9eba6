// health.go houses the background health loop for Pool.  Every interval it
// pings each pooled handle and invalidates the ones that fail, so the next
// request for that tenant reopens a fresh handle instead of erroring.
//
// Each invalidation is logged and updates Prometheus counters (through
// Pool.Invalidate).
package tenant

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// pingTimeout bounds one health ping.
const pingTimeout = 5 * time.Second

// StartHealth runs the health loop until ctx is cancelled.  A zero or
// negative interval disables it.
func (p *Pool) StartHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				p.checkHealth(ctx)
			}
		}
	}()
}

// checkHealth runs one pass and returns the number of handles dropped.
func (p *Pool) checkHealth(ctx context.Context) int {
	var dropped int
	for _, c := range p.snapshot() {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := c.DB.PingContext(pctx)
		cancel()
		if err == nil {
			continue
		}
		zap.L().Warn("tenant health ping failed",
			zap.String("database", c.Name), zap.Error(err))
		if p.Invalidate(c) {
			dropped++
		}
	}
	return dropped
}

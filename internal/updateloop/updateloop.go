// Package updateloop implements the periodic overlay maintenance task:
// each tick it prunes connections that have gone stale and asks the
// active overlay.Strategy to repair the network's shape.
package updateloop

import (
	"context"
	"time"
)

// Loop runs prune and updateNetwork once per interval.
type Loop struct {
	interval      time.Duration
	prune         func(now time.Time)
	updateNetwork func(ctx context.Context)
}

// New returns a Loop that fires every interval.
func New(interval time.Duration, prune func(time.Time), updateNetwork func(context.Context)) *Loop {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Loop{interval: interval, prune: prune, updateNetwork: updateNetwork}
}

// Run blocks, ticking until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.prune(time.Now())
			l.updateNetwork(ctx)
		}
	}
}

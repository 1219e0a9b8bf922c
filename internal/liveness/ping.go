// Package liveness implements the ping task: periodically send a
// fire-and-forget Ping frame to every approved outbound neighbor and
// separately watch every neighbor's last-seen ping timestamp so the
// update loop can drop stale connections.
package liveness

import (
	"context"
	"time"

	"overlaynet/internal/addr"
)

// Pinger periodically fires a Ping frame at every approved neighbor.
type Pinger struct {
	interval time.Duration
	peers    func() []addr.NodeAddress
	ping     func(peer addr.NodeAddress)
}

// New returns a Pinger that calls peers to enumerate current approved
// neighbors and ping to send one Ping frame, once per interval.
func New(interval time.Duration, peers func() []addr.NodeAddress, ping func(addr.NodeAddress)) *Pinger {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Pinger{interval: interval, peers: peers, ping: ping}
}

// Run pings every approved neighbor once per interval until ctx is
// done.
func (p *Pinger) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, peer := range p.peers() {
				p.ping(peer)
			}
		}
	}
}

// IsStale reports whether lastSeen is old enough, relative to now, to
// be considered dead given timeout. Callers pass the already-resolved
// liveness window (spec.md section 6's ConnectionTimeout, documented as
// 2x PingFrequency by default but independently overridable) rather
// than a ping interval this function would have to double itself.
func IsStale(lastSeen, now time.Time, timeout time.Duration) bool {
	if lastSeen.IsZero() {
		return false
	}
	return now.Sub(lastSeen) > timeout
}

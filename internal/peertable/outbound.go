package peertable

import (
	"context"
	"fmt"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"overlaynet/internal/addr"
)

// Dialer opens a new outbound TCP connection. It is a field rather than a
// hardcoded net.Dialer call so tests can substitute an in-process pipe.
type Dialer func(ctx context.Context, a addr.NodeAddress) (net.Conn, error)

// DialTCP is the production Dialer: it dials TCP/IPv4 and disables
// Nagle's algorithm, per the transport contract in spec.md section 6.
func DialTCP(ctx context.Context, a addr.NodeAddress) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp4", a.String())
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// OutboundTable is the "sending" table. ensureOutbound is the only place
// new outbound connections are minted: concurrent callers for the same
// address are coalesced onto a single in-flight dial via singleflight,
// which realizes the placeholder/opener/waiter protocol spec.md section
// 4.2 describes without holding the table lock across the dial.
type OutboundTable struct {
	*Table
	group  singleflight.Group
	dial   Dialer
	recent *lru.Cache[string, time.Time]
}

// NewOutboundTable returns an outbound table that dials with dial and
// remembers up to recentCap recently-attempted addresses.
func NewOutboundTable(dial Dialer, recentCap int) *OutboundTable {
	if dial == nil {
		dial = DialTCP
	}
	if recentCap <= 0 {
		recentCap = 1024
	}
	cache, _ := lru.New[string, time.Time](recentCap)
	return &OutboundTable{Table: NewTable(), dial: dial, recent: cache}
}

// EnsureOutbound returns the live outbound connection to a, dialing one
// if none exists yet. Concurrent calls for the same address share one
// dial attempt and one result.
func (t *OutboundTable) EnsureOutbound(ctx context.Context, a addr.NodeAddress) (*PeerConnection, error) {
	if pc, ok := t.Get(a); ok {
		return pc, nil
	}
	key := a.String()
	t.recent.Add(key, time.Now())
	v, err, _ := t.group.Do(key, func() (any, error) {
		if pc, ok := t.Get(a); ok {
			return pc, nil
		}
		conn, err := t.dial(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("peertable: dial %s: %w", a, err)
		}
		return t.Put(a, conn), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PeerConnection), nil
}

// EnsureApproved returns the outbound connection to a only if it exists
// and is approved. It never dials.
func (t *OutboundTable) EnsureApproved(a addr.NodeAddress) (*PeerConnection, bool) {
	pc, ok := t.Get(a)
	if !ok || !pc.Approved() {
		return nil, false
	}
	return pc, true
}

// LastAttempt reports when EnsureOutbound last had to dial a because no
// connection to it existed. The node's approval request reads it to skip
// a peer dialed too recently; the backoff policy keeps its own state.
func (t *OutboundTable) LastAttempt(a addr.NodeAddress) (time.Time, bool) {
	return t.recent.Get(a.String())
}

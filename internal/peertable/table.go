// Package peertable implements the peer connection tables: the inbound
// ("receiving") and outbound ("sending") maps of NodeAddress ->
// PeerConnection, and the ensureOutbound/ensureApproved contract that is
// the only place new outbound connections get minted.
package peertable

import (
	"net"
	"sync"
	"time"

	"overlaynet/internal/addr"
)

// PeerConnection is the per-peer state tracked by either table: the
// owning transport endpoint, the last time a ping was observed from this
// peer, and whether the approval handshake has completed.
type PeerConnection struct {
	Addr addr.NodeAddress

	mu         sync.Mutex
	conn       net.Conn
	lastPingAt time.Time
	approved   bool

	writeMu sync.Mutex
}

func newPeerConnection(a addr.NodeAddress, conn net.Conn) *PeerConnection {
	return &PeerConnection{Addr: a, conn: conn, lastPingAt: time.Now()}
}

// NetConn returns the underlying transport endpoint, wrapped so that
// concurrent Write calls are serialized. The send queue spawns one
// writer goroutine per request, and several of those goroutines can
// legitimately target the same peer at once; without serialization
// their writes would interleave on the wire and corrupt the
// length-prefixed framing for whoever reads the stream next.
func (p *PeerConnection) NetConn() net.Conn {
	return &syncWriteConn{Conn: p.conn, mu: &p.writeMu}
}

// syncWriteConn wraps a net.Conn so that Write is serialized across
// every holder of the wrapper, via a mutex shared back to the owning
// PeerConnection.
type syncWriteConn struct {
	net.Conn
	mu *sync.Mutex
}

func (c *syncWriteConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.Write(b)
}

// LastPingAt returns the last recorded ping timestamp.
func (p *PeerConnection) LastPingAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastPingAt
}

// TouchPing records that a ping (or ping-equivalent activity) was just
// observed from this peer.
func (p *PeerConnection) TouchPing() {
	p.mu.Lock()
	p.lastPingAt = time.Now()
	p.mu.Unlock()
}

// Approved reports whether the approval handshake has completed for this
// connection.
func (p *PeerConnection) Approved() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.approved
}

// MarkApproved flips the connection to the Approved state.
func (p *PeerConnection) MarkApproved() {
	p.mu.Lock()
	p.approved = true
	p.mu.Unlock()
}

// Table is a mutex-guarded map from NodeAddress to PeerConnection. It is
// used directly as the inbound ("receiving") table; OutboundTable embeds
// one to additionally provide the ensureOutbound/ensureApproved contract.
type Table struct {
	mu    sync.Mutex
	conns map[addr.NodeAddress]*PeerConnection
}

// NewTable returns an empty peer table.
func NewTable() *Table {
	return &Table{conns: make(map[addr.NodeAddress]*PeerConnection)}
}

// Get returns the connection filed under a, if any. It never blocks on
// I/O and never dials.
func (t *Table) Get(a addr.NodeAddress) (*PeerConnection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.conns[a]
	return pc, ok
}

// Put installs a live connection for a, replacing any existing entry.
func (t *Table) Put(a addr.NodeAddress, conn net.Conn) *PeerConnection {
	pc := newPeerConnection(a, conn)
	t.mu.Lock()
	t.conns[a] = pc
	t.mu.Unlock()
	return pc
}

// Remove drops the entry for a, if present, and reports whether it was
// present. It does not close the underlying connection -- callers close
// before removing so the close never happens under the table lock.
func (t *Table) Remove(a addr.NodeAddress) (*PeerConnection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pc, ok := t.conns[a]
	if ok {
		delete(t.conns, a)
	}
	return pc, ok
}

// RemoveConn removes whichever entry currently points at conn, used by
// the inbound reader when a stream fails and its owning address may not
// be known to the caller in advance.
func (t *Table) RemoveConn(conn net.Conn) (addr.NodeAddress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for a, pc := range t.conns {
		if pc.conn == conn {
			delete(t.conns, a)
			return a, true
		}
	}
	return addr.NodeAddress{}, false
}

// List returns a snapshot slice of every address currently in the table.
func (t *Table) List() []addr.NodeAddress {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]addr.NodeAddress, 0, len(t.conns))
	for a := range t.conns {
		out = append(out, a)
	}
	return out
}

// Snapshot returns a copy of the address -> connection map.
func (t *Table) Snapshot() map[addr.NodeAddress]*PeerConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[addr.NodeAddress]*PeerConnection, len(t.conns))
	for a, pc := range t.conns {
		out[a] = pc
	}
	return out
}

// ApprovedList returns the addresses of every connection currently
// marked approved.
func (t *Table) ApprovedList() []addr.NodeAddress {
	t.mu.Lock()
	snap := make([]*PeerConnection, 0, len(t.conns))
	addrs := make([]addr.NodeAddress, 0, len(t.conns))
	for a, pc := range t.conns {
		snap = append(snap, pc)
		addrs = append(addrs, a)
	}
	t.mu.Unlock()
	out := make([]addr.NodeAddress, 0, len(addrs))
	for i, pc := range snap {
		if pc.Approved() {
			out = append(out, addrs[i])
		}
	}
	return out
}

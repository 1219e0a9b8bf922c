// Package reader implements the framed reader task: it scans every
// inbound connection round-robin, performs a non-blocking read of up to
// a fixed chunk, and drives each connection's wire.Buffer state machine,
// handing whole frames to a callback on the single reader goroutine so
// per-peer frame order is preserved.
package reader

import (
	"context"
	"net"
	"sync"
	"time"

	"overlaynet/internal/wire"
)

// Conn wraps an accepted net.Conn with the bookkeeping the reader and
// dispatcher need: the peer's observed IP (for building its declared
// NodeAddress once a frame reveals the port) and its FrameBuffer.
type Conn struct {
	net.Conn
	RemoteIP net.IP

	buf *wire.Buffer
}

func wrap(c net.Conn) *Conn {
	host, _, _ := net.SplitHostPort(c.RemoteAddr().String())
	return &Conn{Conn: c, RemoteIP: net.ParseIP(host), buf: wire.NewBuffer()}
}

// Reader owns the set of currently-open inbound connections and the
// single goroutine that scans them.
type Reader struct {
	chunk    int
	interval time.Duration
	onFrame  func(c *Conn, frame []byte)
	onError  func(c *Conn, err error)

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// New returns a Reader that reads at most chunk bytes per connection per
// scan pass, scanning every interval, delivering whole frames to onFrame
// and terminal per-connection errors (malformed length, closed stream)
// to onError.
func New(chunk int, interval time.Duration, onFrame func(*Conn, []byte), onError func(*Conn, error)) *Reader {
	if chunk <= 0 {
		chunk = 1024
	}
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}
	return &Reader{
		chunk:    chunk,
		interval: interval,
		onFrame:  onFrame,
		onError:  onError,
		conns:    make(map[*Conn]struct{}),
	}
}

// Add registers a newly-accepted connection for scanning.
func (r *Reader) Add(c net.Conn) *Conn {
	wc := wrap(c)
	r.mu.Lock()
	r.conns[wc] = struct{}{}
	r.mu.Unlock()
	return wc
}

// Remove stops scanning c. It does not close the underlying connection;
// callers close before or after removing depending on why the connection
// is going away.
func (r *Reader) Remove(c *Conn) {
	r.mu.Lock()
	delete(r.conns, c)
	r.mu.Unlock()
}

// Run scans every registered connection once per interval until ctx is
// done.
func (r *Reader) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanOnce()
		}
	}
}

func (r *Reader) scanOnce() {
	r.mu.Lock()
	snapshot := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		snapshot = append(snapshot, c)
	}
	r.mu.Unlock()

	for _, c := range snapshot {
		r.readOnce(c)
	}
}

func (r *Reader) readOnce(c *Conn) {
	_ = c.SetReadDeadline(time.Now().Add(time.Millisecond))
	buf := make([]byte, r.chunk)
	n, err := c.Read(buf)
	if n > 0 {
		c.buf.Append(buf[:n])
		if derr := c.buf.Drain(func(frame []byte) {
			r.onFrame(c, frame)
		}); derr != nil {
			r.Remove(c)
			if r.onError != nil {
				r.onError(c, derr)
			}
			return
		}
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		r.Remove(c)
		if r.onError != nil {
			r.onError(c, err)
		}
	}
}

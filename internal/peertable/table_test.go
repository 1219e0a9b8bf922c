package peertable

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"overlaynet/internal/addr"
)

func mustAddr(t *testing.T, s string) addr.NodeAddress {
	t.Helper()
	a, err := addr.Parse(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

func TestInboundTablePutGetRemove(t *testing.T) {
	tbl := NewTable()
	a := mustAddr(t, "10.0.0.1:1")
	c1, _ := net.Pipe()
	pc := tbl.Put(a, c1)
	if pc.Addr != a {
		t.Fatalf("addr mismatch")
	}
	got, ok := tbl.Get(a)
	if !ok || got != pc {
		t.Fatalf("expected to find inserted connection")
	}
	removed, ok := tbl.Remove(a)
	if !ok || removed != pc {
		t.Fatalf("expected remove to return inserted connection")
	}
	if _, ok := tbl.Get(a); ok {
		t.Fatalf("expected entry to be gone")
	}
}

func TestApprovedList(t *testing.T) {
	tbl := NewTable()
	a1 := mustAddr(t, "10.0.0.1:1")
	a2 := mustAddr(t, "10.0.0.2:2")
	c1, _ := net.Pipe()
	c2, _ := net.Pipe()
	pc1 := tbl.Put(a1, c1)
	tbl.Put(a2, c2)
	pc1.MarkApproved()
	list := tbl.ApprovedList()
	if len(list) != 1 || list[0] != a1 {
		t.Fatalf("expected only a1 approved, got %v", list)
	}
}

func TestEnsureOutboundCoalescesConcurrentDials(t *testing.T) {
	a := mustAddr(t, "10.0.0.9:9")
	var dials int32
	dial := func(ctx context.Context, target addr.NodeAddress) (net.Conn, error) {
		atomic.AddInt32(&dials, 1)
		time.Sleep(20 * time.Millisecond)
		c1, _ := net.Pipe()
		return c1, nil
	}
	tbl := NewOutboundTable(dial, 0)

	var wg sync.WaitGroup
	results := make([]*PeerConnection, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pc, err := tbl.EnsureOutbound(context.Background(), a)
			if err != nil {
				t.Errorf("EnsureOutbound: %v", err)
				return
			}
			results[i] = pc
		}(i)
	}
	wg.Wait()
	if got := atomic.LoadInt32(&dials); got != 1 {
		t.Fatalf("expected exactly one dial, got %d", got)
	}
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatalf("expected all callers to observe the same connection")
		}
	}
}

func TestEnsureOutboundReturnsErrorOnDialFailure(t *testing.T) {
	a := mustAddr(t, "10.0.0.9:9")
	dialErr := errors.New("boom")
	dial := func(ctx context.Context, target addr.NodeAddress) (net.Conn, error) {
		return nil, dialErr
	}
	tbl := NewOutboundTable(dial, 0)
	_, err := tbl.EnsureOutbound(context.Background(), a)
	if err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := tbl.Get(a); ok {
		t.Fatalf("expected no placeholder left behind after dial failure")
	}
}

func TestNetConnSerializesConcurrentWrites(t *testing.T) {
	tbl := NewTable()
	a := mustAddr(t, "10.0.0.1:1")
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()
	pc := tbl.Put(a, client)

	const writers = 8
	const chunk = 37 // must stay > 1 to make an interleaved write detectable
	payload := make([]byte, chunk)
	for i := range payload {
		payload[i] = byte('A' + i%26)
	}

	received := make(chan []byte, writers)
	go func() {
		buf := make([]byte, chunk)
		for i := 0; i < writers; i++ {
			if _, err := io.ReadFull(server, buf); err != nil {
				return
			}
			cp := make([]byte, chunk)
			copy(cp, buf)
			received <- cp
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pc.NetConn().Write(payload); err != nil {
				t.Errorf("Write: %v", err)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		select {
		case got := <-received:
			if !bytes.Equal(got, payload) {
				t.Fatalf("write %d was corrupted by interleaving: %q", i, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for write %d", i)
		}
	}
}

func TestEnsureApprovedNeverDials(t *testing.T) {
	a := mustAddr(t, "10.0.0.9:9")
	var dials int32
	dial := func(ctx context.Context, target addr.NodeAddress) (net.Conn, error) {
		atomic.AddInt32(&dials, 1)
		c1, _ := net.Pipe()
		return c1, nil
	}
	tbl := NewOutboundTable(dial, 0)
	if _, ok := tbl.EnsureApproved(a); ok {
		t.Fatalf("expected no connection")
	}
	if got := atomic.LoadInt32(&dials); got != 0 {
		t.Fatalf("EnsureApproved must never dial, got %d dials", got)
	}
}

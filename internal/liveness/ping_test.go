package liveness

import (
	"context"
	"sync"
	"testing"
	"time"

	"overlaynet/internal/addr"
)

func mustAddr(t *testing.T, s string) addr.NodeAddress {
	t.Helper()
	a, err := addr.Parse(s)
	if err != nil {
		t.Fatalf("Parse(%q): %v", s, err)
	}
	return a
}

func TestPingerPingsEveryPeerEachTick(t *testing.T) {
	a := mustAddr(t, "10.0.0.1:9000")
	b := mustAddr(t, "10.0.0.2:9000")

	var mu sync.Mutex
	var pinged []addr.NodeAddress
	p := New(5*time.Millisecond, func() []addr.NodeAddress {
		return []addr.NodeAddress{a, b}
	}, func(peer addr.NodeAddress) {
		mu.Lock()
		pinged = append(pinged, peer)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(pinged) < 2 {
		t.Fatalf("expected at least one full round of pings, got %d", len(pinged))
	}
}

func TestIsStale(t *testing.T) {
	now := time.Now()
	fresh := now.Add(-1 * time.Second)
	stale := now.Add(-30 * time.Second)
	if IsStale(fresh, now, 10*time.Second) {
		t.Fatalf("recently seen peer should not be stale")
	}
	if !IsStale(stale, now, 10*time.Second) {
		t.Fatalf("peer unseen for 3x the timeout should be stale")
	}
	if IsStale(time.Time{}, now, 10*time.Second) {
		t.Fatalf("zero last-seen time should never be reported stale")
	}
}

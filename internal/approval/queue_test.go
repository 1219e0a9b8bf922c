package approval

import (
	"context"
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

func TestQueueDeliversGrantorAndRequesterEvents(t *testing.T) {
	q := NewQueue(4)
	a := mustAddr(t, "10.0.0.1:9000")
	b := mustAddr(t, "10.0.0.2:9000")

	grantorCh := make(chan addr.NodeAddress, 1)
	requesterCh := make(chan addr.NodeAddress, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, func(p addr.NodeAddress) { grantorCh <- p }, func(p addr.NodeAddress) { requesterCh <- p })

	q.EnqueueGrantor(a)
	q.EnqueueRequester(b)

	select {
	case got := <-grantorCh:
		if !got.Equal(a) {
			t.Fatalf("grantor event mismatch: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for grantor event")
	}
	select {
	case got := <-requesterCh:
		if !got.Equal(b) {
			t.Fatalf("requester event mismatch: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for requester event")
	}
}

func TestQueueDropsWhenSaturated(t *testing.T) {
	q := NewQueue(1)
	a := mustAddr(t, "10.0.0.1:9000")
	q.EnqueueGrantor(a)
	q.EnqueueGrantor(a) // must not block even though capacity is exhausted
}

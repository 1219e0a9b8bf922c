package backoff

import (
	"testing"
	"time"
)

func TestFailGrowsUntilCap(t *testing.T) {
	p := New(2*time.Second, 10*time.Second)
	var last time.Duration
	for i := 0; i < 10; i++ {
		d := p.Fail("10.0.0.1:1")
		if d > p.max {
			t.Fatalf("delay %v exceeded cap %v", d, p.max)
		}
		// The policy applies 10% jitter, so once the cap is reached delays
		// vary within [0.9*max, max]; below that band every delay grows.
		if d < last && d < p.max-p.max/10 {
			t.Fatalf("expected delay to keep growing until it reaches the cap, got %v after %v", d, last)
		}
		last = d
	}
	if last < p.max-p.max/10 {
		t.Fatalf("expected delay to reach the cap after 10 failures, got %v", last)
	}
}

func TestReadyBeforeAnyFailure(t *testing.T) {
	p := New(2*time.Second, 10*time.Second)
	if !p.Ready("10.0.0.1:1") {
		t.Fatalf("expected an untried key to be ready")
	}
}

func TestNotReadyImmediatelyAfterFailure(t *testing.T) {
	p := New(2*time.Second, 10*time.Second)
	p.Fail("10.0.0.1:1")
	if p.Ready("10.0.0.1:1") {
		t.Fatalf("expected key to be backed off immediately after failure")
	}
}

func TestSucceedClearsBackoff(t *testing.T) {
	p := New(2*time.Second, 10*time.Second)
	p.Fail("10.0.0.1:1")
	p.Succeed("10.0.0.1:1")
	if !p.Ready("10.0.0.1:1") {
		t.Fatalf("expected key to be ready again after Succeed")
	}
}

func TestReadyAfterWindowElapses(t *testing.T) {
	p := New(5*time.Millisecond, 10*time.Millisecond)
	p.Fail("10.0.0.1:1")
	time.Sleep(30 * time.Millisecond)
	if !p.Ready("10.0.0.1:1") {
		t.Fatalf("expected key to become ready after backoff window elapses")
	}
}

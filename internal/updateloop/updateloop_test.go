package updateloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopFiresPruneAndUpdateNetworkEachTick(t *testing.T) {
	var pruneCount, updateCount atomic.Int32
	l := New(5*time.Millisecond, func(time.Time) {
		pruneCount.Add(1)
	}, func(context.Context) {
		updateCount.Add(1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	l.Run(ctx)

	if pruneCount.Load() == 0 || updateCount.Load() == 0 {
		t.Fatalf("expected both prune and updateNetwork to fire at least once, got prune=%d update=%d",
			pruneCount.Load(), updateCount.Load())
	}
}

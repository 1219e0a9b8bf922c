// Package approval implements the approval-queue processor: a bounded
// pair of queues, one for peers this node just approved (as grantor)
// and one for peers that just approved this node (as requester), both
// drained by a single goroutine so invoking the overlay strategy's hooks
// never happens on the dispatcher goroutine that decoded the approval
// frame. Without this indirection a strategy hook that itself sends a
// message (chord's bootstrap-on-approval, for instance) could re-enter
// the dispatcher and deadlock it.
package approval

import (
	"context"

	"overlaynet/internal/addr"
)

// Queue holds pending grantor- and requester-side approval events.
type Queue struct {
	grantor    chan addr.NodeAddress
	requester  chan addr.NodeAddress
}

// NewQueue returns a queue with the given per-side channel capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 64
	}
	return &Queue{
		grantor:   make(chan addr.NodeAddress, capacity),
		requester: make(chan addr.NodeAddress, capacity),
	}
}

// EnqueueGrantor records that this node just approved peer.
func (q *Queue) EnqueueGrantor(peer addr.NodeAddress) {
	select {
	case q.grantor <- peer:
	default:
	}
}

// EnqueueRequester records that peer just approved this node.
func (q *Queue) EnqueueRequester(peer addr.NodeAddress) {
	select {
	case q.requester <- peer:
	default:
	}
}

// Run drains both queues until ctx is done, invoking onGrantor for
// grantor-side events and onRequester for requester-side events.
func (q *Queue) Run(ctx context.Context, onGrantor, onRequester func(addr.NodeAddress)) {
	for {
		select {
		case <-ctx.Done():
			return
		case peer := <-q.grantor:
			onGrantor(peer)
		case peer := <-q.requester:
			onRequester(peer)
		}
	}
}

package resulthandle

import "sync"

// PendingTable is the map from message_id to the ResponseResult awaiting
// that id's reply. It is guarded by a single lock held only while
// mutating the map, never across I/O -- matching the "pending-response
// lock" in the concurrency model.
type PendingTable struct {
	mu      sync.Mutex
	waiters map[uint64]*ResponseResult
}

// NewPendingTable returns an empty pending-response table.
func NewPendingTable() *PendingTable {
	return &PendingTable{waiters: make(map[uint64]*ResponseResult)}
}

// Register files rr under id so a later Resolve(id, ...) can deliver its
// reply. The caller must have chosen a unique id for the lifetime of the
// registration.
func (t *PendingTable) Register(id uint64, rr *ResponseResult) {
	t.mu.Lock()
	t.waiters[id] = rr
	t.mu.Unlock()
}

// Resolve delivers resp to the waiter registered under id, if any, and
// removes the entry. It reports whether a waiter was found. This is
// called by the dispatcher before any kind-specific handling, so that
// even response frames of kind Neighbors/System reach their waiter.
func (t *PendingTable) Resolve(id uint64, resp Response) bool {
	t.mu.Lock()
	rr, ok := t.waiters[id]
	if ok {
		delete(t.waiters, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	rr.CompleteSuccess(resp)
	return true
}

// Fail completes the waiter registered under id with outcome and removes
// the entry. Used when the underlying connection fails or the node
// shuts down while a request is outstanding.
func (t *PendingTable) Fail(id uint64, outcome ResponseOutcome) bool {
	t.mu.Lock()
	rr, ok := t.waiters[id]
	if ok {
		delete(t.waiters, id)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	rr.CompleteFailure(outcome)
	return true
}

// Clear removes the entry for id without completing it. Callers use it
// when their own wait on the waiter ends through their context, so a
// reply that arrives later finds no entry. Per the resolved open question
// in spec.md section 9, every caller of Register also calls exactly one
// of Resolve/Fail/Clear so no entry is ever left dangling.
func (t *PendingTable) Clear(id uint64) {
	t.mu.Lock()
	delete(t.waiters, id)
	t.mu.Unlock()
}

// FailAll completes every outstanding waiter with outcome and empties
// the table, used on shutdown.
func (t *PendingTable) FailAll(outcome ResponseOutcome) {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = make(map[uint64]*ResponseResult)
	t.mu.Unlock()
	for _, rr := range waiters {
		rr.CompleteFailure(outcome)
	}
}

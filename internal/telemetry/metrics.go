// Package telemetry implements the node's atomic-counter metrics,
// generalizing the teacher's internal/metrics package (atomic counters
// plus a periodic JSON snapshot) to this domain's dial/approval/frame
// counters. It is a purely ambient/observability concern: spec.md names
// no metrics accessor in the public API surface, so Metrics is exposed
// for tests and optional periodic snapshotting only.
package telemetry

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"time"
)

// Metrics holds every counter this node tracks.
type Metrics struct {
	dialAttempts      atomic.Uint64
	dialSuccesses     atomic.Uint64
	dialFailures      atomic.Uint64
	approvalsGranted  atomic.Uint64
	approvalsReceived atomic.Uint64
	approvalsRejected atomic.Uint64
	framesSent        atomic.Uint64
	framesReceived    atomic.Uint64
	pendingTimeouts   atomic.Uint64
	approvedNeighbors atomic.Int64
}

// New returns a zeroed metrics set.
func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncDialAttempts()      { m.dialAttempts.Add(1) }
func (m *Metrics) IncDialSuccesses()     { m.dialSuccesses.Add(1) }
func (m *Metrics) IncDialFailures()      { m.dialFailures.Add(1) }
func (m *Metrics) IncApprovalsGranted()  { m.approvalsGranted.Add(1) }
func (m *Metrics) IncApprovalsReceived() { m.approvalsReceived.Add(1) }
func (m *Metrics) IncApprovalsRejected() { m.approvalsRejected.Add(1) }
func (m *Metrics) IncFramesSent()        { m.framesSent.Add(1) }
func (m *Metrics) IncFramesReceived()    { m.framesReceived.Add(1) }
func (m *Metrics) IncPendingTimeouts()   { m.pendingTimeouts.Add(1) }
func (m *Metrics) SetApprovedNeighbors(n int) {
	m.approvedNeighbors.Store(int64(n))
}

// Snapshot is the JSON-serializable view of every counter, used by
// WriteSnapshot and by tests asserting on counter values.
type Snapshot struct {
	GeneratedAt       time.Time `json:"generated_at"`
	DialAttempts      uint64    `json:"dial_attempts"`
	DialSuccesses     uint64    `json:"dial_successes"`
	DialFailures      uint64    `json:"dial_failures"`
	ApprovalsGranted  uint64    `json:"approvals_granted"`
	ApprovalsReceived uint64    `json:"approvals_received"`
	ApprovalsRejected uint64    `json:"approvals_rejected"`
	FramesSent        uint64    `json:"frames_sent"`
	FramesReceived    uint64    `json:"frames_received"`
	PendingTimeouts   uint64    `json:"pending_timeouts"`
	ApprovedNeighbors int64     `json:"approved_neighbors"`
}

// Snapshot captures the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		GeneratedAt:       time.Now().UTC(),
		DialAttempts:      m.dialAttempts.Load(),
		DialSuccesses:     m.dialSuccesses.Load(),
		DialFailures:      m.dialFailures.Load(),
		ApprovalsGranted:  m.approvalsGranted.Load(),
		ApprovalsReceived: m.approvalsReceived.Load(),
		ApprovalsRejected: m.approvalsRejected.Load(),
		FramesSent:        m.framesSent.Load(),
		FramesReceived:    m.framesReceived.Load(),
		PendingTimeouts:   m.pendingTimeouts.Load(),
		ApprovedNeighbors: m.approvedNeighbors.Load(),
	}
}

// WriteSnapshot writes the current snapshot as indented JSON to path,
// mirroring the teacher's best-effort metrics.json writer: a failure to
// write is not fatal to the node.
func (m *Metrics) WriteSnapshot(path string) error {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

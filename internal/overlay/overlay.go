// Package overlay defines the pluggable-topology boundary: a Strategy
// implements one overlay's shape (mesh or chord) against a Core that
// gives it the handful of primitives every topology needs (approval,
// neighbor discovery, addressed system messaging) without depending on
// the node runtime that implements Core. This is the generalization of
// the Design Note in the specification this module implements: one
// concrete node runtime parameterized by {network_type_tag,
// on_approval_granted, on_approval_request_granted, on_system_message,
// update_network}.
package overlay

import (
	"context"

	"overlaynet/internal/addr"
	"overlaynet/internal/wlog"
)

// Core is the set of node-runtime operations a Strategy needs. It is
// implemented by the root package's Node so overlay strategies never
// import the node runtime, only this interface.
type Core interface {
	Self() addr.NodeAddress
	Seeds() []addr.NodeAddress
	ApprovedNeighbors() []addr.NodeAddress
	Logger() wlog.Logger

	// GetApproval runs the approval handshake against target and
	// returns whether it was granted.
	GetApproval(ctx context.Context, target addr.NodeAddress) (bool, error)

	// RequestNeighbors asks target for its neighbor list.
	RequestNeighbors(ctx context.Context, target addr.NodeAddress) ([]addr.NodeAddress, error)

	// SystemRequest sends a System-kind frame to target and blocks for
	// its reply payload.
	SystemRequest(ctx context.Context, target addr.NodeAddress, payload string) (string, error)

	// SystemFireAndForget sends a System-kind frame to target without
	// awaiting a response.
	SystemFireAndForget(target addr.NodeAddress, payload string)
}

// SystemRequest describes one inbound System-kind frame handed to a
// Strategy for interpretation.
type SystemRequest struct {
	Sender    addr.NodeAddress
	MessageID uint64
	Awaiting  bool
	Payload   string
}

// Strategy is the pluggable overlay-shape boundary.
type Strategy interface {
	// NetworkType returns the topology tag advertised during the
	// approval handshake ("mesh" or "chord").
	NetworkType() string

	// OnApprovalGranted fires when this node grants approval to a peer
	// that requested it (this node is the grantor).
	OnApprovalGranted(peer addr.NodeAddress)

	// OnApprovalRequestGranted fires when a peer this node asked for
	// approval grants it (this node is the requester).
	OnApprovalRequestGranted(peer addr.NodeAddress)

	// HandleSystemMessage interprets an inbound System-kind frame and
	// optionally produces a reply payload. It runs on its own goroutine,
	// never on the reader or dispatch goroutine, so it may block on
	// further Core RPCs (e.g. Chord's recursive find_successor) without
	// stalling frame delivery for any peer.
	HandleSystemMessage(ctx context.Context, req SystemRequest) (response string, respond bool)

	// UpdateNetwork runs periodically to prune and repair the overlay's
	// shape (mesh reconnection, Chord stabilize/fix_fingers).
	UpdateNetwork(ctx context.Context)
}

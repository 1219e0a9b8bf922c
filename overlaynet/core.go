package overlaynet

import (
	"context"
	"fmt"
	"net"
	"time"

	"overlaynet/internal/addr"
	"overlaynet/internal/resulthandle"
	"overlaynet/internal/sendqueue"
	"overlaynet/internal/wire"
)

// ApprovedNeighbors returns the addresses of every peer this node
// currently holds an approved outbound connection to.
func (n *Node) ApprovedNeighbors() []addr.NodeAddress {
	return n.outbound.ApprovedList()
}

// GetApproval runs the approval handshake against target: it dials (or
// reuses) an outbound connection, sends an Approval frame declaring this
// node's overlay type, and waits for "approved" or "failure". A grant
// enqueues the peer on the requester-side approval queue so the active
// Strategy's OnApprovalRequestGranted hook runs off this call's
// goroutine. If target is already an approved outbound peer, this
// returns true immediately without touching the backoff gate or the
// network.
//
// Before consulting the backoff policy, GetApproval also checks the
// outbound table's recent-dial cache: a target dialed within the last
// ConnectionTimeout is not redialed here even if backoff has gone
// Ready for other reasons (e.g. it was never marked failed because the
// prior attempt is still in flight), since the update loop calling this
// on every tick would otherwise pile up redundant dials against a peer
// that is simply slow to respond rather than actually unreachable.
func (n *Node) GetApproval(ctx context.Context, target addr.NodeAddress) (bool, error) {
	if target.Equal(n.self) {
		return false, fmt.Errorf("overlaynet: cannot approve self")
	}
	if _, ok := n.outbound.EnsureApproved(target); ok {
		return true, nil
	}
	if last, ok := n.outbound.LastAttempt(target); ok && time.Since(last) < n.cfg.ConnectionTimeout {
		return false, nil
	}
	key := target.String()
	if !n.backoff.Ready(key) {
		return false, nil
	}

	id := n.nextMessageID()
	frame := wire.Frame{
		Kind: wire.Approval, MessageID: id, AwaitingResponse: true,
		SenderPort: n.self.Port, Payload: []byte(n.strategy.NetworkType()),
	}
	rr := resulthandle.NewResponseResult()
	n.pending.Register(id, rr)
	n.sendQ.Enqueue(sendqueue.Request{Frame: frame, Dest: target, Send: rr.Send, Response: rr})

	resp, outcome, err := rr.Wait(ctx)
	if err != nil {
		n.pending.Clear(id)
		n.backoff.Fail(key)
		return false, err
	}
	if outcome != resulthandle.ResponseSuccess {
		n.backoff.Fail(key)
		return false, nil
	}

	granted := string(resp.Payload) == "approved"
	if !granted {
		n.metrics.IncApprovalsRejected()
		n.backoff.Fail(key)
		return false, nil
	}
	n.backoff.Succeed(key)
	n.metrics.IncApprovalsReceived()
	if pc, ok := n.outbound.Get(target); ok {
		pc.MarkApproved()
	}
	n.approvalQ.EnqueueRequester(target)
	return true, nil
}

// RequestNeighbors asks target for its approved neighbor list.
func (n *Node) RequestNeighbors(ctx context.Context, target addr.NodeAddress) ([]addr.NodeAddress, error) {
	id := n.nextMessageID()
	frame := wire.Frame{Kind: wire.Neighbors, MessageID: id, AwaitingResponse: true, SenderPort: n.self.Port}
	rr := resulthandle.NewResponseResult()
	n.pending.Register(id, rr)
	n.sendQ.Enqueue(sendqueue.Request{Frame: frame, Dest: target, NeedsApproved: true, Send: rr.Send, Response: rr})

	resp, outcome, err := rr.Wait(ctx)
	if err != nil {
		n.pending.Clear(id)
		return nil, err
	}
	if outcome != resulthandle.ResponseSuccess {
		return nil, fmt.Errorf("overlaynet: neighbors request to %s: %s", target, outcome)
	}
	return addr.ParseNeighborList(string(resp.Payload))
}

// SystemRequest sends a System-kind frame to target and blocks for its
// reply payload. Used by the active overlay.Strategy for its wire
// protocol (Chord's "findsuccessor|<id>", "predecessor" and "id" requests).
func (n *Node) SystemRequest(ctx context.Context, target addr.NodeAddress, payload string) (string, error) {
	id := n.nextMessageID()
	frame := wire.Frame{Kind: wire.System, MessageID: id, AwaitingResponse: true, SenderPort: n.self.Port, Payload: []byte(payload)}
	rr := resulthandle.NewResponseResult()
	n.pending.Register(id, rr)
	n.sendQ.Enqueue(sendqueue.Request{Frame: frame, Dest: target, NeedsApproved: true, Send: rr.Send, Response: rr})

	resp, outcome, err := rr.Wait(ctx)
	if err != nil {
		n.pending.Clear(id)
		return "", err
	}
	if outcome != resulthandle.ResponseSuccess {
		return "", fmt.Errorf("overlaynet: system request to %s: %s", target, outcome)
	}
	return string(resp.Payload), nil
}

// SystemFireAndForget sends a System-kind frame to target without
// awaiting a response.
func (n *Node) SystemFireAndForget(target addr.NodeAddress, payload string) {
	frame := wire.Frame{Kind: wire.System, SenderPort: n.self.Port, Payload: []byte(payload)}
	n.sendQ.Enqueue(sendqueue.Request{Frame: frame, Dest: target, NeedsApproved: true, Send: resulthandle.NewSendResult()})
}

// GetNeighbors returns the addresses of every approved neighbor known to
// this node without contacting the network.
func (n *Node) GetNeighbors() []NodeAddress {
	return n.outbound.ApprovedList()
}

// GetRemoteNeighbors asks target for its approved neighbor list.
func (n *Node) GetRemoteNeighbors(ctx context.Context, target NodeAddress) ([]NodeAddress, error) {
	return n.RequestNeighbors(ctx, target)
}

// SendMessage sends payload to dest as a User-kind frame that does not
// await a reply. The returned SendResult resolves once the frame is
// either on the wire or has definitively failed to be delivered.
// MessageID is 0, marking the frame as unused/fire-and-forget so the
// receiver's dispatcher does not mistake it for a response.
func (n *Node) SendMessage(dest NodeAddress, payload []byte) *SendResult {
	frame := wire.Frame{Kind: wire.User, MessageID: 0, SenderPort: n.self.Port, Payload: payload}
	sr := resulthandle.NewSendResult()
	n.sendQ.Enqueue(sendqueue.Request{Frame: frame, Dest: dest, NeedsApproved: true, Send: sr})
	return sr
}

// SendMessageAwaitResponse sends payload to dest as a User-kind frame
// and returns a ResponseResult that resolves once dest replies (or the
// send or wait definitively fails).
func (n *Node) SendMessageAwaitResponse(dest NodeAddress, payload []byte) *ResponseResult {
	id := n.nextMessageID()
	frame := wire.Frame{Kind: wire.User, MessageID: id, AwaitingResponse: true, SenderPort: n.self.Port, Payload: payload}
	rr := resulthandle.NewResponseResult()
	n.pending.Register(id, rr)
	n.sendQ.Enqueue(sendqueue.Request{Frame: frame, Dest: dest, NeedsApproved: true, Send: rr.Send, Response: rr})
	return rr
}

// SendResponse replies to a prior awaiting request identified by
// messageID.
func (n *Node) SendResponse(dest NodeAddress, messageID uint64, payload []byte) *SendResult {
	frame := wire.Frame{Kind: wire.User, MessageID: messageID, SenderPort: n.self.Port, Payload: payload}
	sr := resulthandle.NewSendResult()
	n.sendQ.Enqueue(sendqueue.Request{Frame: frame, Dest: dest, NeedsApproved: true, Send: sr})
	return sr
}

// sendUnapproved replies to a prior awaiting request without requiring
// an approved connection to already exist, dialing one if necessary.
// Used by the approval handshake itself, which by construction runs
// before either side has an approved connection to the other.
func (n *Node) sendUnapproved(dest NodeAddress, messageID uint64, payload []byte) *SendResult {
	frame := wire.Frame{Kind: wire.User, MessageID: messageID, SenderPort: n.self.Port, Payload: payload}
	sr := resulthandle.NewSendResult()
	n.sendQ.Enqueue(sendqueue.Request{Frame: frame, Dest: dest, NeedsApproved: false, Send: sr})
	return sr
}

// The following methods implement sendqueue.Resolver.

// IsSelf reports whether a is this node's own address.
func (n *Node) IsSelf(a addr.NodeAddress) bool { return a.Equal(n.self) }

// EnsureOutbound returns a live outbound connection to a, dialing one if
// necessary.
func (n *Node) EnsureOutbound(ctx context.Context, a addr.NodeAddress) (net.Conn, error) {
	n.metrics.IncDialAttempts()
	pc, err := n.outbound.EnsureOutbound(ctx, a)
	if err != nil {
		n.metrics.IncDialFailures()
		return nil, err
	}
	n.metrics.IncDialSuccesses()
	return pc.NetConn(), nil
}

// EnsureApproved returns the outbound connection to a only if it is
// already approved.
func (n *Node) EnsureApproved(a addr.NodeAddress) (net.Conn, bool) {
	pc, ok := n.outbound.EnsureApproved(a)
	if !ok {
		return nil, false
	}
	return pc.NetConn(), true
}

// Fail closes conn, drops a from the outbound table, and drops the
// matching inbound FrameBuffer, per the writer contract: a failed write
// invalidates both directions of the peer relationship.
func (n *Node) Fail(a addr.NodeAddress, conn net.Conn) {
	_ = conn.Close()
	n.outbound.Remove(a)
	if pc, ok := n.inbound.Remove(a); ok {
		_ = pc.NetConn().Close()
	}
	n.backoff.Fail(a.String())
}

// Pending returns the pending-response table.
func (n *Node) Pending() *resulthandle.PendingTable { return n.pending }

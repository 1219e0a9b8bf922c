package overlaynet

import (
	"context"
	"fmt"

	"overlaynet/internal/addr"
	"overlaynet/internal/overlay"
	"overlaynet/internal/reader"
	"overlaynet/internal/resulthandle"
	"overlaynet/internal/wire"
	"overlaynet/internal/wlog"
)

// onFrame is the reader's single delivery callback: it runs on the
// reader goroutine, so it must never block on I/O or take a lock that
// could be held across I/O. Every kind that might need to do either
// (Approval, System, User) is handed off to its own goroutine.
func (n *Node) onFrame(c *reader.Conn, raw []byte) {
	frame, err := wire.Decode(raw)
	if err != nil {
		n.logger.Write(fmt.Sprintf("decode frame from %s: %v", c.RemoteIP, err), wlog.Warning)
		return
	}
	n.metrics.IncFramesReceived()

	sender, err := addr.New(c.RemoteIP, frame.SenderPort)
	if err != nil {
		n.logger.Write(fmt.Sprintf("frame sender address: %v", err), wlog.Warning)
		return
	}

	if pc, ok := n.inbound.Get(sender); ok {
		pc.TouchPing()
	} else {
		pc = n.inbound.Put(sender, c)
		pc.TouchPing()
	}

	if frame.InResponseTo() {
		n.pending.Resolve(frame.MessageID, resulthandle.Response{
			Sender: sender, Payload: frame.Payload, MessageID: frame.MessageID,
		})
		return
	}

	switch frame.Kind {
	case wire.Approval:
		go n.handleApprovalRequest(sender, frame)
	case wire.Neighbors:
		n.handleNeighborsRequest(sender, frame)
	case wire.Ping:
		// Liveness timestamp already recorded above; nothing further to do.
	case wire.System:
		go n.handleSystemFrame(sender, frame)
	case wire.User:
		go n.handleUserFrame(sender, frame)
	default:
		n.logger.Write(fmt.Sprintf("unknown frame kind from %s", sender), wlog.Debug)
	}
}

func (n *Node) onReaderError(c *reader.Conn, err error) {
	if a, ok := n.inbound.RemoveConn(c); ok {
		n.logger.Write(fmt.Sprintf("inbound connection from %s closed: %v", a, err), wlog.Debug)
	}
	_ = c.Close()
}

func (n *Node) handleApprovalRequest(sender addr.NodeAddress, frame wire.Frame) {
	wantType := string(frame.Payload)
	if wantType != n.strategy.NetworkType() {
		n.metrics.IncApprovalsRejected()
		// Neither side has an approved connection at this point in the
		// handshake, so the rejection reply must not require one either.
		n.sendUnapproved(sender, frame.MessageID, []byte("failure"))
		return
	}

	pc, err := n.outbound.EnsureOutbound(context.Background(), sender)
	if err != nil {
		n.metrics.IncApprovalsRejected()
		n.sendUnapproved(sender, frame.MessageID, []byte("failure"))
		return
	}
	pc.MarkApproved()
	if ipc, ok := n.inbound.Get(sender); ok {
		ipc.MarkApproved()
	}
	n.metrics.IncApprovalsGranted()
	n.SendResponse(sender, frame.MessageID, []byte("approved"))
	n.approvalQ.EnqueueGrantor(sender)
}

func (n *Node) handleNeighborsRequest(sender addr.NodeAddress, frame wire.Frame) {
	list := addr.EncodeNeighborList(n.outbound.ApprovedList())
	n.SendResponse(sender, frame.MessageID, []byte(list))
}

func (n *Node) handleSystemFrame(sender addr.NodeAddress, frame wire.Frame) {
	resp, respond := n.strategy.HandleSystemMessage(context.Background(), overlay.SystemRequest{
		Sender:    sender,
		MessageID: frame.MessageID,
		Awaiting:  frame.AwaitingResponse,
		Payload:   string(frame.Payload),
	})
	if frame.AwaitingResponse && respond {
		n.SendResponse(sender, frame.MessageID, []byte(resp))
	}
}

func (n *Node) handleUserFrame(sender addr.NodeAddress, frame wire.Frame) {
	if n.onMsg == nil {
		return
	}
	resp, respond := n.onMsg(Message{
		Sender:           sender,
		Payload:          frame.Payload,
		MessageID:        frame.MessageID,
		AwaitingResponse: frame.AwaitingResponse,
	})
	if frame.AwaitingResponse && respond {
		n.SendResponse(sender, frame.MessageID, resp)
	}
}

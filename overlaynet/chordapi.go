package overlaynet

import (
	"context"
	"fmt"

	"overlaynet/internal/overlay/chord"
)

var errNotChord = fmt.Errorf("overlaynet: node is not running the chord topology")

// FingerEntry is a snapshot of one finger table slot: Start is the
// target id that slot routes toward, per spec.md section 3's "entry i
// is the successor of (id + 2^i) mod 2^31", and Node is whichever ring
// member currently answers for it.
type FingerEntry struct {
	Start uint32
	Node  NodeAddress
	Known bool
}

// ID returns this node's ring identifier. ok is false when the node is
// not running the chord topology.
func (n *Node) ID() (id uint32, ok bool) {
	if n.chordStrat == nil {
		return 0, false
	}
	return n.chordStrat.ID(), true
}

// Successor returns the node's current ring successor and its id.
func (n *Node) Successor() (NodeAddress, uint32, bool) {
	if n.chordStrat == nil {
		return NodeAddress{}, 0, false
	}
	a, id := n.chordStrat.Successor()
	return a, id, true
}

// Predecessor returns the node's current ring predecessor and its id,
// if known.
func (n *Node) Predecessor() (NodeAddress, uint32, bool) {
	if n.chordStrat == nil {
		return NodeAddress{}, 0, false
	}
	return n.chordStrat.Predecessor()
}

// GetFingers returns a snapshot of the finger table's known entries.
func (n *Node) GetFingers() ([]FingerEntry, bool) {
	if n.chordStrat == nil {
		return nil, false
	}
	entries := n.chordStrat.Fingers()
	out := make([]FingerEntry, len(entries))
	for i, e := range entries {
		out[i] = FingerEntry{Start: e.Start, Node: e.Node, Known: e.Known}
	}
	return out, true
}

// SendChordMessage routes payload to whichever ring member is
// responsible for targetID, resolved via find_successor, and sends it
// as a User-kind frame without awaiting a reply.
func (n *Node) SendChordMessage(ctx context.Context, targetID uint32, payload []byte) (*SendResult, error) {
	dest, err := n.chordDest(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return n.SendMessage(dest, payload), nil
}

// SendChordMessageAwaitResponse is the request/response counterpart of
// SendChordMessage.
func (n *Node) SendChordMessageAwaitResponse(ctx context.Context, targetID uint32, payload []byte) (*ResponseResult, error) {
	dest, err := n.chordDest(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return n.SendMessageAwaitResponse(dest, payload), nil
}

func (n *Node) chordDest(ctx context.Context, targetID uint32) (NodeAddress, error) {
	if n.chordStrat == nil {
		return NodeAddress{}, errNotChord
	}
	return n.chordStrat.Route(ctx, targetID), nil
}

// ChordBits is the size in bits of the ring identifier space.
const ChordBits = chord.Bits

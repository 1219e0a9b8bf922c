// Package overlaynet is a peer-to-peer overlay networking library: nodes
// exchange length-prefixed frames over long-lived duplex TCP connections,
// gate new peers behind an approval handshake, and organize themselves
// into either a fully-connected mesh or a Chord ring, self-repairing the
// shape of the network on a periodic update loop.
package overlaynet

import (
	"overlaynet/internal/config"
	"overlaynet/internal/wlog"
)

// Topology selects the overlay shape a Node maintains.
type Topology string

const (
	Mesh  Topology = "mesh"
	Chord Topology = "chord"
)

// Message is a decoded User-kind frame handed to the OnReceivedMessage
// callback.
type Message struct {
	Sender           NodeAddress
	Payload          []byte
	MessageID        uint64
	AwaitingResponse bool
}

// MessageHandler processes an inbound user message. Returning respond
// true causes the returned payload to be sent back as the response;
// returning false leaves an awaiting sender to time out, appropriate
// when the handler intends to reply later via SendResponse instead.
type MessageHandler func(msg Message) (response []byte, respond bool)

// Options configures a Node.
type Options struct {
	// ListenAddr is the "host:port" this node binds and advertises.
	ListenAddr string

	// Seeds lists "host:port" addresses to request approval from once
	// Connect starts.
	Seeds []string

	// Topology selects mesh or chord. Defaults to Mesh.
	Topology Topology

	// ChordID pins this node's ring identifier instead of letting it
	// draw one at random. Ignored outside the Chord topology. Zero means
	// unset (draw at random); spec.md section 8's scenario 6, which
	// assigns ids 10, 40, 70 by fiat, is exactly what this is for.
	ChordID uint32

	// Config overrides the default tunables. Zero value uses
	// config.Default() with OVERLAYNET_* environment overrides applied.
	Config config.Config

	// Logger receives structured log lines. Defaults to a discarding
	// logger.
	Logger wlog.Logger

	// OnReceivedMessage handles inbound User-kind frames. A nil handler
	// silently drops user messages.
	OnReceivedMessage MessageHandler
}

func (o Options) resolvedConfig() config.Config {
	cfg := o.Config
	zero := config.Config{}
	if cfg == zero {
		cfg = config.Default()
	}
	return config.WithEnvOverrides(cfg)
}

func (o Options) resolvedLogger() wlog.Logger {
	if o.Logger == nil {
		return wlog.Nop
	}
	return o.Logger
}

func (o Options) resolvedTopology() Topology {
	if o.Topology == "" {
		return Mesh
	}
	return o.Topology
}

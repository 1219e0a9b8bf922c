package overlaynet

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"overlaynet/internal/addr"
	"overlaynet/internal/approval"
	"overlaynet/internal/backoff"
	"overlaynet/internal/config"
	"overlaynet/internal/liveness"
	"overlaynet/internal/overlay"
	"overlaynet/internal/overlay/chord"
	"overlaynet/internal/overlay/mesh"
	"overlaynet/internal/peertable"
	"overlaynet/internal/reader"
	"overlaynet/internal/resulthandle"
	"overlaynet/internal/sendqueue"
	"overlaynet/internal/telemetry"
	"overlaynet/internal/updateloop"
	"overlaynet/internal/wire"
	"overlaynet/internal/wlog"
)

// NodeAddress identifies a node by its IPv4 address and listening port.
type NodeAddress = addr.NodeAddress

// SendResult is a single-assignment future for a send-only call.
type SendResult = resulthandle.SendResult

// ResponseResult is a single-assignment future for a send+await-response
// call.
type ResponseResult = resulthandle.ResponseResult

// Response is the reply payload delivered through a ResponseResult.
type Response = resulthandle.Response

// SendOutcome and ResponseOutcome are the terminal states of the two
// result-handle kinds.
type (
	SendOutcome     = resulthandle.SendOutcome
	ResponseOutcome = resulthandle.ResponseOutcome
)

const (
	Success           = resulthandle.Success
	ConnectionFailure = resulthandle.ConnectionFailure
	SelfFailure       = resulthandle.SelfFailure
)

const (
	ResponseSuccess           = resulthandle.ResponseSuccess
	ResponseConnectionFailure = resulthandle.ResponseConnectionFailure
	ResponseTimeout           = resulthandle.ResponseTimeout
)

// ParseAddress resolves a "host:port" string to a NodeAddress.
func ParseAddress(hostport string) (NodeAddress, error) {
	return addr.Parse(hostport)
}

const readerScanInterval = 5 * time.Millisecond

// Node is one participant in the overlay: it holds a listening socket,
// the outbound and inbound peer tables, the send queue, and the active
// overlay.Strategy that gives its approval, neighbor-discovery, and
// system-message behavior their mesh or chord shape.
type Node struct {
	self   addr.NodeAddress
	seeds  []addr.NodeAddress
	cfg    config.Config
	logger wlog.Logger
	onMsg  MessageHandler

	metrics  *telemetry.Metrics
	outbound *peertable.OutboundTable
	inbound  *peertable.Table
	pending  *resulthandle.PendingTable
	backoff  *backoff.Policy

	sendQ      *sendqueue.Queue
	rdr        *reader.Reader
	approvalQ  *approval.Queue
	pinger     *liveness.Pinger
	loop       *updateloop.Loop
	strategy   overlay.Strategy
	chordStrat *chord.Strategy

	msgID atomic.Uint64

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// JoinResult reports the outcome of requesting approval from one seed
// during Connect.
type JoinResult struct {
	Seed     NodeAddress
	Approved bool
	Err      error
}

// JoinOutcome is the aggregate classification of a Connect call across
// every configured seed, exactly spec.md section 6/7's
// `Connect(listening_port, seeds) -> {ConnectionSuccessful,
// NewNetworkCreated}`: ConnectionSuccessful once at least one seed
// approves the join, NewNetworkCreated when there were no seeds to try
// or every seed rejected the join (section 7's "joining an empty
// network returns NewNetworkCreated; joining a reachable network
// returns ConnectionSuccessful" — neither is an error).
type JoinOutcome int

const (
	NewNetworkCreated JoinOutcome = iota
	ConnectionSuccessful
)

func (o JoinOutcome) String() string {
	switch o {
	case ConnectionSuccessful:
		return "ConnectionSuccessful"
	case NewNetworkCreated:
		return "NewNetworkCreated"
	default:
		return "JoinOutcome(?)"
	}
}

// NewNode constructs a Node from opts. It does not open any sockets;
// call Connect to start listening and join the overlay.
func NewNode(opts Options) (*Node, error) {
	self, err := addr.Parse(opts.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("overlaynet: %w", err)
	}
	seeds := make([]addr.NodeAddress, 0, len(opts.Seeds))
	for _, s := range opts.Seeds {
		a, err := addr.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("overlaynet: seed %q: %w", s, err)
		}
		seeds = append(seeds, a)
	}

	cfg := opts.resolvedConfig()
	n := &Node{
		self:     self,
		seeds:    seeds,
		cfg:      cfg,
		logger:   opts.resolvedLogger(),
		onMsg:    opts.OnReceivedMessage,
		metrics:  telemetry.New(),
		inbound:  peertable.NewTable(),
		outbound: peertable.NewOutboundTable(peertable.DialTCP, cfg.RecentDialCacheSize),
		pending:  resulthandle.NewPendingTable(),
		backoff:  backoff.New(cfg.OutboundBackoffBase, cfg.MaxOutboundBackoff),
	}
	n.sendQ = sendqueue.New(cfg.SendQueueCapacity, n)
	n.rdr = reader.New(cfg.ReadChunkSize, readerScanInterval, n.onFrame, n.onReaderError)
	n.approvalQ = approval.NewQueue(64)

	switch opts.resolvedTopology() {
	case Chord:
		var chordOpts []chord.Option
		if opts.ChordID != 0 {
			chordOpts = append(chordOpts, chord.WithID(opts.ChordID))
		}
		cs := chord.New(n, chordOpts...)
		n.chordStrat = cs
		n.strategy = cs
	default:
		n.strategy = mesh.New(n)
	}

	n.pinger = liveness.New(cfg.PingFrequency, n.ApprovedNeighbors, n.sendPing)
	n.loop = updateloop.New(cfg.UpdateNetworkFrequency, n.pruneStale, n.strategy.UpdateNetwork)
	return n, nil
}

// Self returns this node's advertised address.
func (n *Node) Self() addr.NodeAddress { return n.self }

// Seeds returns the configured bootstrap addresses.
func (n *Node) Seeds() []addr.NodeAddress { return n.seeds }

// Logger returns the node's logger.
func (n *Node) Logger() wlog.Logger { return n.logger }

// Metrics returns the node's atomic-counter metrics.
func (n *Node) Metrics() *telemetry.Metrics { return n.metrics }

// Connect opens the listening socket, starts every background task, and
// requests approval from each configured seed. The returned results
// channel carries one JoinResult per seed and is closed once every seed
// attempt has completed; the returned outcome channel receives exactly
// one JoinOutcome, once that happens, classifying the attempt as a
// whole per spec.md section 6/7.
func (n *Node) Connect(ctx context.Context) (<-chan JoinResult, <-chan JoinOutcome, error) {
	ln, err := net.Listen("tcp4", n.self.String())
	if err != nil {
		return nil, nil, fmt.Errorf("overlaynet: listen %s: %w", n.self, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.listener = ln
	n.cancel = cancel
	n.mu.Unlock()

	background := []func(context.Context){
		n.acceptLoop,
		n.sendQ.Run,
		n.rdr.Run,
		func(c context.Context) { n.approvalQ.Run(c, n.onGrantorApproved, n.onRequesterApproved) },
		n.pinger.Run,
		n.loop.Run,
	}
	for _, fn := range background {
		n.wg.Add(1)
		go func(f func(context.Context)) {
			defer n.wg.Done()
			f(runCtx)
		}(fn)
	}

	results := make(chan JoinResult, len(n.seeds))
	outcome := make(chan JoinOutcome, 1)
	go func() {
		defer close(results)
		var wg sync.WaitGroup
		var approvedCount atomic.Int64
		for _, seed := range n.seeds {
			wg.Add(1)
			go func(s addr.NodeAddress) {
				defer wg.Done()
				granted, err := n.GetApproval(ctx, s)
				if granted {
					approvedCount.Add(1)
				}
				results <- JoinResult{Seed: s, Approved: granted, Err: err}
			}(seed)
		}
		wg.Wait()
		if approvedCount.Load() > 0 {
			outcome <- ConnectionSuccessful
		} else {
			outcome <- NewNetworkCreated
		}
		close(outcome)
	}()

	return results, outcome, nil
}

// Disconnect stops every background task, closes the listener and every
// peer connection, and fails every outstanding response wait.
func (n *Node) Disconnect() error {
	n.mu.Lock()
	cancel := n.cancel
	ln := n.listener
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}
	for _, a := range n.outbound.List() {
		if pc, ok := n.outbound.Get(a); ok {
			_ = pc.NetConn().Close()
		}
	}
	for _, a := range n.inbound.List() {
		if pc, ok := n.inbound.Get(a); ok {
			_ = pc.NetConn().Close()
		}
	}
	n.pending.FailAll(resulthandle.ResponseConnectionFailure)
	n.wg.Wait()
	n.sendQ.Wait()
	return nil
}

func (n *Node) acceptLoop(ctx context.Context) {
	ln := n.listener
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.Write(fmt.Sprintf("accept: %v", err), wlog.Warning)
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		n.rdr.Add(conn)
	}
}

func (n *Node) nextMessageID() uint64 {
	return n.msgID.Add(1)
}

func (n *Node) onGrantorApproved(peer addr.NodeAddress)   { n.strategy.OnApprovalGranted(peer) }
func (n *Node) onRequesterApproved(peer addr.NodeAddress) { n.strategy.OnApprovalRequestGranted(peer) }

func (n *Node) sendPing(peer addr.NodeAddress) {
	frame := wire.Frame{Kind: wire.Ping, SenderPort: n.self.Port}
	n.sendQ.Enqueue(sendqueue.Request{
		Frame:         frame,
		Dest:          peer,
		NeedsApproved: true,
		Send:          resulthandle.NewSendResult(),
	})
}

// pruneStale drops both directions of any peer connection whose inbound
// side has gone quiet for longer than the liveness window: the inbound
// table's last-ping timestamp is the only trustworthy liveness signal,
// since it is touched on every frame this node actually receives, while
// an outbound connection's timestamp would only reflect when we dialed.
func (n *Node) pruneStale(now time.Time) {
	window := n.cfg.ConnectionTimeout
	for _, a := range n.inbound.List() {
		pc, ok := n.inbound.Get(a)
		if !ok || !liveness.IsStale(pc.LastPingAt(), now, window) {
			continue
		}
		if _, ok := n.inbound.Remove(a); ok {
			_ = pc.NetConn().Close()
		}
		if opc, ok := n.outbound.Get(a); ok {
			n.Fail(a, opc.NetConn())
		}
	}
	n.metrics.SetApprovedNeighbors(len(n.outbound.ApprovedList()))
}

package lora

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/revdeluxe/HDE/internal/log"
	"github.com/revdeluxe/HDE/internal/metrics"
)

const (
	DefaultTxTimeout     = 5 * time.Second
	DefaultRxPoll        = time.Second
	DefaultChunkDelay    = 200 * time.Millisecond
	DefaultSweepInterval = 10 * time.Second
	DefaultOutboxSize    = 64

	// MinMTU keeps the frame header inside the first chunk and every frame within MaxChunks chunks.
	MinMTU = 8
	// MaxMTU leaves room for the sequence byte in a 255 byte radio payload.
	MaxMTU = 254
)

// NodeOptions tunes a Node. Zero values are replaced by defaults.
type NodeOptions struct {
	MTU               int
	ChunkDelay        time.Duration
	TxTimeout         time.Duration
	RxPoll            time.Duration
	ReassemblyTimeout time.Duration
	SweepInterval     time.Duration
	SyncRoundTimeout  time.Duration
	SyncRounds        int
	SyncChunkSize     int
	OutboxSize        int
	Logger            log.Logger
}

func (o NodeOptions) withDefaults() NodeOptions {
	o.MTU = cmp.Or(o.MTU, DefaultMTU)
	o.ChunkDelay = cmp.Or(o.ChunkDelay, DefaultChunkDelay)
	o.TxTimeout = cmp.Or(o.TxTimeout, DefaultTxTimeout)
	o.RxPoll = cmp.Or(o.RxPoll, DefaultRxPoll)
	o.ReassemblyTimeout = cmp.Or(o.ReassemblyTimeout, DefaultReassemblyTimeout)
	o.SweepInterval = cmp.Or(o.SweepInterval, DefaultSweepInterval)
	o.SyncRoundTimeout = cmp.Or(o.SyncRoundTimeout, DefaultSyncRoundTimeout)
	o.SyncRounds = cmp.Or(o.SyncRounds, DefaultSyncRounds)
	o.SyncChunkSize = cmp.Or(o.SyncChunkSize, DefaultSyncChunkSize)
	o.OutboxSize = cmp.Or(o.OutboxSize, DefaultOutboxSize)
	if o.Logger == nil {
		o.Logger = log.NOOPLogger{}
	}
	return o
}

// outbound is one frame worth of air chunks waiting for the drainer.
type outbound struct {
	chunks [][]byte
	// messageID is set for user messages whose status follows the transmission.
	messageID string
	done      chan error
}

// route hands control messages matching a running session over to it.
type route struct {
	match func(Control) bool
	inbox chan Control
}

// Node runs the transport on top of one Link: a FIFO transmit drainer, the receive and dispatch loop, and the
// periodic reassembly sweep. It answers handshakes and checksum requests from peers on its own.
type Node struct {
	ID string

	link        *Link
	log         MessageLog
	opts        NodeOptions
	logger      log.Logger
	reassembler *Reassembler
	assembler   *FrameAssembler
	syncer      *Syncer
	publisher   FanOutFramePublisher

	outbox   chan outbound
	ran      atomic.Bool
	started  chan struct{}
	stopped  chan struct{}
	sessions sync.WaitGroup
	lastTx   time.Time

	mu     sync.Mutex
	routes []*route
	peers  map[string]PeerRecord
	syncs  map[string]*SyncState
}

// NewNode creates a node identified by id that transmits through link and records messages in l.
func NewNode(id string, link *Link, l MessageLog, opts NodeOptions) (*Node, error) {
	if id == "" || len(id) > MaxNodeIDLength {
		return nil, fmt.Errorf("node id must be 1 to %d bytes, got %q", MaxNodeIDLength, id)
	}
	opts = opts.withDefaults()
	if opts.MTU < MinMTU || opts.MTU > MaxMTU {
		return nil, fmt.Errorf("mtu must be within %d..%d, got %d", MinMTU, MaxMTU, opts.MTU)
	}

	reassembler := NewReassembler(opts.ReassemblyTimeout)
	reassembler.Logger = opts.Logger

	syncer := NewSyncer(id, l, reassembler)
	syncer.ChunkSize = opts.SyncChunkSize
	syncer.RoundTimeout = opts.SyncRoundTimeout
	syncer.MaxRounds = opts.SyncRounds
	syncer.Logger = opts.Logger

	return &Node{
		ID:          id,
		link:        link,
		log:         l,
		opts:        opts,
		logger:      opts.Logger,
		reassembler: reassembler,
		assembler:   NewFrameAssembler(opts.ReassemblyTimeout),
		syncer:      syncer,
		outbox:      make(chan outbound, opts.OutboxSize),
		started:     make(chan struct{}),
		stopped:     make(chan struct{}),
		peers:       make(map[string]PeerRecord),
		syncs:       make(map[string]*SyncState),
	}, nil
}

// MaxNodeIDLength leaves room in a 255 byte frame body for the control message fields around the node id.
const MaxNodeIDLength = 32

// Run drives the node until ctx is done. A node runs at most once.
func (n *Node) Run(ctx context.Context) error {
	if !n.ran.CompareAndSwap(false, true) {
		return errors.New("node has already been run")
	}
	close(n.started)
	n.logger.Info("Node started", "id", n.ID, "mtu", n.opts.MTU)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.drain(gctx) })
	g.Go(func() error { return n.receive(gctx) })
	g.Go(func() error { return n.sweep(gctx) })
	err := g.Wait()

	close(n.stopped)
	n.sessions.Wait()

	if err := n.link.Sleep(n.opts.TxTimeout); err != nil {
		n.logger.Warn("Cannot put radio to sleep", "error", err)
	}
	n.logger.Info("Node stopped", "id", n.ID)
	return err
}

// Subscribe registers a subscriber for every frame the node decodes.
func (n *Node) Subscribe(sub FrameSubscriber) {
	n.publisher.Subscribe(sub)
}

// Submit records a new message authored by sender and queues it for transmission.
func (n *Node) Submit(sender, text string) (Message, error) {
	msg := NewMessage(n.ID, sender, text, time.Now())
	chunks, err := EncodeControl(n.ID, &UserMessage{
		From:      n.ID,
		ID:        msg.ID,
		Sender:    msg.Sender,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	}, n.opts.MTU, time.Now())
	if err != nil {
		return Message{}, err
	}

	if _, err := n.log.Add(msg); err != nil {
		return Message{}, fmt.Errorf("failed to store message: %w", err)
	}
	if err := n.enqueue(outbound{chunks: chunks, messageID: msg.ID}); err != nil {
		if err := n.log.SetStatus(msg.ID, StatusFailed); err != nil {
			n.logger.Warn("Cannot mark message failed", "id", msg.ID, "error", err)
		}
		msg.Status = StatusFailed
		return msg, err
	}

	metrics.MessagesSubmitted.Inc()
	n.logger.Debug("Message queued", "id", msg.ID, "chunks", len(chunks))
	return msg, nil
}

// Status returns the lifecycle status of a message.
func (n *Node) Status(id string) (Status, error) {
	msg, ok, err := n.log.Get(id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrMessageNotFound
	}
	return msg.Status, nil
}

// Messages returns the whole log.
func (n *Node) Messages() ([]Message, error) {
	return n.log.All()
}

// Checksum summarizes the local log.
func (n *Node) Checksum() (LogSummary, error) {
	return Summarize(n.log)
}

// Sweep evicts stale reassembly buffers and returns how many were dropped.
func (n *Node) Sweep() int {
	return n.reassembler.Sweep(time.Now())
}

// LinkState returns the current radio state.
func (n *Node) LinkState() State {
	return n.link.State()
}

// Handshake looks for a peer. Not finding one within timeout is reported as false with a nil error.
func (n *Node) Handshake(timeout time.Duration) (PeerRecord, bool, error) {
	ex, closeSession := n.openSession(func(msg Control) bool {
		ack, ok := msg.(*HandshakeAck)
		return ok && ack.AckFor == n.ID
	})
	defer closeSession()

	peer, found, err := Discover(ex, n.ID, timeout)
	switch {
	case err != nil:
		metrics.Handshakes.WithLabelValues("error").Inc()
	case found:
		metrics.Handshakes.WithLabelValues("found").Inc()
		n.logger.Info("Peer discovered", "peer", peer.PeerID)
	default:
		metrics.Handshakes.WithLabelValues("not_found").Inc()
		n.logger.Info("No peer found", "timeout", timeout)
	}
	return peer, found, err
}

// Peers returns the peers that answered a handshake, most recently seen first.
func (n *Node) Peers() []PeerRecord {
	n.mu.Lock()
	defer n.mu.Unlock()
	peers := make([]PeerRecord, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	slices.SortFunc(peers, func(a, b PeerRecord) int {
		return b.LastSeen.Compare(a.LastSeen)
	})
	return peers
}

// Sync reconciles the local log with peer. Only one session per peer runs at a time; a second call fails with
// ErrSyncInProgress.
func (n *Node) Sync(peer string) (SyncResult, error) {
	ex, ok := n.beginSync(peer)
	if !ok {
		return SyncResult{Peer: peer}, ErrSyncInProgress
	}
	res, err := n.syncer.Initiate(ex, peer)
	n.endSync(peer, ex, res, err)
	return res, err
}

// SyncStates returns a snapshot of the per-peer sync state.
func (n *Node) SyncStates() map[string]SyncState {
	n.mu.Lock()
	defer n.mu.Unlock()
	states := make(map[string]SyncState, len(n.syncs))
	for peer, s := range n.syncs {
		states[peer] = *s
	}
	return states
}

// RequestChecksum sends the raw checksum request and waits up to timeout for the first peer to answer.
func (n *Node) RequestChecksum(timeout time.Duration) (string, LogSummary, bool, error) {
	ex, closeSession := n.openSession(func(msg Control) bool {
		_, ok := msg.(*Checksum)
		return ok
	})
	defer closeSession()

	if err := n.sendRaw(CRCRequest); err != nil {
		if errors.Is(err, ErrTransmitTimeout) {
			return "", LogSummary{}, false, nil
		}
		return "", LogSummary{}, false, err
	}

	msg, err := ex.Receive(timeout)
	if errors.Is(err, ErrReceiveTimeout) {
		return "", LogSummary{}, false, nil
	}
	if err != nil {
		return "", LogSummary{}, false, err
	}
	sum := msg.(*Checksum)
	return sum.From, LogSummary{CRC: sum.CRC, Count: sum.Count}, true, nil
}

// enqueue adds a frame to the outbox without blocking.
func (n *Node) enqueue(item outbound) error {
	select {
	case n.outbox <- item:
		metrics.OutboxDepth.Set(float64(len(n.outbox)))
		return nil
	default:
		return ErrOutboxFull
	}
}

// send queues a control message and waits until the drainer has transmitted it.
func (n *Node) send(msg Control) error {
	chunks, err := EncodeControl(n.ID, msg, n.opts.MTU, time.Now())
	if err != nil {
		return err
	}
	return n.transmitAndWait(chunks)
}

func (n *Node) sendRaw(payload []byte) error {
	return n.transmitAndWait([][]byte{payload})
}

func (n *Node) transmitAndWait(chunks [][]byte) error {
	if err := n.awaitStart(); err != nil {
		return err
	}
	done := make(chan error, 1)
	if err := n.enqueue(outbound{chunks: chunks, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-n.stopped:
		return ErrNodeStopped
	}
}

// awaitStart gives a Run that has not been scheduled yet up to TxTimeout to start.
func (n *Node) awaitStart() error {
	select {
	case <-n.stopped:
		return ErrNodeStopped
	default:
	}
	timer := time.NewTimer(n.opts.TxTimeout)
	defer timer.Stop()
	select {
	case <-n.started:
		return nil
	case <-n.stopped:
		return ErrNodeStopped
	case <-timer.C:
		return ErrNodeStopped
	}
}

// post queues a control message without waiting for it to be transmitted.
func (n *Node) post(msg Control) {
	chunks, err := EncodeControl(n.ID, msg, n.opts.MTU, time.Now())
	if err == nil {
		err = n.enqueue(outbound{chunks: chunks})
	}
	if err != nil {
		n.logger.Warn("Cannot queue reply", "type", msg.Type(), "error", err)
	}
}

func (n *Node) drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case item := <-n.outbox:
			metrics.OutboxDepth.Set(float64(len(n.outbox)))
			n.transmit(ctx, item)
		}
	}
}

// transmit sends every chunk of one frame back to back, spacing consecutive transmissions by the chunk delay.
func (n *Node) transmit(ctx context.Context, item outbound) {
	var err error
	for i, chunk := range item.chunks {
		if wait := time.Until(n.lastTx.Add(n.opts.ChunkDelay)); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		if err != nil {
			break
		}
		err = n.link.Transmit(chunk, n.opts.TxTimeout)
		n.lastTx = time.Now()
		if err != nil {
			err = fmt.Errorf("chunk %d/%d: %w", i+1, len(item.chunks), err)
			break
		}
	}

	if item.messageID != "" {
		n.settle(item.messageID, err)
	}
	if err != nil {
		n.logger.Warn("Transmission failed", "error", err)
	}
	if item.done != nil {
		item.done <- err
	}
}

// settle moves a user message to sent or failed after its transmission. A message confirmed in the meantime
// keeps its status.
func (n *Node) settle(id string, txErr error) {
	status := StatusSent
	if txErr != nil {
		status = StatusFailed
	}
	err := n.log.SetStatus(id, status)
	if err != nil && !errors.Is(err, ErrStatusRegression) {
		n.logger.Warn("Cannot update message status", "id", id, "status", status, "error", err)
	}
}

func (n *Node) sweep(ctx context.Context) error {
	ticker := time.NewTicker(n.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if evicted := n.reassembler.Sweep(now); evicted > 0 {
				n.logger.Debug("Swept reassembly buffers", "evicted", evicted)
			}
		}
	}
}

package lora

import (
	"context"
	"errors"
	"time"

	"github.com/revdeluxe/HDE/internal/metrics"
)

const sessionInboxSize = 32

// receive takes payloads off the air until ctx is done and dispatches every decoded frame.
func (n *Node) receive(ctx context.Context) error {
	for rec, err := range n.link.ReceiveStream(ctx, n.opts.RxPoll) {
		switch {
		case err == nil:
			n.onReception(rec)
		case errors.Is(err, ErrRadioPayload), errors.Is(err, ErrTruncated):
			n.logger.Debug("Dropping corrupted payload", "error", err)
		default:
			n.logger.Error("Cannot receive from radio", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(n.opts.RxPoll):
			}
		}
	}
	return nil
}

func (n *Node) onReception(rec Reception) {
	if IsCRCRequest(rec) {
		n.answerCRCRequest()
		return
	}

	data, ok := n.assembler.Push(rec, time.Now())
	if !ok {
		return
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		countDecodeError(err)
		n.logger.Debug("Dropping undecodable frame", "error", err, "rssi", rec.Quality.RSSI, "snr", rec.Quality.SNR)
		return
	}
	n.OnDecoded(frame)
}

// OnDecoded dispatches a decoded frame by the control message it carries.
func (n *Node) OnDecoded(frame Frame) {
	msg, err := UnmarshalControl(frame.Body)
	if err != nil {
		countDecodeError(err)
		n.logger.Debug("Dropping frame with invalid body", "sender", frame.Sender, "error", err)
		return
	}
	metrics.FramesDecoded.Inc()
	if frame.Sender == n.ID || msg.Source() == n.ID {
		return
	}
	n.logger.Debug("Received control message", "type", msg.Type(), "from", msg.Source())
	n.publisher.Publish(frame, msg)

	switch m := msg.(type) {
	case *HandshakeReq:
		n.post(&HandshakeAck{From: n.ID, AckFor: m.From, Timestamp: time.Now().Unix()})
	case *HandshakeAck:
		if m.AckFor != n.ID {
			return
		}
		n.touchPeer(m.From)
		n.deliver(m)
	case *Checksum:
		switch {
		case n.deliver(m):
		case m.Open:
			n.startResponder(m)
		default:
			n.logger.Debug("Ignoring checksum outside a sync session", "from", m.From)
		}
	case *AckOk:
		if m.AckFor != "" {
			n.confirm(m)
			return
		}
		if !n.deliver(m) {
			n.logger.Debug("Ignoring checksum acknowledgement outside a session", "from", m.From)
		}
	case *Chunk:
		if !n.deliver(m) {
			n.logger.Debug("Ignoring chunk outside a sync session", "from", m.From, "batch", m.BatchID)
		}
	case *UserMessage:
		n.storeReceived(m)
	default:
		n.logger.Error("Unhandled control message", "type", msg.Type())
	}
}

// deliver hands msg to the first session whose route matches it.
func (n *Node) deliver(msg Control) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, r := range n.routes {
		if !r.match(msg) {
			continue
		}
		select {
		case r.inbox <- msg:
		default:
			n.logger.Warn("Session inbox is full, dropping message", "type", msg.Type(), "from", msg.Source())
		}
		return true
	}
	return false
}

func (n *Node) openSession(match func(Control) bool) (*sessionExchanger, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.openSessionLocked(match)
}

func (n *Node) openSessionLocked(match func(Control) bool) (*sessionExchanger, func()) {
	r := &route{match: match, inbox: make(chan Control, sessionInboxSize)}
	n.routes = append(n.routes, r)
	return &sessionExchanger{node: n, route: r}, func() { n.closeRoute(r) }
}

func (n *Node) closeRoute(r *route) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, existing := range n.routes {
		if existing == r {
			n.routes = append(n.routes[:i], n.routes[i+1:]...)
			return
		}
	}
}

// beginSync marks a session with peer in progress and routes the peer's sync traffic to it.
func (n *Node) beginSync(peer string) (*sessionExchanger, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	state, ok := n.syncs[peer]
	if !ok {
		state = &SyncState{}
		n.syncs[peer] = state
	}
	if state.InProgress {
		return nil, false
	}
	state.InProgress = true
	state.UpdatedAt = time.Now()

	ex, _ := n.openSessionLocked(func(msg Control) bool {
		if msg.Source() != peer {
			return false
		}
		switch m := msg.(type) {
		case *Checksum, *Chunk:
			return true
		case *AckOk:
			return m.AckFor == ""
		}
		return false
	})
	return ex, true
}

func (n *Node) endSync(peer string, ex *sessionExchanger, res SyncResult, err error) {
	n.closeRoute(ex.route)

	n.mu.Lock()
	defer n.mu.Unlock()
	state := n.syncs[peer]
	state.InProgress = false
	state.LocalCRC = res.Local.CRC
	state.RemoteCRC = res.Remote.CRC
	state.LastResult = res.Outcome()
	if err != nil {
		state.LastResult = "error: " + err.Error()
	}
	state.UpdatedAt = time.Now()
}

// startResponder answers a checksum from a peer with no session running.
func (n *Node) startResponder(first *Checksum) {
	ex, ok := n.beginSync(first.From)
	if !ok {
		n.logger.Debug("Sync session already running", "peer", first.From)
		return
	}
	n.sessions.Add(1)
	go func() {
		defer n.sessions.Done()
		res, err := n.syncer.Respond(ex, first)
		if err != nil && !errors.Is(err, ErrNodeStopped) {
			n.logger.Warn("Sync session failed", "peer", first.From, "error", err)
		}
		n.endSync(first.From, ex, res, err)
	}()
}

func (n *Node) touchPeer(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[id] = PeerRecord{PeerID: id, LastSeen: time.Now()}
}

func (n *Node) confirm(ack *AckOk) {
	err := n.log.SetStatus(ack.AckFor, StatusConfirmed)
	switch {
	case err == nil:
		n.logger.Debug("Message confirmed", "id", ack.AckFor, "by", ack.From)
	case errors.Is(err, ErrMessageNotFound), errors.Is(err, ErrStatusRegression):
		n.logger.Debug("Ignoring acknowledgement", "id", ack.AckFor, "error", err)
	default:
		n.logger.Warn("Cannot confirm message", "id", ack.AckFor, "error", err)
	}
}

// storeReceived records a message from a peer and acknowledges it. Duplicates are acknowledged again since
// the previous acknowledgement may have been lost.
func (n *Node) storeReceived(m *UserMessage) {
	added, err := n.log.Add(Message{
		ID:        m.ID,
		Sender:    m.Sender,
		Text:      m.Text,
		Timestamp: m.Timestamp,
		Origin:    m.From,
		Status:    StatusReceived,
	})
	if err != nil {
		n.logger.Error("Cannot store received message", "id", m.ID, "error", err)
		return
	}
	if added {
		metrics.MessagesReceived.Inc()
		n.logger.Info("Message received", "id", m.ID, "from", m.From, "sender", m.Sender)
	}
	n.post(&AckOk{From: n.ID, AckFor: m.ID, Timestamp: time.Now().Unix()})
}

func (n *Node) answerCRCRequest() {
	sum, err := Summarize(n.log)
	if err != nil {
		n.logger.Error("Cannot answer checksum request", "error", err)
		return
	}
	n.post(&Checksum{From: n.ID, CRC: sum.CRC, Count: sum.Count, Timestamp: time.Now().Unix()})
}

// sessionExchanger is the Exchanger a session running inside a node talks through: sends go through the
// drainer, receives come from the dispatcher.
type sessionExchanger struct {
	node  *Node
	route *route
}

func (e *sessionExchanger) Send(msg Control) error {
	return e.node.send(msg)
}

func (e *sessionExchanger) Receive(timeout time.Duration) (Control, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-e.route.inbox:
		return msg, nil
	case <-timer.C:
		return nil, ErrReceiveTimeout
	case <-e.node.stopped:
		return nil, ErrNodeStopped
	}
}

package lora

import (
	"context"
	"errors"
	"time"
)

// DefaultHandshakeTimeout bounds how long Discover waits for an answer.
const DefaultHandshakeTimeout = 5 * time.Second

// PeerRecord is a peer that answered a handshake.
type PeerRecord struct {
	PeerID   string    `json:"peer_id"`
	LastSeen time.Time `json:"last_seen"`
}

// Discover broadcasts a handshake request from self and waits until timeout for an acknowledgement addressed
// to self. Finding nobody is a normal outcome and is reported as false with a nil error, only once the full
// timeout has elapsed.
func Discover(ex Exchanger, self string, timeout time.Duration) (PeerRecord, bool, error) {
	deadline := time.Now().Add(timeout)

	err := ex.Send(&HandshakeReq{From: self, Timestamp: time.Now().Unix()})
	if err != nil && !errors.Is(err, ErrTransmitTimeout) {
		return PeerRecord{}, false, err
	}

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return PeerRecord{}, false, nil
		}

		msg, err := ex.Receive(remaining)
		if errors.Is(err, ErrReceiveTimeout) {
			continue
		}
		if err != nil {
			return PeerRecord{}, false, err
		}

		if ack, ok := msg.(*HandshakeAck); ok && ack.AckFor == self {
			return PeerRecord{PeerID: ack.From, LastSeen: time.Now()}, true, nil
		}
	}
}

// Listen answers handshake requests until ctx is done, receiving with the given per-call timeout.
func Listen(ctx context.Context, ex Exchanger, self string, poll time.Duration) error {
	for ctx.Err() == nil {
		msg, err := ex.Receive(poll)
		if errors.Is(err, ErrReceiveTimeout) {
			continue
		}
		if err != nil {
			return err
		}

		req, ok := msg.(*HandshakeReq)
		if !ok || req.From == self {
			continue
		}
		err = ex.Send(&HandshakeAck{From: self, AckFor: req.From, Timestamp: time.Now().Unix()})
		if err != nil && !errors.Is(err, ErrTransmitTimeout) {
			return err
		}
	}
	return ctx.Err()
}

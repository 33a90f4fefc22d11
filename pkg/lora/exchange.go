package lora

import (
	"errors"
	"fmt"
	"time"

	"github.com/revdeluxe/HDE/internal/log"
	"github.com/revdeluxe/HDE/internal/metrics"
)

// Exchanger carries control messages between this node and its peers. Session protocols are written
// against it.
type Exchanger interface {
	// Send transmits a control message.
	Send(msg Control) error
	// Receive waits up to timeout for the next control message and fails with ErrReceiveTimeout if none
	// arrives.
	Receive(timeout time.Duration) (Control, error)
}

// EncodeControl frames a control message sent by self and splits it into air chunks.
func EncodeControl(self string, msg Control, mtu int, now time.Time) ([][]byte, error) {
	body, err := MarshalControl(msg)
	if err != nil {
		return nil, err
	}
	frame, err := EncodeFrame(self, body, uint32(now.Unix()))
	if err != nil {
		return nil, fmt.Errorf("cannot frame %s: %w", msg.Type(), err)
	}
	return ChunkFrame(frame, mtu), nil
}

// DecodeControl decodes a reassembled frame and its control body.
func DecodeControl(data []byte) (Frame, Control, error) {
	frame, err := DecodeFrame(data)
	if err != nil {
		return Frame{}, nil, err
	}
	msg, err := UnmarshalControl(frame.Body)
	if err != nil {
		return frame, nil, err
	}
	return frame, msg, nil
}

// countDecodeError records why a received frame was dropped.
func countDecodeError(err error) {
	reason := "other"
	switch {
	case errors.Is(err, ErrCRCMismatch):
		reason = "crc"
	case errors.Is(err, ErrUnsupportedVersion):
		reason = "version"
	case errors.Is(err, ErrTruncated):
		reason = "truncated"
	case errors.Is(err, ErrUnknownControl), errors.Is(err, ErrInvalidControl):
		reason = "control"
	}
	metrics.FrameErrors.WithLabelValues(reason).Inc()
}

// LinkExchanger is an Exchanger driving a Link directly, for use without a running Node. It must not be
// shared between goroutines.
type LinkExchanger struct {
	Self       string
	Link       *Link
	MTU        int
	ChunkDelay time.Duration
	TxTimeout  time.Duration
	Logger     log.Logger

	assembler *FrameAssembler
}

func NewLinkExchanger(self string, link *Link) *LinkExchanger {
	return &LinkExchanger{
		Self:      self,
		Link:      link,
		MTU:       DefaultMTU,
		TxTimeout: DefaultTxTimeout,
		Logger:    log.NOOPLogger{},
		assembler: NewFrameAssembler(DefaultReassemblyTimeout),
	}
}

func (e *LinkExchanger) Send(msg Control) error {
	chunks, err := EncodeControl(e.Self, msg, e.MTU, time.Now())
	if err != nil {
		return err
	}
	for i, c := range chunks {
		if i > 0 && e.ChunkDelay > 0 {
			time.Sleep(e.ChunkDelay)
		}
		if err := e.Link.Transmit(c, e.TxTimeout); err != nil {
			return fmt.Errorf("failed to send %s chunk %d/%d: %w", msg.Type(), i+1, len(chunks), err)
		}
	}
	return nil
}

func (e *LinkExchanger) Receive(timeout time.Duration) (Control, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrReceiveTimeout
		}

		rec, err := e.Link.ReceiveOnce(remaining)
		switch {
		case errors.Is(err, ErrRadioPayload), errors.Is(err, ErrTruncated):
			continue
		case err != nil:
			return nil, err
		}

		data, ok := e.assembler.Push(rec, time.Now())
		if !ok {
			continue
		}
		frame, msg, err := DecodeControl(data)
		if err != nil {
			countDecodeError(err)
			e.Logger.Debug("Dropping undecodable frame", "error", err)
			continue
		}
		metrics.FramesDecoded.Inc()
		if frame.Sender == e.Self {
			continue
		}
		return msg, nil
	}
}

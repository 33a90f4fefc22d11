package lora

import (
	"bytes"
	"fmt"
)

// ControlType tags the variant carried in a frame body.
type ControlType uint8

const (
	TypeHandshakeReq ControlType = iota + 1
	TypeHandshakeAck
	TypeChecksum
	TypeAckOk
	TypeChunk
	TypeMessage
)

func (t ControlType) String() string {
	switch t {
	case TypeHandshakeReq:
		return "HANDSHAKE_REQ"
	case TypeHandshakeAck:
		return "HANDSHAKE_ACK"
	case TypeChecksum:
		return "CHECKSUM"
	case TypeAckOk:
		return "ACK_OK"
	case TypeChunk:
		return "CHUNK"
	case TypeMessage:
		return "MESSAGE"
	default:
		return fmt.Sprintf("ControlType(%d)", uint8(t))
	}
}

// CRCRequest is sent raw, without framing, to ask a peer for its log checksum.
var CRCRequest = []byte("CRC_REQUEST")

// IsCRCRequest reports whether a received payload is the raw checksum request.
func IsCRCRequest(rec Reception) bool {
	return bytes.Equal(rec.Raw, CRCRequest)
}

// Control is a control message carried in a frame body. The set of implementations is closed: HandshakeReq,
// HandshakeAck, Checksum, AckOk, Chunk and UserMessage.
type Control interface {
	Type() ControlType
	// Source returns the node that emitted the message.
	Source() string
	toEnvelope() *envelope
}

// HandshakeReq asks listening peers to identify themselves.
type HandshakeReq struct {
	From      string
	Timestamp int64
}

// HandshakeAck answers a HandshakeReq. AckFor echoes the requesting node.
type HandshakeAck struct {
	From      string
	AckFor    string
	Timestamp int64
}

// Checksum announces the sender's log summary. Open is set only on the checksum that opens a sync session;
// any other checksum reaching a node with no session for its sender is dropped.
type Checksum struct {
	From      string
	CRC       uint32
	Count     int
	Open      bool
	Timestamp int64
}

// AckOk confirms either a user message (AckFor holds its ID) or a matching checksum (AckFor is empty).
type AckOk struct {
	From      string
	AckFor    string
	CRC       uint32
	Timestamp int64
}

// Chunk carries one numbered slice of a log transfer.
type Chunk struct {
	From      string
	BatchID   uint32
	Index     int
	Total     int
	Data      []byte
	Timestamp int64
}

// UserMessage carries a message authored on the sending node.
type UserMessage struct {
	From      string
	ID        string
	Sender    string
	Text      string
	Timestamp int64
}

func (*HandshakeReq) Type() ControlType { return TypeHandshakeReq }
func (*HandshakeAck) Type() ControlType { return TypeHandshakeAck }
func (*Checksum) Type() ControlType     { return TypeChecksum }
func (*AckOk) Type() ControlType        { return TypeAckOk }
func (*Chunk) Type() ControlType        { return TypeChunk }
func (*UserMessage) Type() ControlType  { return TypeMessage }

func (m *HandshakeReq) Source() string { return m.From }
func (m *HandshakeAck) Source() string { return m.From }
func (m *Checksum) Source() string     { return m.From }
func (m *AckOk) Source() string        { return m.From }
func (m *Chunk) Source() string        { return m.From }
func (m *UserMessage) Source() string  { return m.From }

func (m *HandshakeReq) toEnvelope() *envelope {
	return &envelope{Type: TypeHandshakeReq, From: m.From, Timestamp: m.Timestamp}
}

func (m *HandshakeAck) toEnvelope() *envelope {
	return &envelope{Type: TypeHandshakeAck, From: m.From, AckFor: m.AckFor, Timestamp: m.Timestamp}
}

func (m *Checksum) toEnvelope() *envelope {
	return &envelope{Type: TypeChecksum, From: m.From, CRC: m.CRC, Count: uint64(m.Count), Open: m.Open, Timestamp: m.Timestamp}
}

func (m *AckOk) toEnvelope() *envelope {
	return &envelope{Type: TypeAckOk, From: m.From, AckFor: m.AckFor, CRC: m.CRC, Timestamp: m.Timestamp}
}

func (m *Chunk) toEnvelope() *envelope {
	return &envelope{
		Type:      TypeChunk,
		From:      m.From,
		BatchID:   m.BatchID,
		Index:     uint64(m.Index),
		Total:     uint64(m.Total),
		Data:      m.Data,
		Timestamp: m.Timestamp,
	}
}

func (m *UserMessage) toEnvelope() *envelope {
	return &envelope{
		Type:      TypeMessage,
		From:      m.From,
		ID:        m.ID,
		Sender:    m.Sender,
		Text:      m.Text,
		Timestamp: m.Timestamp,
	}
}

// MarshalControl encodes a control message into a frame body.
func MarshalControl(c Control) ([]byte, error) {
	data, err := c.toEnvelope().MarshalVT()
	if err != nil {
		return nil, fmt.Errorf("marshalling error: %w", err)
	}
	return data, nil
}

// UnmarshalControl decodes a frame body into its control message variant.
func UnmarshalControl(data []byte) (Control, error) {
	env := new(envelope)
	if err := env.UnmarshalVT(data); err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeHandshakeReq:
		return &HandshakeReq{From: env.From, Timestamp: env.Timestamp}, nil
	case TypeHandshakeAck:
		return &HandshakeAck{From: env.From, AckFor: env.AckFor, Timestamp: env.Timestamp}, nil
	case TypeChecksum:
		return &Checksum{From: env.From, CRC: env.CRC, Count: int(env.Count), Open: env.Open, Timestamp: env.Timestamp}, nil
	case TypeAckOk:
		return &AckOk{From: env.From, AckFor: env.AckFor, CRC: env.CRC, Timestamp: env.Timestamp}, nil
	case TypeChunk:
		return &Chunk{
			From:      env.From,
			BatchID:   env.BatchID,
			Index:     int(env.Index),
			Total:     int(env.Total),
			Data:      env.Data,
			Timestamp: env.Timestamp,
		}, nil
	case TypeMessage:
		return &UserMessage{
			From:      env.From,
			ID:        env.ID,
			Sender:    env.Sender,
			Text:      env.Text,
			Timestamp: env.Timestamp,
		}, nil
	default:
		return nil, fmt.Errorf("%s: %w", env.Type, ErrUnknownControl)
	}
}

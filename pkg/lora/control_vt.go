package lora

import (
	"fmt"

	"github.com/planetscale/vtprotobuf/protohelpers"
	"google.golang.org/protobuf/encoding/protowire"
)

// envelope is the wire form shared by every control message. It is encoded with the protobuf wire format;
// zero-valued fields are omitted.
type envelope struct {
	Type      ControlType // 1
	From      string      // 2
	AckFor    string      // 3
	CRC       uint32      // 4
	Timestamp int64       // 5
	Count     uint64      // 6
	ID        string      // 7
	Sender    string      // 8
	Text      string      // 9
	BatchID   uint32      // 10
	Index     uint64      // 11
	Total     uint64      // 12
	Data      []byte      // 13
	Open      bool        // 14
}

func (m *envelope) SizeVT() (n int) {
	if m == nil {
		return 0
	}
	var l int
	if m.Type != 0 {
		n += 1 + protohelpers.SizeOfVarint(uint64(m.Type))
	}
	l = len(m.From)
	if l > 0 {
		n += 1 + l + protohelpers.SizeOfVarint(uint64(l))
	}
	l = len(m.AckFor)
	if l > 0 {
		n += 1 + l + protohelpers.SizeOfVarint(uint64(l))
	}
	if m.CRC != 0 {
		n += 1 + protohelpers.SizeOfVarint(uint64(m.CRC))
	}
	if m.Timestamp != 0 {
		n += 1 + protohelpers.SizeOfVarint(uint64(m.Timestamp))
	}
	if m.Count != 0 {
		n += 1 + protohelpers.SizeOfVarint(m.Count)
	}
	l = len(m.ID)
	if l > 0 {
		n += 1 + l + protohelpers.SizeOfVarint(uint64(l))
	}
	l = len(m.Sender)
	if l > 0 {
		n += 1 + l + protohelpers.SizeOfVarint(uint64(l))
	}
	l = len(m.Text)
	if l > 0 {
		n += 1 + l + protohelpers.SizeOfVarint(uint64(l))
	}
	if m.BatchID != 0 {
		n += 1 + protohelpers.SizeOfVarint(uint64(m.BatchID))
	}
	if m.Index != 0 {
		n += 1 + protohelpers.SizeOfVarint(m.Index)
	}
	if m.Total != 0 {
		n += 1 + protohelpers.SizeOfVarint(m.Total)
	}
	l = len(m.Data)
	if l > 0 {
		n += 1 + l + protohelpers.SizeOfVarint(uint64(l))
	}
	if m.Open {
		n += 2
	}
	return n
}

func (m *envelope) MarshalVT() ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	size := m.SizeVT()
	dAtA := make([]byte, size)
	n, err := m.MarshalToSizedBufferVT(dAtA[:size])
	if err != nil {
		return nil, err
	}
	return dAtA[:n], nil
}

// MarshalToSizedBufferVT writes the fields backwards from the end of dAtA, highest field number first.
func (m *envelope) MarshalToSizedBufferVT(dAtA []byte) (int, error) {
	if m == nil {
		return 0, nil
	}
	i := len(dAtA)
	if m.Open {
		i--
		dAtA[i] = 1
		i--
		dAtA[i] = 0x70
	}
	if len(m.Data) > 0 {
		i -= len(m.Data)
		copy(dAtA[i:], m.Data)
		i = protohelpers.EncodeVarint(dAtA, i, uint64(len(m.Data)))
		i--
		dAtA[i] = 0x6a
	}
	if m.Total != 0 {
		i = protohelpers.EncodeVarint(dAtA, i, m.Total)
		i--
		dAtA[i] = 0x60
	}
	if m.Index != 0 {
		i = protohelpers.EncodeVarint(dAtA, i, m.Index)
		i--
		dAtA[i] = 0x58
	}
	if m.BatchID != 0 {
		i = protohelpers.EncodeVarint(dAtA, i, uint64(m.BatchID))
		i--
		dAtA[i] = 0x50
	}
	if len(m.Text) > 0 {
		i -= len(m.Text)
		copy(dAtA[i:], m.Text)
		i = protohelpers.EncodeVarint(dAtA, i, uint64(len(m.Text)))
		i--
		dAtA[i] = 0x4a
	}
	if len(m.Sender) > 0 {
		i -= len(m.Sender)
		copy(dAtA[i:], m.Sender)
		i = protohelpers.EncodeVarint(dAtA, i, uint64(len(m.Sender)))
		i--
		dAtA[i] = 0x42
	}
	if len(m.ID) > 0 {
		i -= len(m.ID)
		copy(dAtA[i:], m.ID)
		i = protohelpers.EncodeVarint(dAtA, i, uint64(len(m.ID)))
		i--
		dAtA[i] = 0x3a
	}
	if m.Count != 0 {
		i = protohelpers.EncodeVarint(dAtA, i, m.Count)
		i--
		dAtA[i] = 0x30
	}
	if m.Timestamp != 0 {
		i = protohelpers.EncodeVarint(dAtA, i, uint64(m.Timestamp))
		i--
		dAtA[i] = 0x28
	}
	if m.CRC != 0 {
		i = protohelpers.EncodeVarint(dAtA, i, uint64(m.CRC))
		i--
		dAtA[i] = 0x20
	}
	if len(m.AckFor) > 0 {
		i -= len(m.AckFor)
		copy(dAtA[i:], m.AckFor)
		i = protohelpers.EncodeVarint(dAtA, i, uint64(len(m.AckFor)))
		i--
		dAtA[i] = 0x1a
	}
	if len(m.From) > 0 {
		i -= len(m.From)
		copy(dAtA[i:], m.From)
		i = protohelpers.EncodeVarint(dAtA, i, uint64(len(m.From)))
		i--
		dAtA[i] = 0x12
	}
	if m.Type != 0 {
		i = protohelpers.EncodeVarint(dAtA, i, uint64(m.Type))
		i--
		dAtA[i] = 0x8
	}
	return len(dAtA) - i, nil
}

func (m *envelope) UnmarshalVT(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidControl, protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case 1, 4, 5, 6, 10, 11, 12, 14:
			if typ != protowire.VarintType {
				return fmt.Errorf("%w: field %d has wire type %d", ErrInvalidControl, num, typ)
			}
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidControl, protowire.ParseError(n))
			}
			data = data[n:]
			m.setVarint(num, v)
		case 2, 3, 7, 8, 9, 13:
			if typ != protowire.BytesType {
				return fmt.Errorf("%w: field %d has wire type %d", ErrInvalidControl, num, typ)
			}
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidControl, protowire.ParseError(n))
			}
			data = data[n:]
			m.setBytes(num, v)
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrInvalidControl, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

func (m *envelope) setVarint(num protowire.Number, v uint64) {
	switch num {
	case 1:
		if v > 0xff {
			v = 0
		}
		m.Type = ControlType(v)
	case 4:
		m.CRC = uint32(v)
	case 5:
		m.Timestamp = int64(v)
	case 6:
		m.Count = v
	case 10:
		m.BatchID = uint32(v)
	case 11:
		m.Index = v
	case 12:
		m.Total = v
	case 14:
		m.Open = v != 0
	}
}

func (m *envelope) setBytes(num protowire.Number, v []byte) {
	switch num {
	case 2:
		m.From = string(v)
	case 3:
		m.AckFor = string(v)
	case 7:
		m.ID = string(v)
	case 8:
		m.Sender = string(v)
	case 9:
		m.Text = string(v)
	case 13:
		m.Data = append([]byte(nil), v...)
	}
}

package lora

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Frame layout, all integers big-endian:
//
//	Version(1) | SenderLen(1) | Sender | BodyLen(1) | Body | Timestamp(4) | CRC32(4)
//
// The CRC covers every byte before it.
const (
	Version = 1

	MaxFieldSize  = 255
	timestampSize = 4
	crcSize       = 4

	// MinFrameSize is the size of a frame with empty sender and body.
	MinFrameSize = 3 + timestampSize + crcSize
	// MaxFrameSize is the size of a frame with both variable fields at their limit.
	MaxFrameSize = MinFrameSize + 2*MaxFieldSize
)

// Frame is a decoded wire frame.
type Frame struct {
	Version   byte
	Sender    string
	Body      []byte
	Timestamp uint32
	// RawLen is the number of bytes the frame occupied in the decoded buffer.
	RawLen int
}

// EncodeFrame serializes a single frame. Fields are never truncated: a sender or body that does not fit its
// length prefix is rejected with ErrFieldTooLong.
func EncodeFrame(sender string, body []byte, timestamp uint32) ([]byte, error) {
	if len(sender) > MaxFieldSize {
		return nil, fmt.Errorf("sender is %d bytes: %w", len(sender), ErrFieldTooLong)
	}
	if len(body) > MaxFieldSize {
		return nil, fmt.Errorf("body is %d bytes: %w", len(body), ErrFieldTooLong)
	}

	data := make([]byte, 0, MinFrameSize+len(sender)+len(body))
	data = append(data, Version, byte(len(sender)))
	data = append(data, sender...)
	data = append(data, byte(len(body)))
	data = append(data, body...)
	data = binary.BigEndian.AppendUint32(data, timestamp)
	data = binary.BigEndian.AppendUint32(data, crc32.ChecksumIEEE(data))
	return data, nil
}

// DecodeFrame parses a frame from the beginning of data. Bytes following the checksum are ignored.
func DecodeFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, ErrTruncated
	}
	if data[0] != Version {
		return Frame{}, fmt.Errorf("got version %d: %w", data[0], ErrUnsupportedVersion)
	}

	n, ok := FrameLength(data)
	if !ok || len(data) < n {
		return Frame{}, ErrTruncated
	}

	idx := 1
	senderLen := int(data[idx])
	idx++
	sender := string(data[idx : idx+senderLen])
	idx += senderLen

	bodyLen := int(data[idx])
	idx++
	body := make([]byte, bodyLen)
	copy(body, data[idx:idx+bodyLen])
	idx += bodyLen

	timestamp := binary.BigEndian.Uint32(data[idx : idx+timestampSize])
	idx += timestampSize

	want := binary.BigEndian.Uint32(data[idx : idx+crcSize])
	if got := crc32.ChecksumIEEE(data[:idx]); got != want {
		return Frame{}, fmt.Errorf("calculated %08x, frame carries %08x: %w", got, want, ErrCRCMismatch)
	}

	return Frame{
		Version:   data[0],
		Sender:    sender,
		Body:      body,
		Timestamp: timestamp,
		RawLen:    idx + crcSize,
	}, nil
}

// FrameLength returns the total length of the frame starting at prefix. It reports false until prefix holds
// both length fields.
func FrameLength(prefix []byte) (int, bool) {
	if len(prefix) < 2 {
		return 0, false
	}
	bodyLenAt := 2 + int(prefix[1])
	if len(prefix) <= bodyLenAt {
		return 0, false
	}
	return MinFrameSize + int(prefix[1]) + int(prefix[bodyLenAt]), true
}

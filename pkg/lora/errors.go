package lora

import "errors"

// Frame codec errors. They never escape the receive path: a frame that fails
// to decode is counted and dropped.
var (
	// ErrUnsupportedVersion is returned when a frame carries a protocol version other than Version.
	ErrUnsupportedVersion = errors.New("unsupported frame version")
	// ErrTruncated is returned when a length field points past the end of the buffer.
	ErrTruncated = errors.New("truncated frame")
	// ErrCRCMismatch is returned when the trailing checksum does not match the frame contents.
	ErrCRCMismatch = errors.New("frame crc mismatch")
	// ErrFieldTooLong is returned when a sender or body does not fit its one-byte length prefix.
	ErrFieldTooLong = errors.New("field exceeds 255 bytes")
)

// Link errors.
var (
	ErrTransmitTimeout = errors.New("transmit timed out")
	ErrReceiveTimeout  = errors.New("receive timed out")
	// ErrRadioPayload is returned when the driver flags the received payload as corrupted.
	ErrRadioPayload = errors.New("radio reported payload error")
)

var (
	ErrDuplicateChunk = errors.New("duplicate chunk sequence")
	ErrBufferEvicted  = errors.New("reassembly buffer evicted")
)

// Control message errors.
var (
	ErrUnknownControl = errors.New("unknown control message type")
	ErrInvalidControl = errors.New("invalid control message data format")
)

var (
	ErrStatusRegression = errors.New("message status cannot move backward")
	ErrMessageNotFound  = errors.New("message not found")
	ErrSyncInProgress   = errors.New("sync session already active for peer")
	ErrOutboxFull       = errors.New("outbound queue is full")
	ErrNodeStopped      = errors.New("node is not running")
)

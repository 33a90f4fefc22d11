package lora

import (
	"cmp"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusConfirmed Status = "confirmed"
	StatusReceived  Status = "received"
	StatusFailed    Status = "failed"
)

var statusTransitions = map[Status][]Status{
	StatusPending: {StatusSent, StatusConfirmed, StatusFailed},
	StatusSent:    {StatusConfirmed},
	StatusFailed:  {StatusConfirmed},
}

// CanAdvance reports whether a message may move from s to next. Staying in place is allowed.
func (s Status) CanAdvance(next Status) bool {
	return s == next || slices.Contains(statusTransitions[s], next)
}

// Message is a unit of user content.
type Message struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Origin    string `json:"origin"`
	Status    Status `json:"status"`
}

// NewMessage creates a pending message authored on node origin.
func NewMessage(origin, sender, text string, now time.Time) Message {
	return Message{
		ID:        sender + "-" + uuid.NewString(),
		Sender:    sender,
		Text:      text,
		Timestamp: now.Unix(),
		Origin:    origin,
		Status:    StatusPending,
	}
}

// MessageLog is the keyed collection of messages. Implementations guard their own state and must be safe for
// concurrent use.
type MessageLog interface {
	// Add stores msg unless a message with the same ID exists. It reports whether msg was stored.
	Add(msg Message) (bool, error)
	// Get returns the message with the given ID.
	Get(id string) (Message, bool, error)
	// All returns every message ordered by timestamp, then ID.
	All() ([]Message, error)
	// SetStatus advances the status of a message. It fails with ErrStatusRegression for backward moves
	// and with ErrMessageNotFound for unknown IDs.
	SetStatus(id string, status Status) error
}

// LogSummary condenses a log into what the checksum exchange compares.
type LogSummary struct {
	CRC   uint32 `json:"crc"`
	Count int    `json:"count"`
}

// canonicalEntry is the part of a message that both ends of a sync agree on. Status is local state and is
// left out.
type canonicalEntry struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	Origin    string `json:"origin"`
}

// CanonicalLog serializes messages as a compact JSON array ordered by timestamp, then ID.
func CanonicalLog(msgs []Message) ([]byte, error) {
	entries := make([]canonicalEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, canonicalEntry{
			ID:        m.ID,
			Sender:    m.Sender,
			Text:      m.Text,
			Timestamp: m.Timestamp,
			Origin:    m.Origin,
		})
	}
	slices.SortFunc(entries, func(a, b canonicalEntry) int {
		return cmp.Or(cmp.Compare(a.Timestamp, b.Timestamp), cmp.Compare(a.ID, b.ID))
	})
	return json.Marshal(entries)
}

// ParseCanonicalLog decodes the output of CanonicalLog. Returned messages carry no status.
func ParseCanonicalLog(data []byte) ([]Message, error) {
	var entries []canonicalEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("invalid log transfer: %w", err)
	}
	msgs := make([]Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, Message{
			ID:        e.ID,
			Sender:    e.Sender,
			Text:      e.Text,
			Timestamp: e.Timestamp,
			Origin:    e.Origin,
		})
	}
	return msgs, nil
}

// Summarize computes the checksum and size of a log.
func Summarize(l MessageLog) (LogSummary, error) {
	msgs, err := l.All()
	if err != nil {
		return LogSummary{}, fmt.Errorf("failed to read log: %w", err)
	}
	data, err := CanonicalLog(msgs)
	if err != nil {
		return LogSummary{}, err
	}
	return LogSummary{CRC: crc32.ChecksumIEEE(data), Count: len(msgs)}, nil
}

// MergeLog adds every incoming message missing from l. Existing entries are never overwritten. A message
// authored by self that the peer also holds is advanced to confirmed. It returns how many messages were added.
func MergeLog(l MessageLog, self string, incoming []Message) (int, error) {
	added := 0
	for _, m := range incoming {
		existing, ok, err := l.Get(m.ID)
		if err != nil {
			return added, err
		}
		if ok {
			if existing.Origin == self && existing.Status.CanAdvance(StatusConfirmed) {
				if err := l.SetStatus(m.ID, StatusConfirmed); err != nil {
					return added, err
				}
			}
			continue
		}

		m.Status = StatusReceived
		if m.Origin == self {
			m.Status = StatusConfirmed
		}
		stored, err := l.Add(m)
		if err != nil {
			return added, err
		}
		if stored {
			added++
		}
	}
	return added, nil
}

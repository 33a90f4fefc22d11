package lora

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

// MemoryLog is a MessageLog kept in memory.
type MemoryLog struct {
	mu       sync.RWMutex
	messages map[string]Message
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{messages: make(map[string]Message)}
}

func (l *MemoryLog) Add(msg Message) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.messages[msg.ID]; ok {
		return false, nil
	}
	l.messages[msg.ID] = msg
	return true, nil
}

func (l *MemoryLog) Get(id string) (Message, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msg, ok := l.messages[id]
	return msg, ok, nil
}

func (l *MemoryLog) All() ([]Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msgs := make([]Message, 0, len(l.messages))
	for _, m := range l.messages {
		msgs = append(msgs, m)
	}
	slices.SortFunc(msgs, func(a, b Message) int {
		return cmp.Or(cmp.Compare(a.Timestamp, b.Timestamp), cmp.Compare(a.ID, b.ID))
	})
	return msgs, nil
}

func (l *MemoryLog) SetStatus(id string, status Status) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg, ok := l.messages[id]
	if !ok {
		return ErrMessageNotFound
	}
	if !msg.Status.CanAdvance(status) {
		return fmt.Errorf("%s -> %s: %w", msg.Status, status, ErrStatusRegression)
	}
	msg.Status = status
	l.messages[id] = msg
	return nil
}

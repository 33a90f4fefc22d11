package lora

import (
	"bytes"
	"sync"
	"time"

	"github.com/revdeluxe/HDE/internal/log"
	"github.com/revdeluxe/HDE/internal/metrics"
)

// DefaultReassemblyTimeout is how long a partial batch may sit idle before it is evicted.
const DefaultReassemblyTimeout = 120 * time.Second

// ReassemblyBuffer holds the chunks of one batch received from one sender.
type ReassemblyBuffer struct {
	BatchID    uint32
	BatchSize  int
	Chunks     map[int][]byte
	LastUpdate time.Time
}

// Complete reports whether every index from 1 to BatchSize is present.
func (b *ReassemblyBuffer) Complete() bool {
	if b.BatchSize == 0 || len(b.Chunks) != b.BatchSize {
		return false
	}
	for i := 1; i <= b.BatchSize; i++ {
		if _, ok := b.Chunks[i]; !ok {
			return false
		}
	}
	return true
}

func (b *ReassemblyBuffer) join() []byte {
	var out []byte
	for i := 1; i <= b.BatchSize; i++ {
		out = append(out, b.Chunks[i]...)
	}
	return out
}

// Reassembler collects numbered batches per sender. Partial batches are never delivered: a batch either
// completes or is dropped by Sweep.
type Reassembler struct {
	Timeout time.Duration
	Logger  log.Logger

	mu      sync.Mutex
	buffers map[string]*ReassemblyBuffer
}

// NewReassembler creates a Reassembler evicting idle buffers after timeout.
func NewReassembler(timeout time.Duration) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultReassemblyTimeout
	}
	return &Reassembler{
		Timeout: timeout,
		Logger:  log.NOOPLogger{},
		buffers: make(map[string]*ReassemblyBuffer),
	}
}

// AddChunk stores payload as chunk index (1-based) of batchID from senderKey. A new batchID supersedes the
// sender's previous, incomplete batch, and a buffer idle past the timeout is evicted before the chunk is
// added. Duplicate indices overwrite. When the batch completes, the joined
// payload is returned and the buffer is discarded.
func (r *Reassembler) AddChunk(senderKey string, batchID uint32, index, batchSize int, payload []byte, now time.Time) ([]byte, bool) {
	if batchSize < 1 || index < 1 || index > batchSize {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	buf, ok := r.buffers[senderKey]
	if ok && now.Sub(buf.LastUpdate) > r.Timeout {
		r.evict(senderKey, buf)
		ok = false
	}
	if !ok || buf.BatchID != batchID || buf.BatchSize != batchSize {
		if ok {
			r.Logger.Debug("Superseding incomplete batch", "sender", senderKey,
				"oldBatch", buf.BatchID, "newBatch", batchID, "chunks", len(buf.Chunks))
		}
		buf = &ReassemblyBuffer{
			BatchID:   batchID,
			BatchSize: batchSize,
			Chunks:    make(map[int][]byte, batchSize),
		}
		r.buffers[senderKey] = buf
	}

	buf.Chunks[index] = append([]byte(nil), payload...)
	buf.LastUpdate = now

	if !buf.Complete() {
		return nil, false
	}
	delete(r.buffers, senderKey)
	return buf.join(), true
}

// Sweep evicts every buffer idle for longer than the timeout and returns how many were dropped.
func (r *Reassembler) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for key, buf := range r.buffers {
		if now.Sub(buf.LastUpdate) <= r.Timeout {
			continue
		}
		r.evict(key, buf)
		evicted++
	}
	return evicted
}

func (r *Reassembler) evict(key string, buf *ReassemblyBuffer) {
	delete(r.buffers, key)
	metrics.BuffersEvicted.Inc()
	r.Logger.Debug("Reassembly buffer evicted", "sender", key, "batch", buf.BatchID,
		"have", len(buf.Chunks), "want", buf.BatchSize, "error", ErrBufferEvicted)
}

// Pending returns the number of incomplete buffers.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

// FrameAssembler rebuilds frames from air chunks. The radio has no addressing, so one assembler serves the
// whole link. Sequence 0 opens a frame, the frame header tells how many bytes to expect, and the remaining
// slots may arrive in any order.
//
// Slots held from before the current sequence 0 are stale: they may be the tail of an earlier frame whose
// head was lost. They are used only while the frame they complete decodes.
type FrameAssembler struct {
	Timeout time.Duration

	slots   map[byte][]byte
	fresh   map[byte]bool
	updated time.Time
}

// NewFrameAssembler creates an assembler dropping partial frames idle for longer than timeout.
func NewFrameAssembler(timeout time.Duration) *FrameAssembler {
	if timeout <= 0 {
		timeout = DefaultReassemblyTimeout
	}
	return &FrameAssembler{Timeout: timeout, slots: make(map[byte][]byte), fresh: make(map[byte]bool)}
}

// Push adds one received chunk and returns the frame bytes once all of its chunks are present.
func (a *FrameAssembler) Push(rec Reception, now time.Time) ([]byte, bool) {
	if len(a.slots) > 0 && now.Sub(a.updated) > a.Timeout {
		a.Reset()
	}
	if rec.Seq == 0 {
		if old, ok := a.slots[0]; !ok || !bytes.Equal(old, rec.Payload) {
			clear(a.fresh)
		}
	}
	a.slots[rec.Seq] = append([]byte(nil), rec.Payload...)
	a.fresh[rec.Seq] = true
	a.updated = now

	data, ok := a.assemble()
	if !ok {
		return nil, false
	}
	if _, err := DecodeFrame(data); err != nil && a.dropStale() {
		if data, ok = a.assemble(); !ok {
			return nil, false
		}
	}
	a.Reset()
	return data, true
}

// assemble joins the contiguous slots from sequence 0 and reports whether they hold a whole frame.
func (a *FrameAssembler) assemble() ([]byte, bool) {
	first, ok := a.slots[0]
	if !ok || len(first) == 0 {
		return nil, false
	}

	var prefix []byte
	for i := 0; i < MaxChunks; i++ {
		s, ok := a.slots[byte(i)]
		if !ok {
			break
		}
		prefix = append(prefix, s...)
		if len(prefix) >= MaxFrameSize {
			break
		}
	}
	size, ok := FrameLength(prefix)
	if !ok || len(prefix) < size {
		return nil, false
	}
	return prefix[:size], true
}

// dropStale removes every slot received before the current sequence 0 and reports whether there was any.
func (a *FrameAssembler) dropStale() bool {
	dropped := false
	for seq := range a.slots {
		if !a.fresh[seq] {
			delete(a.slots, seq)
			dropped = true
		}
	}
	return dropped
}

// Reset drops any partially assembled frame.
func (a *FrameAssembler) Reset() {
	clear(a.slots)
	clear(a.fresh)
}

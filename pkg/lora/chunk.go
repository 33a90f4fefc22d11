package lora

import (
	"fmt"
	"slices"
)

const (
	// DefaultMTU keeps a chunk, including its sequence byte, within a 240 byte radio payload.
	DefaultMTU = 239
	// MaxChunks is the largest batch whose sequence bytes do not wrap.
	MaxChunks = 256
)

// ChunkFrame splits frame into ceil(len(frame)/mtu) slices, each prefixed with its index modulo 256.
// An empty frame yields no chunks. ChunkFrame panics if mtu is less than 1.
func ChunkFrame(frame []byte, mtu int) [][]byte {
	if mtu < 1 {
		panic(fmt.Sprintf("lora: invalid mtu %d", mtu))
	}

	count := (len(frame) + mtu - 1) / mtu
	chunks := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		end := min((i+1)*mtu, len(frame))
		chunk := make([]byte, 0, 1+end-i*mtu)
		chunk = append(chunk, byte(i%MaxChunks))
		chunk = append(chunk, frame[i*mtu:end]...)
		chunks = append(chunks, chunk)
	}
	return chunks
}

// Reassemble joins the chunks of a single batch produced by ChunkFrame, in whatever order they were delivered.
// The batch must not hold more than MaxChunks chunks.
func Reassemble(chunks [][]byte) ([]byte, error) {
	if len(chunks) > MaxChunks {
		return nil, fmt.Errorf("batch of %d chunks exceeds %d", len(chunks), MaxChunks)
	}

	sorted := make([][]byte, 0, len(chunks))
	for _, c := range chunks {
		if len(c) == 0 {
			return nil, ErrTruncated
		}
		sorted = append(sorted, c)
	}
	slices.SortFunc(sorted, func(a, b []byte) int {
		return int(a[0]) - int(b[0])
	})

	var out []byte
	for i, c := range sorted {
		if int(c[0]) != i {
			if i > 0 && c[0] == sorted[i-1][0] {
				return nil, fmt.Errorf("sequence %d: %w", c[0], ErrDuplicateChunk)
			}
			return nil, fmt.Errorf("missing chunk %d", i)
		}
		out = append(out, c[1:]...)
	}
	return out, nil
}

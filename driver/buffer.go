package driver

import (
	"bytes"
	"errors"
)

// Capacity is the number of bytes a single response line may occupy,
// newline included.
const Capacity = 50

// ErrBufferOverflow is returned by Commit when more bytes are claimed than fit.
var ErrBufferOverflow = errors.New("driver: frame buffer overflow")

// FrameBuffer accumulates the bytes of one response line across reads.
// Its length never exceeds Capacity.
type FrameBuffer struct {
	data [Capacity]byte
	n    int
}

// Reset empties the buffer.
func (b *FrameBuffer) Reset() {
	b.n = 0
}

// Len returns the number of buffered bytes.
func (b *FrameBuffer) Len() int {
	return b.n
}

// Full reports whether no more bytes can be appended.
func (b *FrameBuffer) Full() bool {
	return b.n == Capacity
}

// Tail returns the free space to read into. Bytes written there become part
// of the buffer only after Commit.
func (b *FrameBuffer) Tail() []byte {
	return b.data[b.n:]
}

// Commit appends n bytes previously read into Tail.
func (b *FrameBuffer) Commit(n int) error {
	if n < 0 || n > Capacity-b.n {
		return ErrBufferOverflow
	}
	b.n += n
	return nil
}

// LineComplete reports whether the last appended byte is a newline.
func (b *FrameBuffer) LineComplete() bool {
	return b.n > 0 && b.data[b.n-1] == '\n'
}

// Bytes returns the buffered bytes. The slice is only valid until the next
// Reset or Commit.
func (b *FrameBuffer) Bytes() []byte {
	return b.data[:b.n]
}

// Line returns the buffered bytes without the trailing newline.
func (b *FrameBuffer) Line() []byte {
	return bytes.TrimSuffix(b.Bytes(), []byte{'\n'})
}

// Snapshot returns a copy of the buffered bytes.
func (b *FrameBuffer) Snapshot() []byte {
	return bytes.Clone(b.Bytes())
}

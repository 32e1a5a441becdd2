package recorder

// FrameBuffer is the ordered list of chunks captured in one session.
//
// It is not safe for concurrent use. The capture worker is its only writer;
// the controller receives it through the worker's result channel after the
// worker has exited, and only then reads or clears it.
type FrameBuffer struct {
	chunks [][]byte
	bytes  int
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Append adds chunk at the end. The buffer keeps the slice, so callers must
// not reuse it.
func (b *FrameBuffer) Append(chunk []byte) {
	b.chunks = append(b.chunks, chunk)
	b.bytes += len(chunk)
}

// Len returns the number of chunks.
func (b *FrameBuffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.chunks)
}

// Bytes returns the total PCM size.
func (b *FrameBuffer) Bytes() int {
	if b == nil {
		return 0
	}
	return b.bytes
}

// Chunks returns the chunks in capture order.
func (b *FrameBuffer) Chunks() [][]byte {
	if b == nil {
		return nil
	}
	return b.chunks
}

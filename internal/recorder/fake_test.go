package recorder

import (
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrecorder/internal/audio"
)

// fakeBackend hands out scripted streams. Streams queued in next are used
// first; after that each Open returns a fresh fakeStream.
type fakeBackend struct {
	mutex      sync.Mutex
	openErr    error
	next       []*fakeStream
	streams    []*fakeStream
	terminated int
}

func (b *fakeBackend) Open(ctx context.Context, f audio.Format) (audio.Stream, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.openErr != nil {
		return nil, b.openErr
	}
	var s *fakeStream
	if len(b.next) > 0 {
		s, b.next = b.next[0], b.next[1:]
	} else {
		s = newFakeStream()
	}
	b.streams = append(b.streams, s)
	return s, nil
}

func (b *fakeBackend) Devices() ([]audio.DeviceInfo, error) {
	return []audio.DeviceInfo{{Name: "fake", MaxInputChannels: 1, IsDefault: true}}, nil
}

func (b *fakeBackend) Terminate() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.terminated++
	return nil
}

func (b *fakeBackend) Type() audio.BackendType {
	return audio.BackendType("fake")
}

func (b *fakeBackend) setOpenErr(err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.openErr = err
}

func (b *fakeBackend) stream(i int) *fakeStream {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.streams[i]
}

func (b *fakeBackend) terminateCount() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.terminated
}

type fakeRead struct {
	chunk []byte
	err   error
}

// fakeStream returns whatever the test pushes on feed. With ignoreCtx it
// models a driver that only returns from a read when the stream is closed;
// with release set it ignores Close as well until release is closed.
type fakeStream struct {
	feed      chan fakeRead
	closed    chan struct{}
	release   chan struct{}
	ignoreCtx bool
	reads     atomic.Int32

	mutex      sync.Mutex
	isClosed   bool
	closeCalls int
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		feed:   make(chan fakeRead),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) ReadChunk(ctx context.Context) ([]byte, error) {
	s.reads.Add(1)
	if s.release != nil {
		select {
		case r := <-s.feed:
			return r.chunk, r.err
		case <-s.release:
			return nil, audio.ErrAlreadyClosed
		}
	}

	done := ctx.Done()
	if s.ignoreCtx {
		done = nil
	}
	select {
	case <-done:
		return nil, ctx.Err()
	case <-s.closed:
		return nil, audio.ErrAlreadyClosed
	case r := <-s.feed:
		return r.chunk, r.err
	}
}

func (s *fakeStream) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closeCalls++
	if s.isClosed {
		return audio.ErrAlreadyClosed
	}
	s.isClosed = true
	close(s.closed)
	return nil
}

func (s *fakeStream) wasClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.isClosed
}

// waitReading blocks until the worker has entered its n-th read.
func (s *fakeStream) waitReading(t *testing.T, n int32) {
	t.Helper()
	require.Eventually(t, func() bool { return s.reads.Load() >= n }, 2*time.Second, time.Millisecond)
}

// send delivers one read result to the worker, failing the test if nobody
// is reading.
func (s *fakeStream) send(t *testing.T, chunk []byte, err error) {
	t.Helper()
	select {
	case s.feed <- fakeRead{chunk: chunk, err: err}:
	case <-time.After(2 * time.Second):
		t.Fatal("capture worker is not reading")
	}
}

// numberedChunk returns a full chunk whose first sample carries id.
func numberedChunk(id int) []byte {
	chunk := make([]byte, audio.DefaultFormat().ChunkBytes())
	binary.LittleEndian.PutUint16(chunk, uint16(id))
	return chunk
}

func chunkID(chunk []byte) int {
	return int(binary.LittleEndian.Uint16(chunk))
}

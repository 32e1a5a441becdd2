package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrecorder/internal/audio"
	"github.com/audiolibrelab/micrecorder/internal/wavfile"
)

var fixedNow = time.Date(2024, 5, 1, 10, 30, 0, 0, time.Local)

func newTestController(t *testing.T, backend audio.Backend, opts ...Option) (*Controller, string) {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "grabaciones")
	base := []Option{
		WithOutput(dir, "grabacion"),
		WithStopTimeout(time.Second),
		WithShutdownTimeout(time.Second),
		WithClock(func() time.Time { return fixedNow }),
	}
	c, err := New(backend, audio.DefaultFormat(), append(base, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() { c.Shutdown() })
	return c, dir
}

func frameIDs(c *Controller) []int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var ids []int
	for _, chunk := range c.frames.Chunks() {
		ids = append(ids, chunkID(chunk))
	}
	return ids
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, audio.DefaultFormat())
	assert.Error(t, err)

	stereo := audio.DefaultFormat()
	stereo.Channels = 2
	_, err = New(&fakeBackend{}, stereo)
	assert.Error(t, err)
}

func TestController_InitialState(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 0, c.ElapsedSeconds())
	assert.False(t, c.HasUnsavedFrames())
}

func TestController_InvalidTransitionsFromIdle(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})

	assert.ErrorIs(t, c.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, c.Resume(), ErrInvalidTransition)
	assert.ErrorIs(t, c.ToggleStop(), ErrInvalidTransition)
	assert.Equal(t, StateIdle, c.State())
}

func TestController_StateMachine(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newTestController(t, backend)

	require.NoError(t, c.Start())
	assert.Equal(t, StateRecording, c.State())

	err := c.Start()
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, c.Resume(), ErrInvalidTransition)
	assert.Equal(t, StateRecording, c.State())

	require.NoError(t, c.Pause())
	assert.Equal(t, StatePaused, c.State())
	assert.ErrorIs(t, c.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, c.Start(), ErrAlreadyRecording)
	assert.Equal(t, StatePaused, c.State())

	require.NoError(t, c.Resume())
	assert.Equal(t, StateRecording, c.State())

	require.NoError(t, c.ToggleStop())
	assert.Equal(t, StateStopped, c.State())
	assert.True(t, backend.stream(0).wasClosed())

	assert.ErrorIs(t, c.ToggleStop(), ErrInvalidTransition)
	assert.ErrorIs(t, c.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, c.Resume(), ErrInvalidTransition)
	assert.Equal(t, StateStopped, c.State())

	// Stopped is an entry point for a new session
	require.NoError(t, c.Start())
	assert.Equal(t, StateRecording, c.State())
}

func TestController_StopFromPaused(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})

	require.NoError(t, c.Start())
	require.NoError(t, c.Pause())
	require.NoError(t, c.ToggleStop())
	assert.Equal(t, StateStopped, c.State())
}

func TestController_PausedChunksAreExcluded(t *testing.T) {
	backend := &fakeBackend{}
	c, dir := newTestController(t, backend)

	require.NoError(t, c.Start())
	s := backend.stream(0)

	for id := 1; id <= 3; id++ {
		s.send(t, numberedChunk(id), nil)
	}
	waitFor(t, func() bool { return c.Status().ChunksCaptured == 3 })

	require.NoError(t, c.Pause())
	s.send(t, numberedChunk(4), nil)
	s.send(t, numberedChunk(5), nil)
	waitFor(t, func() bool { return c.Status().ChunksDiscarded == 2 })

	require.NoError(t, c.Resume())
	s.send(t, numberedChunk(6), nil)
	waitFor(t, func() bool { return c.Status().ChunksCaptured == 4 })

	require.NoError(t, c.ToggleStop())
	assert.Equal(t, []int{1, 2, 3, 6}, frameIDs(c))
	assert.True(t, c.HasUnsavedFrames())

	path, err := c.StopAndSave()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "grabacion_20240501_103000.wav"), path)

	info, err := wavfile.Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4*1024), info.Samples)
}

func TestController_OverflowChunkIsKept(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newTestController(t, backend)

	require.NoError(t, c.Start())
	s := backend.stream(0)

	s.send(t, numberedChunk(1), nil)
	s.send(t, numberedChunk(2), audio.ErrOverflow)
	s.send(t, numberedChunk(3), nil)
	waitFor(t, func() bool { return c.Status().ChunksCaptured == 3 })

	status := c.Status()
	assert.Equal(t, int64(1), status.Overflows)
	assert.Equal(t, StateRecording, status.State)
	assert.Empty(t, status.CaptureError)

	require.NoError(t, c.ToggleStop())
	assert.Equal(t, []int{1, 2, 3}, frameIDs(c))
}

func TestController_ReadFailuresStopWorker(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newTestController(t, backend, WithReadRetries(2, 0))

	require.NoError(t, c.Start())
	s := backend.stream(0)

	s.send(t, numberedChunk(1), nil)
	readErr := errors.New("device unplugged")
	for i := 0; i < 3; i++ {
		s.send(t, nil, readErr)
	}

	// The session ends on its own once the worker gives up
	waitFor(t, func() bool { return c.State() == StateStopped })
	assert.Contains(t, c.Status().CaptureError, "device unplugged")
	assert.True(t, s.wasClosed())
	assert.True(t, c.HasUnsavedFrames())
	assert.Equal(t, []int{1}, frameIDs(c))

	assert.ErrorIs(t, c.ToggleStop(), ErrInvalidTransition)
}

func TestController_FailedCaptureFreezesTimer(t *testing.T) {
	backend := &fakeBackend{}
	c, dir := newTestController(t, backend, WithReadRetries(0, 0))

	require.NoError(t, c.Start())
	s := backend.stream(0)

	s.send(t, numberedChunk(1), nil)
	c.Tick()
	s.send(t, nil, errors.New("boom"))
	waitFor(t, func() bool { return c.State() == StateStopped })

	c.Tick()
	c.Tick()
	status := c.Status()
	assert.Equal(t, 1, status.ElapsedSeconds)
	assert.Contains(t, status.CaptureError, "capture stopped after 1 failed reads: boom")
	assert.True(t, status.HasUnsavedFrames)
	assert.True(t, s.wasClosed())

	path, err := c.StopAndSave()
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	// A new session starts cleanly after the failure
	require.NoError(t, c.Start())
	assert.Empty(t, c.Status().CaptureError)
	c.Tick()
	assert.Equal(t, 1, c.ElapsedSeconds())
}

func TestController_ReadFailureRecovers(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newTestController(t, backend, WithReadRetries(2, 0))

	require.NoError(t, c.Start())
	s := backend.stream(0)

	s.send(t, nil, errors.New("glitch"))
	s.send(t, nil, errors.New("glitch"))
	s.send(t, numberedChunk(1), nil)
	s.send(t, nil, errors.New("glitch"))
	s.send(t, numberedChunk(2), nil)
	waitFor(t, func() bool { return c.Status().ChunksCaptured == 2 })

	assert.Empty(t, c.Status().CaptureError)
	require.NoError(t, c.ToggleStop())
	assert.Equal(t, []int{1, 2}, frameIDs(c))
}

func TestController_StopAndSaveTwice(t *testing.T) {
	backend := &fakeBackend{}
	c, dir := newTestController(t, backend)

	require.NoError(t, c.Start())
	backend.stream(0).send(t, numberedChunk(1), nil)
	waitFor(t, func() bool { return c.Status().ChunksCaptured == 1 })

	// Saving from Recording stops first
	path, err := c.StopAndSave()
	require.NoError(t, err)
	assert.Equal(t, StateStopped, c.State())
	assert.False(t, c.HasUnsavedFrames())

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = c.StopAndSave()
	assert.ErrorIs(t, err, ErrNothingToSave)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestController_SaveWithNoFrames(t *testing.T) {
	c, dir := newTestController(t, &fakeBackend{})

	_, err := c.StopAndSave()
	assert.ErrorIs(t, err, ErrNothingToSave)

	require.NoError(t, c.Start())
	require.NoError(t, c.ToggleStop())

	_, err = c.StopAndSave()
	assert.ErrorIs(t, err, ErrNothingToSave)

	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr), "no directory or file should be created")
}

func TestController_DeviceUnavailable(t *testing.T) {
	backend := &fakeBackend{}
	backend.setOpenErr(fmt.Errorf("%w: no input device", audio.ErrDeviceUnavailable))
	c, _ := newTestController(t, backend)

	err := c.Start()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, StateIdle, c.State())
}

func TestController_DeviceUnavailableKeepsStoppedSession(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newTestController(t, backend)

	require.NoError(t, c.Start())
	backend.stream(0).send(t, numberedChunk(7), nil)
	waitFor(t, func() bool { return c.Status().ChunksCaptured == 1 })
	require.NoError(t, c.ToggleStop())

	backend.setOpenErr(errors.New("device busy"))
	err := c.Start()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, []int{7}, frameIDs(c))
}

func TestController_StartDiscardsUnsavedFrames(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newTestController(t, backend)

	require.NoError(t, c.Start())
	backend.stream(0).send(t, numberedChunk(1), nil)
	waitFor(t, func() bool { return c.Status().ChunksCaptured == 1 })
	c.Tick()
	require.NoError(t, c.ToggleStop())
	require.True(t, c.HasUnsavedFrames())

	firstSession := c.Status().Session.ID

	require.NoError(t, c.Start())
	assert.False(t, c.HasUnsavedFrames())
	assert.Equal(t, 0, c.ElapsedSeconds())
	assert.NotEqual(t, firstSession, c.Status().Session.ID)
	assert.Equal(t, int64(0), c.Status().ChunksCaptured)
}

func TestController_ForcedCloseUnblocksWorker(t *testing.T) {
	stuck := newFakeStream()
	stuck.ignoreCtx = true
	backend := &fakeBackend{next: []*fakeStream{stuck}}
	c, _ := newTestController(t, backend, WithStopTimeout(20*time.Millisecond))

	require.NoError(t, c.Start())
	stuck.send(t, numberedChunk(1), nil)
	stuck.waitReading(t, 2)

	require.NoError(t, c.ToggleStop())
	assert.Equal(t, StateStopped, c.State())
	assert.True(t, stuck.wasClosed())
	assert.Equal(t, []int{1}, frameIDs(c))
}

func TestController_StuckWorkerBlocksNextStart(t *testing.T) {
	stuck := newFakeStream()
	stuck.release = make(chan struct{})
	backend := &fakeBackend{next: []*fakeStream{stuck}}
	c, _ := newTestController(t, backend, WithStopTimeout(20*time.Millisecond))

	require.NoError(t, c.Start())
	stuck.send(t, numberedChunk(1), nil)
	// The worker is blocked in its second read and will not see the cancel
	stuck.waitReading(t, 2)

	err := c.ToggleStop()
	assert.ErrorIs(t, err, ErrWorkerStuck)
	assert.Equal(t, StateStopped, c.State())

	assert.ErrorIs(t, c.Start(), ErrWorkerBusy)

	close(stuck.release)
	waitFor(t, func() bool { return c.Start() == nil })
	assert.Equal(t, StateRecording, c.State())
}

func TestController_Timer(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})

	assert.Equal(t, 0, c.Tick(), "idle ticks are ignored")

	require.NoError(t, c.Start())
	c.Tick()
	c.Tick()
	assert.Equal(t, 2, c.ElapsedSeconds())

	require.NoError(t, c.Pause())
	c.Tick()
	assert.Equal(t, 2, c.ElapsedSeconds(), "paused ticks are ignored")

	require.NoError(t, c.Resume())
	c.Tick()
	require.NoError(t, c.ToggleStop())
	c.Tick()
	assert.Equal(t, 3, c.ElapsedSeconds(), "timer stays visible after stop")
	assert.Equal(t, "00:00:03", c.Status().Elapsed)
}

func TestController_SaveResetsTimer(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newTestController(t, backend)

	require.NoError(t, c.Start())
	backend.stream(0).send(t, numberedChunk(1), nil)
	waitFor(t, func() bool { return c.Status().ChunksCaptured == 1 })
	c.Tick()

	path, err := c.StopAndSave()
	require.NoError(t, err)
	assert.Equal(t, 0, c.ElapsedSeconds())
	assert.Equal(t, path, c.Status().LastSaved)
}

func TestController_SaveFailureKeepsFrames(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	backend := &fakeBackend{}
	c, _ := newTestController(t, backend, WithOutput(filepath.Join(blocker, "grabaciones"), "grabacion"))

	require.NoError(t, c.Start())
	backend.stream(0).send(t, numberedChunk(1), nil)
	waitFor(t, func() bool { return c.Status().ChunksCaptured == 1 })
	c.Tick()

	_, err := c.StopAndSave()
	assert.ErrorIs(t, err, ErrIOFailure)
	assert.True(t, c.HasUnsavedFrames())
	assert.Equal(t, 1, c.ElapsedSeconds())
	assert.Equal(t, StateStopped, c.State())
}

func TestController_Shutdown(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newTestController(t, backend)

	require.NoError(t, c.Start())
	require.NoError(t, c.Shutdown())

	assert.Equal(t, StateStopped, c.State())
	assert.True(t, backend.stream(0).wasClosed())
	assert.Equal(t, 1, backend.terminateCount())

	require.NoError(t, c.Shutdown())
	assert.Equal(t, 1, backend.terminateCount())

	assert.ErrorIs(t, c.Start(), ErrClosed)
}

func TestController_ShutdownFromIdle(t *testing.T) {
	backend := &fakeBackend{}
	c, _ := newTestController(t, backend)

	require.NoError(t, c.Shutdown())
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 1, backend.terminateCount())
}

func TestController_ToneSession(t *testing.T) {
	backend := audio.NewToneBackend(audio.ToneOptions{Pace: time.Millisecond})
	c, _ := newTestController(t, backend)

	require.NoError(t, c.Start())
	for i := 0; i < 3; i++ {
		waitFor(t, func() bool { return c.Status().ChunksCaptured >= int64(i+1) })
		c.Tick()
	}
	require.NoError(t, c.ToggleStop())
	captured := c.Status().ChunksCaptured

	path, err := c.StopAndSave()
	require.NoError(t, err)

	info, err := wavfile.Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 44100, info.SampleRate)
	assert.Equal(t, 16, info.BitDepth)
	assert.GreaterOrEqual(t, info.Samples, int64(3*1024))
	assert.Equal(t, captured*1024, info.Samples)
}

func TestController_StatusSnapshot(t *testing.T) {
	c, _ := newTestController(t, &fakeBackend{})

	status := c.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Nil(t, status.Session)

	require.NoError(t, c.Start())
	status = c.Status()
	require.NotNil(t, status.Session)
	assert.NotEmpty(t, status.Session.ID)
	assert.Equal(t, fixedNow, status.Session.StartTime)
}

package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/micrecorder/internal/audio"
	"github.com/audiolibrelab/micrecorder/internal/metrics"
	"github.com/audiolibrelab/micrecorder/internal/wavfile"
)

// SessionInfo identifies one recording session
type SessionInfo struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
}

// Status is a point-in-time view of the controller for rendering
type Status struct {
	State            State        `json:"state"`
	ElapsedSeconds   int          `json:"elapsed_seconds"`
	Elapsed          string       `json:"elapsed"`
	Session          *SessionInfo `json:"session,omitempty"`
	ChunksCaptured   int64        `json:"chunks_captured"`
	ChunksDiscarded  int64        `json:"chunks_discarded"`
	Overflows        int64        `json:"overflows"`
	HasUnsavedFrames bool         `json:"has_unsaved_frames"`
	LastSaved        string       `json:"last_saved,omitempty"`
	CaptureError     string       `json:"capture_error,omitempty"`
}

type captureResult struct {
	frames *FrameBuffer
	err    error
}

type worker struct {
	cancel context.CancelFunc
	done   chan captureResult
}

// Controller owns the recording state machine. All commands are serialized;
// queries never wait for a command to finish joining the capture worker.
type Controller struct {
	backend audio.Backend
	format  audio.Format
	opts    options
	metrics *metrics.Metrics

	// cmdMutex serializes commands, mutex guards the fields below
	cmdMutex sync.Mutex
	mutex    sync.RWMutex

	state      State
	stream     audio.Stream
	worker     *worker
	frames     *FrameBuffer
	elapsed    int
	session    *SessionInfo
	lastSaved  string
	captureErr error
	terminated bool

	paused    atomic.Bool
	captured  atomic.Int64
	discarded atomic.Int64
	overflows atomic.Int64
}

// New creates a controller in the Idle state. The format is fixed for the
// lifetime of the controller.
func New(backend audio.Backend, format audio.Format, opts ...Option) (*Controller, error) {
	if backend == nil {
		return nil, errors.New("audio backend is required")
	}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audio format: %w", err)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewMetrics()
	}

	c := &Controller{
		backend: backend,
		format:  format,
		opts:    o,
		metrics: o.metrics,
		state:   StateIdle,
	}
	c.metrics.SetState(StateIdle.gaugeValue())
	return c, nil
}

// Start opens the device and launches a capture worker for a new session
func (c *Controller) Start() error {
	c.cmdMutex.Lock()
	defer c.cmdMutex.Unlock()

	c.mutex.RLock()
	state := c.state
	terminated := c.terminated
	c.mutex.RUnlock()

	if terminated {
		return ErrClosed
	}
	if state.Active() {
		return ErrAlreadyRecording
	}
	if err := c.reapWorker(); err != nil {
		return err
	}

	stream, err := c.backend.Open(context.Background(), c.format)
	if err != nil {
		slog.Error("Failed to open audio device", "backend", c.backend.Type(), "error", err)
		if !errors.Is(err, audio.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
		}
		return err
	}

	session := &SessionInfo{
		ID:        uuid.NewString(),
		StartTime: c.opts.now(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		cancel: cancel,
		done:   make(chan captureResult, 1),
	}

	c.mutex.Lock()
	if c.frames.Len() > 0 {
		slog.Warn("Discarding unsaved recording", "chunks", c.frames.Len(), "bytes", c.frames.Bytes())
	}
	c.frames = nil
	c.elapsed = 0
	c.captureErr = nil
	c.lastSaved = ""
	c.session = session
	c.stream = stream
	c.worker = w
	c.state = StateRecording
	c.mutex.Unlock()

	c.paused.Store(false)
	c.captured.Store(0)
	c.discarded.Store(0)
	c.overflows.Store(0)

	c.metrics.RecordSessionStarted()
	c.metrics.SetState(StateRecording.gaugeValue())

	go c.capture(ctx, stream, session.ID, w)

	slog.Info("Recording started", "session_id", session.ID, "backend", c.backend.Type())
	return nil
}

// reapWorker collects a worker left behind by an earlier timed-out stop.
func (c *Controller) reapWorker() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.worker == nil {
		return nil
	}
	select {
	case <-c.worker.done:
		c.worker = nil
		return nil
	default:
		return ErrWorkerBusy
	}
}

// Pause suspends appending captured audio. The device keeps being drained.
func (c *Controller) Pause() error {
	return c.transition(StateRecording, StatePaused)
}

// Resume continues appending captured audio after Pause
func (c *Controller) Resume() error {
	return c.transition(StatePaused, StateRecording)
}

func (c *Controller) transition(from, to State) error {
	c.cmdMutex.Lock()
	defer c.cmdMutex.Unlock()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state != from {
		return fmt.Errorf("%w: cannot go from %s to %s", ErrInvalidTransition, c.state, to)
	}

	c.paused.Store(to == StatePaused)
	c.state = to
	c.metrics.SetState(to.gaugeValue())

	var sessionID string
	if c.session != nil {
		sessionID = c.session.ID
	}
	slog.Info("Recorder state changed", "session_id", sessionID, "from", from, "state", to)
	return nil
}

// ToggleStop ends the session: it stops the worker, waits for it, closes the
// device and takes ownership of the captured frames.
func (c *Controller) ToggleStop() error {
	c.cmdMutex.Lock()
	defer c.cmdMutex.Unlock()

	return c.stop(c.opts.stopTimeout)
}

func (c *Controller) stop(timeout time.Duration) error {
	c.mutex.RLock()
	state := c.state
	w := c.worker
	stream := c.stream
	c.mutex.RUnlock()

	if !state.Active() {
		return fmt.Errorf("%w: cannot stop from %s", ErrInvalidTransition, state)
	}

	w.cancel()
	result, joined := c.join(w, stream, timeout)

	if stream != nil {
		if err := stream.Close(); err != nil && !errors.Is(err, audio.ErrAlreadyClosed) {
			slog.Warn("Failed to close audio stream", "error", err)
		}
	}

	c.mutex.Lock()
	c.stream = nil
	c.state = StateStopped
	if joined {
		c.worker = nil
		c.frames = result.frames
		if result.err != nil {
			c.captureErr = result.err
		}
	}
	sessionID := c.session.ID
	frames := c.frames.Len()
	c.mutex.Unlock()

	c.paused.Store(false)
	c.metrics.SetState(StateStopped.gaugeValue())

	if !joined {
		slog.Error("Capture worker did not exit", "session_id", sessionID, "timeout", timeout)
		return fmt.Errorf("%w after %s", ErrWorkerStuck, timeout)
	}

	slog.Info("Recording stopped", "session_id", sessionID, "chunks", frames)
	return nil
}

// endFailedSession runs the stop path for a worker that exited on a capture
// error, so the device is closed and its frames become saveable. It does
// nothing if the session was already stopped or replaced.
func (c *Controller) endFailedSession(w *worker) {
	c.cmdMutex.Lock()
	defer c.cmdMutex.Unlock()

	c.mutex.RLock()
	current := c.worker == w && c.state.Active()
	c.mutex.RUnlock()
	if !current {
		return
	}

	slog.Warn("Capture failed, stopping session")
	if err := c.stop(c.opts.stopTimeout); err != nil {
		slog.Error("Failed to stop failed session", "error", err)
	}
}

// join waits for the worker. If it does not exit in time the stream is closed
// underneath it, which unblocks a pending read, and it gets one more timeout.
func (c *Controller) join(w *worker, stream audio.Stream, timeout time.Duration) (captureResult, bool) {
	select {
	case result := <-w.done:
		return result, true
	case <-time.After(timeout):
	}

	slog.Warn("Capture worker slow to exit, closing stream", "timeout", timeout)
	if stream != nil {
		if err := stream.Close(); err != nil && !errors.Is(err, audio.ErrAlreadyClosed) {
			slog.Warn("Forced stream close failed", "error", err)
		}
	}

	select {
	case result := <-w.done:
		return result, true
	case <-time.After(timeout):
		return captureResult{}, false
	}
}

// StopAndSave stops an active session if needed and writes the frames to a new
// WAV file, returning its path. On success the frames and timer are cleared.
func (c *Controller) StopAndSave() (string, error) {
	c.cmdMutex.Lock()
	defer c.cmdMutex.Unlock()

	c.mutex.RLock()
	active := c.state.Active()
	c.mutex.RUnlock()

	if active {
		if err := c.stop(c.opts.stopTimeout); err != nil {
			return "", err
		}
	}

	c.mutex.RLock()
	frames := c.frames
	c.mutex.RUnlock()

	if frames.Len() == 0 {
		return "", ErrNothingToSave
	}

	started := time.Now()
	path, err := wavfile.Save(c.opts.directory, c.opts.prefix, c.opts.now(), frames.Chunks(), c.format)
	if err != nil {
		c.metrics.RecordSaveFailure(time.Since(started).Seconds())
		slog.Error("Failed to save recording", "directory", c.opts.directory, "error", err)
		return "", fmt.Errorf("%w: %w", ErrIOFailure, err)
	}
	c.metrics.RecordSave(frames.Bytes(), time.Since(started).Seconds())

	c.mutex.Lock()
	c.frames = nil
	c.elapsed = 0
	c.lastSaved = path
	c.mutex.Unlock()
	c.metrics.SetElapsed(0)

	slog.Info("Recording saved", "path", path, "chunks", frames.Len(), "bytes", frames.Bytes())
	return path, nil
}

// Shutdown stops any active session with the shutdown timeout and releases
// the audio backend. It never blocks longer than twice the shutdown timeout.
func (c *Controller) Shutdown() error {
	c.cmdMutex.Lock()
	defer c.cmdMutex.Unlock()

	var errs []error

	c.mutex.RLock()
	active := c.state.Active()
	terminated := c.terminated
	c.mutex.RUnlock()

	if active {
		if err := c.stop(c.opts.shutdownTimeout); err != nil {
			slog.Error("Failed to stop recording during shutdown", "error", err)
			errs = append(errs, err)
		}
	}

	if !terminated {
		if err := c.backend.Terminate(); err != nil {
			slog.Error("Failed to release audio backend", "error", err)
			errs = append(errs, err)
		}
		c.mutex.Lock()
		c.terminated = true
		c.mutex.Unlock()
	}

	return errors.Join(errs...)
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.state
}

// ElapsedSeconds returns the timer value of the current session
func (c *Controller) ElapsedSeconds() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.elapsed
}

// HasUnsavedFrames reports whether a stopped session has frames to save
func (c *Controller) HasUnsavedFrames() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.frames.Len() > 0
}

// Status returns a snapshot of state, timer, session and capture counters
func (c *Controller) Status() Status {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	status := Status{
		State:            c.state,
		ElapsedSeconds:   c.elapsed,
		Elapsed:          FormatElapsed(c.elapsed),
		ChunksCaptured:   c.captured.Load(),
		ChunksDiscarded:  c.discarded.Load(),
		Overflows:        c.overflows.Load(),
		HasUnsavedFrames: c.frames.Len() > 0,
		LastSaved:        c.lastSaved,
	}
	if c.session != nil {
		session := *c.session
		status.Session = &session
	}
	if c.captureErr != nil {
		status.CaptureError = c.captureErr.Error()
	}
	return status
}

func (c *Controller) setCaptureError(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.captureErr = err
}

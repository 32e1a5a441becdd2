// Package recorder implements the recording lifecycle: a state machine in front
// of one capture worker per session and the frames that worker collects.
package recorder

import (
	"errors"
	"fmt"

	"github.com/audiolibrelab/micrecorder/internal/audio"
	"github.com/audiolibrelab/micrecorder/internal/metrics"
)

// State represents the current state of the recorder
type State string

const (
	StateIdle      State = "IDLE"
	StateRecording State = "RECORDING"
	StatePaused    State = "PAUSED"
	StateStopped   State = "STOPPED"
)

// Active reports whether a capture worker is running in this state.
func (s State) Active() bool {
	return s == StateRecording || s == StatePaused
}

func (s State) gaugeValue() int {
	switch s {
	case StateRecording:
		return metrics.StateRecording
	case StatePaused:
		return metrics.StatePaused
	case StateStopped:
		return metrics.StateStopped
	default:
		return metrics.StateIdle
	}
}

var (
	// ErrInvalidTransition is returned when a command is not allowed in the
	// current state. The state is left unchanged.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrAlreadyRecording is returned by Start while a session is Recording or
	// Paused.
	ErrAlreadyRecording = fmt.Errorf("%w: already recording", ErrInvalidTransition)

	// ErrNothingToSave is returned by StopAndSave when no frames were captured
	// or they have already been saved.
	ErrNothingToSave = errors.New("nothing to save")

	// ErrIOFailure wraps filesystem errors from saving. Frames are kept so the
	// save can be retried.
	ErrIOFailure = errors.New("failed to write recording")

	// ErrWorkerBusy is returned by Start while a capture worker from an
	// earlier session has not exited yet.
	ErrWorkerBusy = errors.New("previous capture worker has not exited")

	// ErrWorkerStuck is returned by a stop whose worker did not exit even after
	// the stream was closed. The session is Stopped but its frames are lost.
	ErrWorkerStuck = errors.New("capture worker did not exit in time")

	// ErrClosed is returned by Start after Shutdown.
	ErrClosed = errors.New("recorder has been shut down")

	// ErrDeviceUnavailable is the audio package's error, re-exported for
	// callers that only import recorder.
	ErrDeviceUnavailable = audio.ErrDeviceUnavailable
)

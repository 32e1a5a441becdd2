package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/audiolibrelab/micrecorder/internal/audio"
	"github.com/audiolibrelab/micrecorder/internal/config"
	"github.com/audiolibrelab/micrecorder/internal/metrics"
	"github.com/audiolibrelab/micrecorder/internal/recorder"
	"github.com/audiolibrelab/micrecorder/internal/wavfile"
)

// Service is the application facade shared by the terminal recorder, the
// headless CLI and the HTTP server.
type Service interface {
	// Recording operations
	Start() error
	Pause() error
	Resume() error
	TogglePause() error
	ToggleStop() error
	StopAndSave() (string, error)
	Shutdown() error

	// Timer
	Tick() int
	RunTimer(ctx context.Context) error

	// Status and information
	Status() recorder.Status
	GetLastError() string
	GetConfig() *config.Config
	Metrics() *metrics.Metrics
	ListDevices() ([]audio.DeviceInfo, error)

	// Saved recordings
	ListRecordings() ([]RecordingInfo, error)
	LatestRecording() (*RecordingInfo, error)
	RecordingPath(name string) (string, error)
	InspectRecording(name string) (*wavfile.Info, error)
	Play(name string) error
}

var _ Service = (*MicRecorderService)(nil)

// MicRecorderService is the main service implementation
type MicRecorderService struct {
	cfg        *config.Config
	backend    audio.Backend
	controller *recorder.Controller
	metrics    *metrics.Metrics
	recordings *Recordings

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a service around a controller configured from cfg. The service
// takes ownership of backend and releases it in Shutdown.
func New(cfg *config.Config, backend audio.Backend) (*MicRecorderService, error) {
	m := metrics.NewMetrics()
	controller, err := recorder.New(backend, cfg.AudioFormat(),
		recorder.WithOutput(cfg.Output.Directory, cfg.Output.Prefix),
		recorder.WithMetrics(m),
		recorder.WithStopTimeout(cfg.Capture.StopTimeout),
		recorder.WithShutdownTimeout(cfg.Capture.ShutdownTimeout),
		recorder.WithReadRetries(cfg.Capture.MaxReadRetries, -1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create recorder: %w", err)
	}

	return &MicRecorderService{
		cfg:        cfg,
		backend:    backend,
		controller: controller,
		metrics:    m,
		recordings: NewRecordings(cfg.Output.Directory),
	}, nil
}

// Start begins a new recording session (IDLE/STOPPED -> RECORDING)
func (s *MicRecorderService) Start() error {
	slog.Debug("Service.Start called")
	s.clearLastError()
	return s.track("Failed to start recording", s.controller.Start())
}

// Pause suspends the current session (RECORDING -> PAUSED)
func (s *MicRecorderService) Pause() error {
	return s.track("Failed to pause recording", s.controller.Pause())
}

// Resume continues the current session (PAUSED -> RECORDING)
func (s *MicRecorderService) Resume() error {
	return s.track("Failed to resume recording", s.controller.Resume())
}

// TogglePause pauses while recording and resumes while paused
func (s *MicRecorderService) TogglePause() error {
	if s.controller.State() == recorder.StatePaused {
		return s.Resume()
	}
	return s.Pause()
}

// ToggleStop ends the current session (RECORDING/PAUSED -> STOPPED)
func (s *MicRecorderService) ToggleStop() error {
	err := s.controller.ToggleStop()
	if err == nil {
		s.clearLastError()
	}
	return s.track("Failed to stop recording", err)
}

// StopAndSave stops if needed and writes the recording to disk
func (s *MicRecorderService) StopAndSave() (string, error) {
	path, err := s.controller.StopAndSave()
	if err == nil {
		s.clearLastError()
	}
	return path, s.track("Failed to save recording", err)
}

// Shutdown stops any session and releases the audio device
func (s *MicRecorderService) Shutdown() error {
	return s.track("Shutdown incomplete", s.controller.Shutdown())
}

func (s *MicRecorderService) Tick() int {
	return s.controller.Tick()
}

// RunTimer drives the session timer at the configured tick interval
func (s *MicRecorderService) RunTimer(ctx context.Context) error {
	return s.controller.RunTimer(ctx, s.cfg.Capture.TickInterval)
}

// Status returns the current recorder snapshot
func (s *MicRecorderService) Status() recorder.Status {
	return s.controller.Status()
}

// GetConfig returns the current configuration
func (s *MicRecorderService) GetConfig() *config.Config {
	return s.cfg
}

func (s *MicRecorderService) Metrics() *metrics.Metrics {
	return s.metrics
}

// ListDevices returns the input devices of the configured backend
func (s *MicRecorderService) ListDevices() ([]audio.DeviceInfo, error) {
	return s.backend.Devices()
}

// ListRecordings returns saved recordings, newest first
func (s *MicRecorderService) ListRecordings() ([]RecordingInfo, error) {
	return s.recordings.List()
}

// LatestRecording returns the newest saved recording, or nil if there is none
func (s *MicRecorderService) LatestRecording() (*RecordingInfo, error) {
	return s.recordings.Latest()
}

// RecordingPath resolves a bare file name inside the output directory
func (s *MicRecorderService) RecordingPath(name string) (string, error) {
	return s.recordings.Path(name)
}

// InspectRecording reads the WAV header of a saved recording
func (s *MicRecorderService) InspectRecording(ref string) (*wavfile.Info, error) {
	return s.recordings.Inspect(ref)
}

// Play plays a recording by name or path, or the latest one when ref is empty
func (s *MicRecorderService) Play(ref string) error {
	return s.recordings.Play(ref)
}

// track records err as the last error, prefixed with action, and returns it
func (s *MicRecorderService) track(action string, err error) error {
	if err != nil {
		slog.Debug("Service operation failed", "action", action, "error", err)
		s.setLastError(fmt.Sprintf("%s: %v", action, err))
	}
	return err
}

// GetLastError returns the last error message (thread-safe)
func (s *MicRecorderService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *MicRecorderService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *MicRecorderService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

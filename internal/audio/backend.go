package audio

import (
	"context"
	"fmt"
	"strings"
)

// BackendType represents the type of audio backend
type BackendType string

const (
	BackendTypePortAudio BackendType = "portaudio"
	BackendTypeTone      BackendType = "tone"
	BackendTypeAuto      BackendType = "auto"
)

// Backend is the audio subsystem handle. It is initialised once and released
// with Terminate when the application shuts down.
type Backend interface {
	// Open a capture stream in the given format
	Open(ctx context.Context, f Format) (Stream, error)

	// List available input devices
	Devices() ([]DeviceInfo, error)

	// Release the audio subsystem
	Terminate() error

	// Get the backend type
	Type() BackendType
}

// BackendOptions carries the configuration values backends care about.
type BackendOptions struct {
	Backend string
	Device  string
}

// NewBackend creates the backend selected by configuration
func NewBackend(opts BackendOptions) (Backend, error) {
	switch determineBackend(opts.Backend) {
	case BackendTypeTone:
		return NewToneBackend(ToneOptions{}), nil
	case BackendTypePortAudio:
		return NewPortAudioBackend(opts.Device)
	default:
		return nil, fmt.Errorf("unknown audio backend: %s", opts.Backend)
	}
}

// determineBackend determines which backend to use based on configuration
func determineBackend(name string) BackendType {
	switch BackendType(strings.ToLower(name)) {
	case "", BackendTypeAuto, BackendTypePortAudio:
		// PortAudio is the only hardware backend
		return BackendTypePortAudio
	case BackendTypeTone:
		return BackendTypeTone
	}
	return BackendType(name)
}

// GetAvailableBackends returns the backends that can be named in configuration
// besides "auto"
func GetAvailableBackends() []BackendType {
	return []BackendType{BackendTypePortAudio, BackendTypeTone}
}

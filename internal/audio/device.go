package audio

import (
	"context"
	"errors"
)

var (
	// ErrDeviceUnavailable is returned when no input device exists or the
	// device cannot be opened (busy, unplugged, unsupported format).
	ErrDeviceUnavailable = errors.New("audio input device unavailable")

	// ErrOverflow accompanies a complete chunk when the device dropped input
	// before it. The chunk is still valid.
	ErrOverflow = errors.New("audio input overflow")

	ErrAlreadyClosed = errors.New("audio stream already closed")
)

// DeviceInfo describes one input-capable device.
type DeviceInfo struct {
	Name              string  `json:"name"`
	MaxInputChannels  int     `json:"max_input_channels"`
	DefaultSampleRate float64 `json:"default_sample_rate"`
	IsDefault         bool    `json:"is_default"`
}

// Stream is an open device session.
type Stream interface {
	// ReadChunk blocks until one chunk of Format.ChunkBytes() bytes is
	// available. On overflow it returns the chunk together with ErrOverflow.
	ReadChunk(ctx context.Context) ([]byte, error)

	// Close stops and releases the stream. Calling it twice returns
	// ErrAlreadyClosed.
	Close() error
}

// IsOverflow reports whether err is the non-fatal overflow warning.
func IsOverflow(err error) bool {
	return errors.Is(err, ErrOverflow)
}

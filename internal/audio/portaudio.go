//go:build !noportaudio

package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioBackend captures from a hardware input device through PortAudio.
type PortAudioBackend struct {
	deviceName string

	mutex      sync.Mutex
	terminated bool
}

// NewPortAudioBackend initialises PortAudio. deviceName selects an input device
// by exact name; empty means the system default.
func NewPortAudioBackend(deviceName string) (Backend, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize portaudio: %v", ErrDeviceUnavailable, err)
	}
	return &PortAudioBackend{deviceName: deviceName}, nil
}

// Open starts an input-only blocking stream of f.ChunkSize frames per read
func (b *PortAudioBackend) Open(ctx context.Context, f Format) (Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.terminated {
		return nil, fmt.Errorf("%w: portaudio already terminated", ErrDeviceUnavailable)
	}

	device, err := b.findInputDevice()
	if err != nil {
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = f.Channels
	params.Output.Device = nil
	params.Output.Channels = 0
	params.SampleRate = float64(f.SampleRate)
	params.FramesPerBuffer = f.ChunkSize

	buffer := make([]int16, f.ChunkSize*f.Channels)
	stream, err := portaudio.OpenStream(params, buffer)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream on %q: %v", ErrDeviceUnavailable, device.Name, err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: start stream on %q: %v", ErrDeviceUnavailable, device.Name, err)
	}

	slog.Debug("PortAudio stream started", "device", device.Name, "rate", f.SampleRate, "chunk", f.ChunkSize)
	return &portAudioStream{stream: stream, buffer: buffer, device: device.Name}, nil
}

func (b *PortAudioBackend) findInputDevice() (*portaudio.DeviceInfo, error) {
	if b.deviceName == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil || device == nil {
			return nil, fmt.Errorf("%w: no default input device: %v", ErrDeviceUnavailable, err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enumerate devices: %v", ErrDeviceUnavailable, err)
	}
	for _, d := range devices {
		if d.Name == b.deviceName && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: input device not found: %s", ErrDeviceUnavailable, b.deviceName)
}

// Devices lists every device with at least one input channel
func (b *PortAudioBackend) Devices() ([]DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}

	var defaultName string
	if d, err := portaudio.DefaultInputDevice(); err == nil && d != nil {
		defaultName = d.Name
	}

	var result []DeviceInfo
	for _, d := range devices {
		if d.MaxInputChannels <= 0 {
			continue
		}
		result = append(result, DeviceInfo{
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			IsDefault:         d.Name == defaultName,
		})
	}
	return result, nil
}

// Terminate releases PortAudio. Safe to call more than once.
func (b *PortAudioBackend) Terminate() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.terminated {
		return nil
	}
	b.terminated = true
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate portaudio: %w", err)
	}
	return nil
}

// Type returns the backend type
func (b *PortAudioBackend) Type() BackendType {
	return BackendTypePortAudio
}

type portAudioStream struct {
	stream *portaudio.Stream
	buffer []int16
	device string

	// readMutex is held for the duration of a blocking Read so that Close
	// never frees the native stream underneath it.
	readMutex sync.Mutex
	mutex     sync.Mutex
	closed    bool
}

func (s *portAudioStream) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.readMutex.Lock()
	defer s.readMutex.Unlock()

	if s.isClosed() {
		return nil, ErrAlreadyClosed
	}

	readErr := s.stream.Read()
	var overflow bool
	if readErr != nil {
		if !errors.Is(readErr, portaudio.InputOverflowed) {
			if s.isClosed() {
				return nil, ErrAlreadyClosed
			}
			return nil, fmt.Errorf("read from %q: %w", s.device, readErr)
		}
		overflow = true
	}

	chunk := make([]byte, len(s.buffer)*2)
	for i, sample := range s.buffer {
		binary.LittleEndian.PutUint16(chunk[i*2:], uint16(sample))
	}

	if overflow {
		return chunk, ErrOverflow
	}
	return chunk, nil
}

func (s *portAudioStream) isClosed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

// Close aborts the stream first, which unblocks a pending Read, then releases it.
func (s *portAudioStream) Close() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return ErrAlreadyClosed
	}
	s.closed = true
	s.mutex.Unlock()

	abortErr := s.stream.Abort()

	s.readMutex.Lock()
	defer s.readMutex.Unlock()

	if err := s.stream.Close(); err != nil {
		return fmt.Errorf("close stream on %q: %w", s.device, err)
	}
	if abortErr != nil {
		slog.Debug("PortAudio abort reported error", "device", s.device, "error", abortErr)
	}
	slog.Debug("PortAudio stream closed", "device", s.device)
	return nil
}

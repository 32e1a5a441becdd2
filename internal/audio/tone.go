package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"
)

const toneDeviceName = "Synthetic Tone"

// ToneOptions configures the synthetic backend.
type ToneOptions struct {
	Frequency float64 // Hz, defaults to 440
	Amplitude float64 // 0..1 of full scale, defaults to 0.3

	// Pace is the delay between chunks. Zero paces in real time
	// (one Format.ChunkDuration per chunk).
	Pace time.Duration

	// OverflowEvery marks every Nth chunk with ErrOverflow. Zero disables.
	OverflowEvery int

	// Unavailable makes Open fail with ErrDeviceUnavailable.
	Unavailable bool
}

// ToneBackend generates a sine wave instead of reading hardware. It behaves
// like a real device: reads block for the duration of one chunk.
type ToneBackend struct {
	opts ToneOptions

	mutex      sync.Mutex
	terminated bool
}

func NewToneBackend(opts ToneOptions) *ToneBackend {
	if opts.Frequency <= 0 {
		opts.Frequency = 440
	}
	if opts.Amplitude <= 0 || opts.Amplitude > 1 {
		opts.Amplitude = 0.3
	}
	return &ToneBackend{opts: opts}
}

func (b *ToneBackend) Open(ctx context.Context, f Format) (Stream, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.opts.Unavailable {
		return nil, fmt.Errorf("%w: %s is disabled", ErrDeviceUnavailable, toneDeviceName)
	}
	if b.terminated {
		return nil, fmt.Errorf("%w: tone backend already terminated", ErrDeviceUnavailable)
	}

	pace := b.opts.Pace
	if pace <= 0 {
		pace = f.ChunkDuration()
	}

	return &toneStream{
		format: f,
		opts:   b.opts,
		pace:   pace,
		next:   time.Now().Add(pace),
		done:   make(chan struct{}),
	}, nil
}

func (b *ToneBackend) Devices() ([]DeviceInfo, error) {
	if b.opts.Unavailable {
		return nil, nil
	}
	return []DeviceInfo{{
		Name:              toneDeviceName,
		MaxInputChannels:  1,
		DefaultSampleRate: float64(DefaultFormat().SampleRate),
		IsDefault:         true,
	}}, nil
}

func (b *ToneBackend) Terminate() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.terminated = true
	return nil
}

func (b *ToneBackend) Type() BackendType {
	return BackendTypeTone
}

type toneStream struct {
	format Format
	opts   ToneOptions
	pace   time.Duration

	mutex  sync.Mutex
	next   time.Time
	phase  float64
	count  int
	closed bool
	done   chan struct{}
}

func (s *toneStream) ReadChunk(ctx context.Context) ([]byte, error) {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return nil, ErrAlreadyClosed
	}
	wait := time.Until(s.next)
	s.mutex.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, ErrAlreadyClosed
		case <-timer.C:
		}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil, ErrAlreadyClosed
	}

	s.next = s.next.Add(s.pace)
	s.count++

	chunk := s.synthesize()
	if s.opts.OverflowEvery > 0 && s.count%s.opts.OverflowEvery == 0 {
		return chunk, ErrOverflow
	}
	return chunk, nil
}

func (s *toneStream) synthesize() []byte {
	samples := s.format.ChunkSize * s.format.Channels
	chunk := make([]byte, samples*2)
	step := 2 * math.Pi * s.opts.Frequency / float64(s.format.SampleRate)
	peak := s.opts.Amplitude * math.MaxInt16

	for i := 0; i < samples; i++ {
		v := int16(peak * math.Sin(s.phase))
		binary.LittleEndian.PutUint16(chunk[i*2:], uint16(v))
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
	}
	return chunk
}

func (s *toneStream) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrAlreadyClosed
	}
	s.closed = true
	close(s.done)
	return nil
}

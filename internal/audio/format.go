package audio

import (
	"fmt"
	"time"
)

// Format describes the PCM layout shared by every component for the lifetime of
// the process. Samples are signed little-endian integers.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
	ChunkSize  int `json:"chunk_size"` // samples per device read
}

// DefaultFormat returns 44.1 kHz mono 16-bit with 1024-sample chunks.
func DefaultFormat() Format {
	return Format{
		SampleRate: 44100,
		Channels:   1,
		BitDepth:   16,
		ChunkSize:  1024,
	}
}

// Validate reports whether the capture path supports f.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be > 0, got: %d", f.SampleRate)
	}
	if f.Channels != 1 {
		return fmt.Errorf("only 1 channel (mono) is supported, got: %d", f.Channels)
	}
	if f.BitDepth != 16 {
		return fmt.Errorf("only 16-bit samples are supported, got bit depth: %d", f.BitDepth)
	}
	if f.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be > 0, got: %d", f.ChunkSize)
	}
	return nil
}

func (f Format) BytesPerSample() int {
	return f.BitDepth / 8
}

// ChunkBytes is the exact length of one chunk returned by Stream.ReadChunk.
func (f Format) ChunkBytes() int {
	return f.ChunkSize * f.Channels * f.BytesPerSample()
}

// ChunkDuration is the wall-clock span covered by one chunk.
func (f Format) ChunkDuration() time.Duration {
	return time.Duration(f.ChunkSize) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BytesPerSample()
}

// Duration converts a PCM byte count into playback time.
func (f Format) Duration(dataBytes int64) time.Duration {
	bps := int64(f.BytesPerSecond())
	if bps == 0 {
		return 0
	}
	return time.Duration(dataBytes * int64(time.Second) / bps)
}

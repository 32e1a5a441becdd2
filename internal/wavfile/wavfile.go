// Package wavfile writes captured PCM chunks as RIFF/WAVE files and reads
// their headers back.
package wavfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/audiolibrelab/micrecorder/internal/audio"
)

// TimestampLayout is the timestamp part of a recording name.
const TimestampLayout = "20060102_150405"

const (
	wavExt = ".wav"
	// PCM audio format tag in the fmt chunk
	pcmFormat = 1
)

// FileName returns prefix_YYYYMMDD_HHMMSS.wav for the given instant.
func FileName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s_%s%s", prefix, at.Format(TimestampLayout), wavExt)
}

// Save encodes chunks as a WAV file in dir and returns the full path. The file
// is written under a temporary name and renamed into place, so a reader never
// sees a partial recording. An existing file with the same name is never
// replaced; a numeric suffix is added instead.
func Save(dir, prefix string, at time.Time, chunks [][]byte, f audio.Format) (string, error) {
	if err := f.Validate(); err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", errors.New("no audio data to write")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+prefix+"-*.wav.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := encode(tmp, chunks, f); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("failed to flush %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}

	finalPath, err := availablePath(dir, prefix, at)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("failed to move recording into place: %w", err)
	}
	committed = true

	return finalPath, nil
}

func encode(out *os.File, chunks [][]byte, f audio.Format) error {
	enc := wav.NewEncoder(out, f.SampleRate, f.BitDepth, f.Channels, pcmFormat)

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: f.Channels,
			SampleRate:  f.SampleRate,
		},
		SourceBitDepth: f.BitDepth,
	}

	for i, chunk := range chunks {
		if len(chunk)%2 != 0 {
			return fmt.Errorf("chunk %d has odd length %d", i, len(chunk))
		}
		buf.Data = pcmToInts(chunk, buf.Data[:0])
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("failed to encode chunk %d: %w", i, err)
		}
	}

	// Close patches the RIFF and data sizes into the header
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize wav header: %w", err)
	}
	return nil
}

func pcmToInts(chunk []byte, dst []int) []int {
	for i := 0; i+1 < len(chunk); i += 2 {
		dst = append(dst, int(int16(binary.LittleEndian.Uint16(chunk[i:]))))
	}
	return dst
}

func availablePath(dir, prefix string, at time.Time) (string, error) {
	name := FileName(prefix, at)
	path := filepath.Join(dir, name)
	base := strings.TrimSuffix(name, wavExt)

	for n := 1; ; n++ {
		_, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", path, err)
		}
		if n > 999 {
			return "", fmt.Errorf("too many recordings named %s", name)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, n, wavExt))
	}
}

// Info is what a WAV header says about a recording.
type Info struct {
	Path       string        `json:"path"`
	Channels   int           `json:"channels"`
	SampleRate int           `json:"sample_rate"`
	BitDepth   int           `json:"bit_depth"`
	DataBytes  int64         `json:"data_bytes"`
	Samples    int64         `json:"samples"`
	Duration   time.Duration `json:"duration"`
}

// Format returns the audio format described by the header.
func (i *Info) Format() audio.Format {
	return audio.Format{
		SampleRate: i.SampleRate,
		Channels:   i.Channels,
		BitDepth:   i.BitDepth,
	}
}

// Inspect reads the header of the WAV file at path.
func Inspect(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("failed to locate PCM data in %s: %w", path, err)
	}

	info := &Info{
		Path:       path,
		Channels:   int(dec.NumChans),
		SampleRate: int(dec.SampleRate),
		BitDepth:   int(dec.BitDepth),
		DataBytes:  dec.PCMLen(),
	}

	frameBytes := int64(info.Channels * info.BitDepth / 8)
	if frameBytes > 0 {
		info.Samples = info.DataBytes / frameBytes
	}
	info.Duration = info.Format().Duration(info.DataBytes)

	return info, nil
}

// Recording is one saved file in the output directory.
type Recording struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// List returns the WAV files in dir, newest first. A missing directory yields
// an empty list. Temporary files from an in-progress save are skipped.
func List(dir string) ([]Recording, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var recordings []Recording
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), wavExt) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		recordings = append(recordings, Recording{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		if recordings[i].ModTime.Equal(recordings[j].ModTime) {
			return recordings[i].Name > recordings[j].Name
		}
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})

	return recordings, nil
}

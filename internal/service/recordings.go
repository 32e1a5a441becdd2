package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/micrecorder/internal/play"
	"github.com/audiolibrelab/micrecorder/internal/wavfile"
)

// RecordingInfo contains information about a saved recording
type RecordingInfo struct {
	Name         string    `json:"name"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	DownloadURL  string    `json:"download_url"`
}

// ErrRecordingNotFound is returned for names outside the output directory
// listing.
var ErrRecordingNotFound = errors.New("recording not found")

// Recordings gives access to the WAV files in the output directory. It needs
// no audio device, so commands that only read recordings use it directly.
type Recordings struct {
	dir    string
	player *play.Player
}

func NewRecordings(dir string) *Recordings {
	return &Recordings{dir: dir, player: play.New()}
}

// List returns saved recordings, newest first
func (r *Recordings) List() ([]RecordingInfo, error) {
	files, err := wavfile.List(r.dir)
	if err != nil {
		return nil, err
	}

	recordings := make([]RecordingInfo, 0, len(files))
	for _, f := range files {
		recordings = append(recordings, RecordingInfo{
			Name:         f.Name,
			Path:         f.Path,
			Size:         f.Size,
			SizeHuman:    formatBytes(f.Size),
			ModTime:      f.ModTime,
			ModTimeHuman: f.ModTime.Format("2006-01-02 15:04:05"),
			DownloadURL:  fmt.Sprintf("/api/recordings/download/%s", f.Name),
		})
	}
	return recordings, nil
}

// Latest returns the newest saved recording, or nil if there is none
func (r *Recordings) Latest() (*RecordingInfo, error) {
	recordings, err := r.List()
	if err != nil {
		return nil, err
	}
	if len(recordings) == 0 {
		return nil, nil
	}
	return &recordings[0], nil
}

// Path resolves a bare file name inside the output directory
func (r *Recordings) Path(name string) (string, error) {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid recording name: %q", name)
	}

	recordings, err := r.List()
	if err != nil {
		return "", err
	}
	for _, rec := range recordings {
		if rec.Name == name {
			return rec.Path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrRecordingNotFound, name)
}

// Resolve maps a command-line reference to a file: empty means the latest
// recording, a path is used as given, anything else is a name in the output
// directory.
func (r *Recordings) Resolve(ref string) (string, error) {
	if ref == "" {
		latest, err := r.Latest()
		if err != nil {
			return "", err
		}
		if latest == nil {
			return "", fmt.Errorf("%w: no recordings in %s", ErrRecordingNotFound, r.dir)
		}
		return latest.Path, nil
	}

	if filepath.IsAbs(ref) || strings.ContainsAny(ref, `/\`) {
		if _, err := os.Stat(ref); err != nil {
			return "", fmt.Errorf("%w: %s", ErrRecordingNotFound, ref)
		}
		return ref, nil
	}
	return r.Path(ref)
}

// Inspect reads the WAV header of a recording
func (r *Recordings) Inspect(ref string) (*wavfile.Info, error) {
	path, err := r.Resolve(ref)
	if err != nil {
		return nil, err
	}
	return wavfile.Inspect(path)
}

// Play plays a recording, or the latest one when ref is empty
func (r *Recordings) Play(ref string) error {
	path, err := r.Resolve(ref)
	if err != nil {
		return err
	}
	return r.player.Play(path)
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

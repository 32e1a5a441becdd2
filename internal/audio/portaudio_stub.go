//go:build noportaudio

package audio

import "fmt"

// NewPortAudioBackend always fails in builds tagged noportaudio, which leave
// out the cgo PortAudio binding. The tone backend still works.
func NewPortAudioBackend(deviceName string) (Backend, error) {
	return nil, fmt.Errorf("%w: built without portaudio (noportaudio tag)", ErrDeviceUnavailable)
}

package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrecorder/internal/audio"
)

func TestRecordings_Resolve(t *testing.T) {
	svc := newTestService(t, audio.ToneOptions{})
	recordings := NewRecordings(svc.GetConfig().Output.Directory)

	_, err := recordings.Resolve("")
	assert.ErrorIs(t, err, ErrRecordingNotFound)

	recordSome(t, svc)
	saved, err := svc.StopAndSave()
	require.NoError(t, err)

	latest, err := recordings.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, saved, latest)

	byName, err := recordings.Resolve(filepath.Base(saved))
	require.NoError(t, err)
	assert.Equal(t, saved, byName)

	byPath, err := recordings.Resolve(saved)
	require.NoError(t, err)
	assert.Equal(t, saved, byPath)

	_, err = recordings.Resolve("missing.wav")
	assert.ErrorIs(t, err, ErrRecordingNotFound)

	_, err = recordings.Resolve(filepath.Join(t.TempDir(), "missing.wav"))
	assert.ErrorIs(t, err, ErrRecordingNotFound)
}

func TestRecordings_Inspect(t *testing.T) {
	svc := newTestService(t, audio.ToneOptions{})
	recordSome(t, svc)
	saved, err := svc.StopAndSave()
	require.NoError(t, err)

	recordings := NewRecordings(filepath.Dir(saved))
	info, err := recordings.Inspect("")
	require.NoError(t, err)
	assert.Equal(t, saved, info.Path)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16, info.BitDepth)

	notWav := filepath.Join(t.TempDir(), "notes.wav")
	require.NoError(t, os.WriteFile(notWav, []byte("not a wav file"), 0644))
	_, err = recordings.Inspect(notWav)
	assert.Error(t, err)
}

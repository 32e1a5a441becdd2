package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/micrecorder/internal/audio"
	"github.com/audiolibrelab/micrecorder/internal/config"
	"github.com/audiolibrelab/micrecorder/internal/recorder"
	"github.com/audiolibrelab/micrecorder/internal/service"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Path    string          `json:"path"`
	Status  recorder.Status `json:"status"`
}

func newTestServer(t *testing.T, opts audio.ToneOptions) (*Server, *httptest.Server, *service.MicRecorderService) {
	t.Helper()

	cfg := config.Default()
	cfg.Audio.Backend = "tone"
	cfg.Output.Directory = filepath.Join(t.TempDir(), "grabaciones")
	if opts.Pace == 0 {
		opts.Pace = time.Millisecond
	}

	svc, err := service.New(cfg, audio.NewToneBackend(opts))
	require.NoError(t, err)

	srv := New(svc, "0")
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		svc.Shutdown()
	})
	return srv, ts, svc
}

func post(t *testing.T, ts *httptest.Server, path string) (int, apiResponse) {
	t.Helper()

	resp, err := http.Post(ts.URL+path, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body apiResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func getJSON(t *testing.T, ts *httptest.Server, path string, v interface{}) int {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	return resp.StatusCode
}

func waitForChunks(t *testing.T, svc service.Service, n int64) {
	t.Helper()
	require.Eventually(t, func() bool { return svc.Status().ChunksCaptured >= n }, 2*time.Second, time.Millisecond)
}

func TestServer_RecordingLifecycle(t *testing.T) {
	_, ts, svc := newTestServer(t, audio.ToneOptions{})

	code, body := post(t, ts, "/start")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, body.Success)
	assert.Equal(t, recorder.StateRecording, body.Status.State)

	waitForChunks(t, svc, 2)

	code, body = post(t, ts, "/pause")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, recorder.StatePaused, body.Status.State)

	code, body = post(t, ts, "/resume")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, recorder.StateRecording, body.Status.State)

	code, body = post(t, ts, "/stop")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, recorder.StateStopped, body.Status.State)
	assert.True(t, body.Status.HasUnsavedFrames)

	code, body = post(t, ts, "/save")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.HasSuffix(body.Path, ".wav"))

	var status StatusResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts, "/status", &status))
	assert.Equal(t, recorder.StateStopped, status.Status.State)
	assert.False(t, status.Status.HasUnsavedFrames)
	assert.Equal(t, body.Path, status.Status.LastSaved)
	assert.Equal(t, 44100, status.Format.SampleRate)
	assert.Equal(t, "Stopped", status.Message)
}

func TestServer_ErrorMapping(t *testing.T) {
	_, ts, _ := newTestServer(t, audio.ToneOptions{})

	code, body := post(t, ts, "/pause")
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "invalid state transition")

	code, _ = post(t, ts, "/save")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = post(t, ts, "/start")
	require.Equal(t, http.StatusOK, code)
	code, body = post(t, ts, "/start")
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body.Error, "already recording")
}

func TestServer_DeviceUnavailable(t *testing.T) {
	_, ts, _ := newTestServer(t, audio.ToneOptions{Unavailable: true})

	code, body := post(t, ts, "/start")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, body.Success)

	var status StatusResponse
	getJSON(t, ts, "/status", &status)
	assert.Equal(t, recorder.StateIdle, status.Status.State)
	assert.NotEmpty(t, status.LastError)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	_, ts, _ := newTestServer(t, audio.ToneOptions{})

	resp, err := http.Get(ts.URL + "/start")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_RecordingsAndDownload(t *testing.T) {
	_, ts, svc := newTestServer(t, audio.ToneOptions{})

	var list RecordingsResponse
	getJSON(t, ts, "/api/recordings", &list)
	assert.Equal(t, 0, list.TotalCount)

	require.NoError(t, svc.Start())
	waitForChunks(t, svc, 2)
	_, err := svc.StopAndSave()
	require.NoError(t, err)

	getJSON(t, ts, "/api/recordings", &list)
	require.Equal(t, 1, list.TotalCount)
	recording := list.Recordings[0]

	resp, err := http.Get(ts.URL + recording.DownloadURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, recording.Size, int64(len(data)))
	assert.Equal(t, "RIFF", string(data[:4]))

	missing, err := http.Get(ts.URL + "/api/recordings/download/grabacion_19990101_000000.wav")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	traversal, err := http.Get(ts.URL + "/api/recordings/download/..%5Csecret.wav")
	require.NoError(t, err)
	traversal.Body.Close()
	assert.Equal(t, http.StatusBadRequest, traversal.StatusCode)
}

func TestServer_Devices(t *testing.T) {
	_, ts, _ := newTestServer(t, audio.ToneOptions{})

	var devices DevicesResponse
	assert.Equal(t, http.StatusOK, getJSON(t, ts, "/api/devices", &devices))
	assert.Equal(t, "tone", devices.Backend)
	require.Len(t, devices.Devices, 1)
}

func TestServer_Metrics(t *testing.T) {
	_, ts, svc := newTestServer(t, audio.ToneOptions{})

	post(t, ts, "/start")
	waitForChunks(t, svc, 1)
	post(t, ts, "/pause")
	post(t, ts, "/pause")

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "micrecorder_sessions_started_total 1")
	assert.Contains(t, text, "micrecorder_chunks_captured_total")
	assert.Contains(t, text, `micrecorder_http_requests_total{endpoint="/pause",method="POST",status_code="409"} 1`)
	assert.Contains(t, text, "micrecorder_state 2")
}

func TestServer_WebSocketStatus(t *testing.T) {
	srv, ts, _ := newTestServer(t, audio.ToneOptions{})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readStatus := func() recorder.Status {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var status recorder.Status
		require.NoError(t, conn.ReadJSON(&status))
		return status
	}

	assert.Equal(t, recorder.StateIdle, readStatus().State)
	assert.Equal(t, 1, srv.hub.count())

	post(t, ts, "/start")
	assert.Equal(t, recorder.StateRecording, readStatus().State)

	srv.service.Tick()
	srv.broadcastStatus()
	status := readStatus()
	assert.Equal(t, 1, status.ElapsedSeconds)
	assert.Equal(t, "00:00:01", status.Elapsed)
}

func TestStatusCodeFor(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{recorder.ErrInvalidTransition, http.StatusConflict},
		{recorder.ErrAlreadyRecording, http.StatusConflict},
		{recorder.ErrWorkerBusy, http.StatusConflict},
		{fmt.Errorf("open: %w", audio.ErrDeviceUnavailable), http.StatusServiceUnavailable},
		{recorder.ErrNothingToSave, http.StatusNotFound},
		{fmt.Errorf("%w: disk full", recorder.ErrIOFailure), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, statusCodeFor(test.err), "error %v", test.err)
	}
}

func TestServer_Run(t *testing.T) {
	srv, _, svc := newTestServer(t, audio.ToneOptions{})
	srv.port = "0"
	srv.cfg.Capture.TickInterval = 5 * time.Millisecond

	require.NoError(t, svc.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.Status().ElapsedSeconds >= 2 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// Run shuts the recorder down on exit
	assert.Equal(t, recorder.StateStopped, svc.Status().State)
	assert.ErrorIs(t, svc.Start(), recorder.ErrClosed)
}

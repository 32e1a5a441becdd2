package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/micrecorder/internal/audio"
	"github.com/audiolibrelab/micrecorder/internal/config"
	"github.com/audiolibrelab/micrecorder/internal/metrics"
	"github.com/audiolibrelab/micrecorder/internal/recorder"
	"github.com/audiolibrelab/micrecorder/internal/service"
)

// Server represents the HTTP control surface of the recorder
type Server struct {
	service service.Service
	cfg     *config.Config
	port    string
	metrics *metrics.Metrics
	hub     *statusHub
	handler http.Handler
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status    recorder.Status `json:"status"`
	Message   string          `json:"message,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	Format    audio.Format    `json:"format"`
	OutputDir string          `json:"output_dir"`
}

// RecordingsResponse represents the JSON response for recordings endpoint
type RecordingsResponse struct {
	Recordings      []service.RecordingInfo `json:"recordings"`
	TotalCount      int                     `json:"total_count"`
	OutputDirectory string                  `json:"output_directory"`
}

// DevicesResponse represents the JSON response for devices endpoint
type DevicesResponse struct {
	Backend string             `json:"backend"`
	Devices []audio.DeviceInfo `json:"devices"`
}

// New creates a new web server instance around svc
func New(svc service.Service, port string) *Server {
	s := &Server{
		service: svc,
		cfg:     svc.GetConfig(),
		port:    port,
		metrics: svc.Metrics(),
		hub:     newStatusHub(),
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.withMetrics("/", s.handleIndex))
	mux.HandleFunc("/start", s.withMetrics("/start", s.handleStart))
	mux.HandleFunc("/pause", s.withMetrics("/pause", s.handlePause))
	mux.HandleFunc("/resume", s.withMetrics("/resume", s.handleResume))
	mux.HandleFunc("/stop", s.withMetrics("/stop", s.handleStop))
	mux.HandleFunc("/save", s.withMetrics("/save", s.handleSave))
	mux.HandleFunc("/status", s.withMetrics("/status", s.handleStatus))
	mux.HandleFunc("/api/devices", s.withMetrics("/api/devices", s.handleDevices))
	mux.HandleFunc("/api/recordings", s.withMetrics("/api/recordings", s.handleRecordings))
	mux.HandleFunc("/api/recordings/download/", s.withMetrics("/api/recordings/download", s.handleRecordingDownload))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	// The websocket upgrade needs the raw ResponseWriter
	mux.HandleFunc("/ws", s.handleWebSocket)

	return mux
}

// Handler returns the HTTP handler with all routes registered
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves HTTP and drives the session timer until ctx is cancelled, then
// shuts the recorder down.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting micrecorder web server",
			"port", s.port,
			"local_url", fmt.Sprintf("http://%s:%s", getLocalIP(), s.port),
			"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		s.runTimer(gCtx)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		s.hub.closeAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	if shutdownErr := s.service.Shutdown(); shutdownErr != nil {
		slog.Error("Recorder shutdown incomplete", "error", shutdownErr)
	}
	slog.Info("Web server stopped")
	return err
}

// runTimer ticks the recorder and pushes a status snapshot to websocket
// clients on every tick.
func (s *Server) runTimer(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Capture.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.service.Tick()
			s.broadcastStatus()
		}
	}
}

func (s *Server) broadcastStatus() {
	data, err := s.statusJSON()
	if err != nil {
		slog.Error("Failed to encode status", "error", err)
		return
	}
	s.hub.broadcast(data)
}

func (s *Server) statusJSON() ([]byte, error) {
	return json.Marshal(s.service.Status())
}

// handleIndex serves a minimal page listing the API
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	io.WriteString(w, indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>micrecorder</title>
</head>
<body>
    <h1>micrecorder</h1>
    <ul>
        <li>POST /start - Start recording</li>
        <li>POST /pause - Pause recording</li>
        <li>POST /resume - Resume recording</li>
        <li>POST /stop - Stop recording</li>
        <li>POST /save - Stop and save recording</li>
        <li>GET /status - Get status</li>
        <li>GET /api/recordings - List recordings</li>
        <li>GET /api/devices - List input devices</li>
        <li>GET /ws - Live status stream</li>
        <li>GET /metrics - Prometheus metrics</li>
    </ul>
</body>
</html>`

// handleStart begins a new session (IDLE/STOPPED -> RECORDING)
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, "start", "Recording started", s.service.Start)
}

// handlePause pauses the session (RECORDING -> PAUSED)
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, "pause", "Recording paused", s.service.Pause)
}

// handleResume resumes the session (PAUSED -> RECORDING)
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, "resume", "Recording resumed", s.service.Resume)
}

// handleStop stops the session (RECORDING/PAUSED -> STOPPED)
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.handleCommand(w, r, "stop", "Recording stopped", s.service.ToggleStop)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request, operation, message string, command func() error) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := command(); err != nil {
		s.sendErrorResponse(w, statusCodeFor(err),
			fmt.Sprintf("Failed to %s recording: %v", operation, err),
			"operation", operation)
		return
	}
	s.broadcastStatus()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
		"status":  s.service.Status(),
	})
}

// handleSave stops if needed and writes the recording to disk
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path, err := s.service.StopAndSave()
	if err != nil {
		s.sendErrorResponse(w, statusCodeFor(err),
			fmt.Sprintf("Failed to save recording: %v", err),
			"operation", "save")
		return
	}
	s.broadcastStatus()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Recording saved",
		"path":    path,
	})
}

// handleStatus returns the current status and session info
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	status := s.service.Status()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:    status,
		Message:   statusMessage(status),
		LastError: s.service.GetLastError(),
		Format:    s.cfg.AudioFormat(),
		OutputDir: s.cfg.Output.Directory,
	})
}

// statusMessage creates a human readable line for the current state
func statusMessage(status recorder.Status) string {
	switch status.State {
	case recorder.StateRecording:
		return fmt.Sprintf("Recording %s", status.Elapsed)
	case recorder.StatePaused:
		return fmt.Sprintf("Paused at %s", status.Elapsed)
	case recorder.StateStopped:
		if status.HasUnsavedFrames {
			return fmt.Sprintf("Stopped at %s - recording not saved", status.Elapsed)
		}
		return "Stopped"
	default:
		return "Ready"
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	devices, err := s.service.ListDevices()
	if err != nil {
		s.sendErrorResponse(w, http.StatusServiceUnavailable,
			fmt.Sprintf("Failed to list devices: %v", err), "operation", "devices")
		return
	}

	writeJSON(w, http.StatusOK, DevicesResponse{
		Backend: s.cfg.Audio.Backend,
		Devices: devices,
	})
}

// handleRecordings returns saved recordings, newest first
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	recordings, err := s.service.ListRecordings()
	if err != nil {
		s.sendErrorResponse(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list recordings: %v", err), "operation", "list_recordings")
		return
	}

	writeJSON(w, http.StatusOK, RecordingsResponse{
		Recordings:      recordings,
		TotalCount:      len(recordings),
		OutputDirectory: s.cfg.Output.Directory,
	})
}

func (s *Server) handleRecordingDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Extract filename from URL
	filename := strings.TrimPrefix(r.URL.Path, "/api/recordings/download/")
	if filename == "" {
		http.Error(w, "Filename required", http.StatusBadRequest)
		return
	}

	path, err := s.service.RecordingPath(filename)
	if err != nil {
		if errors.Is(err, service.ErrRecordingNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
		} else {
			http.Error(w, "Invalid filename", http.StatusBadRequest)
		}
		return
	}

	file, err := os.Open(path)
	if err != nil {
		http.Error(w, "Error opening file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "Error accessing file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", filename))
	http.ServeContent(w, r, filename, info.ModTime(), file)
}

// statusCodeFor maps recorder errors onto HTTP status codes
func statusCodeFor(err error) int {
	switch {
	case errors.Is(err, recorder.ErrInvalidTransition), errors.Is(err, recorder.ErrWorkerBusy):
		return http.StatusConflict
	case errors.Is(err, audio.ErrDeviceUnavailable), errors.Is(err, recorder.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, recorder.ErrNothingToSave), errors.Is(err, service.ErrRecordingNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// withMetrics wraps an HTTP handler with metrics collection
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		s.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", ww.statusCode), duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			s.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	writeJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

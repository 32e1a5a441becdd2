package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/audiolibrelab/micrecorder/internal/recorder"
	"github.com/audiolibrelab/micrecorder/internal/service"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record from the microphone",
	Long: `Open the interactive recorder.

Keys:
  r  start a new recording / stop the current one
  p  pause / resume
  s  stop and save
  q  quit

With --headless the recording starts immediately and runs until Ctrl+C
(or --duration elapses), then it is saved.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		headless, _ := cmd.Flags().GetBool("headless")
		duration, _ := cmd.Flags().GetDuration("duration")

		if !headless {
			// Keep log records off the terminal while the UI owns it
			setupLogging(verboseLevel, io.Discard)
		}

		svc, err := newService()
		if err != nil {
			return err
		}

		if headless {
			return recordHeadless(cmd.Context(), svc, duration)
		}
		return recordInteractive(svc)
	},
}

func init() {
	recordCmd.Flags().Bool("headless", false, "record without the interactive UI")
	recordCmd.Flags().Duration("duration", 0, "stop and save after this long (headless only, 0 = until Ctrl+C)")
}

func recordHeadless(parent context.Context, svc service.Service, duration time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	defer func() {
		if err := svc.Shutdown(); err != nil {
			slog.Error("Recorder shutdown incomplete", "error", err)
		}
	}()

	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start recording: %w", err)
	}
	slog.Info("Recording... Press Ctrl+C to stop and save", "session_id", svc.Status().Session.ID)

	go svc.RunTimer(ctx)
	<-ctx.Done()

	path, err := svc.StopAndSave()
	if err != nil {
		return fmt.Errorf("failed to save recording: %w", err)
	}

	status := svc.Status()
	slog.Info("Recording saved",
		"path", path,
		"chunks", status.ChunksCaptured,
		"discarded", status.ChunksDiscarded,
		"overflows", status.Overflows)
	fmt.Println(path)
	return nil
}

func recordInteractive(svc service.Service) error {
	m := newRecorderModel(svc, cfg.Capture.TickInterval)
	final, err := tea.NewProgram(m).Run()

	// Quitting already shut the recorder down; this covers a crashed program
	if fm, ok := final.(recorderModel); !ok || !fm.quitting {
		svc.Shutdown()
	}
	return err
}

// Colours
const (
	colorGreen    = "#a6e3a1"
	colorYellow   = "#f9e2af"
	colorRed      = "#f38ba8"
	colorLavender = "#b1b7fa"
	colorText     = "#cdd6f4"
	colorMuted    = "#6c7086"
	colorBase     = "#1e1e2e"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorBase)).
			Background(lipgloss.Color(colorLavender)).
			Bold(true).
			Padding(0, 1)

	timerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorText)).
			Bold(true).
			Padding(1, 0)

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorLavender)).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorMuted))

	messageStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorGreen))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color(colorRed))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(colorLavender)).
			Padding(1, 2)
)

func stateStyle(state recorder.State) lipgloss.Style {
	color := colorText
	switch state {
	case recorder.StateRecording:
		color = colorRed
	case recorder.StatePaused:
		color = colorYellow
	case recorder.StateStopped:
		color = colorGreen
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
}

type tickMsg time.Time

// recorderModel is the bubbletea model of the interactive recorder
type recorderModel struct {
	svc      service.Service
	interval time.Duration
	status   recorder.Status
	message  string
	err      string
	quitting bool
}

func newRecorderModel(svc service.Service, interval time.Duration) recorderModel {
	if interval <= 0 {
		interval = time.Second
	}
	return recorderModel{
		svc:      svc,
		interval: interval,
		status:   svc.Status(),
	}
}

func (m recorderModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m recorderModel) Init() tea.Cmd {
	return m.tick()
}

func (m recorderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.svc.Tick()
		m.status = m.svc.Status()
		return m, m.tick()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m recorderModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		if err := m.svc.Shutdown(); err != nil {
			slog.Error("Recorder shutdown incomplete", "error", err)
		}
		return m, tea.Quit

	case "r":
		if m.status.State.Active() {
			m.apply(m.svc.ToggleStop(), "Recording stopped")
		} else {
			if m.status.HasUnsavedFrames {
				slog.Warn("Discarding unsaved recording")
			}
			m.apply(m.svc.Start(), "Recording...")
		}

	case "p":
		if m.status.State.Active() {
			m.apply(m.svc.TogglePause(), "")
		}

	case "s":
		path, err := m.svc.StopAndSave()
		m.apply(err, fmt.Sprintf("Saved %s", path))
	}

	m.status = m.svc.Status()
	return m, nil
}

func (m *recorderModel) apply(err error, message string) {
	if err != nil {
		m.message = ""
		m.err = friendlyError(err)
		return
	}
	m.err = ""
	m.message = message
}

func friendlyError(err error) string {
	switch {
	case errors.Is(err, recorder.ErrDeviceUnavailable):
		return "No microphone available: " + err.Error()
	case errors.Is(err, recorder.ErrNothingToSave):
		return "Nothing to save"
	case errors.Is(err, recorder.ErrIOFailure):
		return "Could not save the recording, it is kept in memory: " + err.Error()
	default:
		return err.Error()
	}
}

func (m recorderModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(" MICRECORDER "))
	b.WriteString("\n")
	b.WriteString(timerStyle.Render(recorder.FormatElapsed(m.status.ElapsedSeconds)))
	b.WriteString("\n")
	b.WriteString(stateStyle(m.status.State).Render(stateLabel(m.status)))
	b.WriteString("\n\n")

	if m.status.CaptureError != "" {
		b.WriteString(errorStyle.Render("Capture: " + m.status.CaptureError))
		b.WriteString("\n")
	}
	if m.err != "" {
		b.WriteString(errorStyle.Render(m.err))
		b.WriteString("\n")
	} else if m.message != "" {
		b.WriteString(messageStyle.Render(m.message))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.helpLine())

	return panelStyle.Render(b.String()) + "\n"
}

func stateLabel(status recorder.Status) string {
	switch status.State {
	case recorder.StateRecording:
		return "● Recording"
	case recorder.StatePaused:
		return "❚❚ Paused"
	case recorder.StateStopped:
		if status.HasUnsavedFrames {
			return "■ Stopped (not saved)"
		}
		return "■ Stopped"
	default:
		return "Ready"
	}
}

// helpLine only offers the keys valid in the current state
func (m recorderModel) helpLine() string {
	var keys []string
	add := func(key, label string) {
		keys = append(keys, keyStyle.Render(key)+" "+mutedStyle.Render(label))
	}

	switch m.status.State {
	case recorder.StateRecording:
		add("r", "stop")
		add("p", "pause")
		add("s", "save")
	case recorder.StatePaused:
		add("r", "stop")
		add("p", "resume")
		add("s", "save")
	default:
		add("r", "record")
		if m.status.HasUnsavedFrames {
			add("s", "save")
		}
	}
	add("q", "quit")

	return strings.Join(keys, mutedStyle.Render(" • "))
}

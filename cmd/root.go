package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/audiolibrelab/micrecorder/internal/audio"
	"github.com/audiolibrelab/micrecorder/internal/config"
	"github.com/audiolibrelab/micrecorder/internal/service"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "micrecorder",
	Short: "Microphone recorder with pause/resume and WAV output",
	Long: `micrecorder captures mono 16-bit audio from the default input device.

A recording can be paused and resumed any number of times; paused audio is
not kept. Stopping ends the session and saving writes a timestamped WAV file
to the output directory (grabaciones/ by default).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel, os.Stderr)

		// Use default config path if not specified
		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/micrecorder.yaml")
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Logging.File != "" {
			setupLogging(verboseLevel, os.Stderr)
		}

		slog.Debug("Configuration loaded",
			"config_file", cfgFile,
			"backend", cfg.Audio.Backend,
			"output_dir", cfg.Output.Directory)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/micrecorder.yaml)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	// Add subcommands
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging configures slog based on the verbose level. When a log file is
// configured, records go there through a rotating writer instead of console.
func setupLogging(level int, console io.Writer) {
	var slogLevel slog.Level
	switch {
	case level <= 0:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	out := console
	if cfg != nil && cfg.Logging.File != "" {
		out = logFileWriter(cfg.Logging)
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(out, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}

func logFileWriter(lc config.LoggingConfig) io.Writer {
	return &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
	}
}

// newService opens the configured audio backend and wraps it in the
// recorder service. The caller must call Shutdown.
func newService() (*service.MicRecorderService, error) {
	if err := cfg.EnsureOutputDirectory(); err != nil {
		return nil, err
	}

	backend, err := openBackend()
	if err != nil {
		return nil, err
	}

	svc, err := service.New(cfg, backend)
	if err != nil {
		backend.Terminate()
		return nil, err
	}
	return svc, nil
}

func openBackend() (audio.Backend, error) {
	backend, err := audio.NewBackend(audio.BackendOptions{
		Backend: cfg.Audio.Backend,
		Device:  cfg.Audio.Device,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio backend: %w", err)
	}
	slog.Debug("Audio backend ready", "backend", backend.Type())
	return backend, nil
}

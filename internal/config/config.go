package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/micrecorder/internal/audio"

	"github.com/spf13/viper"
)

type Config struct {
	Audio   AudioConfig   `mapstructure:"audio" yaml:"audio"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Output  OutputConfig  `mapstructure:"output" yaml:"output"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "portaudio", "tone", "auto"
	Device     string `mapstructure:"device" yaml:"device"`   // input device name, empty = system default
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
	BitDepth   int    `mapstructure:"bit_depth" yaml:"bit_depth"`
	ChunkSize  int    `mapstructure:"chunk_size" yaml:"chunk_size"` // samples per read
}

type CaptureConfig struct {
	StopTimeout     time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	TickInterval    time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`
	MaxReadRetries  int           `mapstructure:"max_read_retries" yaml:"max_read_retries"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
}

type ServerConfig struct {
	Port string `mapstructure:"port" yaml:"port"`
}

type LoggingConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

var defaultConfig = Config{
	Audio: AudioConfig{
		Backend:    "auto",
		SampleRate: 44100,
		Channels:   1,
		BitDepth:   16,
		ChunkSize:  1024,
	},
	Capture: CaptureConfig{
		StopTimeout:     2 * time.Second,
		ShutdownTimeout: 1 * time.Second,
		TickInterval:    1 * time.Second,
		MaxReadRetries:  3,
	},
	Output: OutputConfig{
		Directory: "grabaciones",
		Prefix:    "grabacion",
	},
	Server: ServerConfig{
		Port: "8080",
	},
	Logging: LoggingConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// Load reads configFile (optional: a missing file falls back to defaults),
// applies MICRECORDER_* environment overrides and validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MICRECORDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Output.Directory = expandPath(cfg.Output.Directory)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audio.backend", defaultConfig.Audio.Backend)
	v.SetDefault("audio.device", defaultConfig.Audio.Device)
	v.SetDefault("audio.sample_rate", defaultConfig.Audio.SampleRate)
	v.SetDefault("audio.channels", defaultConfig.Audio.Channels)
	v.SetDefault("audio.bit_depth", defaultConfig.Audio.BitDepth)
	v.SetDefault("audio.chunk_size", defaultConfig.Audio.ChunkSize)

	v.SetDefault("capture.stop_timeout", defaultConfig.Capture.StopTimeout)
	v.SetDefault("capture.shutdown_timeout", defaultConfig.Capture.ShutdownTimeout)
	v.SetDefault("capture.tick_interval", defaultConfig.Capture.TickInterval)
	v.SetDefault("capture.max_read_retries", defaultConfig.Capture.MaxReadRetries)

	v.SetDefault("output.directory", defaultConfig.Output.Directory)
	v.SetDefault("output.prefix", defaultConfig.Output.Prefix)

	v.SetDefault("server.port", defaultConfig.Server.Port)

	v.SetDefault("logging.file", defaultConfig.Logging.File)
	v.SetDefault("logging.max_size_mb", defaultConfig.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaultConfig.Logging.MaxBackups)
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if !validBackend(c.Audio.Backend) {
		return fmt.Errorf("audio.backend must be one of %s, got: %s", backendNames(), c.Audio.Backend)
	}

	format := c.AudioFormat()
	if err := format.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	// The recording format is fixed for the whole process
	if fixed := audio.DefaultFormat(); format != fixed {
		return fmt.Errorf("audio: format is fixed at sample rate %d and chunk size %d, got sample rate %d and chunk size %d",
			fixed.SampleRate, fixed.ChunkSize, format.SampleRate, format.ChunkSize)
	}

	if c.Capture.StopTimeout <= 0 {
		return fmt.Errorf("capture.stop_timeout must be > 0, got: %s", c.Capture.StopTimeout)
	}
	if c.Capture.ShutdownTimeout <= 0 {
		return fmt.Errorf("capture.shutdown_timeout must be > 0, got: %s", c.Capture.ShutdownTimeout)
	}
	if c.Capture.TickInterval <= 0 {
		return fmt.Errorf("capture.tick_interval must be > 0, got: %s", c.Capture.TickInterval)
	}
	if c.Capture.MaxReadRetries < 0 {
		return fmt.Errorf("capture.max_read_retries must be >= 0, got: %d", c.Capture.MaxReadRetries)
	}

	if strings.TrimSpace(c.Output.Directory) == "" {
		return fmt.Errorf("output.directory is required")
	}
	if c.Output.Prefix == "" {
		return fmt.Errorf("output.prefix is required")
	}
	if strings.ContainsAny(c.Output.Prefix, `/\`) {
		return fmt.Errorf("output.prefix must not contain path separators, got: %s", c.Output.Prefix)
	}

	if c.Logging.MaxSizeMB < 0 {
		return fmt.Errorf("logging.max_size_mb must be >= 0, got: %d", c.Logging.MaxSizeMB)
	}

	return nil
}

func validBackend(name string) bool {
	name = strings.ToLower(name)
	if name == "" || name == string(audio.BackendTypeAuto) {
		return true
	}
	for _, b := range audio.GetAvailableBackends() {
		if name == string(b) {
			return true
		}
	}
	return false
}

func backendNames() string {
	names := []string{"'" + string(audio.BackendTypeAuto) + "'"}
	for _, b := range audio.GetAvailableBackends() {
		names = append(names, "'"+string(b)+"'")
	}
	return strings.Join(names, ", ")
}

// AudioFormat builds the process-wide capture format from the audio section.
func (c *Config) AudioFormat() audio.Format {
	return audio.Format{
		SampleRate: c.Audio.SampleRate,
		Channels:   c.Audio.Channels,
		BitDepth:   c.Audio.BitDepth,
		ChunkSize:  c.Audio.ChunkSize,
	}
}

// EnsureOutputDirectory creates the output directory if it does not exist yet.
func (c *Config) EnsureOutputDirectory() error {
	if err := os.MkdirAll(c.Output.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create output directory '%s': %w", c.Output.Directory, err)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

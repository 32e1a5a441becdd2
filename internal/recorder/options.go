package recorder

import (
	"time"

	"github.com/audiolibrelab/micrecorder/internal/metrics"
)

type options struct {
	directory       string
	prefix          string
	stopTimeout     time.Duration
	shutdownTimeout time.Duration
	maxReadRetries  int
	retryBackoff    time.Duration
	metrics         *metrics.Metrics
	now             func() time.Time
}

func defaultOptions() options {
	return options{
		directory:       "grabaciones",
		prefix:          "grabacion",
		stopTimeout:     2 * time.Second,
		shutdownTimeout: 1 * time.Second,
		maxReadRetries:  3,
		retryBackoff:    50 * time.Millisecond,
		now:             time.Now,
	}
}

// Option configures a Controller.
type Option func(*options)

// WithOutput sets where recordings are written and how they are named.
func WithOutput(directory, prefix string) Option {
	return func(o *options) {
		o.directory = directory
		o.prefix = prefix
	}
}

// WithStopTimeout bounds how long ToggleStop and StopAndSave wait for the
// capture worker.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.stopTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Shutdown waits for the capture worker.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithReadRetries sets how many consecutive failed reads the capture worker
// tolerates, and the pause between them.
func WithReadRetries(max int, backoff time.Duration) Option {
	return func(o *options) {
		if max >= 0 {
			o.maxReadRetries = max
		}
		if backoff >= 0 {
			o.retryBackoff = backoff
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithClock overrides the time source used for file names and session start.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

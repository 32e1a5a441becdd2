package recorder

import (
	"context"
	"fmt"
	"time"
)

// Tick advances the session timer by one second. It has no effect unless the
// recorder is Recording with a live capture worker, so paused, stopped and
// failed time is never counted.
func (c *Controller) Tick() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.state == StateRecording && c.captureErr == nil {
		c.elapsed++
		c.metrics.SetElapsed(c.elapsed)
	}
	return c.elapsed
}

// RunTimer calls Tick every interval until ctx is done.
func (c *Controller) RunTimer(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick()
		}
	}
}

// FormatElapsed renders seconds as HH:MM:SS.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/audiolibrelab/micrecorder/internal/audio"
)

// capture is the worker loop of one session. It reads chunks until ctx is
// cancelled and sends the frames it collected on w.done. Closing the stream is
// left to the controller. When the loop gives up on its own the session is
// ended as if stopped.
func (c *Controller) capture(ctx context.Context, stream audio.Stream, sessionID string, w *worker) {
	frames := NewFrameBuffer()
	var captureErr error
	failures := 0

	logger := slog.With("session_id", sessionID)
	logger.Debug("Capture worker started")

	for ctx.Err() == nil {
		chunk, err := stream.ReadChunk(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}

			if !audio.IsOverflow(err) {
				failures++
				c.metrics.RecordReadError()
				if failures > c.opts.maxReadRetries {
					captureErr = fmt.Errorf("capture stopped after %d failed reads: %w", failures, err)
					logger.Error("Capture worker giving up", "error", err, "failures", failures)
					c.setCaptureError(captureErr)
					break
				}
				logger.Warn("Audio read failed, retrying", "error", err, "attempt", failures)
				if !sleepCtx(ctx, c.opts.retryBackoff) {
					break
				}
				continue
			}

			// The chunk is complete; the dropped input came before it
			c.overflows.Add(1)
			c.metrics.RecordOverflow()
			logger.Warn("Audio input overflow", "overflows", c.overflows.Load())
		}
		failures = 0

		if len(chunk) == 0 {
			continue
		}

		if c.paused.Load() {
			c.discarded.Add(1)
			c.metrics.RecordChunk(false)
			continue
		}

		frames.Append(chunk)
		c.captured.Add(1)
		c.metrics.RecordChunk(true)
	}

	logger.Debug("Capture worker exiting", "chunks", frames.Len())
	w.done <- captureResult{frames: frames, err: captureErr}

	if captureErr != nil {
		c.endFailedSession(w)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

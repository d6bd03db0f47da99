package media

import (
	"context"
	"fmt"
	"time"

	"github.com/fuba/youtube2slackthread/internal/resilience"
)

// ReopenWindow counts MediaSource restarts within a sliding window and
// reports when the count exceeds a threshold — StreamController escalates
// to FAILED after more than 3 restarts within 60s (spec §4.10).
type ReopenWindow struct {
	window    time.Duration
	threshold int
	attempts  []time.Time
}

// NewReopenWindow builds a window with spec defaults (3 restarts / 60s) when
// threshold or window are zero.
func NewReopenWindow(threshold int, window time.Duration) *ReopenWindow {
	if threshold <= 0 {
		threshold = 3
	}
	if window <= 0 {
		window = 60 * time.Second
	}
	return &ReopenWindow{threshold: threshold, window: window}
}

// Record registers a restart attempt at now and reports whether the
// threshold has been exceeded within the trailing window.
func (w *ReopenWindow) Record(now time.Time) (exceeded bool) {
	cutoff := now.Add(-w.window)
	kept := w.attempts[:0]
	for _, t := range w.attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.attempts = append(kept, now)
	return len(w.attempts) > w.threshold
}

// Reopen re-opens src for url with resilience.Retry's exponential backoff,
// used when a stream's PcmStream ends unexpectedly mid-broadcast rather
// than at natural end-of-stream. Grounded on the same reconnect-with-backoff
// shape as a voice-platform reconnector, adapted to a one-shot PCM source
// instead of a persistent voice connection.
func Reopen(ctx context.Context, src Source, url string, cookies []byte, cfg resilience.RetryConfig) (PcmStream, error) {
	var stream PcmStream
	err := resilience.Retry(ctx, cfg, func() error {
		s, err := src.Open(ctx, url, cookies)
		if err != nil {
			return err
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("media: reopen %s: %w", url, err)
	}
	return stream, nil
}

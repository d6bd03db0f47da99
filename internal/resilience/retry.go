package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/backoff/v2"
)

// RetryConfig tunes [Retry]'s exponential-backoff-with-jitter policy.
type RetryConfig struct {
	// MinInterval is the delay before the first retry. Default: 500ms.
	MinInterval time.Duration
	// MaxInterval caps the delay between retries. Default: 30s.
	MaxInterval time.Duration
	// MaxRetries bounds the number of attempts after the first. Default: 5.
	MaxRetries int
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MinInterval <= 0 {
		c.MinInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

// Retry calls fn until it succeeds, ctx is cancelled, or the retry budget in
// cfg is exhausted, sleeping with exponential backoff between attempts. The
// jitter factor is fixed at 0.2, so each delay varies by up to 20% either
// side of the exponential interval; this is not full jitter. Used for MediaSource reconnects and transient chat-post
// failures — anywhere a bounded number of automatic retries beats surfacing
// the failure immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()

	policy := backoff.Exponential(
		backoff.WithMinInterval(cfg.MinInterval),
		backoff.WithMaxInterval(cfg.MaxInterval),
		backoff.WithMaxRetries(cfg.MaxRetries),
		backoff.WithJitterFactor(0.2),
	)
	controller := policy.Start(ctx)

	var lastErr error
	for backoff.Continue(controller) {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	if lastErr != nil {
		return fmt.Errorf("resilience: retry exhausted: %w", lastErr)
	}
	return ctx.Err()
}

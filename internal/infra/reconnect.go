package infra

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// BackoffConfig paces reconnect attempts of long-lived live transports.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoffConfig matches EventSource: a flat 3s between attempts.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 3 * time.Second,
		MaxDelay:     3 * time.Second,
		Multiplier:   1.0,
	}
}

// Backoff is not safe for concurrent use.
type Backoff struct {
	cfg   BackoffConfig
	delay time.Duration
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	return &Backoff{cfg: cfg, delay: cfg.InitialDelay}
}

// Next returns the delay before the coming attempt and grows the following one.
func (b *Backoff) Next() time.Duration {
	d := b.delay
	b.delay = time.Duration(float64(b.delay) * b.cfg.Multiplier)
	if b.delay > b.cfg.MaxDelay {
		b.delay = b.cfg.MaxDelay
	}
	return d
}

// Reset goes back to the initial delay after a successful connection.
func (b *Backoff) Reset() {
	b.delay = b.cfg.InitialDelay
}

// SetInitial replaces the base delay, e.g. from an SSE "retry:" field.
func (b *Backoff) SetInitial(d time.Duration) {
	if d <= 0 {
		return
	}
	b.cfg.InitialDelay = d
	if b.cfg.MaxDelay < d {
		b.cfg.MaxDelay = d
	}
	b.delay = d
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Reconnect gives up instead of trying again.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Reconnect calls connect until ctx is done or connect fails permanently. connect
// returning nil means the connection closed normally; it is opened again as well.
func Reconnect(ctx context.Context, b *Backoff, connect func() error, onRetry func(err error, delay time.Duration)) error {
	for {
		err := connect()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		delay := b.Next()
		if onRetry != nil {
			onRetry(err, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// IsRetryableHTTPStatus reports whether a failed stream handshake is worth repeating.
func IsRetryableHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout ||
		statusCode >= 500
}

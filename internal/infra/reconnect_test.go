package infra_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"home-controller/internal/infra"
)

func TestBackoff_Grows(t *testing.T) {
	b := infra.NewBackoff(infra.BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2,
	})

	want := []time.Duration{10, 20, 40, 40}
	for i, w := range want {
		if got := b.Next(); got != w*time.Millisecond {
			t.Errorf("attempt %d: delay = %v, want %v", i, got, w*time.Millisecond)
		}
	}

	b.Reset()
	if got := b.Next(); got != 10*time.Millisecond {
		t.Errorf("after reset: delay = %v", got)
	}
}

func TestBackoff_DefaultIsFlat(t *testing.T) {
	b := infra.NewBackoff(infra.DefaultBackoffConfig())
	for range 3 {
		if got := b.Next(); got != 3*time.Second {
			t.Fatalf("delay = %v, want 3s", got)
		}
	}

	b.SetInitial(500 * time.Millisecond)
	if got := b.Next(); got != 500*time.Millisecond {
		t.Errorf("delay after SetInitial = %v", got)
	}
}

func TestReconnect_StopsOnPermanentError(t *testing.T) {
	b := infra.NewBackoff(infra.BackoffConfig{InitialDelay: time.Millisecond})
	fatal := errors.New("not an event stream")

	attempts := 0
	err := infra.Reconnect(context.Background(), b, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return infra.Permanent(fatal)
	}, nil)

	if !errors.Is(err, fatal) {
		t.Errorf("error = %v, want %v", err, fatal)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestReconnect_StopsOnCancel(t *testing.T) {
	b := infra.NewBackoff(infra.BackoffConfig{InitialDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	var retried []error
	err := infra.Reconnect(ctx, b, func() error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return nil
	}, func(err error, _ time.Duration) { retried = append(retried, err) })

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if attempts != 2 || len(retried) != 1 {
		t.Errorf("attempts = %d, retries = %d", attempts, len(retried))
	}
}

func TestIsRetryableHTTPStatus(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{200, false},
		{204, false},
		{404, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
	}
	for _, tt := range tests {
		if got := infra.IsRetryableHTTPStatus(tt.status); got != tt.want {
			t.Errorf("IsRetryableHTTPStatus(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

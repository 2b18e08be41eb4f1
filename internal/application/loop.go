package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrLoopStopped = errors.New("event loop stopped")

// Loop runs every store and state-machine mutation on a single goroutine. Blocking work
// happens elsewhere and hands its completion back with Post or Do, so individual
// mutations are serialized while logical operations still interleave freely.
//
// Do must never be called from inside a loop task; it would wait on itself.
type Loop struct {
	tasks   chan func()
	stopped chan struct{}
	logger  *slog.Logger

	runOnce  sync.Once
	stopOnce sync.Once
}

func NewLoop(logger *slog.Logger) *Loop {
	return &Loop{
		tasks:   make(chan func(), 256),
		stopped: make(chan struct{}),
		logger:  logger,
	}
}

// Run executes tasks until ctx is done. Only the first call runs the loop.
func (l *Loop) Run(ctx context.Context) error {
	err := ErrLoopStopped
	l.runOnce.Do(func() {
		defer l.stopOnce.Do(func() { close(l.stopped) })
		for {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				return
			case fn := <-l.tasks:
				l.exec(fn)
			}
		}
	})
	return err
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("event loop task panicked", "panic", r)
		}
	}()
	fn()
}

// Post queues fn and returns immediately. It reports false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopped:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.stopped:
		return false
	}
}

// Do queues fn and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrLoopStopped
	}
}

package application

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"home-controller/internal/domain"
)

// LiveSource is a server-push transport. Stream blocks until ctx is done or the source
// gives up, calling deliver for every payload. Reconnecting is the source's job.
type LiveSource interface {
	Name() string
	Stream(ctx context.Context, deliver func(domain.LiveUpdate)) error
}

// Merger folds live updates into the store's ambient snapshot.
type Merger struct {
	loop    *Loop
	store   *Store
	sources []LiveSource
	logger  *slog.Logger
}

func NewMerger(loop *Loop, store *Store, sources []LiveSource, logger *slog.Logger) *Merger {
	return &Merger{
		loop:    loop,
		store:   store,
		sources: sources,
		logger:  logger,
	}
}

// Run streams every source until ctx is done. A source that fails is logged and does not
// stop the others.
func (m *Merger) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range m.sources {
		g.Go(func() error {
			m.logger.Info("live source started", "source", src.Name())
			err := src.Stream(ctx, m.Apply)
			if err != nil && ctx.Err() == nil {
				m.logger.Error("live source stopped", "source", src.Name(), "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Apply parses one update off the loop and posts the resulting mutation. Malformed
// payloads are dropped.
func (m *Merger) Apply(update domain.LiveUpdate) {
	if update.Room == "" {
		snapshot, err := domain.ParseLiveSnapshot(update.Payload)
		if err != nil {
			m.logger.Debug("dropping live snapshot", "error", err)
			return
		}
		m.loop.Post(func() { m.store.ReplaceSnapshot(snapshot) })
		return
	}

	reading, err := domain.ParseSensorReading(update.Payload)
	if err != nil {
		m.logger.Debug("dropping room reading", "room", update.Room, "error", fmt.Errorf("parsing reading: %w", err))
		return
	}
	m.loop.Post(func() { m.store.MergeTransient(update.Room, reading) })
}

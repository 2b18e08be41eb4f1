package application

import (
	"context"
	"log/slog"
	"strings"
)

// Announcer is the fire-and-forget feedback channel used by every component.
type Announcer interface {
	Speak(text string)
}

// Notifier mirrors feedback somewhere else, e.g. a push notification service.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type NoopNotifier struct{}

func (n *NoopNotifier) Notify(_ context.Context, _ string) error {
	return nil
}

// Speaker queues utterances for a speech engine. Speak never blocks and never fails:
// without an engine it does nothing, and when the queue is full the text is dropped.
type Speaker struct {
	engine SpeechEngine
	mirror Notifier
	queue  chan string
	logger *slog.Logger
}

func NewSpeaker(engine SpeechEngine, mirror Notifier, logger *slog.Logger) *Speaker {
	if mirror == nil {
		mirror = &NoopNotifier{}
	}
	return &Speaker{
		engine: engine,
		mirror: mirror,
		queue:  make(chan string, 16),
		logger: logger,
	}
}

func (s *Speaker) Speak(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}
	select {
	case s.queue <- trimmed:
	default:
		s.logger.Warn("speech queue full, dropping text", "text", trimmed)
	}
}

// Run plays queued utterances until ctx is done.
func (s *Speaker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.queue:
			s.say(ctx, text)
		}
	}
}

func (s *Speaker) say(ctx context.Context, text string) {
	s.logger.Debug("speaking", "text", text)
	if s.engine != nil {
		if err := s.engine.Speak(text); err != nil {
			s.logger.Warn("speech engine failed", "error", err)
		}
	}
	if err := s.mirror.Notify(ctx, text); err != nil {
		s.logger.Warn("mirroring feedback", "error", err)
	}
}

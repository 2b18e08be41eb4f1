package recognizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"home-controller/internal/application"
	"home-controller/internal/domain"
)

type UtteranceSource interface {
	NextUtterance(ctx context.Context) ([]byte, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// Whisper records one utterance from a microphone and transcribes it remotely. It
// produces a single final result, or none when only silence was heard.
type Whisper struct {
	source      UtteranceSource
	transcriber Transcriber
	logger      *slog.Logger
}

func NewWhisper(source UtteranceSource, transcriber Transcriber, logger *slog.Logger) *Whisper {
	return &Whisper{
		source:      source,
		transcriber: transcriber,
		logger:      logger,
	}
}

func (w *Whisper) Name() string {
	return "whisper"
}

func (w *Whisper) Listen(ctx context.Context, language string) (<-chan application.RecognitionResult, error) {
	if w.source == nil || w.transcriber == nil {
		return nil, fmt.Errorf("%w: whisper recognizer needs a microphone and an api key", domain.ErrUnsupportedCapability)
	}

	out := make(chan application.RecognitionResult, 1)
	go func() {
		defer close(out)
		result, ok := w.recognize(ctx, language)
		if !ok || ctx.Err() != nil {
			return
		}
		select {
		case out <- result:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (w *Whisper) recognize(ctx context.Context, language string) (application.RecognitionResult, bool) {
	clip, err := w.source.NextUtterance(ctx)
	if err != nil {
		return application.RecognitionResult{Err: fmt.Errorf("recording utterance: %w", err)}, true
	}
	if len(clip) == 0 {
		w.logger.Debug("no speech heard")
		return application.RecognitionResult{}, false
	}

	text, err := w.transcriber.Transcribe(ctx, clip, language)
	if err != nil {
		return application.RecognitionResult{Err: fmt.Errorf("transcribing utterance: %w", err)}, true
	}
	text = strings.TrimSpace(text)
	w.logger.Debug("utterance transcribed", "language", language, "text", text)
	return application.RecognitionResult{Transcript: text, Final: true}, true
}

package application

import "context"

// RecognitionResult is one recognizer output. Err is set when recognition failed.
type RecognitionResult struct {
	Transcript string
	Final      bool
	Err        error
}

// Recognizer captures one utterance. The channel is closed when recognition ends;
// cancelling ctx stops the recognizer.
type Recognizer interface {
	Name() string
	Listen(ctx context.Context, language string) (<-chan RecognitionResult, error)
}

// SpeechEngine plays one utterance and returns when done.
type SpeechEngine interface {
	Speak(text string) error
}

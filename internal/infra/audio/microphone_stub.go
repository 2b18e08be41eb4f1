//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"home-controller/internal/application"
	"home-controller/internal/domain"
)

// Microphone stub when portaudio is not available
type Microphone struct {
	logger *slog.Logger
}

func NewMicrophone(_ application.AudioFormat, _ int16, logger *slog.Logger) *Microphone {
	return &Microphone{logger: logger}
}

func (m *Microphone) Name() string {
	return "microphone"
}

func (m *Microphone) Open(_ context.Context) (application.CaptureStream, error) {
	return nil, fmt.Errorf("%w: microphone not available, rebuild with -tags portaudio", domain.ErrUnsupportedCapability)
}

func (m *Microphone) NextUtterance(_ context.Context) ([]byte, error) {
	return nil, fmt.Errorf("%w: microphone not available", domain.ErrUnsupportedCapability)
}

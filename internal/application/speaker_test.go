package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"home-controller/internal/application"
)

type mockEngine struct {
	mu     sync.Mutex
	spoken []string
	err    error
}

func (m *mockEngine) Speak(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spoken = append(m.spoken, text)
	return m.err
}

func (m *mockEngine) lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}

type mockNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockNotifier) Notify(_ context.Context, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

func TestSpeaker_SpeaksAndMirrors(t *testing.T) {
	engine := &mockEngine{}
	mirror := &mockNotifier{}
	speaker := application.NewSpeaker(engine, mirror, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go speaker.Run(ctx)

	speaker.Speak("  lights on ")
	speaker.Speak("")
	speaker.Speak("   ")
	speaker.Speak("done")

	waitFor(t, "two utterances", func() bool { return len(engine.lines()) == 2 && mirror.count() == 2 })
	if got := engine.lines(); got[0] != "lights on" || got[1] != "done" {
		t.Errorf("spoken = %q", got)
	}
}

func TestSpeaker_EngineErrorsAreSwallowed(t *testing.T) {
	engine := &mockEngine{err: errors.New("no audio device")}
	mirror := &mockNotifier{}
	speaker := application.NewSpeaker(engine, mirror, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go speaker.Run(ctx)

	speaker.Speak("hello")
	waitFor(t, "mirror", func() bool { return mirror.count() == 1 })
}

func TestSpeaker_WithoutEngineNeverBlocks(t *testing.T) {
	speaker := application.NewSpeaker(nil, nil, testLogger())

	// Nothing drains the queue; Speak must still return.
	for range 100 {
		speaker.Speak("hello")
	}
}

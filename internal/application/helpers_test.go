package application_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"home-controller/internal/application"
	"home-controller/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startLoop(t *testing.T) *application.Loop {
	t.Helper()
	loop := application.NewLoop(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return loop
}

// onLoop runs fn on the loop, which orders it after every task posted before it.
func onLoop(t *testing.T, loop *application.Loop, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := loop.Do(ctx, fn); err != nil {
		t.Fatalf("running on loop: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type mockBackend struct {
	mu sync.Mutex

	devices    []domain.DeviceRecord
	devicesErr error
	refreshes  int

	updateFn func(id string, attrs domain.Attributes) (domain.UpdateResult, error)
	updates  []domain.Attributes

	voiceResult domain.VoiceResult
	voiceErr    error
	transcripts []string

	textResponse string
	textErr      error
}

func (m *mockBackend) Devices(_ context.Context) ([]domain.DeviceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshes++
	return m.devices, m.devicesErr
}

func (m *mockBackend) UpdateDevice(_ context.Context, id string, attrs domain.Attributes) (domain.UpdateResult, error) {
	m.mu.Lock()
	m.updates = append(m.updates, attrs)
	fn := m.updateFn
	m.mu.Unlock()
	if fn == nil {
		return domain.UpdateResult{Success: true, State: attrs}, nil
	}
	return fn(id, attrs)
}

func (m *mockBackend) VoiceCommand(_ context.Context, transcript string) (domain.VoiceResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcripts = append(m.transcripts, transcript)
	return m.voiceResult, m.voiceErr
}

func (m *mockBackend) TextCommand(_ context.Context, _ string) (string, error) {
	return m.textResponse, m.textErr
}

func (m *mockBackend) refreshCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshes
}

func (m *mockBackend) lastUpdate() domain.Attributes {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.updates) == 0 {
		return nil
	}
	return m.updates[len(m.updates)-1]
}

func (m *mockBackend) submitted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.transcripts...)
}

type mockAnnouncer struct {
	mu     sync.Mutex
	spoken []string
}

func (m *mockAnnouncer) Speak(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spoken = append(m.spoken, text)
}

func (m *mockAnnouncer) lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.spoken...)
}

type mockUploader struct {
	body  json.RawMessage
	err   error
	clips chan domain.AudioClip

	mu      sync.Mutex
	uploads int
}

func (m *mockUploader) SpeechToAction(_ context.Context, clip domain.AudioClip) (json.RawMessage, error) {
	m.mu.Lock()
	m.uploads++
	m.mu.Unlock()
	if m.clips != nil {
		m.clips <- clip
	}
	return m.body, m.err
}

func (m *mockUploader) uploadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

type renderLog struct {
	mu     sync.Mutex
	events []application.RenderEvent
}

func (r *renderLog) record(e application.RenderEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *renderLog) all() []application.RenderEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]application.RenderEvent(nil), r.events...)
}

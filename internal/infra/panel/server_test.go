package panel_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"home-controller/internal/application"
	"home-controller/internal/domain"
	"home-controller/internal/infra/panel"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBackend struct {
	mu      sync.Mutex
	devices map[string]domain.Attributes
	updates []domain.Attributes
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{devices: map[string]domain.Attributes{
		"light":       {"status": false, "brightness": 40},
		"temperature": {"value": 22},
		"security":    {"status": true},
	}}
}

func (f *fakeBackend) Devices(_ context.Context) ([]domain.DeviceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.RecordsFromMap(f.devices), nil
}

func (f *fakeBackend) UpdateDevice(_ context.Context, id string, attrs domain.Attributes) (domain.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, attrs)
	state := maps.Clone(f.devices[id])
	maps.Copy(state, attrs)
	f.devices[id] = state
	return domain.UpdateResult{Success: true, State: state}, nil
}

func (f *fakeBackend) VoiceCommand(_ context.Context, _ string) (domain.VoiceResult, error) {
	return domain.VoiceResult{Success: true, Response: "ok"}, nil
}

func (f *fakeBackend) TextCommand(_ context.Context, text string) (string, error) {
	return "done: " + text, nil
}

func (f *fakeBackend) lastUpdate() domain.Attributes {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.updates) == 0 {
		return nil
	}
	return f.updates[len(f.updates)-1]
}

type rig struct {
	backend *fakeBackend
	server  *panel.Server
	handler http.Handler
}

func newRig(t *testing.T, cfg panel.Config) *rig {
	t.Helper()
	backend := newFakeBackend()
	controller := application.NewController(
		application.Collaborators{Backend: backend},
		application.Options{Language: "en-US"},
		testLogger(),
	)
	server := panel.NewServer(cfg, controller, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		controller.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		snapshot, err := controller.Snapshot(context.Background())
		if err == nil && len(snapshot.Devices) == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("devices never loaded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	return &rig{backend: backend, server: server, handler: server.Handler()}
}

func (r *rig) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_AuthToken(t *testing.T) {
	const token = "panel-secret"
	r := newRig(t, panel.Config{AuthToken: token})

	tests := []struct {
		name       string
		path       string
		header     string
		wantStatus int
	}{
		{"valid token in header", "/state", token, http.StatusOK},
		{"valid token in query", "/state?token=" + token, "", http.StatusOK},
		{"invalid token", "/state", "wrong-token", http.StatusUnauthorized},
		{"missing token", "/state", "", http.StatusUnauthorized},
		{"health is open", "/health", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("X-Auth-Token", tt.header)
			}
			rec := httptest.NewRecorder()
			r.handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status code: got %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestServer_StateWithoutToken(t *testing.T) {
	r := newRig(t, panel.Config{})

	rec := r.do(t, http.MethodGet, "/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d", rec.Code)
	}
	var snapshot application.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if len(snapshot.Devices) != 3 || snapshot.Voice != domain.VoiceIdle || snapshot.Language != "en-US" {
		t.Errorf("snapshot = %+v", snapshot)
	}
}

func TestServer_DeviceIntents(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantUpdate domain.Attributes
	}{
		{"toggle", "/devices/light/toggle", "", http.StatusOK, domain.Attributes{"status": true}},
		{"level", "/devices/light/level", `{"value":75}`, http.StatusOK, domain.Attributes{"brightness": 75}},
		{"partial", "/devices/security", `{"status":false}`, http.StatusOK, domain.Attributes{"status": false}},
		{"temperature", "/temperature/increase", "", http.StatusOK, domain.Attributes{"value": 23}},
		{"missing level", "/devices/light/level", `{}`, http.StatusBadRequest, nil},
		{"bad json", "/devices/light", `{`, http.StatusBadRequest, nil},
		{"empty partial", "/devices/light", `{}`, http.StatusBadRequest, nil},
		{"no level control", "/devices/security/level", `{"value":1}`, http.StatusBadRequest, nil},
		{"level above range", "/devices/light/level", `{"value":150}`, http.StatusBadRequest, nil},
		{"level below range", "/devices/light/level", `{"value":-1}`, http.StatusBadRequest, nil},
		{"level at bound", "/devices/light/level", `{"value":100}`, http.StatusOK, domain.Attributes{"brightness": 100}},
		{"unknown action", "/temperature/sideways", "", http.StatusBadRequest, nil},
		{"not loaded", "/devices/music/toggle", "", http.StatusNotFound, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, panel.Config{})
			rec := r.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status code: got %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			got := r.backend.lastUpdate()
			if tt.wantUpdate == nil {
				if got != nil {
					t.Errorf("unexpected update %v", got)
				}
				return
			}
			for k, v := range tt.wantUpdate {
				if got[k] != v {
					t.Errorf("update[%s] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestServer_Command(t *testing.T) {
	r := newRig(t, panel.Config{})

	rec := r.do(t, http.MethodPost, "/command", "turn on the lights")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["response"] != "done: turn on the lights" {
		t.Errorf("response = %q", body["response"])
	}

	if rec := r.do(t, http.MethodPost, "/command", "   "); rec.Code != http.StatusBadRequest {
		t.Errorf("empty command: got %d", rec.Code)
	}
}

func TestServer_CapabilityErrors(t *testing.T) {
	r := newRig(t, panel.Config{})

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"voice without recognizer", "/voice/toggle", http.StatusNotImplemented},
		{"recording over insecure context", "/recording/toggle", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := r.do(t, http.MethodPost, tt.path, ""); rec.Code != tt.wantStatus {
				t.Errorf("status code: got %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestServer_VoiceLanguage(t *testing.T) {
	r := newRig(t, panel.Config{})

	rec := r.do(t, http.MethodPost, "/voice/language", `{"language":"ru"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code: got %d", rec.Code)
	}
	state := r.do(t, http.MethodGet, "/state", "")
	var snapshot application.Snapshot
	json.Unmarshal(state.Body.Bytes(), &snapshot)
	if snapshot.Language != "ru-RU" {
		t.Errorf("language = %q, want ru-RU", snapshot.Language)
	}
}

func TestServer_RateLimit(t *testing.T) {
	r := newRig(t, panel.Config{RateLimit: 2, RateWindow: time.Minute})

	for i := 0; i < 2; i++ {
		if rec := r.do(t, http.MethodPost, "/devices/light/toggle", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: got %d", i, rec.Code)
		}
	}
	rec := r.do(t, http.MethodPost, "/devices/light/toggle", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request: got %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if rec := r.do(t, http.MethodGet, "/state", ""); rec.Code != http.StatusOK {
		t.Errorf("GET routes are not limited: got %d", rec.Code)
	}
}

func TestServer_WebSocketPush(t *testing.T) {
	r := newRig(t, panel.Config{})
	ts := httptest.NewServer(r.handler)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	hello := readMessage(t, conn)
	if hello.Event != panel.EventHello {
		t.Fatalf("first event = %q, want hello", hello.Event)
	}

	waitForClients(t, r.server.Hub(), 1)
	resp, err := http.Post(ts.URL+"/devices/light/toggle", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("posting toggle: %v", err)
	}
	resp.Body.Close()

	msg := readMessage(t, conn)
	if msg.Event != panel.EventRender {
		t.Fatalf("event = %q, want render", msg.Event)
	}
	var payload struct {
		Scope    string              `json:"scope"`
		DeviceID string              `json:"device_id"`
		Device   domain.DeviceRecord `json:"device"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if payload.Scope != "device" || payload.DeviceID != "light" || !payload.Device.Attributes.Bool("status") {
		t.Errorf("render payload = %+v", payload)
	}
}

type wireMessage struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	var msg wireMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading websocket: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, hub *panel.Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d clients, want %d", hub.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

package backend_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"home-controller/internal/domain"
	"home-controller/internal/infra"
	"home-controller/internal/infra/backend"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStream_DeliversAndReconnects(t *testing.T) {
	var conns atomic.Int32
	lastIDs := make(chan string, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/devices/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		lastIDs <- r.Header.Get("Last-Event-ID")

		if conns.Add(1) == 1 {
			fmt.Fprint(w, "retry: 10\n\n")
			fmt.Fprint(w, ": keepalive\n")
			fmt.Fprint(w, "id: 1\ndata: {\"thermometers\":{\"hall\":19}}\n\n")
			fmt.Fprint(w, "event: ping\ndata: ignored\n\n")
			fmt.Fprint(w, "id: 7\ndata: {\"thermometers\":\ndata: {\"kitchen\":21}}\n\n")
			return
		}
		fmt.Fprint(w, "data: {\"thermometers\":{\"hall\":20}}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	stream := backend.NewStream(server.URL, infra.DefaultBackoffConfig(), testLogger())
	updates := make(chan domain.LiveUpdate, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- stream.Stream(ctx, func(u domain.LiveUpdate) { updates <- u })
	}()

	want := []string{
		`{"thermometers":{"hall":19}}`,
		"{\"thermometers\":\n{\"kitchen\":21}}",
		`{"thermometers":{"hall":20}}`,
	}
	for i, w := range want {
		select {
		case u := <-updates:
			if string(u.Payload) != w || u.Room != "" {
				t.Errorf("update %d = %q, want %q", i, u.Payload, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for update %d", i)
		}
	}

	if first := <-lastIDs; first != "" {
		t.Errorf("first connection sent Last-Event-ID %q", first)
	}
	if second := <-lastIDs; second != "7" {
		t.Errorf("reconnect sent Last-Event-ID %q, want 7", second)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Stream = %v, want context.Canceled", err)
	}
}

func TestStream_StopsOnPermanentFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	stream := backend.NewStream(server.URL, infra.DefaultBackoffConfig(), testLogger())

	err := stream.Stream(context.Background(), func(domain.LiveUpdate) {
		t.Error("no update expected")
	})
	if err == nil {
		t.Fatal("expected an error for a 404 stream")
	}
}

func TestStream_RejectsWrongContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"thermometers":{}}`)
	}))
	defer server.Close()

	stream := backend.NewStream(server.URL, infra.DefaultBackoffConfig(), testLogger())
	if err := stream.Stream(context.Background(), func(domain.LiveUpdate) {}); err == nil {
		t.Fatal("expected an error for a non event-stream response")
	}
}

func TestStream_RetriesUnavailable(t *testing.T) {
	var conns atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if conns.Add(1) == 1 {
			http.Error(w, "starting up", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
		fmt.Fprint(w, "data: {\"thermometers\":{}}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	stream := backend.NewStream(server.URL, infra.BackoffConfig{InitialDelay: 10 * time.Millisecond}, testLogger())
	updates := make(chan domain.LiveUpdate, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stream.Stream(ctx, func(u domain.LiveUpdate) { updates <- u }) }()

	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not recover from 503")
	}
}

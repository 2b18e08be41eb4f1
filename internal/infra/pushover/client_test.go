package pushover_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"home-controller/internal/domain"
	"home-controller/internal/infra/pushover"
)

func TestNotify(t *testing.T) {
	var form map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parsing form: %v", err)
		}
		form = map[string]string{
			"token":   r.PostForm.Get("token"),
			"user":    r.PostForm.Get("user"),
			"message": r.PostForm.Get("message"),
			"title":   r.PostForm.Get("title"),
		}
		w.Write([]byte(`{"status":1}`))
	}))
	defer server.Close()

	client := pushover.NewClient("app", "user", pushover.WithEndpoint(server.URL), pushover.WithTitle("Flat"))
	if err := client.Notify(context.Background(), "connected to JBL"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	want := map[string]string{"token": "app", "user": "user", "message": "connected to JBL", "title": "Flat"}
	for k, v := range want {
		if form[k] != v {
			t.Errorf("%s = %q, want %q", k, form[k], v)
		}
	}
}

func TestNotifyWithoutCredentials(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := pushover.NewClient("", "user", pushover.WithEndpoint(server.URL))
	if client.Enabled() {
		t.Error("client without token should be disabled")
	}
	if err := client.Notify(context.Background(), "hello"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if called {
		t.Error("disabled client sent a request")
	}
}

func TestNotifyRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := pushover.NewClient("app", "user", pushover.WithEndpoint(server.URL))
	if err := client.Notify(context.Background(), "hello"); !errors.Is(err, domain.ErrServerRejected) {
		t.Errorf("error = %v, want ErrServerRejected", err)
	}
}

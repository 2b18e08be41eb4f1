package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"home-controller/internal/application"
	"home-controller/internal/domain"
)

const (
	maxJSONBody = 4096
	maxTextBody = 1024
)

type Config struct {
	Addr      string
	AuthToken string
	// RateLimit is the number of POST requests allowed per RateWindow and client IP.
	// Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Server is the local control surface: HTTP intents in, websocket render events out.
type Server struct {
	cfg         Config
	controller  *application.Controller
	hub         *Hub
	mux         *http.ServeMux
	server      *http.Server
	listener    net.Listener
	rateLimiter *RateLimiter
	logger      *slog.Logger
	mu          sync.Mutex
	running     bool
}

// NewServer registers the panel on the controller's events, so it must be created
// before the controller runs.
func NewServer(cfg Config, controller *application.Controller, logger *slog.Logger) *Server {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	s := &Server{
		cfg:        cfg,
		controller: controller,
		hub:        NewHub(logger),
		mux:        http.NewServeMux(),
		logger:     logger,
	}
	if cfg.RateLimit > 0 {
		s.rateLimiter = NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	}
	Attach(s.hub, controller)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /state", s.authorize(s.handleState))
	s.mux.HandleFunc("GET /ws", s.authorize(s.handleWS))

	s.post("/devices/{id}", s.handleSetDevice)
	s.post("/devices/{id}/toggle", s.handleToggleDevice)
	s.post("/devices/{id}/level", s.handleSetLevel)
	s.post("/temperature/{action}", s.handleTemperature)
	s.post("/voice/toggle", s.handleVoiceToggle)
	s.post("/voice/language", s.handleVoiceLanguage)
	s.post("/recording/toggle", s.handleRecordingToggle)
	s.post("/bluetooth/toggle", s.handleBluetoothToggle)
	s.post("/command", s.handleCommand)
	return s
}

func (s *Server) post(path string, h http.HandlerFunc) {
	h = s.authorize(h)
	if s.rateLimiter != nil {
		h = s.rateLimiter.Middleware(h)
	}
	s.mux.HandleFunc("POST "+path, h)
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Start listens on the configured address and serves until Stop. The hub closes its
// clients when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go s.hub.Run(ctx)
	go func() {
		s.logger.Info("panel server starting", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("panel server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

// Addr is the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
		if err := s.server.Close(); err != nil {
			return fmt.Errorf("closing server: %w", err)
		}
	}
	s.running = false
	return nil
}

func (s *Server) authorize(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.AuthToken == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.cfg.AuthToken {
			s.logger.Warn("unauthorized panel request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"running": running,
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.controller.Snapshot(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.controller.Snapshot(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.hub.ServeWS(w, r, snapshot)
}

func (s *Server) handleSetDevice(w http.ResponseWriter, r *http.Request) {
	var partial domain.Attributes
	if !decodeBody(w, r, &partial) {
		return
	}
	if len(partial) == 0 {
		writeError(w, http.StatusBadRequest, "empty attribute object")
		return
	}
	s.writeRecord(w, r, func(ctx context.Context) (domain.DeviceRecord, error) {
		return s.controller.Gateway.SetDeviceAttribute(ctx, r.PathValue("id"), partial)
	})
}

func (s *Server) handleToggleDevice(w http.ResponseWriter, r *http.Request) {
	s.writeRecord(w, r, func(ctx context.Context) (domain.DeviceRecord, error) {
		return s.controller.Gateway.Toggle(ctx, r.PathValue("id"))
	})
}

func (s *Server) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value *int `json:"value"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Value == nil {
		writeError(w, http.StatusBadRequest, "missing value")
		return
	}
	s.writeRecord(w, r, func(ctx context.Context) (domain.DeviceRecord, error) {
		return s.controller.Gateway.SetLevel(ctx, r.PathValue("id"), *body.Value)
	})
}

func (s *Server) handleTemperature(w http.ResponseWriter, r *http.Request) {
	s.writeRecord(w, r, func(ctx context.Context) (domain.DeviceRecord, error) {
		return s.controller.Gateway.AdjustTemperature(ctx, r.PathValue("action"))
	})
}

func (s *Server) writeRecord(w http.ResponseWriter, r *http.Request, do func(context.Context) (domain.DeviceRecord, error)) {
	record, err := do(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Voice toggling only starts or stops listening; the outcome arrives as events.
func (s *Server) handleVoiceToggle(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Voice.Toggle(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleVoiceLanguage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Language string `json:"language"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.controller.Voice.SetLanguage(r.Context(), body.Language); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"language": application.NormalizeLanguage(body.Language)})
}

// A toggle that stops a recording answers with the speech-to-action body.
func (s *Server) handleRecordingToggle(w http.ResponseWriter, r *http.Request) {
	body, err := s.controller.Recorder.Toggle(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if body == nil {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleBluetoothToggle(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Bluetooth.Toggle(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	snapshot, err := s.controller.Snapshot(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"bluetooth": string(snapshot.Bluetooth),
		"device":    snapshot.BluetoothDevice,
	})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxTextBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	defer r.Body.Close()

	text := strings.TrimSpace(string(data))
	if text == "" {
		writeError(w, http.StatusBadRequest, "empty text")
		return
	}

	response, err := s.controller.Gateway.SubmitTextCommand(r.Context(), text)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": response})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("panel request failed", "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, application.ErrDeviceNotLoaded):
		return http.StatusNotFound
	case errors.Is(err, application.ErrInvalidIntent):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsecureContext), errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrUnsupportedCapability):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrServerRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransport), errors.Is(err, domain.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, application.ErrLoopStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"home-controller/internal/domain"
	"home-controller/internal/infra"
)

// Stream reads GET /api/devices/stream as server-sent events and reconnects the way a
// browser EventSource does: after the server's "retry:" delay (3s by default), sending
// the last seen event id.
type Stream struct {
	url        string
	httpClient *http.Client
	backoff    infra.BackoffConfig
	logger     *slog.Logger
}

func NewStream(baseURL string, backoff infra.BackoffConfig, logger *slog.Logger) *Stream {
	return &Stream{
		url:        strings.TrimSuffix(baseURL, "/") + "/api/devices/stream",
		httpClient: &http.Client{},
		backoff:    backoff,
		logger:     logger,
	}
}

func (s *Stream) Name() string { return "sse" }

func (s *Stream) Stream(ctx context.Context, deliver func(domain.LiveUpdate)) error {
	b := infra.NewBackoff(s.backoff)
	var lastID string

	return infra.Reconnect(ctx, b, func() error {
		return s.connect(ctx, b, &lastID, deliver)
	}, func(err error, delay time.Duration) {
		s.logger.Warn("event stream lost, reconnecting", "error", err, "delay", delay)
	})
}

func (s *Stream) connect(ctx context.Context, b *infra.Backoff, lastID *string, deliver func(domain.LiveUpdate)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return infra.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if *lastID != "" {
		req.Header.Set("Last-Event-ID", *lastID)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("event stream status %d", resp.StatusCode)
		if infra.IsRetryableHTTPStatus(resp.StatusCode) {
			return err
		}
		return infra.Permanent(err)
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/event-stream" {
		return infra.Permanent(fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")))
	}

	b.Reset()
	s.logger.Info("event stream connected", "url", s.url)

	return readEvents(resp.Body, func(e event) {
		if e.retry > 0 {
			b.SetInitial(e.retry)
		}
		if e.idSet {
			*lastID = e.id
		}
		if e.data == nil || (e.name != "" && e.name != "message") {
			return
		}
		deliver(domain.LiveUpdate{Payload: e.data})
	})
}

type event struct {
	name  string
	data  []byte
	id    string
	idSet bool
	retry time.Duration
}

// readEvents parses the text/event-stream format and calls dispatch at each blank
// line. A retry-only block is dispatched with nil data.
func readEvents(r io.Reader, dispatch func(event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxBodySize)

	var (
		cur     event
		data    strings.Builder
		hasData bool
		pending bool
	)
	flush := func() {
		if !pending {
			return
		}
		if hasData {
			cur.data = []byte(strings.TrimSuffix(data.String(), "\n"))
		}
		dispatch(cur)
		cur = event{}
		data.Reset()
		hasData = false
		pending = false
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		pending = true

		switch field {
		case "event":
			cur.name = value
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "id":
			if !strings.ContainsRune(value, 0) {
				cur.id = value
				cur.idSet = true
			}
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
				cur.retry = time.Duration(ms) * time.Millisecond
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: reading event stream: %w", domain.ErrTransport, err)
	}
	return nil
}

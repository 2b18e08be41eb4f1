package recognizer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"

	"home-controller/internal/application"
	"home-controller/internal/domain"
)

// languagePlaceholder in an argument is replaced with the session language.
const languagePlaceholder = "{language}"

// Command runs an external speech recognizer and reads one transcript per stdout line.
// Lines are either plain text or JSON objects carrying text, transcript or utterance.
type Command struct {
	command string
	args    []string
	logger  *slog.Logger
}

func NewCommand(command string, args []string, logger *slog.Logger) *Command {
	return &Command{
		command: strings.TrimSpace(command),
		args:    args,
		logger:  logger,
	}
}

func (c *Command) Name() string {
	return "command"
}

func (c *Command) Listen(ctx context.Context, language string) (<-chan application.RecognitionResult, error) {
	if c.command == "" {
		return nil, fmt.Errorf("%w: no recognizer command configured", domain.ErrUnsupportedCapability)
	}
	path, err := exec.LookPath(c.command)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnsupportedCapability, err)
	}

	args := make([]string, len(c.args))
	for i, arg := range c.args {
		args[i] = strings.ReplaceAll(arg, languagePlaceholder, language)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("opening stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting recognizer: %w", err)
	}
	c.logger.Debug("recognizer started", "command", path, "language", language)

	out := make(chan application.RecognitionResult, 8)
	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		c.logLines(stderr)
	}()
	go func() {
		defer close(out)
		c.readLines(ctx, stdout, out)
		// Wait closes the pipes, so both readers must be finished first.
		<-stderrDone
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			c.logger.Debug("recognizer exited", "error", err)
		}
	}()
	return out, nil
}

func (c *Command) readLines(ctx context.Context, r io.Reader, out chan<- application.RecognitionResult) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		result, ok := ParseLine(line)
		if !ok {
			continue
		}
		select {
		case out <- result:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
		select {
		case out <- application.RecognitionResult{Err: fmt.Errorf("reading recognizer output: %w", err)}:
		case <-ctx.Done():
		}
	}
}

func (c *Command) logLines(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			c.logger.Debug("recognizer stderr", "line", line)
		}
	}
}

type lineEvent struct {
	Type       string          `json:"type"`
	Event      string          `json:"event"`
	Text       string          `json:"text"`
	Transcript string          `json:"transcript"`
	Utterance  string          `json:"utterance"`
	Final      *bool           `json:"final"`
	Error      string          `json:"error"`
	Payload    json.RawMessage `json:"payload"`
}

type linePayload struct {
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
	Utterance  string `json:"utterance"`
}

// ParseLine turns one recognizer output line into a result. JSON lines marked partial,
// or with "final": false, are interim. A JSON line with an "error" field reports a
// recognition failure.
func ParseLine(line string) (application.RecognitionResult, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return application.RecognitionResult{}, false
	}
	if strings.HasPrefix(line, "{") {
		var evt lineEvent
		if err := json.Unmarshal([]byte(line), &evt); err == nil {
			if msg := strings.TrimSpace(evt.Error); msg != "" {
				return application.RecognitionResult{Err: fmt.Errorf("recognizer: %s", msg)}, true
			}
			text := pickText(evt.Text, evt.Transcript, evt.Utterance)
			if text == "" && len(evt.Payload) > 0 {
				var payload linePayload
				if err := json.Unmarshal(evt.Payload, &payload); err == nil {
					text = pickText(payload.Text, payload.Transcript, payload.Utterance)
				}
			}
			if text == "" {
				return application.RecognitionResult{}, false
			}
			final := true
			if evt.Final != nil {
				final = *evt.Final
			}
			if isPartial(evt.Type) || isPartial(evt.Event) {
				final = false
			}
			return application.RecognitionResult{Transcript: text, Final: final}, true
		}
	}
	return application.RecognitionResult{Transcript: line, Final: true}, true
}

func isPartial(s string) bool {
	s = strings.ToLower(s)
	return strings.Contains(s, "partial") || strings.Contains(s, "interim")
}

func pickText(parts ...string) string {
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

package speech

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"home-controller/internal/domain"
)

const defaultCommand = "espeak-ng"

// System speaks through a local espeak-compatible command line synthesizer.
type System struct {
	command string
	voice   string
	rate    int
}

// NewSystem resolves command on PATH. rate is in words per minute; zero keeps the
// synthesizer default.
func NewSystem(command, voice string, rate int) (*System, error) {
	if command == "" {
		command = defaultCommand
	}
	resolved, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("%w: speech synthesizer %q: %w", domain.ErrUnsupportedCapability, command, err)
	}
	return &System{command: resolved, voice: voice, rate: rate}, nil
}

func (s *System) Speak(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	args := []string{}
	if s.voice != "" {
		args = append(args, "-v", s.voice)
	}
	if s.rate > 0 {
		args = append(args, "-s", strconv.Itoa(s.rate))
	}
	args = append(args, "--", trimmed)
	cmd := exec.Command(s.command, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("running %s: %w", s.command, err)
	}
	return nil
}

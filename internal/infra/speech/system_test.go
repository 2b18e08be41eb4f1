package speech_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"home-controller/internal/domain"
	"home-controller/internal/infra/speech"
)

// fakeSynth writes its arguments, one per line, to a file next to the script.
func fakeSynth(t *testing.T) (script, output string) {
	t.Helper()
	dir := t.TempDir()
	output = filepath.Join(dir, "args.txt")
	script = filepath.Join(dir, "synth.sh")
	body := "#!/bin/sh\nfor a in \"$@\"; do printf '%s\\n' \"$a\"; done > " + output + "\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return script, output
}

func TestSpeakArguments(t *testing.T) {
	tests := []struct {
		name  string
		voice string
		rate  int
		text  string
		want  []string
	}{
		{"voice and rate", "ru", 140, "  подключено  ", []string{"-v", "ru", "-s", "140", "--", "подключено"}},
		{"defaults", "", 0, "  подключено  ", []string{"--", "подключено"}},
		{"text starting with a dash", "ru", 0, "-5 градусов", []string{"-v", "ru", "--", "-5 градусов"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, output := fakeSynth(t)
			engine, err := speech.NewSystem(script, tt.voice, tt.rate)
			if err != nil {
				t.Fatalf("NewSystem() error = %v", err)
			}
			if err := engine.Speak(tt.text); err != nil {
				t.Fatalf("Speak() error = %v", err)
			}
			data, err := os.ReadFile(output)
			if err != nil {
				t.Fatalf("reading args: %v", err)
			}
			got := strings.Split(strings.TrimSpace(string(data)), "\n")
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("args = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSpeakBlankDoesNothing(t *testing.T) {
	script, output := fakeSynth(t)
	engine, err := speech.NewSystem(script, "", 0)
	if err != nil {
		t.Fatalf("NewSystem() error = %v", err)
	}
	if err := engine.Speak("   "); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Errorf("synthesizer ran for blank text")
	}
}

func TestNewSystemMissingCommand(t *testing.T) {
	_, err := speech.NewSystem("no-such-synthesizer-binary", "", 0)
	if !errors.Is(err, domain.ErrUnsupportedCapability) {
		t.Errorf("error = %v, want ErrUnsupportedCapability", err)
	}
}

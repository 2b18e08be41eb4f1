//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"home-controller/internal/application"
	"home-controller/internal/domain"
)

const framesPerBuffer = 1024

// Microphone records from the default input device through portaudio.
type Microphone struct {
	format    application.AudioFormat
	threshold int16
	logger    *slog.Logger
}

func NewMicrophone(format application.AudioFormat, threshold int16, logger *slog.Logger) *Microphone {
	return &Microphone{
		format:    format,
		threshold: threshold,
		logger:    logger,
	}
}

func (m *Microphone) Name() string {
	return "microphone"
}

// Open starts capturing until Finish is called.
func (m *Microphone) Open(ctx context.Context) (application.CaptureStream, error) {
	in, err := m.open()
	if err != nil {
		return nil, err
	}

	rec := &recording{input: in, format: m.format, done: make(chan struct{}), logger: m.logger}
	go rec.run(ctx)
	m.logger.Info("microphone started", "sampleRate", m.format.SampleRate)
	return rec, nil
}

// NextUtterance records until the speaker pauses and returns the clip as WAV. It
// returns nil when only silence was heard.
func (m *Microphone) NextUtterance(ctx context.Context) ([]byte, error) {
	in, err := m.open()
	if err != nil {
		return nil, err
	}
	defer in.close()

	end := NewEndpointer(m.format, m.threshold)
	samples := make([]int16, 0, m.format.SampleRate*5)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if err := in.stream.Read(); err != nil {
			return nil, fmt.Errorf("reading from stream: %w", err)
		}
		samples = append(samples, in.buffer...)
		if end.Feed(in.buffer) {
			break
		}
	}

	if !end.HeardSpeech() {
		return nil, nil
	}
	return EncodeWAV(samples, m.format), nil
}

type input struct {
	stream *portaudio.Stream
	buffer []int16
}

func (m *Microphone) open() (*input, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: initializing portaudio: %w", domain.ErrUnsupportedCapability, err)
	}

	buffer := make([]int16, framesPerBuffer*max(m.format.Channels, 1))
	stream, err := portaudio.OpenDefaultStream(m.format.Channels, 0, float64(m.format.SampleRate), framesPerBuffer, buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: opening stream: %w", domain.ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: starting stream: %w", domain.ErrPermissionDenied, err)
	}
	return &input{stream: stream, buffer: buffer}, nil
}

func (in *input) close() {
	in.stream.Stop()
	in.stream.Close()
	portaudio.Terminate()
}

type recording struct {
	input  *input
	format application.AudioFormat
	logger *slog.Logger

	mu      sync.Mutex
	samples []int16
	err     error
	stop    bool
	done    chan struct{}
}

func (r *recording) run(ctx context.Context) {
	defer close(r.done)
	for {
		r.mu.Lock()
		stop := r.stop
		r.mu.Unlock()
		if stop || ctx.Err() != nil {
			return
		}

		if err := r.input.stream.Read(); err != nil {
			r.mu.Lock()
			r.err = fmt.Errorf("reading from stream: %w", err)
			r.mu.Unlock()
			return
		}
		r.mu.Lock()
		r.samples = append(r.samples, r.input.buffer...)
		r.mu.Unlock()
	}
}

func (r *recording) MIMEType() string { return wavMIME }

func (r *recording) Finish(_ context.Context) ([]byte, error) {
	r.mu.Lock()
	r.stop = true
	r.mu.Unlock()
	<-r.done
	r.input.close()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.logger.Info("microphone stopped", "samples", len(r.samples))
	return EncodeWAV(r.samples, r.format), nil
}

package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"home-controller/internal/domain"
)

var unparsableResponse = json.RawMessage(`{"error":"could not parse response"}`)

// Recorder captures a clip and uploads it to the speech-to-action endpoint. It is
// independent of the voice session. Fields below logger are owned by the loop.
type Recorder struct {
	loop     *Loop
	capture  AudioCapture
	uploader Uploader
	secure   bool
	logger   *slog.Logger

	state  domain.RecordingState
	stream CaptureStream
	// opening is set while the capture device is being opened (permission prompt).
	opening bool

	onState  listeners[StateChange[domain.RecordingState]]
	onError  listeners[error]
	onResult listeners[json.RawMessage]
}

// NewRecorder builds a recorder. secure reports whether the page origin would allow
// microphone access (https or loopback).
func NewRecorder(loop *Loop, capture AudioCapture, uploader Uploader, secure bool, logger *slog.Logger) *Recorder {
	return &Recorder{
		loop:     loop,
		capture:  capture,
		uploader: uploader,
		secure:   secure,
		logger:   logger,
		state:    domain.RecordingIdle,
	}
}

func (r *Recorder) OnStateChange(fn func(StateChange[domain.RecordingState])) { r.onState.add(fn) }
func (r *Recorder) OnError(fn func(error))                                   { r.onError.add(fn) }
func (r *Recorder) OnResult(fn func(json.RawMessage))                        { r.onResult.add(fn) }

// State must be called on the loop.
func (r *Recorder) State() domain.RecordingState { return r.state }

// Start opens the capture device and moves to Recording. It is a no-op unless Idle.
func (r *Recorder) Start(ctx context.Context) error {
	var proceed bool
	var startErr error
	if err := r.loop.Do(ctx, func() {
		if r.state != domain.RecordingIdle || r.opening {
			return
		}
		switch {
		case !r.secure:
			startErr = fmt.Errorf("starting recording: %w", domain.ErrInsecureContext)
		case r.capture == nil:
			startErr = fmt.Errorf("starting recording: %w", domain.ErrUnsupportedCapability)
		default:
			r.opening = true
			proceed = true
			return
		}
		r.onError.emit(startErr)
	}); err != nil {
		return err
	}
	if !proceed {
		return startErr
	}

	stream, err := r.capture.Open(context.WithoutCancel(ctx))
	if err != nil {
		err = fmt.Errorf("opening %s: %w", r.capture.Name(), err)
	}

	doErr := r.loop.Do(context.WithoutCancel(ctx), func() {
		r.opening = false
		if err != nil {
			r.logger.Warn("recording not started", "error", err)
			r.onError.emit(err)
			return
		}
		r.stream = stream
		r.setState(domain.RecordingRecording)
	})
	if err != nil {
		return err
	}
	if doErr != nil {
		if stream != nil {
			_, _ = stream.Finish(context.Background())
		}
		return doErr
	}

	r.logger.Info("recording started", "device", r.capture.Name(), "mime", stream.MIMEType())
	return nil
}

// Stop finalizes the clip, uploads it and returns the response body. The body of a
// malformed response is replaced by {"error":"could not parse response"}. Stop is a
// no-op unless Recording, and an upload is never cancelled once started.
func (r *Recorder) Stop(ctx context.Context) (json.RawMessage, error) {
	var stream CaptureStream
	if err := r.loop.Do(ctx, func() {
		if r.state != domain.RecordingRecording {
			return
		}
		stream = r.stream
		r.stream = nil
		r.setState(domain.RecordingUploading)
	}); err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, nil
	}

	ctx = context.WithoutCancel(ctx)
	body, err := r.upload(ctx, stream)

	if doErr := r.loop.Do(ctx, func() {
		switch {
		case err != nil:
			r.logger.Warn("voice upload failed", "error", err)
			r.onError.emit(err)
		default:
			r.onResult.emit(body)
		}
		r.setState(domain.RecordingIdle)
	}); doErr != nil {
		r.logger.Warn("recording state not reset after upload", "error", doErr, "upload_error", err)
	}
	return body, err
}

func (r *Recorder) upload(ctx context.Context, stream CaptureStream) (json.RawMessage, error) {
	data, err := stream.Finish(ctx)
	if err != nil {
		return nil, fmt.Errorf("finishing recording: %w", err)
	}

	clip := domain.NewAudioClip(data, stream.MIMEType())
	r.logger.Info("uploading recording", "filename", clip.Filename, "mime", clip.MIMEType, "bytes", len(clip.Data))

	body, err := r.uploader.SpeechToAction(ctx, clip)
	if errors.Is(err, domain.ErrMalformedResponse) {
		r.logger.Debug("speech-to-action response was not JSON", "error", err)
		return unparsableResponse, nil
	}
	if err != nil {
		return nil, fmt.Errorf("uploading recording: %w", err)
	}
	return body, nil
}

// Toggle starts from Idle and stops from Recording. While Uploading it does nothing.
func (r *Recorder) Toggle(ctx context.Context) (json.RawMessage, error) {
	var state domain.RecordingState
	if err := r.loop.Do(ctx, func() { state = r.state }); err != nil {
		return nil, err
	}
	switch state {
	case domain.RecordingIdle:
		return nil, r.Start(ctx)
	case domain.RecordingRecording:
		return r.Stop(ctx)
	default:
		return nil, nil
	}
}

func (r *Recorder) setState(to domain.RecordingState) {
	from := r.state
	r.state = to
	r.onState.emit(StateChange[domain.RecordingState]{From: from, To: to})
}

package application

import "context"

// AudioCapture is a microphone-like device. Open may block on a permission prompt and
// fails with domain.ErrPermissionDenied or domain.ErrUnsupportedCapability.
type AudioCapture interface {
	Name() string
	Open(ctx context.Context) (CaptureStream, error)
}

// CaptureStream is an open recording. Finish stops capture and returns the whole clip
// in the stream's own container format.
type CaptureStream interface {
	MIMEType() string
	Finish(ctx context.Context) ([]byte, error)
}

type AudioFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func DefaultAudioFormat() AudioFormat {
	return AudioFormat{
		SampleRate: 16000,
		Channels:   1,
		BitDepth:   16,
	}
}

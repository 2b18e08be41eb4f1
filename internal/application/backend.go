package application

import (
	"context"
	"encoding/json"

	"home-controller/internal/domain"
)

// Backend is the device registry and command interpreter.
type Backend interface {
	Devices(ctx context.Context) ([]domain.DeviceRecord, error)
	UpdateDevice(ctx context.Context, id string, attrs domain.Attributes) (domain.UpdateResult, error)
	VoiceCommand(ctx context.Context, transcript string) (domain.VoiceResult, error)
	TextCommand(ctx context.Context, text string) (string, error)
}

// Uploader posts a recorded clip to the speech-to-action endpoint and returns the body
// as received. A body that is not JSON comes back with domain.ErrMalformedResponse.
type Uploader interface {
	SpeechToAction(ctx context.Context, clip domain.AudioClip) (json.RawMessage, error)
}

type BluetoothBackend interface {
	ScanBluetooth(ctx context.Context) ([]domain.BluetoothCandidate, error)
	ConnectBluetooth(ctx context.Context, name string) (bool, error)
	DisconnectBluetooth(ctx context.Context, name string) (bool, error)
}

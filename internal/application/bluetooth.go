package application

import (
	"context"
	"fmt"
	"log/slog"

	"home-controller/internal/domain"
)

const musicDevice = string(domain.KindMusic)

// Bluetooth pairs the music device with the first candidate a scan returns. Fields
// below logger are owned by the loop.
type Bluetooth struct {
	loop    *Loop
	store   *Store
	backend BluetoothBackend
	speaker Announcer
	phrases Phrases
	logger  *slog.Logger

	state  domain.BluetoothState
	device string

	onState listeners[StateChange[domain.BluetoothState]]
	onError listeners[error]
}

func NewBluetooth(loop *Loop, store *Store, backend BluetoothBackend, speaker Announcer, phrases Phrases, logger *slog.Logger) *Bluetooth {
	return &Bluetooth{
		loop:    loop,
		store:   store,
		backend: backend,
		speaker: speaker,
		phrases: phrases,
		logger:  logger,
		state:   domain.BluetoothDisconnected,
	}
}

func (b *Bluetooth) OnStateChange(fn func(StateChange[domain.BluetoothState])) { b.onState.add(fn) }
func (b *Bluetooth) OnError(fn func(error))                                   { b.onError.add(fn) }

// State and Device must be called on the loop.
func (b *Bluetooth) State() domain.BluetoothState { return b.state }
func (b *Bluetooth) Device() string               { return b.device }

// Toggle connects when Disconnected and disconnects when Connected. It is ignored while
// a scan or connect is in progress.
func (b *Bluetooth) Toggle(ctx context.Context) error {
	var from domain.BluetoothState
	var device string
	if err := b.loop.Do(ctx, func() {
		from = b.state
		device = b.device
		if from == domain.BluetoothDisconnected {
			b.setState(domain.BluetoothScanning)
		}
	}); err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	switch from {
	case domain.BluetoothDisconnected:
		return b.connect(ctx)
	case domain.BluetoothConnected:
		return b.disconnect(ctx, device)
	default:
		return nil
	}
}

func (b *Bluetooth) connect(ctx context.Context) error {
	candidates, err := b.backend.ScanBluetooth(ctx)
	if err != nil {
		return b.fail(ctx, domain.BluetoothDisconnected, fmt.Errorf("scanning bluetooth: %w", err))
	}

	if len(candidates) == 0 {
		b.logger.Info("no bluetooth devices found")
		b.speaker.Speak(b.phrases.NoDevicesFound)
		return b.loop.Do(ctx, func() { b.setState(domain.BluetoothDisconnected) })
	}

	// The first candidate is always chosen.
	name := candidates[0].Name
	if err := b.loop.Do(ctx, func() { b.setState(domain.BluetoothConnecting) }); err != nil {
		return err
	}

	ok, err := b.backend.ConnectBluetooth(ctx, name)
	if err == nil && !ok {
		err = domain.ErrServerRejected
	}
	if err != nil {
		return b.fail(ctx, domain.BluetoothDisconnected, fmt.Errorf("connecting to %s: %w", name, err))
	}

	if err := b.loop.Do(ctx, func() {
		b.store.MergeConfirmed(musicDevice, domain.Attributes{
			domain.AttrBluetoothConnected: true,
			domain.AttrBluetoothDevice:    name,
		})
		b.device = name
		b.setState(domain.BluetoothConnected)
	}); err != nil {
		return err
	}

	b.logger.Info("bluetooth connected", "device", name, "candidates", len(candidates))
	b.speaker.Speak(b.phrases.connectedTo(name))
	return nil
}

func (b *Bluetooth) disconnect(ctx context.Context, device string) error {
	ok, err := b.backend.DisconnectBluetooth(ctx, device)
	if err == nil && !ok {
		err = domain.ErrServerRejected
	}
	if err != nil {
		return b.fail(ctx, domain.BluetoothConnected, fmt.Errorf("disconnecting from %s: %w", device, err))
	}

	if err := b.loop.Do(ctx, func() {
		b.store.MergeConfirmed(musicDevice, domain.Attributes{
			domain.AttrBluetoothConnected: false,
			domain.AttrBluetoothDevice:    nil,
		})
		b.device = ""
		b.setState(domain.BluetoothDisconnected)
	}); err != nil {
		return err
	}

	b.logger.Info("bluetooth disconnected", "device", device)
	b.speaker.Speak(b.phrases.BluetoothDisconnected)
	return nil
}

// fail returns the workflow to the state it held before the operation.
func (b *Bluetooth) fail(ctx context.Context, back domain.BluetoothState, err error) error {
	b.logger.Warn("bluetooth operation failed", "error", err)
	b.speaker.Speak(b.phrases.BluetoothError)
	if doErr := b.loop.Do(ctx, func() {
		b.setState(back)
		b.onError.emit(err)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Sync adopts the pairing recorded on the music device after a device-list refresh. It
// does nothing while an operation is in progress.
func (b *Bluetooth) Sync(ctx context.Context) error {
	return b.loop.Do(ctx, func() {
		music, ok := b.store.Get(musicDevice)
		if !ok {
			return
		}
		connected := music.Attributes.Bool(domain.AttrBluetoothConnected)
		switch {
		case b.state == domain.BluetoothDisconnected && connected:
			b.device = music.Attributes.String(domain.AttrBluetoothDevice)
			b.setState(domain.BluetoothConnected)
		case b.state == domain.BluetoothConnected && !connected:
			b.device = ""
			b.setState(domain.BluetoothDisconnected)
		}
	})
}

func (b *Bluetooth) setState(to domain.BluetoothState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.onState.emit(StateChange[domain.BluetoothState]{From: from, To: to})
}

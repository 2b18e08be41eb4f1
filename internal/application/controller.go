package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"home-controller/internal/domain"
)

// Collaborators are the external systems the controller talks to. Any of Recognizer,
// Capture, Engine and Mirror may be nil when the capability is unavailable.
type Collaborators struct {
	Backend     Backend
	Uploader    Uploader
	Bluetooth   BluetoothBackend
	Recognizer  Recognizer
	Capture     AudioCapture
	Engine      SpeechEngine
	Mirror      Notifier
	LiveSources []LiveSource
}

type Options struct {
	Gateway  GatewayOptions
	Phrases  Phrases
	Language string
	// SecureContext allows recording; see Recorder.
	SecureContext bool
	// RefreshInterval re-reads the device list periodically. Zero disables it.
	RefreshInterval time.Duration
}

// Controller owns every singleton of a session and wires them together.
type Controller struct {
	Loop      *Loop
	Store     *Store
	Speaker   *Speaker
	Gateway   *Gateway
	Voice     *VoiceSession
	Recorder  *Recorder
	Bluetooth *Bluetooth
	Merger    *Merger

	refreshInterval time.Duration
	logger          *slog.Logger
}

func NewController(c Collaborators, opts Options, logger *slog.Logger) *Controller {
	opts.Phrases = opts.Phrases.WithDefaults()
	loop := NewLoop(logger)
	store := NewStore()
	speaker := NewSpeaker(c.Engine, c.Mirror, logger.With("component", "speaker"))
	gateway := NewGateway(loop, store, c.Backend, speaker, opts.Phrases, opts.Gateway, logger.With("component", "gateway"))

	return &Controller{
		Loop:            loop,
		Store:           store,
		Speaker:         speaker,
		Gateway:         gateway,
		Voice:           NewVoiceSession(loop, c.Recognizer, gateway, opts.Language, logger.With("component", "voice")),
		Recorder:        NewRecorder(loop, c.Capture, c.Uploader, opts.SecureContext, logger.With("component", "recorder")),
		Bluetooth:       NewBluetooth(loop, store, c.Bluetooth, speaker, opts.Phrases, logger.With("component", "bluetooth")),
		Merger:          NewMerger(loop, store, c.LiveSources, logger.With("component", "live")),
		refreshInterval: opts.RefreshInterval,
		logger:          logger,
	}
}

// Run starts the loop and the background workers and blocks until ctx is done. All
// subscriptions must be registered before Run.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.Loop.Run(ctx) })
	g.Go(func() error {
		c.Speaker.Run(ctx)
		return nil
	})

	c.logger.Info("loading devices")
	c.refresh(ctx)

	g.Go(func() error { return c.Merger.Run(ctx) })
	if c.refreshInterval > 0 {
		g.Go(func() error {
			c.refreshPeriodically(ctx)
			return nil
		})
	}

	c.logger.Info("controller ready")
	err := g.Wait()
	if errors.Is(err, ErrLoopStopped) {
		return context.Canceled
	}
	return err
}

func (c *Controller) refresh(ctx context.Context) {
	if err := c.Gateway.Refresh(ctx); err != nil {
		c.logger.Warn("refreshing devices", "error", err)
		return
	}
	if err := c.Bluetooth.Sync(ctx); err != nil {
		c.logger.Warn("syncing bluetooth state", "error", err)
	}
}

func (c *Controller) refreshPeriodically(ctx context.Context) {
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.refresh(ctx)
		}
	}
}

// Snapshot is everything a renderer needs to draw the whole panel.
type Snapshot struct {
	View
	Voice           domain.VoiceState     `json:"voice"`
	Language        string                `json:"language"`
	Recording       domain.RecordingState `json:"recording"`
	Bluetooth       domain.BluetoothState `json:"bluetooth"`
	BluetoothDevice string                `json:"bluetooth_device,omitempty"`
}

func (c *Controller) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.Loop.Do(ctx, func() {
		s = Snapshot{
			View:            c.Store.View(),
			Voice:           c.Voice.State(),
			Language:        c.Voice.Language(),
			Recording:       c.Recorder.State(),
			Bluetooth:       c.Bluetooth.State(),
			BluetoothDevice: c.Bluetooth.Device(),
		}
	})
	return s, err
}

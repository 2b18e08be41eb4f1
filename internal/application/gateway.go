package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"home-controller/internal/domain"
)

var (
	ErrDeviceNotLoaded = errors.New("device not loaded")
	ErrInvalidIntent   = errors.New("invalid intent")
)

// Slider bounds for brightness and volume.
const (
	MinLevel = 0
	MaxLevel = 100
)

type GatewayOptions struct {
	// DiscardStale drops a response when a newer request for the same device was issued
	// after it (last-issued-wins). Off by default: the last response to arrive wins.
	DiscardStale bool
}

// Gateway issues mutations and voice/text commands and applies confirmed results to the
// store. It never writes a locally computed value.
type Gateway struct {
	loop    *Loop
	store   *Store
	backend Backend
	speaker Announcer
	phrases Phrases
	opts    GatewayOptions
	logger  *slog.Logger

	// issued counts requests per device; loop only.
	issued map[string]uint64
}

func NewGateway(
	loop *Loop,
	store *Store,
	backend Backend,
	speaker Announcer,
	phrases Phrases,
	opts GatewayOptions,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		loop:    loop,
		store:   store,
		backend: backend,
		speaker: speaker,
		phrases: phrases,
		opts:    opts,
		logger:  logger,
		issued:  make(map[string]uint64),
	}
}

// Refresh loads the full device list and replaces the store with it.
func (g *Gateway) Refresh(ctx context.Context) error {
	records, err := g.backend.Devices(ctx)
	if err != nil {
		return fmt.Errorf("fetching devices: %w", err)
	}
	return g.loop.Do(context.WithoutCancel(ctx), func() {
		g.store.ReplaceAll(records)
	})
}

// SetDeviceAttribute sends a partial update and, on success, replaces the record with
// the state the server returned. On failure the store is left as it was and the device
// is redrawn from it.
func (g *Gateway) SetDeviceAttribute(ctx context.Context, id string, partial domain.Attributes) (domain.DeviceRecord, error) {
	logger := g.logger.With("device", id, "request_id", uuid.NewString())

	var token uint64
	if err := g.loop.Do(ctx, func() {
		g.issued[id]++
		token = g.issued[id]
	}); err != nil {
		return domain.DeviceRecord{}, err
	}

	logger.Debug("updating device", "attributes", partial)
	result, err := g.backend.UpdateDevice(ctx, id, partial)
	if err == nil && !result.Success {
		err = fmt.Errorf("%w: %s", domain.ErrServerRejected, result.Error)
	}

	var record domain.DeviceRecord
	var applyErr error
	doErr := g.loop.Do(context.WithoutCancel(ctx), func() {
		if err != nil {
			g.store.Rerender(id)
			return
		}
		if g.opts.DiscardStale && g.issued[id] != token {
			applyErr = domain.ErrSuperseded
			return
		}
		record = g.store.Replace(id, result.State)
	})

	switch {
	case err != nil:
		logger.Warn("device update failed", "error", err)
		return domain.DeviceRecord{}, fmt.Errorf("updating %s: %w", id, err)
	case doErr != nil:
		return domain.DeviceRecord{}, doErr
	case applyErr != nil:
		logger.Debug("dropping stale device response", "token", token)
		return domain.DeviceRecord{}, fmt.Errorf("updating %s: %w", id, applyErr)
	}

	logger.Info("device updated", "state", record.Attributes)
	return record, nil
}

// Toggle flips the status attribute of a loaded device.
func (g *Gateway) Toggle(ctx context.Context, id string) (domain.DeviceRecord, error) {
	current, err := g.current(ctx, id)
	if err != nil {
		return domain.DeviceRecord{}, err
	}
	return g.SetDeviceAttribute(ctx, id, domain.Attributes{
		domain.AttrStatus: !current.Attributes.Bool(domain.AttrStatus),
	})
}

// AdjustTemperature steps the thermostat by one degree within its bounds. At a bound
// the unchanged value is still sent.
func (g *Gateway) AdjustTemperature(ctx context.Context, action string) (domain.DeviceRecord, error) {
	current, err := g.current(ctx, string(domain.KindTemperature))
	if err != nil {
		return domain.DeviceRecord{}, err
	}
	value, ok := current.Attributes.Int(domain.AttrValue)
	if !ok {
		return domain.DeviceRecord{}, fmt.Errorf("%w: temperature has no value", ErrInvalidIntent)
	}

	switch action {
	case "increase":
		if value < domain.MaxTemperature {
			value++
		}
	case "decrease":
		if value > domain.MinTemperature {
			value--
		}
	default:
		return domain.DeviceRecord{}, fmt.Errorf("%w: unknown temperature action %q", ErrInvalidIntent, action)
	}

	return g.SetDeviceAttribute(ctx, string(domain.KindTemperature), domain.Attributes{domain.AttrValue: value})
}

// SetLevel handles slider input: brightness for lights, volume for music. Values
// outside MinLevel..MaxLevel are rejected.
func (g *Gateway) SetLevel(ctx context.Context, id string, value int) (domain.DeviceRecord, error) {
	current, err := g.current(ctx, id)
	if err != nil {
		return domain.DeviceRecord{}, err
	}

	var key string
	switch current.Kind {
	case domain.KindLight:
		key = domain.AttrBrightness
	case domain.KindMusic:
		key = domain.AttrVolume
	default:
		return domain.DeviceRecord{}, fmt.Errorf("%w: device %s has no level control", ErrInvalidIntent, id)
	}
	if value < MinLevel || value > MaxLevel {
		return domain.DeviceRecord{}, fmt.Errorf("%w: level %d outside %d..%d", ErrInvalidIntent, value, MinLevel, MaxLevel)
	}

	return g.SetDeviceAttribute(ctx, id, domain.Attributes{key: value})
}

// SubmitVoiceCommand posts a transcript. On success the whole store is replaced with
// the returned devices and the response is spoken; on failure the failure phrase is
// spoken and the store is untouched.
func (g *Gateway) SubmitVoiceCommand(ctx context.Context, transcript string) (domain.VoiceResult, error) {
	g.logger.Info("submitting voice command", "transcript", transcript)

	result, err := g.backend.VoiceCommand(ctx, transcript)
	if err == nil && !result.Success {
		err = fmt.Errorf("%w: %s", domain.ErrServerRejected, result.Error)
	}
	if err != nil {
		g.logger.Warn("voice command failed", "error", err)
		g.speaker.Speak(g.phrases.CommandFailed)
		return result, fmt.Errorf("submitting voice command: %w", err)
	}

	if err := g.loop.Do(context.WithoutCancel(ctx), func() {
		g.store.ReplaceAll(result.Devices)
	}); err != nil {
		return result, err
	}

	g.speaker.Speak(result.Response)
	return result, nil
}

// SubmitTextCommand posts a typed command, speaks the reply and then refreshes the
// device list. A failed refresh is logged only.
func (g *Gateway) SubmitTextCommand(ctx context.Context, text string) (string, error) {
	g.logger.Info("submitting text command", "text", text)

	response, err := g.backend.TextCommand(ctx, text)
	if err != nil {
		g.logger.Warn("text command failed", "error", err)
		g.speaker.Speak(g.phrases.CommandFailed)
		return "", fmt.Errorf("submitting text command: %w", err)
	}

	g.speaker.Speak(response)

	if err := g.Refresh(ctx); err != nil {
		g.logger.Warn("refreshing devices after text command", "error", err)
	}
	return response, nil
}

func (g *Gateway) current(ctx context.Context, id string) (domain.DeviceRecord, error) {
	var record domain.DeviceRecord
	var ok bool
	if err := g.loop.Do(ctx, func() {
		record, ok = g.store.Get(id)
	}); err != nil {
		return domain.DeviceRecord{}, err
	}
	if !ok {
		return domain.DeviceRecord{}, fmt.Errorf("%w: %s", ErrDeviceNotLoaded, id)
	}
	return record, nil
}

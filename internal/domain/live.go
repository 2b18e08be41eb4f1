package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// SensorReading is one room's ambient values (temperature, humidity, ...). It is
// display-only and never sent back to the backend.
type SensorReading map[string]any

// LiveSnapshot maps room -> latest reading. A new snapshot replaces the old one whole.
type LiveSnapshot map[string]SensorReading

func (s LiveSnapshot) Clone() LiveSnapshot {
	out := make(LiveSnapshot, len(s))
	for room, r := range s {
		out[room] = maps.Clone(r)
	}
	return out
}

// LiveUpdate is one pushed payload. An empty Room means a full snapshot
// ({"thermometers": {...}}); otherwise Payload is that room's reading alone.
type LiveUpdate struct {
	Room    string
	Payload []byte
}

var errNoThermometers = errors.New("payload has no thermometers object")

// ParseLiveSnapshot decodes a stream payload. The payload must be a JSON object with a
// "thermometers" object keyed by room; each value is either a reading object or a bare
// number taken as the temperature.
func ParseLiveSnapshot(payload []byte) (LiveSnapshot, error) {
	var envelope struct {
		Thermometers map[string]json.RawMessage `json:"thermometers"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	if envelope.Thermometers == nil {
		return nil, errNoThermometers
	}

	snapshot := make(LiveSnapshot, len(envelope.Thermometers))
	for room, raw := range envelope.Thermometers {
		reading, err := ParseSensorReading(raw)
		if err != nil {
			return nil, fmt.Errorf("room %q: %w", room, err)
		}
		snapshot[room] = reading
	}
	return snapshot, nil
}

func ParseSensorReading(raw []byte) (SensorReading, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errors.New("null reading")
	}
	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		return SensorReading{"temperature": number}, nil
	}
	var reading SensorReading
	if err := json.Unmarshal(raw, &reading); err != nil {
		return nil, fmt.Errorf("decoding reading: %w", err)
	}
	return reading, nil
}

package application

import (
	"maps"

	"home-controller/internal/domain"
)

type RenderScope string

const (
	RenderDevice RenderScope = "device"
	RenderAll    RenderScope = "all"
	RenderRoom   RenderScope = "room"
)

// RenderEvent asks the renderer for one pass over the affected part of the view.
type RenderEvent struct {
	Scope    RenderScope `json:"scope"`
	DeviceID string      `json:"device_id,omitempty"`
	Room     string      `json:"room,omitempty"`
}

// View is what a renderer draws: authoritative devices plus the ambient snapshot.
type View struct {
	Devices []domain.DeviceRecord `json:"devices"`
	Ambient domain.LiveSnapshot   `json:"ambient"`
}

// Store is the in-memory device state. Authoritative records only ever come from a
// confirmed server response; the ambient snapshot lives apart from them and is never
// read when building a request.
//
// Store has no lock. It must only be used from the event loop.
type Store struct {
	devices  map[string]domain.DeviceRecord
	ambient  domain.LiveSnapshot
	onRender listeners[RenderEvent]
}

func NewStore() *Store {
	return &Store{
		devices: make(map[string]domain.DeviceRecord),
		ambient: make(domain.LiveSnapshot),
	}
}

// Subscribe registers a renderer. Every mutation emits exactly one event.
func (s *Store) Subscribe(fn func(RenderEvent)) {
	s.onRender.add(fn)
}

func (s *Store) Get(id string) (domain.DeviceRecord, bool) {
	r, ok := s.devices[id]
	if !ok {
		return domain.DeviceRecord{}, false
	}
	return r.Clone(), true
}

// Replace swaps the whole record for id with the server's state.
func (s *Store) Replace(id string, state domain.Attributes) domain.DeviceRecord {
	record := domain.NewRecord(id, state)
	s.devices[id] = record
	s.onRender.emit(RenderEvent{Scope: RenderDevice, DeviceID: id})
	return record.Clone()
}

// ReplaceAll swaps the entire authoritative map.
func (s *Store) ReplaceAll(records []domain.DeviceRecord) {
	devices := make(map[string]domain.DeviceRecord, len(records))
	for _, r := range records {
		devices[r.ID] = r.Clone()
	}
	s.devices = devices
	s.onRender.emit(RenderEvent{Scope: RenderAll})
}

// MergeConfirmed writes server-confirmed fields into one record, creating it if needed.
func (s *Store) MergeConfirmed(id string, fields domain.Attributes) domain.DeviceRecord {
	attrs := domain.Attributes{}
	if existing, ok := s.devices[id]; ok {
		attrs = existing.Attributes.Clone()
	}
	maps.Copy(attrs, fields)
	record := domain.NewRecord(id, attrs)
	s.devices[id] = record
	s.onRender.emit(RenderEvent{Scope: RenderDevice, DeviceID: id})
	return record.Clone()
}

// Rerender redraws a device without changing it, so a control the user moved snaps
// back to the last confirmed value.
func (s *Store) Rerender(id string) {
	s.onRender.emit(RenderEvent{Scope: RenderDevice, DeviceID: id})
}

// MergeTransient updates a single room of the ambient snapshot.
func (s *Store) MergeTransient(room string, reading domain.SensorReading) {
	s.ambient[room] = maps.Clone(reading)
	s.onRender.emit(RenderEvent{Scope: RenderRoom, Room: room})
}

// ReplaceSnapshot swaps the ambient snapshot whole and asks for a full redraw.
func (s *Store) ReplaceSnapshot(snapshot domain.LiveSnapshot) {
	s.ambient = snapshot.Clone()
	s.onRender.emit(RenderEvent{Scope: RenderAll})
}

func (s *Store) Ambient() domain.LiveSnapshot {
	return s.ambient.Clone()
}

func (s *Store) View() View {
	devices := make([]domain.DeviceRecord, 0, len(s.devices))
	for _, r := range s.devices {
		devices = append(devices, r.Clone())
	}
	domain.SortRecords(devices)
	return View{Devices: devices, Ambient: s.ambient.Clone()}
}

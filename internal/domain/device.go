package domain

import (
	"fmt"
	"maps"
	"sort"
)

type DeviceKind string

const (
	KindLight       DeviceKind = "light"
	KindTemperature DeviceKind = "temperature"
	KindSecurity    DeviceKind = "security"
	KindMusic       DeviceKind = "music"
	KindRegistry    DeviceKind = "registry"
)

// Attribute keys as the backend sends them.
const (
	AttrStatus             = "status"
	AttrBrightness         = "brightness"
	AttrValue              = "value"
	AttrVolume             = "volume"
	AttrBluetoothConnected = "bluetooth_connected"
	AttrBluetoothDevice    = "bluetooth_device"
	AttrRoom               = "room"
	AttrType               = "type"
)

// Thermostat bounds enforced by the backend; the client uses them only to pick the
// next step for increase/decrease intents.
const (
	MinTemperature = 15
	MaxTemperature = 30
)

// Attributes is the kind-specific attribute object exactly as the server returned it.
type Attributes map[string]any

func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}
	return maps.Clone(a)
}

func (a Attributes) Bool(key string) bool {
	v, _ := a[key].(bool)
	return v
}

func (a Attributes) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

func (a Attributes) String(key string) string {
	v, _ := a[key].(string)
	return v
}

type DeviceRecord struct {
	ID         string     `json:"id"`
	Kind       DeviceKind `json:"kind"`
	Attributes Attributes `json:"attributes"`
	Room       string     `json:"room,omitempty"`
}

// NewRecord builds a record from an authoritative attribute object. The attributes are
// copied, never interpreted beyond kind and room.
func NewRecord(id string, attrs Attributes) DeviceRecord {
	attrs = attrs.Clone()
	return DeviceRecord{
		ID:         id,
		Kind:       KindOf(id, attrs),
		Attributes: attrs,
		Room:       attrs.String(AttrRoom),
	}
}

func (r DeviceRecord) Clone() DeviceRecord {
	r.Attributes = r.Attributes.Clone()
	return r
}

func KindOf(id string, attrs Attributes) DeviceKind {
	if k, ok := knownKind(id); ok {
		return k
	}
	if k, ok := knownKind(attrs.String(AttrType)); ok {
		return k
	}
	return KindRegistry
}

func knownKind(s string) (DeviceKind, bool) {
	switch DeviceKind(s) {
	case KindLight, KindTemperature, KindSecurity, KindMusic:
		return DeviceKind(s), true
	}
	return "", false
}

// RecordsFromMap converts the map form of GET /api/devices (id -> attributes).
func RecordsFromMap(m map[string]Attributes) []DeviceRecord {
	records := make([]DeviceRecord, 0, len(m))
	for id, attrs := range m {
		records = append(records, NewRecord(id, attrs))
	}
	SortRecords(records)
	return records
}

// RecordsFromList converts the list form of GET /api/devices, where every element
// carries its own "id".
func RecordsFromList(list []Attributes) ([]DeviceRecord, error) {
	records := make([]DeviceRecord, 0, len(list))
	for i, attrs := range list {
		raw, ok := attrs["id"]
		if !ok {
			return nil, fmt.Errorf("device at index %d has no id", i)
		}
		var id string
		switch v := raw.(type) {
		case string:
			id = v
		case float64:
			id = fmt.Sprintf("%d", int64(v))
		default:
			id = fmt.Sprint(v)
		}
		records = append(records, NewRecord(id, attrs))
	}
	SortRecords(records)
	return records, nil
}

func SortRecords(records []DeviceRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}

package panel

import (
	"encoding/json"

	"home-controller/internal/application"
	"home-controller/internal/domain"
)

type renderPayload struct {
	application.RenderEvent
	Device  *domain.DeviceRecord  `json:"device,omitempty"`
	Devices []domain.DeviceRecord `json:"devices,omitempty"`
	Reading domain.SensorReading  `json:"reading,omitempty"`
	Ambient domain.LiveSnapshot   `json:"ambient,omitempty"`
}

type statePayload struct {
	Machine string `json:"machine"`
	From    string `json:"from"`
	To      string `json:"to"`
}

type noticePayload struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Attach forwards controller events to the hub. It must be called before the
// controller runs; the callbacks execute on the event loop.
func Attach(hub *Hub, c *application.Controller) {
	c.Store.Subscribe(func(e application.RenderEvent) {
		hub.Broadcast(EventRender, render(c.Store, e))
	})

	c.Voice.OnStateChange(func(s application.StateChange[domain.VoiceState]) {
		hub.Broadcast(EventState, statePayload{Machine: "voice", From: string(s.From), To: string(s.To)})
	})
	c.Recorder.OnStateChange(func(s application.StateChange[domain.RecordingState]) {
		hub.Broadcast(EventState, statePayload{Machine: "recording", From: string(s.From), To: string(s.To)})
	})
	c.Bluetooth.OnStateChange(func(s application.StateChange[domain.BluetoothState]) {
		hub.Broadcast(EventState, statePayload{Machine: "bluetooth", From: string(s.From), To: string(s.To)})
	})

	c.Voice.OnError(notice(hub, "voice"))
	c.Recorder.OnError(notice(hub, "recording"))
	c.Bluetooth.OnError(notice(hub, "bluetooth"))

	c.Voice.OnPulse(func(level float64) {
		hub.Broadcast(EventPulse, map[string]float64{"level": level})
	})
	c.Recorder.OnResult(func(body json.RawMessage) {
		hub.Broadcast(EventRecordingResult, body)
	})
}

func render(store *application.Store, e application.RenderEvent) renderPayload {
	p := renderPayload{RenderEvent: e}
	switch e.Scope {
	case application.RenderDevice:
		if record, ok := store.Get(e.DeviceID); ok {
			p.Device = &record
		}
	case application.RenderRoom:
		p.Reading = store.Ambient()[e.Room]
	case application.RenderAll:
		view := store.View()
		p.Devices = view.Devices
		p.Ambient = view.Ambient
	}
	return p
}

func notice(hub *Hub, source string) func(error) {
	return func(err error) {
		hub.Broadcast(EventNotice, noticePayload{
			Source:  source,
			Message: domain.Reason(err),
			Detail:  err.Error(),
		})
	}
}

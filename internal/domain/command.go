package domain

import "strings"

// UpdateResult is the reply to POST /api/devices/{id}.
type UpdateResult struct {
	Success bool
	State   Attributes
	Error   string
}

// VoiceResult is the reply to POST /api/voice-command.
type VoiceResult struct {
	Success  bool
	Devices  []DeviceRecord
	Response string
	Error    string
}

type BluetoothCandidate struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// AudioClip is a finalized recording ready for upload. MIMEType is whatever the capture
// device reported; no transcoding happens.
type AudioClip struct {
	Data     []byte
	MIMEType string
	Filename string
}

var mimeExtensions = []struct {
	fragment  string
	extension string
}{
	{"ogg", "ogg"},
	{"wav", "wav"},
	{"mp4", "m4a"},
	{"m4a", "m4a"},
	{"aac", "aac"},
	{"mp3", "mp3"},
	{"mpeg", "mp3"},
}

// ExtensionFor derives the upload file extension from a capture MIME type.
func ExtensionFor(mimeType string) string {
	lower := strings.ToLower(mimeType)
	for _, m := range mimeExtensions {
		if strings.Contains(lower, m.fragment) {
			return m.extension
		}
	}
	return "webm"
}

func NewAudioClip(data []byte, mimeType string) AudioClip {
	return AudioClip{
		Data:     data,
		MIMEType: mimeType,
		Filename: "command." + ExtensionFor(mimeType),
	}
}

package domain

type VoiceState string

const (
	VoiceIdle             VoiceState = "idle"
	VoiceListening        VoiceState = "listening"
	VoiceProcessing       VoiceState = "processing"
	VoiceSpeakingFeedback VoiceState = "speaking_feedback"
)

type RecordingState string

const (
	RecordingIdle      RecordingState = "idle"
	RecordingRecording RecordingState = "recording"
	RecordingUploading RecordingState = "uploading"
)

type BluetoothState string

const (
	BluetoothDisconnected BluetoothState = "disconnected"
	BluetoothScanning     BluetoothState = "scanning"
	BluetoothConnecting   BluetoothState = "connecting"
	BluetoothConnected    BluetoothState = "connected"
)

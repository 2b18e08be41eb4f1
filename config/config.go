package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Live     LiveConfig     `yaml:"live"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Voice    VoiceConfig    `yaml:"voice"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Recorder RecorderConfig `yaml:"recorder"`
	Speech   SpeechConfig   `yaml:"speech"`
	Pushover PushoverConfig `yaml:"pushover"`
	Panel    PanelConfig    `yaml:"panel"`
	Phrases  PhrasesConfig  `yaml:"phrases"`
	Log      LogConfig      `yaml:"log"`
}

type BackendConfig struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
	// RefreshInterval re-reads the device list; "0" disables it.
	RefreshInterval string `yaml:"refresh_interval"`
}

type GatewayConfig struct {
	DiscardStaleResponses bool `yaml:"discard_stale_responses"`
}

type LiveConfig struct {
	// Transport is sse, mqtt, both or none.
	Transport      string `yaml:"transport"`
	ReconnectDelay string `yaml:"reconnect_delay"`
	MaxDelay       string `yaml:"max_delay"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

type VoiceConfig struct {
	// Recognizer is command, whisper or none.
	Recognizer string   `yaml:"recognizer"`
	Language   string   `yaml:"language"`
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	// SilenceThreshold is the sample amplitude below which microphone input counts as
	// silence.
	SilenceThreshold int16 `yaml:"silence_threshold"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type RecorderConfig struct {
	// Device is microphone, file or none.
	Device     string `yaml:"device"`
	FileDir    string `yaml:"file_dir"`
	SampleRate int    `yaml:"sample_rate"`
	// AllowInsecure permits recording when the backend URL is neither https nor
	// loopback.
	AllowInsecure bool `yaml:"allow_insecure"`
}

type SpeechConfig struct {
	// Engine is system or none.
	Engine  string `yaml:"engine"`
	Command string `yaml:"command"`
	Voice   string `yaml:"voice"`
	Rate    int    `yaml:"rate"`
}

type PushoverConfig struct {
	Token   string `yaml:"token"`
	UserKey string `yaml:"user_key"`
	Enabled bool   `yaml:"enabled"`
	Title   string `yaml:"title"`
}

type PanelConfig struct {
	Addr       string `yaml:"addr"`
	AuthToken  string `yaml:"auth_token"`
	RateLimit  int    `yaml:"rate_limit"`
	RateWindow string `yaml:"rate_window"`
}

// PhrasesConfig overrides the spoken feedback lines; empty fields keep the defaults.
type PhrasesConfig struct {
	CommandFailed         string `yaml:"command_failed"`
	NoDevicesFound        string `yaml:"no_devices_found"`
	BluetoothError        string `yaml:"bluetooth_error"`
	BluetoothConnected    string `yaml:"bluetooth_connected"`
	BluetoothDisconnected string `yaml:"bluetooth_disconnected"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse expands environment variables in data before decoding it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Backend.URL == "" {
		c.Backend.URL = "http://localhost:5000"
	}
	if c.Backend.Timeout == "" {
		c.Backend.Timeout = "15s"
	}
	if c.Backend.RefreshInterval == "" {
		c.Backend.RefreshInterval = "5m"
	}
	if c.Live.Transport == "" {
		c.Live.Transport = "sse"
	}
	if c.Live.ReconnectDelay == "" {
		c.Live.ReconnectDelay = "3s"
	}
	if c.Live.MaxDelay == "" {
		c.Live.MaxDelay = c.Live.ReconnectDelay
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "home-controller"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "home/thermometers"
	}
	if c.Voice.Recognizer == "" {
		c.Voice.Recognizer = "command"
	}
	if c.Voice.Language == "" {
		c.Voice.Language = "ru-RU"
	}
	if c.Voice.SilenceThreshold == 0 {
		c.Voice.SilenceThreshold = 500
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "whisper-1"
	}
	if c.Recorder.Device == "" {
		c.Recorder.Device = "microphone"
	}
	if c.Recorder.FileDir == "" {
		c.Recorder.FileDir = "./recordings"
	}
	if c.Recorder.SampleRate == 0 {
		c.Recorder.SampleRate = 16000
	}
	if c.Speech.Engine == "" {
		c.Speech.Engine = "system"
	}
	if c.Speech.Command == "" {
		c.Speech.Command = "espeak-ng"
	}
	if c.Speech.Voice == "" {
		c.Speech.Voice = "ru"
	}
	if c.Speech.Rate == 0 {
		c.Speech.Rate = 140
	}
	if c.Panel.Addr == "" {
		c.Panel.Addr = ":8080"
	}
	if c.Panel.RateLimit == 0 {
		c.Panel.RateLimit = 30
	}
	if c.Panel.RateWindow == "" {
		c.Panel.RateWindow = "1m"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"home-controller/config"
	"home-controller/internal/application"
	"home-controller/internal/infra"
	"home-controller/internal/infra/audio"
	"home-controller/internal/infra/backend"
	"home-controller/internal/infra/mqtt"
	"home-controller/internal/infra/openai"
	"home-controller/internal/infra/panel"
	"home-controller/internal/infra/pushover"
	"home-controller/internal/infra/recognizer"
	"home-controller/internal/infra/speech"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	client := backend.NewClient(cfg.Backend.URL, duration(logger, "backend.timeout", cfg.Backend.Timeout, 15*time.Second))
	checkBackend(ctx, client, logger)

	format := application.DefaultAudioFormat()
	format.SampleRate = cfg.Recorder.SampleRate
	mic := audio.NewMicrophone(format, cfg.Voice.SilenceThreshold, logger.With("component", "microphone"))

	controller := application.NewController(
		application.Collaborators{
			Backend:     client,
			Uploader:    client,
			Bluetooth:   client,
			Recognizer:  createRecognizer(cfg, mic, logger),
			Capture:     createCapture(cfg.Recorder, mic, logger),
			Engine:      createSpeechEngine(cfg.Speech, logger),
			Mirror:      createMirror(cfg.Pushover),
			LiveSources: createLiveSources(cfg, logger),
		},
		application.Options{
			Gateway:         application.GatewayOptions{DiscardStale: cfg.Gateway.DiscardStaleResponses},
			Phrases:         phrases(cfg.Phrases),
			Language:        cfg.Voice.Language,
			SecureContext:   backend.SecureContext(cfg.Backend.URL) || cfg.Recorder.AllowInsecure,
			RefreshInterval: duration(logger, "backend.refresh_interval", cfg.Backend.RefreshInterval, 5*time.Minute),
		},
		logger,
	)

	server := panel.NewServer(panel.Config{
		Addr:       cfg.Panel.Addr,
		AuthToken:  cfg.Panel.AuthToken,
		RateLimit:  cfg.Panel.RateLimit,
		RateWindow: duration(logger, "panel.rate_window", cfg.Panel.RateWindow, time.Minute),
	}, controller, logger.With("component", "panel"))
	if err := server.Start(ctx); err != nil {
		logger.Error("starting panel", "error", err)
		os.Exit(1)
	}
	defer server.Stop()

	logger.Info("starting home controller",
		"backend", cfg.Backend.URL,
		"live", cfg.Live.Transport,
		"recognizer", cfg.Voice.Recognizer,
		"recorder", cfg.Recorder.Device,
		"panel", server.Addr(),
	)

	if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("controller error", "error", err)
		os.Exit(1)
	}
}

func checkBackend(ctx context.Context, client *backend.Client, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	status, err := client.Status(ctx)
	if err != nil {
		logger.Warn("backend status unavailable", "url", client.BaseURL(), "error", err)
		return
	}
	logger.Info("backend reachable", "status", status.Status, "devices", status.DevicesCount)
}

func createRecognizer(cfg *config.Config, mic *audio.Microphone, logger *slog.Logger) application.Recognizer {
	logger = logger.With("component", "recognizer")
	switch cfg.Voice.Recognizer {
	case "command":
		return recognizer.NewCommand(cfg.Voice.Command, cfg.Voice.Args, logger)
	case "whisper":
		if cfg.OpenAI.APIKey == "" {
			logger.Warn("whisper recognizer needs openai.api_key, voice disabled")
			return nil
		}
		var transcriber *openai.WhisperClient
		if cfg.OpenAI.BaseURL != "" {
			transcriber = openai.NewWhisperClientWithURL(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
		} else {
			transcriber = openai.NewWhisperClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		}
		return recognizer.NewWhisper(mic, transcriber, logger)
	case "none":
		return nil
	default:
		logger.Warn("unknown recognizer, voice disabled", "recognizer", cfg.Voice.Recognizer)
		return nil
	}
}

func createCapture(cfg config.RecorderConfig, mic *audio.Microphone, logger *slog.Logger) application.AudioCapture {
	switch cfg.Device {
	case "microphone":
		return mic
	case "file":
		return audio.NewFileCapture(cfg.FileDir)
	case "none":
		return nil
	default:
		logger.Warn("unknown recorder device, recording disabled", "device", cfg.Device)
		return nil
	}
}

func createSpeechEngine(cfg config.SpeechConfig, logger *slog.Logger) application.SpeechEngine {
	if cfg.Engine != "system" {
		return nil
	}
	engine, err := speech.NewSystem(cfg.Command, cfg.Voice, cfg.Rate)
	if err != nil {
		logger.Warn("speech synthesis unavailable", "error", err)
		return nil
	}
	return engine
}

func createMirror(cfg config.PushoverConfig) application.Notifier {
	if !cfg.Enabled {
		return &application.NoopNotifier{}
	}
	return pushover.NewClient(cfg.Token, cfg.UserKey, pushover.WithTitle(cfg.Title))
}

func createLiveSources(cfg *config.Config, logger *slog.Logger) []application.LiveSource {
	backoff := infra.BackoffConfig{
		InitialDelay: duration(logger, "live.reconnect_delay", cfg.Live.ReconnectDelay, 3*time.Second),
		MaxDelay:     duration(logger, "live.max_delay", cfg.Live.MaxDelay, 3*time.Second),
		Multiplier:   2.0,
	}
	if backoff.MaxDelay <= backoff.InitialDelay {
		backoff.Multiplier = 1.0
	}

	sse := func() application.LiveSource {
		return backend.NewStream(cfg.Backend.URL, backoff, logger.With("component", "sse"))
	}
	broker := func() application.LiveSource {
		return mqtt.NewSource(mqtt.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			TLS:            cfg.MQTT.TLS,
			Topic:          cfg.MQTT.Topic,
			QoS:            cfg.MQTT.QoS,
			ReconnectDelay: backoff.InitialDelay,
			MaxReconnect:   backoff.MaxDelay,
		}, logger.With("component", "mqtt"))
	}

	switch cfg.Live.Transport {
	case "sse":
		return []application.LiveSource{sse()}
	case "mqtt":
		return []application.LiveSource{broker()}
	case "both":
		return []application.LiveSource{sse(), broker()}
	case "none":
		return nil
	default:
		logger.Warn("unknown live transport, using sse", "transport", cfg.Live.Transport)
		return []application.LiveSource{sse()}
	}
}

func phrases(cfg config.PhrasesConfig) application.Phrases {
	return application.Phrases{
		CommandFailed:         cfg.CommandFailed,
		NoDevicesFound:        cfg.NoDevicesFound,
		BluetoothError:        cfg.BluetoothError,
		BluetoothConnected:    cfg.BluetoothConnected,
		BluetoothDisconnected: cfg.BluetoothDisconnected,
	}
}

func duration(logger *slog.Logger, name, value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("invalid duration, using default", "setting", name, "value", value, "error", err)
		return def
	}
	return d
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

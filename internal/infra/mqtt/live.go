package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"home-controller/internal/domain"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	maxQoS                   = 2
)

var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrInvalidQoS       = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic     = errors.New("mqtt: topic cannot be empty")
)

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	TLS      bool
	// Topic carries full {"thermometers": ...} snapshots; Topic/<room> carries one
	// room's reading.
	Topic          string
	QoS            byte
	ReconnectDelay time.Duration
	MaxReconnect   time.Duration
}

// Source is a live-update feed over MQTT. Reconnection and resubscription are left to
// paho.
type Source struct {
	cfg    Config
	logger *slog.Logger
}

func NewSource(cfg Config, logger *slog.Logger) *Source {
	return &Source{
		cfg:    cfg,
		logger: logger,
	}
}

func (s *Source) Name() string { return "mqtt" }

// Stream connects, subscribes on every (re)connect and delivers messages until ctx is
// done.
func (s *Source) Stream(ctx context.Context, deliver func(domain.LiveUpdate)) error {
	if s.cfg.Topic == "" {
		return ErrInvalidTopic
	}
	if s.cfg.QoS > maxQoS {
		return ErrInvalidQoS
	}

	filters := map[string]byte{
		s.cfg.Topic:        s.cfg.QoS,
		s.cfg.Topic + "/+": s.cfg.QoS,
	}
	handler := s.wrapHandler(deliver)

	opts := buildClientOptions(s.cfg)
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		s.logger.Info("mqtt connected", "broker", s.cfg.Broker, "topic", s.cfg.Topic)
		token := c.SubscribeMultiple(filters, handler)
		go func() {
			if !token.WaitTimeout(defaultConnectTimeout) {
				s.logger.Error("mqtt subscribe timed out", "topic", s.cfg.Topic)
				return
			}
			if err := token.Error(); err != nil {
				s.logger.Error("mqtt subscribe failed", "error", fmt.Errorf("%w: %w", ErrSubscribeFailed, err))
			}
		}()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		s.logger.Debug("mqtt reconnecting")
	})

	client := pahomqtt.NewClient(opts)
	defer client.Disconnect(defaultDisconnectQuiesce)

	// With ConnectRetry set the token completes only once connected.
	token := client.Connect()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

func (s *Source) wrapHandler(deliver func(domain.LiveUpdate)) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("mqtt handler panic recovered", "topic", msg.Topic(), "panic", r)
			}
		}()

		room, ok := RoomFromTopic(s.cfg.Topic, msg.Topic())
		if !ok {
			s.logger.Debug("ignoring mqtt message", "topic", msg.Topic())
			return
		}
		deliver(domain.LiveUpdate{Room: room, Payload: msg.Payload()})
	}
}

// RoomFromTopic returns "" for the snapshot topic itself and the last level for a
// room topic.
func RoomFromTopic(base, topic string) (string, bool) {
	if topic == base {
		return "", true
	}
	room, found := strings.CutPrefix(topic, base+"/")
	if !found || room == "" || strings.Contains(room, "/") {
		return "", false
	}
	return room, true
}

func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if cfg.ReconnectDelay > 0 {
		opts.SetConnectRetryInterval(cfg.ReconnectDelay)
	}
	if cfg.MaxReconnect > 0 {
		opts.SetMaxReconnectInterval(cfg.MaxReconnect)
	}
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"geotrack-cloud/internal/logging"
	"geotrack-cloud/internal/observability/metrics"
	"geotrack-cloud/internal/transport"
)

const (
	topicSeparator  = "/"
	topicWildcard   = "+"
	connectTimeout  = 15 * time.Second
	messageTimeout  = 30 * time.Second
	defaultWorkers  = 8
	defaultQueue    = 256
	disconnectQuiet = 250
)

// Config holds broker settings.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TelemetryTopic string
	HeartbeatTopic string
	QoS            byte
	Workers        int
}

// Subscriber consumes device telemetry from an MQTT broker.
type Subscriber struct {
	cfg       Config
	ingestor  transport.Ingestor
	telemetry transport.Pattern
	heartbeat *transport.Pattern
	router    *transport.Router
	client    paho.Client
	logger    logrus.FieldLogger
}

// NewSubscriber validates cfg and constructs a subscriber.
func NewSubscriber(cfg Config, ingestor transport.Ingestor, logger logrus.FieldLogger) (*Subscriber, error) {
	if ingestor == nil {
		return nil, errors.New("mqtt: nil ingestor")
	}
	if cfg.Broker == "" {
		return nil, errors.New("mqtt: empty broker url")
	}
	telemetry, err := transport.ParsePattern(cfg.TelemetryTopic, topicSeparator)
	if err != nil {
		return nil, err
	}
	s := &Subscriber{
		cfg:       cfg,
		ingestor:  ingestor,
		telemetry: telemetry,
		logger:    logging.OrStandard(logger).WithField("component", "mqtt"),
	}
	if cfg.HeartbeatTopic != "" {
		heartbeat, err := transport.ParsePattern(cfg.HeartbeatTopic, topicSeparator)
		if err != nil {
			return nil, err
		}
		s.heartbeat = &heartbeat
	}
	if s.cfg.Workers <= 0 {
		s.cfg.Workers = defaultWorkers
	}
	return s, nil
}

// Start connects and subscribes. Subscriptions are renewed on every
// reconnect.
func (s *Subscriber) Start(ctx context.Context) error {
	s.router = transport.NewRouter(s.cfg.Workers, defaultQueue)
	opts := paho.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetUsername(s.cfg.Username).
		SetPassword(s.cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(s.subscribe).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			s.logger.WithError(err).Warn("mqtt connection lost")
		})
	s.client = paho.NewClient(opts)

	token := s.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(connectTimeout):
		s.logger.WithField("broker", s.cfg.Broker).Warn("mqtt connect pending, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}
	return nil
}

// Stop disconnects and drains queued messages.
func (s *Subscriber) Stop() {
	if s.client != nil {
		s.client.Disconnect(disconnectQuiet)
	}
	if s.router != nil {
		s.router.Stop()
	}
}

func (s *Subscriber) subscribe(client paho.Client) {
	filters := map[string]byte{s.telemetry.Subscription(topicWildcard): s.cfg.QoS}
	if s.heartbeat != nil {
		filters[s.heartbeat.Subscription(topicWildcard)] = s.cfg.QoS
	}
	token := client.SubscribeMultiple(filters, func(_ paho.Client, msg paho.Message) {
		s.handle(msg)
	})
	switch err := awaitToken(token, connectTimeout); {
	case errors.Is(err, errTokenTimeout):
		s.logger.WithField("topics", len(filters)).Warn("mqtt subscribe timed out")
	case err != nil:
		s.logger.WithError(err).Error("mqtt subscribe failed")
	default:
		s.logger.WithField("topics", len(filters)).Info("mqtt subscribed")
	}
}

var errTokenTimeout = errors.New("mqtt: token timed out")

// awaitToken waits for a broker acknowledgement and separates a timeout
// from a broker-reported error.
func awaitToken(token paho.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return errTokenTimeout
	}
	return token.Error()
}

// handle routes a message to the device's worker. The payload is copied
// because paho may reuse the buffer.
func (s *Subscriber) handle(msg paho.Message) {
	topic := msg.Topic()
	if key, ok := s.telemetry.Key(topic); ok {
		payload := append([]byte(nil), msg.Payload()...)
		s.router.Submit(key, func() {
			ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
			defer cancel()
			s.ingestor.Ingest(ctx, key, payload)
		})
		return
	}
	if s.heartbeat != nil {
		if key, ok := s.heartbeat.Key(topic); ok {
			s.router.Submit(key, func() {
				ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
				defer cancel()
				s.ingestor.HeartbeatAsync(ctx, key)
			})
			return
		}
	}
	metrics.IncIngestError("unknown_topic")
	s.logger.WithField("topic", topic).Warn("message on unexpected topic")
}

package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"geotrack-cloud/internal/logging"
	"geotrack-cloud/internal/observability/metrics"
	"geotrack-cloud/internal/transport"
)

const (
	subjectSeparator = "."
	subjectWildcard  = "*"
	messageTimeout   = 30 * time.Second
	defaultWorkers   = 8
	defaultQueue     = 256
)

// Config holds connection settings.
type Config struct {
	URL              string
	Name             string
	TelemetrySubject string
	HeartbeatSubject string
	// QueueGroup load-balances subjects across replicas when set.
	QueueGroup string
	Workers    int
}

// Subscriber consumes device telemetry from NATS core subjects.
type Subscriber struct {
	cfg       Config
	ingestor  transport.Ingestor
	telemetry transport.Pattern
	heartbeat *transport.Pattern
	router    *transport.Router
	conn      *natsgo.Conn
	subs      []*natsgo.Subscription
	logger    logrus.FieldLogger
}

// NewSubscriber validates cfg and constructs a subscriber.
func NewSubscriber(cfg Config, ingestor transport.Ingestor, logger logrus.FieldLogger) (*Subscriber, error) {
	if ingestor == nil {
		return nil, errors.New("nats: nil ingestor")
	}
	if cfg.URL == "" {
		return nil, errors.New("nats: empty url")
	}
	telemetry, err := transport.ParsePattern(cfg.TelemetrySubject, subjectSeparator)
	if err != nil {
		return nil, err
	}
	s := &Subscriber{
		cfg:       cfg,
		ingestor:  ingestor,
		telemetry: telemetry,
		logger:    logging.OrStandard(logger).WithField("component", "nats"),
	}
	if cfg.HeartbeatSubject != "" {
		heartbeat, err := transport.ParsePattern(cfg.HeartbeatSubject, subjectSeparator)
		if err != nil {
			return nil, err
		}
		s.heartbeat = &heartbeat
	}
	if s.cfg.Workers <= 0 {
		s.cfg.Workers = defaultWorkers
	}
	if s.cfg.Name == "" {
		s.cfg.Name = "geotrack-ingest"
	}
	return s, nil
}

// Start connects and subscribes to the telemetry and heartbeat subjects.
func (s *Subscriber) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := natsgo.Connect(s.cfg.URL,
		natsgo.Name(s.cfg.Name),
		natsgo.MaxReconnects(-1),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				s.logger.WithError(err).Warn("nats disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(c *natsgo.Conn) {
			s.logger.WithField("url", c.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("nats: connect: %w", err)
	}
	s.conn = conn
	s.router = transport.NewRouter(s.cfg.Workers, defaultQueue)

	subjects := []string{s.telemetry.Subscription(subjectWildcard)}
	if s.heartbeat != nil {
		subjects = append(subjects, s.heartbeat.Subscription(subjectWildcard))
	}
	for _, subject := range subjects {
		var sub *natsgo.Subscription
		if s.cfg.QueueGroup != "" {
			sub, err = conn.QueueSubscribe(subject, s.cfg.QueueGroup, s.handle)
		} else {
			sub, err = conn.Subscribe(subject, s.handle)
		}
		if err != nil {
			s.Stop()
			return fmt.Errorf("nats: subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.logger.WithField("subjects", subjects).Info("nats subscribed")
	return nil
}

// Stop drains subscriptions, closes the connection and waits for queued
// messages.
func (s *Subscriber) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	if s.conn != nil {
		s.conn.Close()
	}
	if s.router != nil {
		s.router.Stop()
	}
}

func (s *Subscriber) handle(msg *natsgo.Msg) {
	if key, ok := s.telemetry.Key(msg.Subject); ok {
		payload := msg.Data
		s.router.Submit(key, func() {
			ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
			defer cancel()
			s.ingestor.Ingest(ctx, key, payload)
		})
		return
	}
	if s.heartbeat != nil {
		if key, ok := s.heartbeat.Key(msg.Subject); ok {
			s.router.Submit(key, func() {
				ctx, cancel := context.WithTimeout(context.Background(), messageTimeout)
				defer cancel()
				s.ingestor.HeartbeatAsync(ctx, key)
			})
			return
		}
	}
	metrics.IncIngestError("unknown_topic")
	s.logger.WithField("subject", msg.Subject).Warn("message on unexpected subject")
}

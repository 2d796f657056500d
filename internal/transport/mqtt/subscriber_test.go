package mqtt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"geotrack-cloud/internal/transport"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type recordingIngestor struct {
	mu         sync.Mutex
	samples    map[string][]string
	heartbeats []string
}

func (r *recordingIngestor) Ingest(_ context.Context, key string, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.samples == nil {
		r.samples = map[string][]string{}
	}
	r.samples[key] = append(r.samples[key], string(raw))
}

func (r *recordingIngestor) HeartbeatAsync(_ context.Context, key string) {
	r.mu.Lock()
	r.heartbeats = append(r.heartbeats, key)
	r.mu.Unlock()
}

func TestHandleRoutesByTopic(t *testing.T) {
	ingestor := &recordingIngestor{}
	s, err := NewSubscriber(Config{
		Broker:         "tcp://localhost:1883",
		TelemetryTopic: "devices/{id}/telemetry",
		HeartbeatTopic: "devices/{id}/heartbeat",
	}, ingestor, nil)
	if err != nil {
		t.Fatalf("new subscriber: %v", err)
	}
	s.router = transport.NewRouter(2, 4)

	payload := []byte(`{"latitude":1,"longitude":2}`)
	s.handle(fakeMessage{topic: "devices/dev-1/telemetry", payload: payload})
	payload[0] = 'X'
	s.handle(fakeMessage{topic: "devices/dev-1/heartbeat"})
	s.handle(fakeMessage{topic: "devices/dev-1/unknown"})
	s.router.Stop()

	if got := ingestor.samples["dev-1"]; len(got) != 1 || got[0] != `{"latitude":1,"longitude":2}` {
		t.Fatalf("unexpected samples %v", got)
	}
	if len(ingestor.heartbeats) != 1 || ingestor.heartbeats[0] != "dev-1" {
		t.Fatalf("unexpected heartbeats %v", ingestor.heartbeats)
	}
}

func TestNewSubscriberValidates(t *testing.T) {
	if _, err := NewSubscriber(Config{TelemetryTopic: "devices/{id}/telemetry"}, &recordingIngestor{}, nil); err == nil {
		t.Fatalf("expected error for empty broker")
	}
	if _, err := NewSubscriber(Config{Broker: "tcp://x:1883", TelemetryTopic: "devices/telemetry"}, &recordingIngestor{}, nil); err == nil {
		t.Fatalf("expected error for topic without placeholder")
	}
	if _, err := NewSubscriber(Config{Broker: "tcp://x:1883", TelemetryTopic: "devices/{id}"}, nil, nil); err == nil {
		t.Fatalf("expected error for nil ingestor")
	}
}

type fakeToken struct {
	done bool
	err  error
}

func (t fakeToken) Wait() bool                     { return t.done }
func (t fakeToken) WaitTimeout(time.Duration) bool { return t.done }
func (t fakeToken) Done() <-chan struct{}          { return make(chan struct{}) }
func (t fakeToken) Error() error                   { return t.err }

type subscribeClient struct {
	paho.Client
	token   fakeToken
	filters map[string]byte
}

func (c *subscribeClient) SubscribeMultiple(filters map[string]byte, _ paho.MessageHandler) paho.Token {
	c.filters = filters
	return c.token
}

func TestSubscribeLogsOutcome(t *testing.T) {
	cases := map[string]struct {
		token   fakeToken
		level   logrus.Level
		message string
	}{
		"acknowledged": {fakeToken{done: true}, logrus.InfoLevel, "mqtt subscribed"},
		"timed out":    {fakeToken{done: false}, logrus.WarnLevel, "mqtt subscribe timed out"},
		"rejected":     {fakeToken{done: true, err: errors.New("not authorized")}, logrus.ErrorLevel, "mqtt subscribe failed"},
	}
	for name, tc := range cases {
		logger, hook := logtest.NewNullLogger()
		s, err := NewSubscriber(Config{
			Broker:         "tcp://localhost:1883",
			TelemetryTopic: "devices/{id}/telemetry",
			HeartbeatTopic: "devices/{id}/heartbeat",
		}, &recordingIngestor{}, logger)
		if err != nil {
			t.Fatalf("%s: new subscriber: %v", name, err)
		}
		client := &subscribeClient{token: tc.token}
		s.subscribe(client)

		if len(client.filters) != 2 {
			t.Fatalf("%s: expected 2 filters, got %v", name, client.filters)
		}
		if len(hook.AllEntries()) != 1 {
			t.Fatalf("%s: expected one log entry, got %d", name, len(hook.AllEntries()))
		}
		entry := hook.LastEntry()
		if entry.Level != tc.level || entry.Message != tc.message {
			t.Fatalf("%s: unexpected log %s %q", name, entry.Level, entry.Message)
		}
	}
}

func TestAwaitTokenSeparatesTimeout(t *testing.T) {
	if err := awaitToken(fakeToken{done: true}, time.Second); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if err := awaitToken(fakeToken{done: false}, time.Second); !errors.Is(err, errTokenTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	brokerErr := errors.New("not authorized")
	if err := awaitToken(fakeToken{done: true, err: brokerErr}, time.Second); !errors.Is(err, brokerErr) {
		t.Fatalf("expected broker error, got %v", err)
	}
}

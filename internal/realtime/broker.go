package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"geotrack-cloud/internal/logging"
	"geotrack-cloud/internal/observability/metrics"
)

// Event names published by the ingestion core.
const (
	EventLocation   = "location"
	EventHeartbeat  = "heartbeat"
	EventInactivity = "inactivity"
)

const defaultBuffer = 16

// Event is one message delivered to subscribers.
type Event struct {
	ID   string
	Name string
	Data []byte
}

// SSEBroker fans out events to connected clients. Delivery is at most
// once: events for a full subscriber buffer are dropped and nothing is
// retained for clients that connect later.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan Event]struct{}
	buffer  int
	logger  logrus.FieldLogger
}

// BrokerOption configures the broker.
type BrokerOption func(*SSEBroker)

// WithBuffer sets the per-subscriber buffer size.
func WithBuffer(size int) BrokerOption {
	return func(b *SSEBroker) {
		if size > 0 {
			b.buffer = size
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) BrokerOption {
	return func(b *SSEBroker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewSSEBroker constructs a broker.
func NewSSEBroker(opts ...BrokerOption) *SSEBroker {
	b := &SSEBroker{clients: make(map[chan Event]struct{}), buffer: defaultBuffer}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = logging.OrStandard(b.logger).WithField("component", "realtime")
	return b
}

// Publish encodes payload as JSON and fans it out without blocking.
func (b *SSEBroker) Publish(name string, payload any) {
	if b == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.WithError(err).WithField("event", name).Warn("encode realtime event")
		return
	}
	b.broadcast(Event{ID: uuid.NewString(), Name: name, Data: data})
}

// Subscribe registers a new client channel.
func (b *SSEBroker) Subscribe() chan Event {
	if b == nil {
		return nil
	}
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	count := len(b.clients)
	b.mu.Unlock()
	metrics.SetRealtimeSubscribers(count)
	return ch
}

// Unsubscribe removes and closes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan Event) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
	count := len(b.clients)
	b.mu.Unlock()
	metrics.SetRealtimeSubscribers(count)
}

// Subscribers returns the number of connected clients.
func (b *SSEBroker) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// broadcast sends under the lock so Unsubscribe never closes a channel
// mid-send; sends never block.
func (b *SSEBroker) broadcast(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- event:
		default:
			metrics.IncRealtimeDropped()
		}
	}
}

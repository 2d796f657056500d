package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"geotrack-cloud/internal/logging"
	"geotrack-cloud/internal/observability/metrics"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxInFlight = 64
)

// AddressResolver returns a short human-readable address for a point.
type AddressResolver interface {
	ShortAddress(ctx context.Context, lat, lng float64) (string, error)
}

// Dispatcher renders and sends alerts on background goroutines so the
// ingestion path never waits on the notification channel.
type Dispatcher struct {
	channel     Channel
	template    *Template
	resolver    AddressResolver
	mapLinkBase string
	timeout     time.Duration
	maxInFlight int64
	logger      logrus.FieldLogger

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithResolver sets the address resolver used to enrich alerts.
func WithResolver(resolver AddressResolver) DispatcherOption {
	return func(d *Dispatcher) {
		if resolver != nil {
			d.resolver = resolver
		}
	}
}

// WithMapLinkBase overrides the map link prefix.
func WithMapLinkBase(base string) DispatcherOption {
	return func(d *Dispatcher) {
		if base != "" {
			d.mapLinkBase = base
		}
	}
}

// WithTimeout bounds each alert, address lookup included.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMaxInFlight bounds concurrent deliveries. Alerts beyond the bound
// are dropped and logged.
func WithMaxInFlight(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxInFlight = int64(n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs an alert dispatcher.
func NewDispatcher(channel Channel, template *Template, opts ...DispatcherOption) (*Dispatcher, error) {
	if channel == nil {
		return nil, errors.New("alert dispatcher: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	d := &Dispatcher{
		channel:     channel,
		template:    template,
		mapLinkBase: DefaultMapLinkBase,
		timeout:     defaultTimeout,
		maxInFlight: defaultMaxInFlight,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.OrStandard(d.logger).WithField("component", "alerts")
	d.sem = semaphore.NewWeighted(d.maxInFlight)
	return d, nil
}

// Dispatch renders and sends alert in the background.
func (d *Dispatcher) Dispatch(alert Alert) {
	if d == nil {
		return
	}
	fields := logrus.Fields{"device": alert.DeviceKey, "event": string(alert.Kind)}
	d.spawn(fields, func(ctx context.Context) (string, error) {
		return d.Render(ctx, alert)
	})
}

// Render builds the alert text. Address lookup failures degrade to
// AddressUnavailable.
func (d *Dispatcher) Render(ctx context.Context, alert Alert) (string, error) {
	address := ""
	if alert.Location != nil && d.resolver != nil {
		resolved, err := d.resolver.ShortAddress(ctx, alert.Location.Lat, alert.Location.Lng)
		if err != nil {
			d.logger.WithError(err).WithField("device", alert.DeviceKey).Warn("address lookup failed")
		} else {
			address = resolved
		}
	}
	return d.template.Render(BuildTemplateData(alert, address, d.mapLinkBase))
}

// Close stops accepting alerts and waits for in-flight deliveries until
// ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) spawn(fields logrus.Fields, build func(ctx context.Context) (string, error)) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		metrics.ObserveAlertDispatch(metrics.ResultDropped, 0)
		d.logger.WithFields(fields).Warn("alert dropped: dispatcher closed")
		return false
	}
	if !d.sem.TryAcquire(1) {
		d.mu.Unlock()
		metrics.ObserveAlertDispatch(metrics.ResultDropped, 0)
		d.logger.WithFields(fields).Warn("alert dropped: too many in flight")
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		start := time.Now()
		text, err := build(ctx)
		if err == nil {
			err = d.channel.Send(ctx, text)
		}
		elapsed := time.Since(start)
		switch {
		case err == nil:
			metrics.ObserveAlertDispatch(metrics.ResultSuccess, elapsed)
			d.logger.WithFields(fields).Debug("alert sent")
		case errors.Is(err, ErrNotConfigured):
			metrics.ObserveAlertDispatch(metrics.ResultNotConfigured, elapsed)
			d.logger.WithFields(fields).Debug("alert skipped: notification channel not configured")
		default:
			metrics.ObserveAlertDispatch(metrics.ResultError, elapsed)
			d.logger.WithFields(fields).WithError(err).Warn("alert delivery failed")
		}
	}()
	return true
}

package inactivity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"geotrack-cloud/internal/clock"
	"geotrack-cloud/internal/logging"
)

const defaultCallbackTimeout = 10 * time.Second

// Listener receives inactivity transitions. alert is false when the
// matching cooldown suppresses the notification; the transition itself
// still happens.
type Listener interface {
	DeviceInactive(ctx context.Context, deviceKey string, alert bool)
	DeviceActive(ctx context.Context, deviceKey string, alert bool)
}

// Locker serializes work per device. Timer expiry takes the same lock as
// the ingestion path so expiry and ingestion never interleave.
type Locker interface {
	Lock(key string) (unlock func())
}

// Config holds scheduler durations.
type Config struct {
	Timeout               time.Duration
	InactiveAlertCooldown time.Duration
	ActiveAlertCooldown   time.Duration
	CallbackTimeout       time.Duration
}

// Seed is the persisted view of a device used to rebuild timers at startup.
type Seed struct {
	DeviceKey string
	LastSeen  time.Time
	Inactive  bool
}

// State is a snapshot of a device's scheduler entry.
type State struct {
	Inactive            bool
	Scheduled           bool
	LastInactiveAlertAt time.Time
	LastActiveAlertAt   time.Time
}

type entry struct {
	inactive            bool
	lastInactiveAlertAt time.Time
	lastActiveAlertAt   time.Time
	timer               clock.Timer
	gen                 uint64
}

// Scheduler keeps exactly one pending inactivity timer per device.
type Scheduler struct {
	cfg      Config
	clock    clock.Clock
	listener Listener
	locks    Locker
	logger   logrus.FieldLogger

	mu      sync.Mutex
	entries map[string]*entry
	stopped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLocker sets the per-device lock shared with the ingestion path.
func WithLocker(locks Locker) Option {
	return func(s *Scheduler) {
		if locks != nil {
			s.locks = locks
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScheduler constructs a scheduler.
func NewScheduler(cfg Config, listener Listener, opts ...Option) (*Scheduler, error) {
	if listener == nil {
		return nil, errors.New("inactivity: nil listener")
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("inactivity: timeout must be positive")
	}
	if cfg.CallbackTimeout <= 0 {
		cfg.CallbackTimeout = defaultCallbackTimeout
	}
	s := &Scheduler{
		cfg:      cfg,
		clock:    clock.Real(),
		listener: listener,
		locks:    noopLocker{},
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrStandard(s.logger).WithField("component", "inactivity")
	return s, nil
}

// Bump records activity for a device: it cancels the pending timer,
// schedules a fresh one, and reports reactivation when the device was
// inactive. Callers on the ingestion path hold the device lock.
func (s *Scheduler) Bump(deviceKey string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	e := s.entryLocked(deviceKey)
	reactivated := e.inactive
	alert := false
	if reactivated {
		e.inactive = false
		now := s.clock.Now()
		if e.lastActiveAlertAt.IsZero() || now.Sub(e.lastActiveAlertAt) >= s.cfg.ActiveAlertCooldown {
			alert = true
			e.lastActiveAlertAt = now
		}
	}
	s.scheduleLocked(deviceKey, e, s.cfg.Timeout)
	s.mu.Unlock()

	if reactivated {
		s.logger.WithFields(logrus.Fields{"device": deviceKey, "alert": alert}).Info("device active again")
		ctx, cancel := s.callbackContext()
		defer cancel()
		s.listener.DeviceActive(ctx, deviceKey, alert)
	}
}

// Restore rebuilds timers from persisted device state. Devices already
// stored as inactive get no timer and are reported active on their next
// bump; devices never seen are skipped. Overdue devices expire on the
// next timer tick.
func (s *Scheduler) Restore(seeds []Seed) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}
	now := s.clock.Now()
	restored := 0
	for _, seed := range seeds {
		if seed.DeviceKey == "" || seed.LastSeen.IsZero() {
			continue
		}
		e := s.entryLocked(seed.DeviceKey)
		if seed.Inactive {
			e.inactive = true
			s.cancelLocked(e)
			continue
		}
		remaining := s.cfg.Timeout - now.Sub(seed.LastSeen)
		if remaining < 0 {
			remaining = 0
		}
		s.scheduleLocked(seed.DeviceKey, e, remaining)
		restored++
	}
	s.logger.WithField("timers", restored).Info("inactivity timers restored")
	return restored
}

// State returns a snapshot of the device's entry.
func (s *Scheduler) State(deviceKey string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[deviceKey]
	if !ok {
		return State{}, false
	}
	return State{
		Inactive:            e.inactive,
		Scheduled:           e.timer != nil,
		LastInactiveAlertAt: e.lastInactiveAlertAt,
		LastActiveAlertAt:   e.lastActiveAlertAt,
	}, true
}

// Stop cancels every pending timer. Later bumps are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, e := range s.entries {
		s.cancelLocked(e)
	}
}

func (s *Scheduler) entryLocked(deviceKey string) *entry {
	e := s.entries[deviceKey]
	if e == nil {
		e = &entry{}
		s.entries[deviceKey] = e
	}
	return e
}

func (s *Scheduler) cancelLocked(e *entry) {
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (s *Scheduler) scheduleLocked(deviceKey string, e *entry, d time.Duration) {
	s.cancelLocked(e)
	gen := e.gen
	e.timer = s.clock.AfterFunc(d, func() { s.expire(deviceKey, gen) })
}

// expire runs on the timer goroutine. A generation mismatch means the
// timer was superseded after it fired, so the callback does nothing.
func (s *Scheduler) expire(deviceKey string, gen uint64) {
	unlock := s.locks.Lock(deviceKey)
	defer unlock()

	s.mu.Lock()
	e := s.entries[deviceKey]
	if s.stopped || e == nil || e.gen != gen || e.inactive {
		s.mu.Unlock()
		return
	}
	e.inactive = true
	e.timer = nil
	now := s.clock.Now()
	alert := e.lastInactiveAlertAt.IsZero() || now.Sub(e.lastInactiveAlertAt) >= s.cfg.InactiveAlertCooldown
	if alert {
		e.lastInactiveAlertAt = now
	}
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{"device": deviceKey, "alert": alert}).Info("device inactive")
	ctx, cancel := s.callbackContext()
	defer cancel()
	s.listener.DeviceInactive(ctx, deviceKey, alert)
}

func (s *Scheduler) callbackContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.CallbackTimeout)
}

type noopLocker struct{}

func (noopLocker) Lock(string) func() { return func() {} }

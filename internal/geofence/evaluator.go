package geofence

import (
	"errors"
	"sync"
	"time"

	tracking "geotrack-cloud/internal/tracking/domain"
)

// Event is a boundary crossing worth alerting on.
type Event string

const (
	EventNone  Event = ""
	EventEnter Event = "ENTER"
	EventExit  Event = "EXIT"
)

// Presence is the last observed side of the boundary.
type Presence int

const (
	PresenceUnknown Presence = iota
	PresenceInside
	PresenceOutside
)

func (p Presence) String() string {
	switch p {
	case PresenceInside:
		return "inside"
	case PresenceOutside:
		return "outside"
	default:
		return "unknown"
	}
}

// State is the transient per-device runtime state. It is never persisted;
// after a restart every device starts again from PresenceUnknown.
type State struct {
	Presence     Presence
	LastEvent    Event
	LastAlertAt  time.Time
	OutsideSince time.Time
	InsideSince  time.Time
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Event  Event
	Inside bool
	// OutsideFor is the dwell duration that confirmed an EXIT.
	OutsideFor time.Duration
}

// Alert reports whether the decision carries an alert intent.
func (d Decision) Alert() bool { return d.Event != EventNone }

// Evaluator runs the per-device inside/outside state machine.
type Evaluator struct {
	exitDwell time.Duration
	cooldown  time.Duration

	mu     sync.Mutex
	states map[string]*State
}

// NewEvaluator constructs an evaluator. exitDwell is how long a device must
// stay outside before EXIT fires; cooldown throttles repeated EXIT alerts.
func NewEvaluator(exitDwell, cooldown time.Duration) (*Evaluator, error) {
	if exitDwell < 0 || cooldown < 0 {
		return nil, errors.New("geofence: negative duration")
	}
	return &Evaluator{
		exitDwell: exitDwell,
		cooldown:  cooldown,
		states:    make(map[string]*State),
	}, nil
}

// Evaluate classifies p against fences at time now and advances the
// device's state. With no usable fence the evaluator takes no action.
func (e *Evaluator) Evaluate(deviceKey string, fences []tracking.Polygon, p tracking.Point, now time.Time) Decision {
	if e == nil || !(tracking.Device{Geofence: fences}).HasGeofence() {
		return Decision{}
	}
	inside := Contains(fences, p)

	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.states[deviceKey]
	if state == nil {
		state = &State{}
		e.states[deviceKey] = state
	}

	switch state.Presence {
	case PresenceUnknown:
		// First observation only records the side; the dwell clock starts
		// on a real Inside->Outside transition.
		if inside {
			state.Presence = PresenceInside
			state.InsideSince = now
		} else {
			state.Presence = PresenceOutside
		}
		return Decision{Inside: inside}

	case PresenceInside:
		if inside {
			return Decision{Inside: true}
		}
		state.Presence = PresenceOutside
		state.OutsideSince = now
		state.InsideSince = time.Time{}
		return Decision{}

	case PresenceOutside:
		if inside {
			state.Presence = PresenceInside
			state.InsideSince = now
			state.OutsideSince = time.Time{}
			state.LastEvent = EventEnter
			state.LastAlertAt = now
			return Decision{Event: EventEnter, Inside: true}
		}
		if state.OutsideSince.IsZero() {
			return Decision{}
		}
		outsideFor := now.Sub(state.OutsideSince)
		if outsideFor < e.exitDwell {
			return Decision{}
		}
		if state.LastEvent == EventExit && now.Sub(state.LastAlertAt) < e.cooldown {
			return Decision{}
		}
		state.LastEvent = EventExit
		state.LastAlertAt = now
		return Decision{Event: EventExit, OutsideFor: outsideFor}
	}
	return Decision{}
}

// State returns a copy of the device's runtime state.
func (e *Evaluator) State(deviceKey string) (State, bool) {
	if e == nil {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.states[deviceKey]
	if !ok {
		return State{}, false
	}
	return *state, true
}

// Forget drops the runtime state of a device.
func (e *Evaluator) Forget(deviceKey string) {
	if e == nil {
		return
	}
	e.mu.Lock()
	delete(e.states, deviceKey)
	e.mu.Unlock()
}

package notify

import (
	"context"
	"errors"
	"fmt"
)

// Channel delivers rendered content.
type Channel interface {
	Send(ctx context.Context, content string) error
}

// ErrNotConfigured is returned by a channel that has no destination.
var ErrNotConfigured = errors.New("notify: channel not configured")

// SendError is a delivery failure reported by a configured channel.
type SendError struct {
	Channel    string
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("notify: %s: status %d: %v", e.Channel, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("notify: %s: %v", e.Channel, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// MultiChannel sends content to every channel.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel constructs a MultiChannel, skipping nil channels.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	m := &MultiChannel{}
	for _, channel := range channels {
		if channel != nil {
			m.channels = append(m.channels, channel)
		}
	}
	return m
}

// Send forwards content to all channels. It returns ErrNotConfigured only
// when no channel is configured, otherwise the joined delivery errors.
func (m *MultiChannel) Send(ctx context.Context, content string) error {
	if m == nil || len(m.channels) == 0 {
		return ErrNotConfigured
	}
	var errs []error
	configured := 0
	for _, channel := range m.channels {
		err := channel.Send(ctx, content)
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		configured++
		if err != nil {
			errs = append(errs, err)
		}
	}
	if configured == 0 {
		return ErrNotConfigured
	}
	return errors.Join(errs...)
}

package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Placeholder marks the device key segment in a topic pattern.
const Placeholder = "{id}"

// Ingestor receives decoded broker messages. Implementations must not
// panic or block on external services.
type Ingestor interface {
	Ingest(ctx context.Context, deviceKey string, raw []byte)
	HeartbeatAsync(ctx context.Context, deviceKey string)
}

// Pattern maps between a topic template such as "devices/{id}/telemetry"
// and concrete topics.
type Pattern struct {
	raw    string
	prefix string
	suffix string
	sep    string
}

// ParsePattern parses a template whose {id} placeholder fills exactly one
// segment delimited by sep.
func ParsePattern(pattern, sep string) (Pattern, error) {
	if sep == "" {
		return Pattern{}, errors.New("transport: empty separator")
	}
	if strings.Count(pattern, Placeholder) != 1 {
		return Pattern{}, fmt.Errorf("transport: pattern %q needs exactly one %s", pattern, Placeholder)
	}
	idx := strings.Index(pattern, Placeholder)
	prefix, suffix := pattern[:idx], pattern[idx+len(Placeholder):]
	if (prefix != "" && !strings.HasSuffix(prefix, sep)) || (suffix != "" && !strings.HasPrefix(suffix, sep)) {
		return Pattern{}, fmt.Errorf("transport: %s must be a whole segment in %q", Placeholder, pattern)
	}
	return Pattern{raw: pattern, prefix: prefix, suffix: suffix, sep: sep}, nil
}

// String returns the template.
func (p Pattern) String() string { return p.raw }

// Subscription substitutes the single-segment wildcard for the placeholder.
func (p Pattern) Subscription(wildcard string) string {
	return p.prefix + wildcard + p.suffix
}

// Key extracts the device key from a concrete topic.
func (p Pattern) Key(topic string) (string, bool) {
	if !strings.HasPrefix(topic, p.prefix) || !strings.HasSuffix(topic, p.suffix) {
		return "", false
	}
	if len(topic) < len(p.prefix)+len(p.suffix) {
		return "", false
	}
	key := topic[len(p.prefix) : len(topic)-len(p.suffix)]
	if key == "" || strings.Contains(key, p.sep) {
		return "", false
	}
	return key, true
}

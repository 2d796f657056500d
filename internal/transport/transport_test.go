package transport

import (
	"sync"
	"testing"
)

func TestPatternKey(t *testing.T) {
	p, err := ParsePattern("devices/{id}/telemetry", "/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := p.Subscription("+"); got != "devices/+/telemetry" {
		t.Fatalf("unexpected subscription %s", got)
	}
	key, ok := p.Key("devices/abc-123/telemetry")
	if !ok || key != "abc-123" {
		t.Fatalf("unexpected key %q %v", key, ok)
	}
	for _, topic := range []string{
		"devices//telemetry",
		"devices/a/b/telemetry",
		"devices/abc/heartbeat",
		"other/abc/telemetry",
		"devices/telemetry",
	} {
		if key, ok := p.Key(topic); ok {
			t.Fatalf("expected %s to be rejected, got %q", topic, key)
		}
	}
}

func TestPatternNATSAndEdges(t *testing.T) {
	p, err := ParsePattern("devices.{id}.telemetry", ".")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := p.Subscription("*"); got != "devices.*.telemetry" {
		t.Fatalf("unexpected subject %s", got)
	}
	if key, ok := p.Key("devices.imei-1.telemetry"); !ok || key != "imei-1" {
		t.Fatalf("unexpected key %q", key)
	}

	bare, err := ParsePattern("{id}", "/")
	if err != nil {
		t.Fatalf("parse bare: %v", err)
	}
	if key, ok := bare.Key("dev-1"); !ok || key != "dev-1" {
		t.Fatalf("unexpected bare key %q", key)
	}

	for _, bad := range []string{"devices/telemetry", "devices/{id}/{id}", "devices/x{id}/telemetry"} {
		if _, err := ParsePattern(bad, "/"); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestRouterKeepsPerKeyOrder(t *testing.T) {
	r := NewRouter(4, 8)
	var mu sync.Mutex
	seen := map[string][]int{}
	for i := 0; i < 100; i++ {
		key := []string{"a", "b", "c"}[i%3]
		i := i
		if !r.Submit(key, func() {
			mu.Lock()
			seen[key] = append(seen[key], i)
			mu.Unlock()
		}) {
			t.Fatalf("submit rejected")
		}
	}
	r.Stop()
	total := 0
	for key, order := range seen {
		total += len(order)
		for i := 1; i < len(order); i++ {
			if order[i] < order[i-1] {
				t.Fatalf("key %s out of order: %v", key, order)
			}
		}
	}
	if total != 100 {
		t.Fatalf("expected all jobs to run, got %d", total)
	}
	if r.Submit("a", func() {}) {
		t.Fatalf("expected submit after stop to be rejected")
	}
	r.Stop()
}

package tracking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"
)

var knownPayloadFields = map[string]struct{}{
	"latitude":   {},
	"longitude":  {},
	"speed":      {},
	"accuracy":   {},
	"satellites": {},
	"battery":    {},
	"timestamp":  {},
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// Optional fields stay raw so that one badly typed value cannot reject an
// otherwise valid position.
type rawPayload struct {
	Latitude   *float64        `json:"latitude"`
	Longitude  *float64        `json:"longitude"`
	Speed      json.RawMessage `json:"speed"`
	Accuracy   json.RawMessage `json:"accuracy"`
	Satellites json.RawMessage `json:"satellites"`
	Battery    json.RawMessage `json:"battery"`
	Timestamp  json.RawMessage `json:"timestamp"`
}

// ParseSample validates and normalizes a raw JSON telemetry body. A missing
// or malformed timestamp is replaced with now. An optional field with the
// wrong type is left unset, named in Sample.Ignored and kept verbatim in
// Metadata.
func ParseSample(raw []byte, now time.Time) (Sample, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Sample{}, &PayloadError{Reason: ReasonInvalidJSON, Detail: "empty body"}
	}
	var body rawPayload
	if err := json.Unmarshal(raw, &body); err != nil {
		return Sample{}, &PayloadError{Reason: ReasonInvalidJSON, Detail: err.Error()}
	}
	if body.Latitude == nil {
		return Sample{}, &PayloadError{Reason: ReasonMissingLatitude}
	}
	if body.Longitude == nil {
		return Sample{}, &PayloadError{Reason: ReasonMissingLongitude}
	}
	lat, lng := *body.Latitude, *body.Longitude
	if !finite(lat) || !finite(lng) || math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		return Sample{}, &PayloadError{Reason: ReasonOutOfRange, Detail: fmt.Sprintf("lat=%v lng=%v", lat, lng)}
	}

	sample := Sample{Point: Point{Lat: lat, Lng: lng}}
	ignore := func(field string) { sample.Ignored = append(sample.Ignored, field) }

	if v, ok := decodeOptional[float64](body.Speed); ok {
		sample.Speed = v
	} else {
		ignore("speed")
	}
	if v, ok := decodeOptional[float64](body.Accuracy); ok {
		sample.Accuracy = v
	} else {
		ignore("accuracy")
	}
	if v, ok := decodeOptional[float64](body.Satellites); !ok || (v != nil && (*v < 0 || *v != math.Trunc(*v))) {
		ignore("satellites")
	} else if v != nil {
		satellites := int(*v)
		sample.Satellites = &satellites
	}
	if v, ok := decodeOptional[Battery](body.Battery); !ok {
		ignore("battery")
	} else if v != nil && (v.Level != nil || v.IsCharging != nil) {
		sample.Battery = v
	}

	ts, ok := parseTimestamp(body.Timestamp)
	if !ok {
		ts = now
		sample.ServerTimestamp = true
	}
	sample.Timestamp = ts.UTC()
	sample.Metadata = extractMetadata(raw, sample.Ignored)
	return sample, nil
}

// decodeOptional decodes an optional field. A missing or null value yields
// (nil, true); a value of the wrong type yields (nil, false).
func decodeOptional[T any](raw json.RawMessage) (*T, bool) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, true
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return &v, true
}

func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, text); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	}
	var epoch float64
	if err := json.Unmarshal(raw, &epoch); err != nil || epoch <= 0 {
		return time.Time{}, false
	}
	// Accept milliseconds or seconds.
	if epoch > 1_000_000_000_000 {
		return time.UnixMilli(int64(epoch)), true
	}
	return time.Unix(int64(epoch), 0), true
}

// extractMetadata returns the unknown top-level fields plus the known ones
// listed in keep.
func extractMetadata(raw []byte, keep []string) map[string]any {
	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil
	}
	for key := range knownPayloadFields {
		if !slices.Contains(keep, key) {
			delete(all, key)
		}
	}
	if len(all) == 0 {
		return nil
	}
	return all
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

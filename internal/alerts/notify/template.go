package notify

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
	"time"
)

// DefaultTemplate renders Telegram-compatible HTML.
const DefaultTemplate = `<b>{{.Title}}</b>
Device: <b>{{html .Device}}</b>
{{- if .Detail}}
{{html .Detail}}
{{- end}}
{{- if .HasLocation}}
Location: {{.Latitude}}, {{.Longitude}}
Address: {{html .Address}}
<a href="{{html .MapURL}}">Open map</a>
{{- end}}
Time: {{.Time}}`

// DefaultMapLinkBase is prefixed to "lat,lng" to build the map link.
const DefaultMapLinkBase = "https://www.google.com/maps?q="

// AddressUnavailable replaces the address when the lookup fails.
const AddressUnavailable = "address unavailable"

const timeLayout = "2006-01-02 15:04:05 MST"

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Kind        string
	Title       string
	Device      string
	DeviceKey   string
	Detail      string
	HasLocation bool
	Latitude    string
	Longitude   string
	Address     string
	MapURL      string
	Time        string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildTemplateData maps an alert and its resolved address to template fields.
func BuildTemplateData(alert Alert, address, mapLinkBase string) TemplateData {
	if mapLinkBase == "" {
		mapLinkBase = DefaultMapLinkBase
	}
	data := TemplateData{
		Kind:      string(alert.Kind),
		Title:     title(alert.Kind),
		Device:    alert.device(),
		DeviceKey: alert.DeviceKey,
		Time:      formatTime(alert.At),
	}
	switch alert.Kind {
	case KindGeofenceExit:
		if alert.OutsideFor > 0 {
			data.Detail = "Outside for " + alert.OutsideFor.Round(time.Second).String()
		}
	case KindInactive:
		if !alert.LastSeen.IsZero() {
			data.Detail = "Last seen: " + formatTime(alert.LastSeen)
		}
	}
	if alert.Location != nil {
		data.HasLocation = true
		data.Latitude = fmt.Sprintf("%.6f", alert.Location.Lat)
		data.Longitude = fmt.Sprintf("%.6f", alert.Location.Lng)
		data.MapURL = mapLinkBase + data.Latitude + "," + data.Longitude
		data.Address = address
		if data.Address == "" {
			data.Address = AddressUnavailable
		}
	}
	return data
}

func title(kind Kind) string {
	switch kind {
	case KindGeofenceEnter:
		return "Geofence ENTER"
	case KindGeofenceExit:
		return "Geofence EXIT"
	case KindInactive:
		return "Device inactive"
	case KindActive:
		return "Device active again"
	default:
		return "Device alert"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(timeLayout)
}

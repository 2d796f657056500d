package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultNominatimURL = "https://nominatim.openstreetmap.org/reverse"
	defaultUserAgent    = "geotrack-cloud/1.0"
)

// ErrNoResult means the upstream has no address for the point.
var ErrNoResult = errors.New("geocode: no result")

// Geocoder resolves a point to a short address.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (string, error)
}

type nominatimAddress struct {
	HouseNumber   string `json:"house_number"`
	Road          string `json:"road"`
	Neighbourhood string `json:"neighbourhood"`
	Suburb        string `json:"suburb"`
	City          string `json:"city"`
	Town          string `json:"town"`
	Village       string `json:"village"`
	State         string `json:"state"`
	Country       string `json:"country"`
}

type nominatimResponse struct {
	DisplayName string           `json:"display_name"`
	Address     nominatimAddress `json:"address"`
	Error       string           `json:"error"`
}

// NominatimClient is a reverse geocoder for the Nominatim API.
type NominatimClient struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

// NominatimOption configures the client.
type NominatimOption func(*NominatimClient)

// WithBaseURL overrides the reverse endpoint.
func WithBaseURL(base string) NominatimOption {
	return func(c *NominatimClient) {
		if base != "" {
			c.baseURL = base
		}
	}
}

// WithUserAgent sets the User-Agent header Nominatim requires.
func WithUserAgent(ua string) NominatimOption {
	return func(c *NominatimClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithRate limits upstream requests per second. Zero disables limiting.
func WithRate(perSecond float64) NominatimOption {
	return func(c *NominatimClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			c.limiter = nil
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) NominatimOption {
	return func(c *NominatimClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewNominatimClient constructs a client limited to one request per second.
func NewNominatimClient(opts ...NominatimOption) *NominatimClient {
	c := &NominatimClient{
		baseURL:   defaultNominatimURL,
		userAgent: defaultUserAgent,
		client:    &http.Client{Timeout: 10 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(1), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reverse implements Geocoder.
func (c *NominatimClient) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	endpoint, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("geocode: parse url: %w", err)
	}
	query := endpoint.Query()
	query.Set("format", "jsonv2")
	query.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	query.Set("zoom", "18")
	query.Set("addressdetails", "1")
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocode: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("geocode: status %d", resp.StatusCode)
	}
	var payload nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("geocode: decode: %w", err)
	}
	if payload.Error != "" {
		return "", ErrNoResult
	}
	address := shortAddress(payload)
	if address == "" {
		return "", ErrNoResult
	}
	return address, nil
}

// shortAddress prefers "road house, district, city" and falls back to the
// first three parts of display_name.
func shortAddress(resp nominatimResponse) string {
	addr := resp.Address
	var parts []string
	street := strings.TrimSpace(strings.Join(nonEmpty(addr.Road, addr.HouseNumber), " "))
	if street != "" {
		parts = append(parts, street)
	}
	if district := firstNonEmpty(addr.Suburb, addr.Neighbourhood); district != "" {
		parts = append(parts, district)
	}
	if locality := firstNonEmpty(addr.City, addr.Town, addr.Village, addr.State); locality != "" {
		parts = append(parts, locality)
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	display := strings.Split(resp.DisplayName, ",")
	if len(display) > 3 {
		display = display[:3]
	}
	for i := range display {
		display[i] = strings.TrimSpace(display[i])
	}
	return strings.Join(nonEmpty(display...), ", ")
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

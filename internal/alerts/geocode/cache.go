package geocode

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"geotrack-cloud/internal/logging"
	"geotrack-cloud/internal/observability/metrics"
)

const (
	defaultTTL       = 24 * time.Hour
	defaultSize      = 4096
	defaultPrecision = 4
)

// Cache memoizes reverse lookups by rounded coordinates. Failed lookups
// are not cached.
type Cache struct {
	upstream  Geocoder
	precision int
	entries   *expirable.LRU[string, string]
	group     singleflight.Group
	logger    logrus.FieldLogger
}

// CacheOption configures the cache.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	ttl       time.Duration
	size      int
	precision int
	logger    logrus.FieldLogger
}

// WithTTL sets the entry lifetime.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *cacheConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithSize sets the maximum number of entries.
func WithSize(size int) CacheOption {
	return func(c *cacheConfig) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithPrecision sets the number of decimals kept in the cache key.
func WithPrecision(decimals int) CacheOption {
	return func(c *cacheConfig) {
		if decimals >= 0 && decimals <= 8 {
			c.precision = decimals
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) CacheOption {
	return func(c *cacheConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache wraps upstream with a TTL cache.
func NewCache(upstream Geocoder, opts ...CacheOption) (*Cache, error) {
	if upstream == nil {
		return nil, errors.New("geocode: nil upstream")
	}
	cfg := cacheConfig{ttl: defaultTTL, size: defaultSize, precision: defaultPrecision}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Cache{
		upstream:  upstream,
		precision: cfg.precision,
		entries:   expirable.NewLRU[string, string](cfg.size, nil, cfg.ttl),
		logger:    logging.OrStandard(cfg.logger).WithField("component", "geocode"),
	}, nil
}

// Key returns the cache key for a point.
func (c *Cache) Key(lat, lng float64) string {
	return strconv.FormatFloat(round(lat, c.precision), 'f', c.precision, 64) +
		"," + strconv.FormatFloat(round(lng, c.precision), 'f', c.precision, 64)
}

// ShortAddress returns the cached address or resolves it upstream.
// Concurrent misses for one key share a single upstream call.
func (c *Cache) ShortAddress(ctx context.Context, lat, lng float64) (string, error) {
	key := c.Key(lat, lng)
	if address, ok := c.entries.Get(key); ok {
		metrics.IncGeocodeLookup(metrics.GeocodeHit)
		return address, nil
	}
	metrics.IncGeocodeLookup(metrics.GeocodeMiss)

	roundedLat, roundedLng := round(lat, c.precision), round(lng, c.precision)
	value, err, _ := c.group.Do(key, func() (any, error) {
		if address, ok := c.entries.Get(key); ok {
			return address, nil
		}
		address, err := c.upstream.Reverse(ctx, roundedLat, roundedLng)
		if err != nil {
			return "", err
		}
		c.entries.Add(key, address)
		return address, nil
	})
	if err != nil {
		metrics.IncGeocodeLookup(metrics.GeocodeError)
		c.logger.WithError(err).WithField("key", key).Debug("reverse geocode failed")
		return "", err
	}
	return value.(string), nil
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

package visits

import (
	"errors"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Sample is one time-ordered position fed to Cluster.
type Sample struct {
	Lat float64
	Lng float64
	At  time.Time
}

// Visit is a stay aggregated from nearby, consecutive samples.
type Visit struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	CenterLat float64   `json:"centerLat"`
	CenterLng float64   `json:"centerLng"`
	Count     int       `json:"count"`
}

// Duration is End minus Start.
func (v Visit) Duration() time.Duration {
	return v.End.Sub(v.Start)
}

// Params tunes clustering. Radii are in meters.
type Params struct {
	EnterRadius float64
	ExitRadius  float64
	MinDwell    time.Duration
	MinPoints   int
}

// DefaultParams returns the service defaults.
func DefaultParams() Params {
	return Params{EnterRadius: 50, ExitRadius: 100, MinDwell: 5 * time.Minute, MinPoints: 3}
}

// Validate checks the radii ordering.
func (p Params) Validate() error {
	if p.EnterRadius <= 0 {
		return errors.New("visits: enter radius must be positive")
	}
	if p.ExitRadius < p.EnterRadius {
		return errors.New("visits: exit radius must not be smaller than enter radius")
	}
	if p.MinDwell < 0 || p.MinPoints < 0 {
		return errors.New("visits: negative threshold")
	}
	return nil
}

type cluster struct {
	visit Visit
	// members is the number of points averaged into the centroid; points
	// in the hysteresis band count toward Count only.
	members int
}

func newCluster(s Sample) *cluster {
	return &cluster{
		visit:   Visit{Start: s.At, End: s.At, CenterLat: s.Lat, CenterLng: s.Lng, Count: 1},
		members: 1,
	}
}

func (c *cluster) center() orb.Point {
	return orb.Point{c.visit.CenterLng, c.visit.CenterLat}
}

func (c *cluster) join(s Sample) {
	c.members++
	n := float64(c.members)
	c.visit.CenterLat += (s.Lat - c.visit.CenterLat) / n
	c.visit.CenterLng += (s.Lng - c.visit.CenterLng) / n
	c.extend(s)
}

func (c *cluster) extend(s Sample) {
	c.visit.Count++
	c.visit.End = s.At
}

func (p Params) qualifies(c *cluster) bool {
	return c.visit.Duration() >= p.MinDwell || c.visit.Count >= p.MinPoints
}

// Cluster groups time-ordered samples into visits in a single pass.
// Within EnterRadius of the running centroid a sample joins and moves the
// centroid; between EnterRadius and ExitRadius it stays in the cluster
// without moving it; beyond ExitRadius the cluster is flushed if it
// qualifies and a new one starts.
func Cluster(samples []Sample, p Params) []Visit {
	var (
		out     []Visit
		current *cluster
	)
	for _, s := range samples {
		if current == nil {
			current = newCluster(s)
			continue
		}
		distance := geo.DistanceHaversine(current.center(), orb.Point{s.Lng, s.Lat})
		switch {
		case distance <= p.EnterRadius:
			current.join(s)
		case distance <= p.ExitRadius:
			current.extend(s)
		default:
			if p.qualifies(current) {
				out = append(out, current.visit)
			}
			current = newCluster(s)
		}
	}
	if current != nil && p.qualifies(current) {
		out = append(out, current.visit)
	}
	return out
}

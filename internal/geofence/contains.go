package geofence

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	tracking "geotrack-cloud/internal/tracking/domain"
)

// Contains reports whether p lies within the outer ring of at least one
// polygon. Holes are ignored and boundary points count as inside.
func Contains(fences []tracking.Polygon, p tracking.Point) bool {
	point := orb.Point{p.Lng, p.Lat}
	for _, polygon := range fences {
		if len(polygon) == 0 || len(polygon[0]) < 3 {
			continue
		}
		if planar.RingContains(toRing(polygon[0]), point) {
			return true
		}
	}
	return false
}

func toRing(ring tracking.Ring) orb.Ring {
	out := make(orb.Ring, len(ring))
	for i, vertex := range ring {
		out[i] = orb.Point(vertex)
	}
	return out
}

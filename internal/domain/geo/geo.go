package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371000.0

// Coordinate is a WGS-84 position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// IsValid reports whether the coordinate is finite and within range.
func (c Coordinate) IsValid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || math.IsInf(c.Lat, 0) || math.IsInf(c.Lng, 0) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// Route is an ordered sequence of waypoints describing an expected path.
type Route []Coordinate

// Clone returns an independent copy of the route.
func (r Route) Clone() Route {
	if r == nil {
		return nil
	}
	out := make(Route, len(r))
	copy(out, r)
	return out
}

// Distance returns the great-circle distance between two coordinates in
// meters, on a sphere of radius EarthRadiusMeters.
func Distance(a, b Coordinate) float64 {
	from := s2.LatLngFromDegrees(a.Lat, a.Lng)
	to := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return from.Distance(to).Radians() * EarthRadiusMeters
}

// DistanceToSegment returns the distance in meters from p to the segment
// between a and b. The closest point on the segment is found by projecting
// in raw lat/lng degree space with the projection parameter clamped to the
// segment; the final distance to that point is great-circle. The planar
// projection loses accuracy near the poles and across the antimeridian,
// which is acceptable for urban trip routes.
func DistanceToSegment(p, a, b Coordinate) float64 {
	vLat := b.Lat - a.Lat
	vLng := b.Lng - a.Lng

	// Degenerate segment: both endpoints coincide.
	if vLat == 0 && vLng == 0 {
		return Distance(p, a)
	}

	wLat := p.Lat - a.Lat
	wLng := p.Lng - a.Lng

	t := (wLat*vLat + wLng*vLng) / (vLat*vLat + vLng*vLng)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	closest := Coordinate{
		Lat: a.Lat + t*vLat,
		Lng: a.Lng + t*vLng,
	}
	return Distance(p, closest)
}

// DistanceToRoute returns the minimum distance in meters from p to the
// route. A single-waypoint route yields the direct distance to that point.
// An empty route yields +Inf, the minimum over an empty set; callers are
// expected to reject empty routes before monitoring starts.
func DistanceToRoute(p Coordinate, r Route) float64 {
	switch len(r) {
	case 0:
		return math.Inf(1)
	case 1:
		return Distance(p, r[0])
	}

	min := math.Inf(1)
	for i := 0; i < len(r)-1; i++ {
		if d := DistanceToSegment(p, r[i], r[i+1]); d < min {
			min = d
		}
	}
	return min
}

// Length returns the total great-circle length of the route in meters.
func Length(r Route) float64 {
	var total float64
	for i := 0; i < len(r)-1; i++ {
		total += Distance(r[i], r[i+1])
	}
	return total
}

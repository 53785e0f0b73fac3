package trip

import (
	"github.com/swiftride/service-tracking/internal/domain/geo"
)

// RoutePlan is a value object describing the expected path a trip should
// follow, as produced by the platform's routing provider.
type RoutePlan struct {
	PickupLat     float64 `json:"pickup_lat"`
	PickupLng     float64 `json:"pickup_lng"`
	DropoffLat    float64 `json:"dropoff_lat"`
	DropoffLng    float64 `json:"dropoff_lng"`
	DistanceKm    float64 `json:"distance_km"`
	WaypointCount int     `json:"waypoint_count"`
	Polyline      string  `json:"polyline"`
}

// NewRoutePlan builds a RoutePlan from a decoded route. The route must not
// be empty.
func NewRoutePlan(route geo.Route) RoutePlan {
	first := route[0]
	last := route[len(route)-1]
	return RoutePlan{
		PickupLat:     first.Lat,
		PickupLng:     first.Lng,
		DropoffLat:    last.Lat,
		DropoffLng:    last.Lng,
		DistanceKm:    geo.Length(route) / 1000.0,
		WaypointCount: len(route),
		Polyline:      geo.EncodePolyline(route),
	}
}

// Waypoints decodes the plan's polyline back into a Route.
func (p RoutePlan) Waypoints() (geo.Route, error) {
	return geo.DecodePolyline(p.Polyline)
}

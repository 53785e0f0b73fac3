package geo

import (
	"fmt"

	"github.com/twpayne/go-polyline"
)

// DecodePolyline converts a Google encoded polyline into a Route.
func DecodePolyline(encoded string) (Route, error) {
	if encoded == "" {
		return Route{}, nil
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to decode polyline: %w", err)
	}

	route := make(Route, len(coords))
	for i, c := range coords {
		route[i] = Coordinate{Lat: c[0], Lng: c[1]}
	}
	return route, nil
}

// EncodePolyline converts a Route into a Google encoded polyline.
func EncodePolyline(route Route) string {
	if len(route) == 0 {
		return ""
	}

	coords := make([][]float64, len(route))
	for i, c := range route {
		coords[i] = []float64{c.Lat, c.Lng}
	}
	return string(polyline.EncodeCoords(coords))
}

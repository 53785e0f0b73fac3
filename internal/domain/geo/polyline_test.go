package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference vector from the Google polyline format documentation.
const googleReferencePolyline = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

var googleReferenceRoute = Route{
	{Lat: 38.5, Lng: -120.2},
	{Lat: 40.7, Lng: -120.95},
	{Lat: 43.252, Lng: -126.453},
}

func TestDecodePolyline_ReferenceVector(t *testing.T) {
	route, err := DecodePolyline(googleReferencePolyline)
	require.NoError(t, err)
	require.Len(t, route, 3)

	for i, want := range googleReferenceRoute {
		assert.InDelta(t, want.Lat, route[i].Lat, 1e-5)
		assert.InDelta(t, want.Lng, route[i].Lng, 1e-5)
	}
}

func TestEncodePolyline_ReferenceVector(t *testing.T) {
	assert.Equal(t, googleReferencePolyline, EncodePolyline(googleReferenceRoute))
}

func TestPolyline_RoundTrip(t *testing.T) {
	route := Route{
		{Lat: 3.1390, Lng: 101.6869},
		{Lat: 3.1421, Lng: 101.7107},
		{Lat: 3.1579, Lng: 101.7123},
	}

	decoded, err := DecodePolyline(EncodePolyline(route))
	require.NoError(t, err)
	require.Len(t, decoded, len(route))

	for i := range route {
		assert.InDelta(t, route[i].Lat, decoded[i].Lat, 1e-5)
		assert.InDelta(t, route[i].Lng, decoded[i].Lng, 1e-5)
	}
}

func TestDecodePolyline_Empty(t *testing.T) {
	route, err := DecodePolyline("")
	require.NoError(t, err)
	assert.Empty(t, route)
}

func TestDecodePolyline_Truncated(t *testing.T) {
	_, err := DecodePolyline("_p~iF~ps|U_ul")
	assert.Error(t, err)
}

func TestEncodePolyline_Empty(t *testing.T) {
	assert.Equal(t, "", EncodePolyline(nil))
	assert.Equal(t, "", EncodePolyline(Route{}))
}

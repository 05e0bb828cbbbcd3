package imaging

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	paris := GeoPoint{Lat: 48.8566, Lng: 2.3522}
	assert.InDelta(t, 0, Distance(paris, paris), 1e-9)

	// 0.0001 degree of latitude is about 11.1 m
	north := GeoPoint{Lat: paris.Lat + 0.0001, Lng: paris.Lng}
	assert.InDelta(t, 11.12, Distance(paris, north), 0.05)

	london := GeoPoint{Lat: 51.5074, Lng: -0.1278}
	assert.InDelta(t, 343_500, Distance(paris, london), 1_500)
}

func TestGeoPointValid(t *testing.T) {
	assert.True(t, GeoPoint{Lat: -90, Lng: 180}.Valid())
	assert.False(t, GeoPoint{Lat: 91, Lng: 0}.Valid())
	assert.False(t, GeoPoint{Lat: 0, Lng: -181}.Valid())
	assert.False(t, GeoPoint{Lat: math.NaN(), Lng: 0}.Valid())
}

package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceKM(t *testing.T) {
	// Bengaluru MG Road to Indiranagar, roughly 3.9 km apart.
	mgRoad := Point{Lat: 12.9756, Lng: 77.6050}
	indiranagar := Point{Lat: 12.9784, Lng: 77.6408}

	assert.InDelta(t, 3.89, mgRoad.DistanceKM(indiranagar), 0.1)
	assert.InDelta(t, 0, mgRoad.DistanceKM(mgRoad), 1e-9)
	assert.InDelta(t, mgRoad.DistanceKM(indiranagar), indiranagar.DistanceKM(mgRoad), 1e-9)
}

func TestPointSentinelAndBounds(t *testing.T) {
	assert.True(t, Point{}.Unset())
	assert.True(t, Point{Lat: 0, Lng: 1}.Unset())
	assert.True(t, Point{Lat: 12.97, Lng: 0}.Unset())
	assert.False(t, Point{Lat: 12.97, Lng: 77.6}.Unset())
	assert.True(t, Point{Lat: -90, Lng: 180}.Valid())
	assert.False(t, Point{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lng: -181}.Valid())
}

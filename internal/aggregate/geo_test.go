package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"rollcall/internal/domain"
)

func TestHaversineMeters(t *testing.T) {
	berlin := domain.GeoPoint{Lat: 52.5200, Lng: 13.4050}
	paris := domain.GeoPoint{Lat: 48.8566, Lng: 2.3522}

	// known distance ~878km, allow 1% for the spherical model
	d := HaversineMeters(berlin, paris)
	assert.InDelta(t, 878000, d, 8800)

	assert.Zero(t, HaversineMeters(berlin, berlin))
	assert.Equal(t, HaversineMeters(berlin, paris), HaversineMeters(paris, berlin))
}

func TestHaversineShortRange(t *testing.T) {
	a := domain.GeoPoint{Lat: 52.52000, Lng: 13.40500}
	b := domain.GeoPoint{Lat: 52.52090, Lng: 13.40500} // ~100m north
	assert.InDelta(t, 100, HaversineMeters(a, b), 2)
}

func TestImpliedSpeedKMH(t *testing.T) {
	a := domain.GeoPoint{Lat: 52.5200, Lng: 13.4050}
	b := domain.GeoPoint{Lat: 52.9700, Lng: 13.4050} // ~50km north

	// 50km in 2 minutes is ~1500 km/h
	speed := ImpliedSpeedKMH(a, b, 2*time.Minute)
	assert.InDelta(t, 1500, speed, 30)

	// same distance over an hour is walkable-by-car
	assert.InDelta(t, 50, ImpliedSpeedKMH(a, b, time.Hour), 1)

	assert.Zero(t, ImpliedSpeedKMH(a, a, 0))
	assert.True(t, math.IsInf(ImpliedSpeedKMH(a, b, 0), 1))
	assert.True(t, math.IsInf(ImpliedSpeedKMH(a, b, -time.Minute), 1))
}

package aggregate

import (
	"math"
	"time"

	"rollcall/internal/domain"
)

const earthRadiusMeters = 6371000.0

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b domain.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// ImpliedSpeedKMH returns the speed implied by moving between two points
// in the given interval. Returns +Inf for a zero or negative interval with
// nonzero distance, and 0 when the points coincide.
func ImpliedSpeedKMH(a, b domain.GeoPoint, dt time.Duration) float64 {
	distance := HaversineMeters(a, b)
	if distance == 0 {
		return 0
	}
	if dt <= 0 {
		return math.Inf(1)
	}
	return (distance / 1000) / dt.Hours()
}

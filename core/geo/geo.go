package geo

import (
	"math"

	"github.com/loadline/dispatchd/core/model"
)

const earthRadiusM = 6371000.0

// HaversineM returns the great-circle distance in meters between two
// coordinates on a spherical-earth approximation.
func HaversineM(a, b model.LatLng) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

package geo

import (
	"math"
	"testing"

	"github.com/loadline/dispatchd/core/model"
)

func TestHaversineM_KnownDistance(t *testing.T) {
	// One degree of latitude is roughly 111.2 km.
	a := model.LatLng{Lat: 12.90, Lng: 77.60}
	b := model.LatLng{Lat: 13.90, Lng: 77.60}
	d := HaversineM(a, b)
	if math.Abs(d-111195) > 500 {
		t.Fatalf("unexpected distance: %f", d)
	}
}

func TestHaversineM_ZeroAndSymmetry(t *testing.T) {
	a := model.LatLng{Lat: 48.8566, Lng: 2.3522}
	b := model.LatLng{Lat: 45.7640, Lng: 4.8357}
	if d := HaversineM(a, a); d != 0 {
		t.Fatalf("distance to self: %f", d)
	}
	if math.Abs(HaversineM(a, b)-HaversineM(b, a)) > 1e-6 {
		t.Fatal("not symmetric")
	}
}

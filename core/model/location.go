package model

import "time"

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationSample is a single GPS reading reported by a driver client.
type LocationSample struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	// Accuracy is the reported radius of uncertainty in meters.
	Accuracy float64 `json:"accuracy,omitempty"`
	// Speed in the client's unit, passed through untouched.
	Speed float64 `json:"speed,omitempty"`
	// DistanceRemaining is the client's own remaining-distance estimate,
	// in whatever linear unit the client uses. Nil leaves the trip's
	// previous value in place.
	DistanceRemaining *float64 `json:"distance_remaining,omitempty"`
}

// Point returns the sample's coordinates.
func (s LocationSample) Point() LatLng { return LatLng{Lat: s.Lat, Lng: s.Lng} }

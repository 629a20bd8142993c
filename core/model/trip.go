package model

import "time"

// TripStatus is the state of a trip execution record.
type TripStatus string

const (
	TripActive TripStatus = "active"
	TripClosed TripStatus = "closed"
)

// Trip is the execution record of an accepted assignment. It tracks the
// ordered location history and the distance accounting derived from it.
type Trip struct {
	ID           string `json:"id"`
	AssignmentID string `json:"assignment_id"`
	LoadID       string `json:"load_id"`
	DriverID     string `json:"driver_id"`

	Status TripStatus `json:"status"`

	// LocationHistory is strictly timestamp-increasing.
	LocationHistory []LocationSample `json:"location_history"`
	// DistanceTraveled is monotonically non-decreasing within one trip.
	DistanceTraveled  float64 `json:"distance_traveled"`
	DistanceRemaining float64 `json:"distance_remaining"`

	StartedAt time.Time  `json:"started_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

// LastSample returns the most recent accepted sample, or nil when the
// history is empty.
func (t *Trip) LastSample() *LocationSample {
	if len(t.LocationHistory) == 0 {
		return nil
	}
	return &t.LocationHistory[len(t.LocationHistory)-1]
}

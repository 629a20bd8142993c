package model

import "time"

// AssignmentState is the state of a driver/vehicle offer for a load.
type AssignmentState string

const (
	AssignmentOffered    AssignmentState = "offered"
	AssignmentAccepted   AssignmentState = "accepted"
	AssignmentRejected   AssignmentState = "rejected"
	AssignmentExpired    AssignmentState = "expired"
	AssignmentSuperseded AssignmentState = "superseded"
)

func (s AssignmentState) String() string { return string(s) }

// Terminal reports whether the assignment can no longer change state.
// A terminal assignment is immutable.
func (s AssignmentState) Terminal() bool { return s != AssignmentOffered }

// Assignment is a proposed pairing of a load with a driver and vehicle,
// pending acceptance.
type Assignment struct {
	ID        string `json:"id"`
	LoadID    string `json:"load_id"`
	DriverID  string `json:"driver_id"`
	TruckID   string `json:"truck_id"`
	TrailerID string `json:"trailer_id,omitempty"`

	State           AssignmentState `json:"state"`
	OfferedAt       time.Time       `json:"offered_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
}

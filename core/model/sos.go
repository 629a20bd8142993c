package model

import "time"

// SOSStatus is the state of an emergency alert. Transitions are forward-only.
type SOSStatus string

const (
	SOSActive       SOSStatus = "active"
	SOSAcknowledged SOSStatus = "acknowledged"
	SOSResolved     SOSStatus = "resolved"
	SOSCancelled    SOSStatus = "cancelled"
)

func (s SOSStatus) String() string { return string(s) }

// Closed reports whether the alert accepts no further mutation.
func (s SOSStatus) Closed() bool { return s == SOSResolved || s == SOSCancelled }

// SOSAlert is a driver-initiated emergency notification. Message and
// location are captured at creation and never change afterwards.
type SOSAlert struct {
	ID       string `json:"id"`
	DriverID string `json:"driver_id"`
	LoadID   string `json:"load_id,omitempty"`
	TripID   string `json:"trip_id,omitempty"`

	Message  string `json:"message"`
	Location LatLng `json:"location"`

	Status SOSStatus `json:"status"`
	// NotifiedParties records who was fanned out to, for audit.
	NotifiedParties []string `json:"notified_parties"`

	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`
}

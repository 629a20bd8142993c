package model

import "time"

// LoadStatus is the lifecycle status of a freight load.
type LoadStatus string

const (
	StatusBooked          LoadStatus = "booked"
	StatusRateConfirmed   LoadStatus = "rate_confirmed"
	StatusAssigned        LoadStatus = "assigned"
	StatusTripAccepted    LoadStatus = "trip_accepted"
	StatusTripStarted     LoadStatus = "trip_started"
	StatusArrivedShipper  LoadStatus = "arrived_shipper"
	StatusLoading         LoadStatus = "loading"
	StatusDepartedShipper LoadStatus = "departed_shipper"
	StatusInTransit       LoadStatus = "in_transit"
	StatusArrivedReceiver LoadStatus = "arrived_receiver"
	StatusUnloading       LoadStatus = "unloading"
	StatusDelivered       LoadStatus = "delivered"
	StatusCompleted       LoadStatus = "completed"
	StatusCancelled       LoadStatus = "cancelled"
)

func (s LoadStatus) String() string { return string(s) }

// Terminal reports whether no further transition can leave this status.
func (s LoadStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// OnRoad reports whether the load is between trip start and unloading,
// the window in which delay annotations and location samples make sense.
func (s LoadStatus) OnRoad() bool {
	switch s {
	case StatusTripStarted, StatusArrivedShipper, StatusLoading,
		StatusDepartedShipper, StatusInTransit, StatusArrivedReceiver,
		StatusUnloading:
		return true
	}
	return false
}

// StatusEvent identifies a requested status transition.
type StatusEvent string

const (
	EventRateConfirm    StatusEvent = "rate_confirm"
	EventAssign         StatusEvent = "assign"
	EventTripAccept     StatusEvent = "trip_accept"
	EventTripStart      StatusEvent = "trip_start"
	EventArriveShipper  StatusEvent = "arrive_shipper"
	EventStartLoading   StatusEvent = "start_loading"
	EventDepartShipper  StatusEvent = "depart_shipper"
	EventTransit        StatusEvent = "transit"
	EventArriveReceiver StatusEvent = "arrive_receiver"
	EventStartUnloading StatusEvent = "start_unloading"
	EventDeliver        StatusEvent = "deliver"
	EventComplete       StatusEvent = "complete"
	EventCancel         StatusEvent = "cancel"

	// EventDelayReport annotates the history without moving the status.
	EventDelayReport StatusEvent = "delay_reported"
)

func (e StatusEvent) String() string { return string(e) }

// StatusChange is one append-only entry of a load's status history.
type StatusChange struct {
	Status      LoadStatus  `json:"status"`
	Event       StatusEvent `json:"event"`
	Actor       string      `json:"actor"`
	Timestamp   time.Time   `json:"timestamp"`
	Coordinates *LatLng     `json:"coordinates,omitempty"`
}

// Stop is a pickup or delivery location with its scheduled date.
type Stop struct {
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	Location LatLng    `json:"location"`
	Date     time.Time `json:"date"`
}

// Load is a single freight shipment tracked through pickup to delivery.
type Load struct {
	ID        string     `json:"id"`
	CompanyID string     `json:"company_id"`
	Status    LoadStatus `json:"status"`

	DriverID  string `json:"driver_id,omitempty"`
	TruckID   string `json:"truck_id,omitempty"`
	TrailerID string `json:"trailer_id,omitempty"`

	Pickup   Stop    `json:"pickup"`
	Delivery Stop    `json:"delivery"`
	Rate     float64 `json:"rate"`

	// StatusHistory is append-only; entries are never rewritten.
	StatusHistory []StatusChange `json:"status_history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordStatus appends a history entry and moves the current status.
func (l *Load) RecordStatus(next LoadStatus, ev StatusEvent, actor string, at time.Time, coords *LatLng) {
	l.Status = next
	l.UpdatedAt = at
	l.StatusHistory = append(l.StatusHistory, StatusChange{
		Status:      next,
		Event:       ev,
		Actor:       actor,
		Timestamp:   at,
		Coordinates: coords,
	})
}

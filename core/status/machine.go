// Package status validates and applies load status transitions against a
// fixed table. Applying an event is a pure decision followed by an
// append-only history write on the load.
package status

import (
	"errors"
	"time"

	"github.com/loadline/dispatchd/core/model"
)

var (
	// ErrInvalidTransition is returned when no edge exists for the
	// current status and the requested event.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyTerminal is returned when the load is completed or
	// cancelled.
	ErrAlreadyTerminal = errors.New("load status is terminal")
)

type edge struct {
	from  model.LoadStatus
	event model.StatusEvent
}

// transitions is the full forward table. Cancellation edges are derived in
// init so the cancel rule stays in one place.
var transitions = map[edge]model.LoadStatus{
	{model.StatusBooked, model.EventRateConfirm}:          model.StatusRateConfirmed,
	{model.StatusBooked, model.EventAssign}:               model.StatusAssigned,
	{model.StatusRateConfirmed, model.EventAssign}:        model.StatusAssigned,
	{model.StatusAssigned, model.EventTripAccept}:         model.StatusTripAccepted,
	{model.StatusTripAccepted, model.EventTripStart}:      model.StatusTripStarted,
	{model.StatusTripStarted, model.EventArriveShipper}:   model.StatusArrivedShipper,
	{model.StatusArrivedShipper, model.EventStartLoading}: model.StatusLoading,
	{model.StatusLoading, model.EventDepartShipper}:       model.StatusDepartedShipper,
	{model.StatusDepartedShipper, model.EventTransit}:     model.StatusInTransit,
	{model.StatusInTransit, model.EventArriveReceiver}:    model.StatusArrivedReceiver,
	{model.StatusArrivedReceiver, model.EventStartUnloading}: model.StatusUnloading,
	{model.StatusUnloading, model.EventDeliver}:              model.StatusDelivered,
	{model.StatusDelivered, model.EventComplete}:             model.StatusCompleted,
}

// results maps an event to every status it can produce, used for the
// idempotent-replay check.
var results = map[model.StatusEvent]map[model.LoadStatus]bool{}

func init() {
	for _, from := range []model.LoadStatus{
		model.StatusBooked, model.StatusRateConfirmed, model.StatusAssigned,
		model.StatusTripAccepted, model.StatusTripStarted, model.StatusArrivedShipper,
		model.StatusLoading, model.StatusDepartedShipper, model.StatusInTransit,
		model.StatusArrivedReceiver, model.StatusUnloading, model.StatusDelivered,
	} {
		transitions[edge{from, model.EventCancel}] = model.StatusCancelled
	}
	for e, next := range transitions {
		if results[e.event] == nil {
			results[e.event] = map[model.LoadStatus]bool{}
		}
		results[e.event][next] = true
	}
}

// Machine applies status events to loads.
type Machine struct{}

// New returns a Machine.
func New() Machine { return Machine{} }

// Next returns the resulting status for (current, event) without touching
// any load. The second return mirrors map lookup.
func (Machine) Next(current model.LoadStatus, ev model.StatusEvent) (model.LoadStatus, bool) {
	next, ok := transitions[edge{current, ev}]
	return next, ok
}

// Apply validates the event against the load's current status and, on
// success, records the transition in the load's history.
//
// Replaying an event that already produced the current status is not an
// error: the current status is returned unchanged and no history entry is
// appended. This tolerates at-least-once delivery from upstream callers.
func (m Machine) Apply(load *model.Load, ev model.StatusEvent, actor string, at time.Time, coords *model.LatLng) (model.LoadStatus, error) {
	if ev == model.EventDelayReport {
		return m.annotateDelay(load, actor, at, coords)
	}
	if results[ev][load.Status] {
		return load.Status, nil
	}
	if load.Status.Terminal() {
		return load.Status, ErrAlreadyTerminal
	}
	next, ok := m.Next(load.Status, ev)
	if !ok {
		return load.Status, ErrInvalidTransition
	}
	load.RecordStatus(next, ev, actor, at, coords)
	return next, nil
}

// annotateDelay appends an informational entry without moving the status.
func (Machine) annotateDelay(load *model.Load, actor string, at time.Time, coords *model.LatLng) (model.LoadStatus, error) {
	if load.Status.Terminal() {
		return load.Status, ErrAlreadyTerminal
	}
	if !load.Status.OnRoad() {
		return load.Status, ErrInvalidTransition
	}
	load.RecordStatus(load.Status, model.EventDelayReport, actor, at, coords)
	return load.Status, nil
}

// Package sos implements driver-initiated emergency alerts and their
// fan-out to the parties that must react. Alerts move forward only:
// active, acknowledged, then resolved or cancelled.
package sos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loadline/dispatchd/core/bus"
	"github.com/loadline/dispatchd/core/events"
	"github.com/loadline/dispatchd/core/logger"
	"github.com/loadline/dispatchd/core/metrics"
	"github.com/loadline/dispatchd/core/model"
	"github.com/loadline/dispatchd/core/store"
	"github.com/loadline/dispatchd/internal/eventbus"
	"github.com/loadline/dispatchd/internal/keylock"
)

var (
	// ErrLocationRequired is returned when an alert arrives without
	// coordinates.
	ErrLocationRequired = errors.New("alert requires a location")
	// ErrAlreadyClosed is returned when acting on a resolved or
	// cancelled alert.
	ErrAlreadyClosed = errors.New("alert is already closed")
)

// Directory resolves who must be notified of an emergency. Implementations
// return user identifiers; each gets the alert on their own channel.
type Directory interface {
	EmergencyParties(ctx context.Context, companyID, driverID string) ([]string, error)
}

// StaticDirectory is a configuration-backed Directory: per-company staff
// plus per-driver emergency contacts.
type StaticDirectory struct {
	// CompanyStaff maps a company to its owner and dispatchers.
	CompanyStaff map[string][]string `json:"company_staff"`
	// DriverContacts maps a driver to their emergency contacts.
	DriverContacts map[string][]string `json:"driver_contacts"`
}

// EmergencyParties returns the de-duplicated union of company staff and
// the driver's own contacts.
func (d StaticDirectory) EmergencyParties(_ context.Context, companyID, driverID string) ([]string, error) {
	seen := map[string]bool{}
	var parties []string
	for _, id := range append(append([]string{}, d.CompanyStaff[companyID]...), d.DriverContacts[driverID]...) {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		parties = append(parties, id)
	}
	return parties, nil
}

// CreateRequest carries the immutable content of a new alert.
type CreateRequest struct {
	DriverID  string        `json:"driver_id"`
	CompanyID string        `json:"company_id"`
	LoadID    string        `json:"load_id,omitempty"`
	Message   string        `json:"message"`
	Location  *model.LatLng `json:"location"`
}

// Escalation runs the emergency alert lifecycle and fan-out.
type Escalation struct {
	store     store.Store
	bus       *bus.Bus
	directory Directory
	locks     *keylock.KeyLock
	sink      metrics.Sink
	events    *eventbus.Bus[events.SOSEvent]
	log       logger.Logger
	now       func() time.Time
}

// New creates an Escalation. A nil sink disables metrics recording.
func New(st store.Store, b *bus.Bus, dir Directory, sink metrics.Sink, log logger.Logger) *Escalation {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Escalation{
		store:     st,
		bus:       b,
		directory: dir,
		locks:     keylock.New(),
		sink:      sink,
		events:    eventbus.New[events.SOSEvent](),
		log:       log,
		now:       time.Now,
	}
}

// Create opens an alert and notifies every emergency party immediately.
// Message and location are frozen at creation. Fan-out failures never fail
// the creation; the alert's audit list records who was reached for.
func (e *Escalation) Create(ctx context.Context, req CreateRequest) (*model.SOSAlert, error) {
	if req.Location == nil || req.Message == "" {
		return nil, fmt.Errorf("alert from driver %s: %w", req.DriverID, ErrLocationRequired)
	}

	now := e.now()
	alert := &model.SOSAlert{
		ID:        uuid.NewString(),
		DriverID:  req.DriverID,
		LoadID:    req.LoadID,
		Message:   req.Message,
		Location:  *req.Location,
		Status:    model.SOSActive,
		CreatedAt: now,
	}
	companyID := req.CompanyID
	if req.LoadID != "" {
		if load, err := e.store.GetLoad(ctx, req.LoadID); err == nil {
			if companyID == "" {
				companyID = load.CompanyID
			}
			if trip, err := e.store.ActiveTripForLoad(ctx, req.LoadID); err == nil && trip != nil {
				alert.TripID = trip.ID
			}
		}
	}

	parties, err := e.directory.EmergencyParties(ctx, companyID, req.DriverID)
	if err != nil {
		e.log.Errorf("resolve emergency parties for %s: %v", req.DriverID, err)
	}
	alert.NotifiedParties = parties

	if err := e.store.PutAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("persist alert %s: %w", alert.ID, err)
	}
	e.log.Warnf("SOS from driver %s (alert %s): %s", req.DriverID, alert.ID, req.Message)

	payload := e.payload(alert)
	for _, party := range parties {
		if err := e.bus.Publish(ctx, bus.DriverTopic(party), bus.EventDriverSOS, payload); err != nil {
			e.log.Errorf("notify %s of alert %s: %v", party, alert.ID, err)
		}
	}
	if companyID != "" {
		if err := e.bus.Publish(ctx, bus.CompanyTopic(companyID), bus.EventDriverSOS, payload); err != nil {
			e.log.Errorf("notify company %s of alert %s: %v", companyID, alert.ID, err)
		}
	}

	e.notify(alert)
	e.record(alert)
	return alert, nil
}

// Acknowledge marks the alert as being handled. Acknowledging twice is
// idempotent; the first acknowledger stays on record.
func (e *Escalation) Acknowledge(ctx context.Context, alertID, by string) (*model.SOSAlert, error) {
	unlock := e.locks.Lock("alert:" + alertID)
	defer unlock()

	alert, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("acknowledge %s: %w", alertID, err)
	}
	if alert.Status.Closed() {
		return nil, fmt.Errorf("acknowledge %s: %w", alertID, ErrAlreadyClosed)
	}
	if alert.Status == model.SOSAcknowledged {
		return alert, nil
	}
	now := e.now()
	alert.Status = model.SOSAcknowledged
	alert.AcknowledgedBy = by
	alert.AcknowledgedAt = &now
	if err := e.store.PutAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("persist alert %s: %w", alertID, err)
	}
	e.log.Infof("alert %s acknowledged by %s", alertID, by)

	e.announce(ctx, alert, bus.EventSOSAcknowledged)
	e.notify(alert)
	e.record(alert)
	return alert, nil
}

// Resolve closes the alert with the resolver's notes.
func (e *Escalation) Resolve(ctx context.Context, alertID, by, notes string) (*model.SOSAlert, error) {
	unlock := e.locks.Lock("alert:" + alertID)
	defer unlock()

	alert, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", alertID, err)
	}
	if alert.Status.Closed() {
		return nil, fmt.Errorf("resolve %s: %w", alertID, ErrAlreadyClosed)
	}
	now := e.now()
	alert.Status = model.SOSResolved
	alert.ResolvedBy = by
	alert.ResolutionNotes = notes
	alert.ClosedAt = &now
	if err := e.store.PutAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("persist alert %s: %w", alertID, err)
	}
	e.log.Infof("alert %s resolved by %s", alertID, by)

	e.announce(ctx, alert, bus.EventSOSResolved)
	e.notify(alert)
	e.record(alert)
	return alert, nil
}

// Cancel closes the alert as a false alarm, typically by the driver who
// raised it.
func (e *Escalation) Cancel(ctx context.Context, alertID, by string) (*model.SOSAlert, error) {
	unlock := e.locks.Lock("alert:" + alertID)
	defer unlock()

	alert, err := e.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("cancel %s: %w", alertID, err)
	}
	if alert.Status.Closed() {
		return nil, fmt.Errorf("cancel %s: %w", alertID, ErrAlreadyClosed)
	}
	now := e.now()
	alert.Status = model.SOSCancelled
	alert.ResolvedBy = by
	alert.ClosedAt = &now
	if err := e.store.PutAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("persist alert %s: %w", alertID, err)
	}
	e.log.Infof("alert %s cancelled by %s", alertID, by)

	e.announce(ctx, alert, bus.EventSOSCancelled)
	e.notify(alert)
	e.record(alert)
	return alert, nil
}

// ListOpen returns alerts still waiting on a resolution.
func (e *Escalation) ListOpen(ctx context.Context) ([]*model.SOSAlert, error) {
	return e.store.ListOpenAlerts(ctx)
}

// Events returns a channel of alert transitions for in-process observers.
func (e *Escalation) Events() <-chan events.SOSEvent {
	return e.events.Subscribe()
}

// StopEvents removes an alert observer.
func (e *Escalation) StopEvents(ch <-chan events.SOSEvent) {
	e.events.Unsubscribe(ch)
}

// Close stops the observer bus.
func (e *Escalation) Close() {
	e.events.Close()
}

// announce pushes the state change to everyone who saw the alert.
func (e *Escalation) announce(ctx context.Context, alert *model.SOSAlert, event string) {
	payload := e.payload(alert)
	for _, party := range alert.NotifiedParties {
		if err := e.bus.Publish(ctx, bus.DriverTopic(party), event, payload); err != nil {
			e.log.Errorf("publish %s: %v", event, err)
		}
	}
	if err := e.bus.Publish(ctx, bus.DriverTopic(alert.DriverID), event, payload); err != nil {
		e.log.Errorf("publish %s: %v", event, err)
	}
}

func (e *Escalation) payload(alert *model.SOSAlert) map[string]any {
	return map[string]any{
		"alert_id":  alert.ID,
		"driver_id": alert.DriverID,
		"load_id":   alert.LoadID,
		"trip_id":   alert.TripID,
		"message":   alert.Message,
		"location":  alert.Location,
		"status":    alert.Status,
	}
}

func (e *Escalation) notify(alert *model.SOSAlert) {
	e.events.Publish(events.SOSEvent{
		AlertID:  alert.ID,
		DriverID: alert.DriverID,
		Status:   alert.Status,
		Time:     e.now(),
	})
}

func (e *Escalation) record(alert *model.SOSAlert) {
	rec, ok := e.sink.(metrics.SOSRecorder)
	if !ok {
		return
	}
	err := rec.RecordSOS(metrics.SOSRecord{
		AlertID:  alert.ID,
		DriverID: alert.DriverID,
		Status:   alert.Status.String(),
		Notified: len(alert.NotifiedParties),
		Time:     e.now(),
	})
	if err != nil {
		e.log.Errorf("record alert %s: %v", alert.ID, err)
	}
}

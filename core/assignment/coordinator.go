// Package assignment implements the offer/accept protocol pairing loads
// with drivers. At most one offer is pending per load and at most one
// acceptance ever wins; every losing mutation surfaces as a typed error.
package assignment

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
	"github.com/loadline/dispatchd/core/status"
	"github.com/loadline/dispatchd/core/store"
	"github.com/loadline/dispatchd/internal/eventbus"
	"github.com/loadline/dispatchd/internal/keylock"
)

var (
	// ErrLoadNotAssignable is returned when the load's status does not
	// admit an offer or acceptance.
	ErrLoadNotAssignable = errors.New("load is not assignable")
	// ErrConflictingOffer is returned when the load already has a
	// pending offer.
	ErrConflictingOffer = errors.New("load already has a pending offer")
	// ErrExpired is returned when acting on an offer past its deadline.
	ErrExpired = errors.New("offer has expired")
	// ErrAlreadyResolved is returned when acting on an offer that was
	// already accepted, rejected, expired or superseded.
	ErrAlreadyResolved = errors.New("offer is already resolved")
)

// Coordinator runs the assignment protocol over a store and publishes the
// outcomes on the channel bus.
type Coordinator struct {
	cfg     Config
	store   store.Store
	machine status.Machine
	bus     *bus.Bus
	locks   *keylock.KeyLock
	sink    metrics.Sink
	events  *eventbus.Bus[events.AssignmentEvent]
	log     logger.Logger
	now     func() time.Time
}

// New creates a Coordinator. A nil sink disables metrics recording.
func New(cfg Config, st store.Store, b *bus.Bus, sink metrics.Sink, log logger.Logger) *Coordinator {
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Coordinator{
		cfg:     cfg,
		store:   st,
		machine: status.New(),
		bus:     b,
		locks:   keylock.New(),
		sink:    sink,
		events:  eventbus.New[events.AssignmentEvent](),
		log:     log,
		now:     time.Now,
	}
}

// assignable statuses admit a new offer. A load whose previous offer was
// rejected may sit in assigned and still be re-offered.
func assignable(s model.LoadStatus) bool {
	switch s {
	case model.StatusBooked, model.StatusRateConfirmed, model.StatusAssigned:
		return true
	}
	return false
}

// Offer proposes the load to a driver and vehicle. The offer expires after
// the configured TTL unless accepted or rejected first.
func (c *Coordinator) Offer(ctx context.Context, loadID, driverID, truckID, trailerID, actor string) (*model.Assignment, error) {
	unlock := c.locks.Lock("load:" + loadID)
	defer unlock()

	load, err := c.store.GetLoad(ctx, loadID)
	if err != nil {
		return nil, fmt.Errorf("offer load %s: %w", loadID, err)
	}
	if !assignable(load.Status) {
		return nil, fmt.Errorf("offer load %s in status %s: %w", loadID, load.Status, ErrLoadNotAssignable)
	}
	pending, err := c.store.OfferedForLoad(ctx, loadID)
	if err != nil {
		return nil, fmt.Errorf("offer load %s: %w", loadID, err)
	}
	if pending != nil {
		return nil, fmt.Errorf("offer load %s to %s, pending offer %s: %w",
			loadID, driverID, pending.ID, ErrConflictingOffer)
	}

	now := c.now()
	a := &model.Assignment{
		ID:        uuid.NewString(),
		LoadID:    loadID,
		DriverID:  driverID,
		TruckID:   truckID,
		TrailerID: trailerID,
		State:     model.AssignmentOffered,
		OfferedAt: now,
		ExpiresAt: now.Add(time.Duration(c.cfg.OfferTTLMinutes) * time.Minute),
	}
	if err := c.store.PutAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("persist offer %s: %w", a.ID, err)
	}
	c.log.Infof("offered load %s to driver %s (assignment %s)", loadID, driverID, a.ID)

	c.publishAssignment(ctx, bus.EventAssignmentNew, a, load.CompanyID)
	c.notify(a, "")
	return a, nil
}

// Accept records the driver's acceptance. The load moves to trip_accepted,
// the vehicle pairing is written onto it, and an active trip record is
// opened. Exactly one acceptance can win per offer.
func (c *Coordinator) Accept(ctx context.Context, assignmentID, actor string) (*model.Assignment, error) {
	// Read once outside the locks to learn the load, then lock the load
	// before the assignment so all mutation paths share one order.
	probe, err := c.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("accept %s: %w", assignmentID, err)
	}

	unlockLoad := c.locks.Lock("load:" + probe.LoadID)
	defer unlockLoad()
	unlock := c.locks.Lock("assignment:" + assignmentID)
	defer unlock()

	a, err := c.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("accept %s: %w", assignmentID, err)
	}
	if a.State == model.AssignmentExpired {
		return nil, fmt.Errorf("accept %s: %w", assignmentID, ErrExpired)
	}
	if a.State.Terminal() {
		// The first terminal write wins; every later accept observes it,
		// including a duplicate from the winner.
		return nil, fmt.Errorf("accept %s in state %s: %w", assignmentID, a.State, ErrAlreadyResolved)
	}
	now := c.now()
	if now.After(a.ExpiresAt) {
		c.resolve(ctx, a, model.AssignmentExpired, "", now)
		return nil, fmt.Errorf("accept %s: %w", assignmentID, ErrExpired)
	}

	load, err := c.store.GetLoad(ctx, a.LoadID)
	if err != nil {
		return nil, fmt.Errorf("accept %s: %w", assignmentID, err)
	}
	if _, err := c.machine.Apply(load, model.EventAssign, actor, now, nil); err != nil {
		return nil, fmt.Errorf("accept %s: %w", assignmentID, errors.Join(ErrLoadNotAssignable, err))
	}
	if _, err := c.machine.Apply(load, model.EventTripAccept, actor, now, nil); err != nil {
		return nil, fmt.Errorf("accept %s: %w", assignmentID, errors.Join(ErrLoadNotAssignable, err))
	}
	load.DriverID = a.DriverID
	load.TruckID = a.TruckID
	load.TrailerID = a.TrailerID

	trip := &model.Trip{
		ID:           uuid.NewString(),
		AssignmentID: a.ID,
		LoadID:       a.LoadID,
		DriverID:     a.DriverID,
		Status:       model.TripActive,
		StartedAt:    now,
	}

	a.State = model.AssignmentAccepted
	a.ResolvedAt = &now
	if err := c.store.PutLoad(ctx, load); err != nil {
		return nil, fmt.Errorf("persist load %s: %w", load.ID, err)
	}
	if err := c.store.PutAssignment(ctx, a); err != nil {
		return nil, fmt.Errorf("persist assignment %s: %w", a.ID, err)
	}
	if err := c.store.PutTrip(ctx, trip); err != nil {
		return nil, fmt.Errorf("persist trip %s: %w", trip.ID, err)
	}
	c.log.Infof("driver %s accepted load %s (trip %s)", a.DriverID, a.LoadID, trip.ID)

	c.publishAssignment(ctx, bus.EventAssignmentAccepted, a, load.CompanyID)
	c.publishStatus(ctx, load, model.EventTripAccept)
	c.notify(a, "")
	c.record(a, now)
	return a, nil
}

// Reject records the driver's refusal. The load keeps its status and can
// be offered again.
func (c *Coordinator) Reject(ctx context.Context, assignmentID, reason, actor string) (*model.Assignment, error) {
	probe, err := c.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("reject %s: %w", assignmentID, err)
	}

	unlockLoad := c.locks.Lock("load:" + probe.LoadID)
	defer unlockLoad()
	unlock := c.locks.Lock("assignment:" + assignmentID)
	defer unlock()

	a, err := c.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("reject %s: %w", assignmentID, err)
	}
	if a.State == model.AssignmentExpired {
		return nil, fmt.Errorf("reject %s: %w", assignmentID, ErrExpired)
	}
	if a.State.Terminal() {
		return nil, fmt.Errorf("reject %s in state %s: %w", assignmentID, a.State, ErrAlreadyResolved)
	}
	now := c.now()
	if now.After(a.ExpiresAt) {
		c.resolve(ctx, a, model.AssignmentExpired, "", now)
		return nil, fmt.Errorf("reject %s: %w", assignmentID, ErrExpired)
	}

	if err := c.resolve(ctx, a, model.AssignmentRejected, reason, now); err != nil {
		return nil, err
	}
	c.log.Infof("driver %s rejected load %s: %s", a.DriverID, a.LoadID, reason)

	load, err := c.store.GetLoad(ctx, a.LoadID)
	if err == nil {
		c.publishAssignment(ctx, bus.EventAssignmentRejected, a, load.CompanyID)
	}
	c.notify(a, reason)
	c.record(a, now)
	return a, nil
}

// Expire moves an offer past its deadline to expired. Calling before the
// deadline, or on an already resolved offer, is a no-op.
func (c *Coordinator) Expire(ctx context.Context, assignmentID string) error {
	probe, err := c.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("expire %s: %w", assignmentID, err)
	}

	unlockLoad := c.locks.Lock("load:" + probe.LoadID)
	defer unlockLoad()
	unlock := c.locks.Lock("assignment:" + assignmentID)
	defer unlock()

	a, err := c.store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return fmt.Errorf("expire %s: %w", assignmentID, err)
	}
	if a.State.Terminal() {
		return nil
	}
	now := c.now()
	if !now.After(a.ExpiresAt) {
		return nil
	}
	if err := c.resolve(ctx, a, model.AssignmentExpired, "", now); err != nil {
		return err
	}
	c.log.Infof("offer %s for load %s expired", a.ID, a.LoadID)
	c.notify(a, "")
	c.record(a, now)
	return nil
}

// SweepExpired expires every offer past its deadline and returns how many
// it resolved.
func (c *Coordinator) SweepExpired(ctx context.Context) (int, error) {
	offered, err := c.store.ListOffered(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweep offers: %w", err)
	}
	now := c.now()
	n := 0
	for _, a := range offered {
		if !now.After(a.ExpiresAt) {
			continue
		}
		if err := c.Expire(ctx, a.ID); err != nil {
			c.log.Errorf("sweep expire %s: %v", a.ID, err)
			continue
		}
		n++
	}
	return n, nil
}

// RunExpirySweep runs SweepExpired on the configured interval until the
// context is cancelled.
func (c *Coordinator) RunExpirySweep(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(c.cfg.SweepIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.SweepExpired(ctx); err == nil && n > 0 {
				c.log.Infof("expired %d stale offers", n)
			}
		}
	}
}

// ApplyStatusEvent validates and applies a lifecycle event to the load,
// persists the result and fans the change out to the load and company
// channels. Reaching a terminal status closes the active trip and
// supersedes any pending offer.
func (c *Coordinator) ApplyStatusEvent(ctx context.Context, loadID string, ev model.StatusEvent, actor string, coords *model.LatLng) (model.LoadStatus, error) {
	unlock := c.locks.Lock("load:" + loadID)
	defer unlock()

	load, err := c.store.GetLoad(ctx, loadID)
	if err != nil {
		return "", fmt.Errorf("status event %s on %s: %w", ev, loadID, err)
	}
	before := len(load.StatusHistory)
	next, err := c.machine.Apply(load, ev, actor, c.now(), coords)
	if err != nil {
		return load.Status, fmt.Errorf("status event %s on %s: %w", ev, loadID, err)
	}
	if len(load.StatusHistory) == before {
		// Idempotent replay, nothing to persist or announce.
		return next, nil
	}
	if err := c.store.PutLoad(ctx, load); err != nil {
		return load.Status, fmt.Errorf("persist load %s: %w", loadID, err)
	}
	c.log.Infof("load %s -> %s (%s by %s)", loadID, next, ev, actor)

	if next.Terminal() {
		c.closeTrip(ctx, load)
		c.supersedePending(ctx, load)
	}
	c.publishStatus(ctx, load, ev)
	return next, nil
}

// CancelLoad cancels the load from any non-terminal status.
func (c *Coordinator) CancelLoad(ctx context.Context, loadID, actor string) (model.LoadStatus, error) {
	return c.ApplyStatusEvent(ctx, loadID, model.EventCancel, actor, nil)
}

// Events returns a channel of assignment outcomes for in-process
// observers. The caller releases it with StopEvents.
func (c *Coordinator) Events() <-chan events.AssignmentEvent {
	return c.events.Subscribe()
}

// StopEvents removes an assignment observer.
func (c *Coordinator) StopEvents(ch <-chan events.AssignmentEvent) {
	c.events.Unsubscribe(ch)
}

// Close stops the observer bus.
func (c *Coordinator) Close() {
	c.events.Close()
}

// resolve moves a pending offer to a terminal state and persists it.
func (c *Coordinator) resolve(ctx context.Context, a *model.Assignment, state model.AssignmentState, reason string, at time.Time) error {
	a.State = state
	a.ResolvedAt = &at
	a.RejectionReason = reason
	if err := c.store.PutAssignment(ctx, a); err != nil {
		return fmt.Errorf("persist assignment %s: %w", a.ID, err)
	}
	return nil
}

// closeTrip closes the load's active trip, if any.
func (c *Coordinator) closeTrip(ctx context.Context, load *model.Load) {
	trip, err := c.store.ActiveTripForLoad(ctx, load.ID)
	if err != nil || trip == nil {
		return
	}
	now := c.now()
	trip.Status = model.TripClosed
	trip.ClosedAt = &now
	if err := c.store.PutTrip(ctx, trip); err != nil {
		c.log.Errorf("close trip %s: %v", trip.ID, err)
	}
}

// supersedePending supersedes a still-open offer for the load, if any.
func (c *Coordinator) supersedePending(ctx context.Context, load *model.Load) {
	pending, err := c.store.OfferedForLoad(ctx, load.ID)
	if err != nil || pending == nil {
		return
	}
	unlock := c.locks.Lock("assignment:" + pending.ID)
	defer unlock()
	now := c.now()
	if err := c.resolve(ctx, pending, model.AssignmentSuperseded, "", now); err != nil {
		c.log.Errorf("supersede %s: %v", pending.ID, err)
		return
	}
	c.log.Infof("superseded offer %s for load %s", pending.ID, load.ID)
	c.notify(pending, "")
}

func (c *Coordinator) publishAssignment(ctx context.Context, event string, a *model.Assignment, companyID string) {
	payload := map[string]any{
		"assignment_id": a.ID,
		"load_id":       a.LoadID,
		"driver_id":     a.DriverID,
		"truck_id":      a.TruckID,
		"state":         a.State,
	}
	if a.RejectionReason != "" {
		payload["reason"] = a.RejectionReason
	}
	if err := c.bus.Publish(ctx, bus.DriverTopic(a.DriverID), event, payload); err != nil {
		c.log.Errorf("publish %s: %v", event, err)
	}
	// Dispatchers follow offer activity on the load's own channel.
	if err := c.bus.Publish(ctx, bus.LoadTopic(a.LoadID), event, payload); err != nil {
		c.log.Errorf("publish %s: %v", event, err)
	}
	if companyID != "" {
		if err := c.bus.Publish(ctx, bus.CompanyTopic(companyID), event, payload); err != nil {
			c.log.Errorf("publish %s: %v", event, err)
		}
	}
}

func (c *Coordinator) publishStatus(ctx context.Context, load *model.Load, ev model.StatusEvent) {
	last := load.StatusHistory[len(load.StatusHistory)-1]
	payload := map[string]any{
		"load_id":    load.ID,
		"new_status": load.Status,
		"event":      ev,
		"actor":      last.Actor,
		"timestamp":  last.Timestamp,
	}
	if len(load.StatusHistory) > 1 {
		payload["previous_status"] = load.StatusHistory[len(load.StatusHistory)-2].Status
	}
	if last.Coordinates != nil {
		payload["coordinates"] = last.Coordinates
	}
	if err := c.bus.Publish(ctx, bus.LoadTopic(load.ID), bus.EventStatusChange, payload); err != nil {
		c.log.Errorf("publish status-change: %v", err)
	}
	if load.CompanyID != "" {
		if err := c.bus.Publish(ctx, bus.CompanyTopic(load.CompanyID), bus.EventStatusChange, payload); err != nil {
			c.log.Errorf("publish status-change: %v", err)
		}
	}
}

func (c *Coordinator) notify(a *model.Assignment, reason string) {
	c.events.Publish(events.AssignmentEvent{
		AssignmentID: a.ID,
		LoadID:       a.LoadID,
		DriverID:     a.DriverID,
		State:        a.State,
		Reason:       reason,
		Time:         c.now(),
	})
}

func (c *Coordinator) record(a *model.Assignment, at time.Time) {
	rec := metrics.AssignmentRecord{
		AssignmentID: a.ID,
		LoadID:       a.LoadID,
		DriverID:     a.DriverID,
		Outcome:      a.State.String(),
		Time:         at,
	}
	if a.ResolvedAt != nil {
		rec.Latency = a.ResolvedAt.Sub(a.OfferedAt)
	}
	if err := c.sink.RecordAssignment(rec); err != nil {
		c.log.Errorf("record assignment %s: %v", a.ID, err)
	}
}

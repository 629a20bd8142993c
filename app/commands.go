package app

import (
	"context"
	"errors"

	"github.com/loadline/dispatchd/core/assignment"
	"github.com/loadline/dispatchd/core/bus"
	"github.com/loadline/dispatchd/core/logger"
	"github.com/loadline/dispatchd/core/model"
	"github.com/loadline/dispatchd/core/sos"
	"github.com/loadline/dispatchd/core/tracking"
)

// CommandTopic is the shared inbound channel driver and dispatcher clients
// publish commands on.
const CommandTopic = "dispatchd:commands"

// Command event names accepted on CommandTopic.
const (
	CmdOffer       = "cmd-offer"
	CmdAccept      = "cmd-accept"
	CmdReject      = "cmd-reject"
	CmdStatusEvent = "cmd-status-event"
	CmdLocation    = "cmd-location"
	CmdHeartbeat   = "cmd-heartbeat"
	CmdSOSCreate   = "cmd-sos-create"
	CmdSOSAck      = "cmd-sos-ack"
	CmdSOSResolve  = "cmd-sos-resolve"
	CmdSOSCancel   = "cmd-sos-cancel"
)

type OfferCommand struct {
	LoadID    string `json:"load_id"`
	DriverID  string `json:"driver_id"`
	TruckID   string `json:"truck_id"`
	TrailerID string `json:"trailer_id,omitempty"`
	Actor     string `json:"actor"`
}

type DecisionCommand struct {
	AssignmentID string `json:"assignment_id"`
	Actor        string `json:"actor"`
	Reason       string `json:"reason,omitempty"`
}

type StatusCommand struct {
	LoadID string            `json:"load_id"`
	Event  model.StatusEvent `json:"event"`
	Actor  string            `json:"actor"`
	Coords *model.LatLng     `json:"coords,omitempty"`
}

type LocationCommand struct {
	LoadID string               `json:"load_id"`
	Sample model.LocationSample `json:"sample"`
}

type HeartbeatCommand struct {
	DriverID  string `json:"driver_id"`
	CompanyID string `json:"company_id,omitempty"`
}

type SOSCommand struct {
	AlertID string `json:"alert_id"`
	Actor   string `json:"actor"`
	Notes   string `json:"notes,omitempty"`
}

// Commands consumes the inbound command channel and drives the core
// modules. Command failures are logged, never fatal: a malformed or
// rejected command must not take the intake down.
type Commands struct {
	bus         *bus.Bus
	coordinator *assignment.Coordinator
	tracker     *tracking.Tracker
	escalation  *sos.Escalation
	presence    *bus.Presence
	log         logger.Logger
}

// NewCommands creates the command intake.
func NewCommands(b *bus.Bus, c *assignment.Coordinator, t *tracking.Tracker, e *sos.Escalation, p *bus.Presence, log logger.Logger) *Commands {
	return &Commands{bus: b, coordinator: c, tracker: t, escalation: e, presence: p, log: log}
}

// Run subscribes to the command channel and dispatches until the context
// is cancelled.
func (c *Commands) Run(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx, CommandTopic)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-sub.C():
			if !ok {
				return nil
			}
			c.handle(ctx, env)
		}
	}
}

func (c *Commands) handle(ctx context.Context, env bus.Envelope) {
	var err error
	switch env.Event {
	case CmdOffer:
		var cmd OfferCommand
		if err = env.Decode(&cmd); err == nil {
			_, err = c.coordinator.Offer(ctx, cmd.LoadID, cmd.DriverID, cmd.TruckID, cmd.TrailerID, cmd.Actor)
		}
	case CmdAccept:
		var cmd DecisionCommand
		if err = env.Decode(&cmd); err == nil {
			_, err = c.coordinator.Accept(ctx, cmd.AssignmentID, cmd.Actor)
		}
	case CmdReject:
		var cmd DecisionCommand
		if err = env.Decode(&cmd); err == nil {
			_, err = c.coordinator.Reject(ctx, cmd.AssignmentID, cmd.Reason, cmd.Actor)
		}
	case CmdStatusEvent:
		var cmd StatusCommand
		if err = env.Decode(&cmd); err == nil {
			_, err = c.coordinator.ApplyStatusEvent(ctx, cmd.LoadID, cmd.Event, cmd.Actor, cmd.Coords)
		}
	case CmdLocation:
		var cmd LocationCommand
		if err = env.Decode(&cmd); err == nil {
			var stored bool
			stored, err = c.tracker.Ingest(ctx, cmd.LoadID, cmd.Sample)
			if err == nil && !stored {
				c.log.Debugf("throttled sample for load %s", cmd.LoadID)
			}
		}
	case CmdHeartbeat:
		var cmd HeartbeatCommand
		if err = env.Decode(&cmd); err == nil {
			c.presence.Heartbeat(ctx, cmd.DriverID, cmd.CompanyID)
		}
	case CmdSOSCreate:
		var req sos.CreateRequest
		if err = env.Decode(&req); err == nil {
			_, err = c.escalation.Create(ctx, req)
		}
	case CmdSOSAck:
		var cmd SOSCommand
		if err = env.Decode(&cmd); err == nil {
			_, err = c.escalation.Acknowledge(ctx, cmd.AlertID, cmd.Actor)
		}
	case CmdSOSResolve:
		var cmd SOSCommand
		if err = env.Decode(&cmd); err == nil {
			_, err = c.escalation.Resolve(ctx, cmd.AlertID, cmd.Actor, cmd.Notes)
		}
	case CmdSOSCancel:
		var cmd SOSCommand
		if err = env.Decode(&cmd); err == nil {
			_, err = c.escalation.Cancel(ctx, cmd.AlertID, cmd.Actor)
		}
	default:
		c.log.Warnf("unknown command %s", env.Event)
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.log.Errorf("command %s (%s): %v", env.Event, env.ID, err)
	}
}

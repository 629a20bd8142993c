// Package events defines the in-process observer events published on the
// internal bus alongside the wire-level channel fan-out.
package events

import (
	"time"

	"github.com/loadline/dispatchd/core/model"
)

// ConnectionEvent reports a transport connection state change.
type ConnectionEvent struct {
	Connected bool
	Time      time.Time
}

// AssignmentEvent is published for each assignment protocol outcome.
type AssignmentEvent struct {
	AssignmentID string
	LoadID       string
	DriverID     string
	State        model.AssignmentState
	Reason       string
	Time         time.Time
}

// PresenceEvent reports a driver going online or offline.
type PresenceEvent struct {
	DriverID string
	Online   bool
	Time     time.Time
}

// SOSEvent is published when an alert is created or moves forward.
type SOSEvent struct {
	AlertID  string
	DriverID string
	Status   model.SOSStatus
	Time     time.Time
}

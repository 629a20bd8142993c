// Package metrics defines the sink interfaces the coordination core records
// observability data through. Sinks are optional everywhere; a nil or Nop
// sink disables recording without branching at call sites.
package metrics

import "time"

// AssignmentRecord represents one assignment protocol outcome.
type AssignmentRecord struct {
	AssignmentID string
	LoadID       string
	DriverID     string
	Outcome      string
	Latency      time.Duration
	Time         time.Time
}

// LocationRecord represents one accepted location sample.
type LocationRecord struct {
	TripID            string
	DriverID          string
	Lat               float64
	Lng               float64
	Speed             float64
	Accuracy          float64
	DistanceTraveled  float64
	DistanceRemaining float64
	Time              time.Time
}

// SOSRecord represents an emergency alert state change.
type SOSRecord struct {
	AlertID  string
	DriverID string
	Status   string
	Notified int
	Time     time.Time
}

// Sink records assignment outcomes.
type Sink interface {
	RecordAssignment(rec AssignmentRecord) error
}

// LocationRecorder is implemented by sinks able to record location samples.
type LocationRecorder interface {
	RecordLocation(rec LocationRecord) error
}

// SOSRecorder is implemented by sinks able to record alert activity.
type SOSRecorder interface {
	RecordSOS(rec SOSRecord) error
}

// PresenceRecorder is implemented by sinks able to record the online count.
type PresenceRecorder interface {
	RecordOnlineCount(n int) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordAssignment(AssignmentRecord) error { return nil }
func (NopSink) RecordLocation(LocationRecord) error     { return nil }
func (NopSink) RecordSOS(SOSRecord) error               { return nil }
func (NopSink) RecordOnlineCount(int) error             { return nil }

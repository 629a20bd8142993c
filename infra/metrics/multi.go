package metrics

import coremetrics "github.com/loadline/dispatchd/core/metrics"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAssignment forwards the record to all sinks, returning the first
// error encountered.
func (m *MultiSink) RecordAssignment(rec coremetrics.AssignmentRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordAssignment(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordLocation forwards location samples to sinks that support them.
func (m *MultiSink) RecordLocation(rec coremetrics.LocationRecord) error {
	for _, s := range m.Sinks {
		if lr, ok := s.(coremetrics.LocationRecorder); ok {
			if err := lr.RecordLocation(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordSOS forwards alert activity to sinks that support it.
func (m *MultiSink) RecordSOS(rec coremetrics.SOSRecord) error {
	for _, s := range m.Sinks {
		if sr, ok := s.(coremetrics.SOSRecorder); ok {
			if err := sr.RecordSOS(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordOnlineCount forwards the online count to sinks that support it.
func (m *MultiSink) RecordOnlineCount(n int) error {
	for _, s := range m.Sinks {
		if pr, ok := s.(coremetrics.PresenceRecorder); ok {
			if err := pr.RecordOnlineCount(n); err != nil {
				return err
			}
		}
	}
	return nil
}

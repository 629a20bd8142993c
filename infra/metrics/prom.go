// Package metrics provides the Prometheus and InfluxDB sink adapters for
// the core recorder interfaces.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/loadline/dispatchd/core/metrics"
)

// PromSink records coordination events in Prometheus metrics.
type PromSink struct {
	assignments *prometheus.CounterVec
	acceptLat   prometheus.Histogram
	locations   *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	online      prometheus.Gauge
}

// NewPromSink registers the metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	assignments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assignment_outcomes_total",
		Help: "Total number of assignment protocol outcomes",
	}, []string{"outcome"})
	acceptLat := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "assignment_resolution_seconds",
		Help:    "Time between offer and resolution",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
	locations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "location_samples_total",
		Help: "Total number of accepted location samples",
	}, []string{"driver_id"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sos_alerts_total",
		Help: "Total number of emergency alert state changes",
	}, []string{"status"})
	online := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "drivers_online",
		Help: "Number of drivers inside their heartbeat window",
	})

	register := func(c prometheus.Collector) (prometheus.Collector, error) {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				return are.ExistingCollector, nil
			}
			return nil, err
		}
		return c, nil
	}
	var err error
	var c prometheus.Collector
	if c, err = register(assignments); err != nil {
		return nil, err
	}
	assignments = c.(*prometheus.CounterVec)
	if c, err = register(acceptLat); err != nil {
		return nil, err
	}
	acceptLat = c.(prometheus.Histogram)
	if c, err = register(locations); err != nil {
		return nil, err
	}
	locations = c.(*prometheus.CounterVec)
	if c, err = register(alerts); err != nil {
		return nil, err
	}
	alerts = c.(*prometheus.CounterVec)
	if c, err = register(online); err != nil {
		return nil, err
	}
	online = c.(prometheus.Gauge)

	return &PromSink{
		assignments: assignments,
		acceptLat:   acceptLat,
		locations:   locations,
		alerts:      alerts,
		online:      online,
	}, nil
}

// RecordAssignment increments the outcome counter and observes the
// resolution latency for resolved offers.
func (s *PromSink) RecordAssignment(rec coremetrics.AssignmentRecord) error {
	s.assignments.WithLabelValues(rec.Outcome).Inc()
	if rec.Latency > 0 {
		s.acceptLat.Observe(rec.Latency.Seconds())
	}
	return nil
}

// RecordLocation counts accepted samples per driver.
func (s *PromSink) RecordLocation(rec coremetrics.LocationRecord) error {
	s.locations.WithLabelValues(rec.DriverID).Inc()
	return nil
}

// RecordSOS counts alert state changes.
func (s *PromSink) RecordSOS(rec coremetrics.SOSRecord) error {
	s.alerts.WithLabelValues(rec.Status).Inc()
	return nil
}

// RecordOnlineCount sets the online drivers gauge.
func (s *PromSink) RecordOnlineCount(n int) error {
	s.online.Set(float64(n))
	return nil
}

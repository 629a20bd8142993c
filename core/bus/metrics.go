package bus

import "github.com/prometheus/client_golang/prometheus"

var (
	publishedTotal    *prometheus.CounterVec
	backpressureDrops prometheus.Counter
	subscriberDrops   prometheus.Counter
	bufferedGauge     prometheus.Gauge
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, prometheus.Counter, prometheus.Counter, prometheus.Gauge) {
	pub := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Number of events handed to the transport, by event name",
		},
		[]string{"event"},
	)
	bp := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_backpressure_dropped_total",
			Help: "Number of buffered events dropped because the outage buffer overflowed",
		},
	)
	sd := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_subscriber_dropped_total",
			Help: "Number of events dropped because a subscriber queue was full",
		},
	)
	buf := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bus_buffered_events",
			Help: "Events currently buffered while the transport is down",
		},
	)
	return pub, bp, sd, buf
}

func init() {
	publishedTotal, backpressureDrops, subscriberDrops, bufferedGauge = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers bus metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(publishedTotal, backpressureDrops, subscriberDrops, bufferedGauge)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	publishedTotal, backpressureDrops, subscriberDrops, bufferedGauge = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	coremetrics "github.com/loadline/dispatchd/core/metrics"
)

func TestPromSinkRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	assert.NoError(t, err)

	assert.NoError(t, sink.RecordAssignment(coremetrics.AssignmentRecord{
		Outcome: "accepted", Latency: 2 * time.Second, Time: time.Now(),
	}))
	assert.NoError(t, sink.RecordAssignment(coremetrics.AssignmentRecord{
		Outcome: "rejected", Time: time.Now(),
	}))
	assert.NoError(t, sink.RecordLocation(coremetrics.LocationRecord{DriverID: "D1"}))
	assert.NoError(t, sink.RecordSOS(coremetrics.SOSRecord{Status: "active"}))
	assert.NoError(t, sink.RecordOnlineCount(7))

	assert.Equal(t, float64(1), testutil.ToFloat64(sink.assignments.WithLabelValues("accepted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.assignments.WithLabelValues("rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.locations.WithLabelValues("D1")))
	assert.Equal(t, float64(7), testutil.ToFloat64(sink.online))
}

func TestPromSinkDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromSinkWithRegistry(reg); err != nil {
		t.Fatal(err)
	}
	// Registering twice on the same registry reuses the collectors.
	if _, err := NewPromSinkWithRegistry(reg); err != nil {
		t.Fatal(err)
	}
}

func TestMultiSinkForwardsToCapableSinks(t *testing.T) {
	reg := prometheus.NewRegistry()
	prom, err := NewPromSinkWithRegistry(reg)
	assert.NoError(t, err)

	multi := NewMultiSink(prom, coremetrics.NopSink{})
	assert.NoError(t, multi.RecordAssignment(coremetrics.AssignmentRecord{Outcome: "expired"}))
	assert.NoError(t, multi.RecordLocation(coremetrics.LocationRecord{DriverID: "D2"}))
	assert.NoError(t, multi.RecordSOS(coremetrics.SOSRecord{Status: "resolved"}))
	assert.NoError(t, multi.RecordOnlineCount(3))

	assert.Equal(t, float64(1), testutil.ToFloat64(prom.assignments.WithLabelValues("expired")))
}

func TestInfluxFallbackToNop(t *testing.T) {
	sink := NewInfluxSinkWithFallback("http://127.0.0.1:1", "t", "org", "bucket")
	if _, ok := sink.(coremetrics.NopSink); !ok {
		t.Fatalf("expected NopSink fallback, got %T", sink)
	}
}

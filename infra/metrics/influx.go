package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/loadline/dispatchd/core/metrics"
	"github.com/loadline/dispatchd/infra/logger"
)

// InfluxSink writes coordination events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB
// endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordAssignment writes an assignment outcome point.
func (s *InfluxSink) RecordAssignment(rec coremetrics.AssignmentRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("assignment_outcome").
		AddTag("assignment_id", rec.AssignmentID).
		AddTag("load_id", rec.LoadID).
		AddTag("driver_id", rec.DriverID).
		AddTag("outcome", rec.Outcome).
		AddTag("component", "assignment_coordinator").
		AddField("latency_ms", round3(rec.Latency.Seconds()*1000)).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordLocation writes an accepted location sample point.
func (s *InfluxSink) RecordLocation(rec coremetrics.LocationRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("trip_location").
		AddTag("trip_id", rec.TripID).
		AddTag("driver_id", rec.DriverID).
		AddTag("component", "location_tracker").
		AddField("lat", rec.Lat).
		AddField("lng", rec.Lng).
		AddField("speed", round3(rec.Speed)).
		AddField("accuracy", round3(rec.Accuracy)).
		AddField("distance_traveled", round3(rec.DistanceTraveled)).
		AddField("distance_remaining", round3(rec.DistanceRemaining)).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordSOS writes an alert state change point.
func (s *InfluxSink) RecordSOS(rec coremetrics.SOSRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("sos_alert").
		AddTag("alert_id", rec.AlertID).
		AddTag("driver_id", rec.DriverID).
		AddTag("status", rec.Status).
		AddTag("component", "emergency_escalation").
		AddField("notified_parties", rec.Notified).
		SetTime(rec.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordOnlineCount writes the online drivers count.
func (s *InfluxSink) RecordOnlineCount(n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("drivers_online").
		AddTag("component", "presence").
		AddField("count", n).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// Package tracking ingests driver GPS samples into trip records. Samples
// are filtered before they touch the trip: stale or inaccurate readings are
// typed failures, and readings inside the throttle window are acknowledged
// but not stored.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loadline/dispatchd/core/bus"
	"github.com/loadline/dispatchd/core/geo"
	"github.com/loadline/dispatchd/core/logger"
	"github.com/loadline/dispatchd/core/metrics"
	"github.com/loadline/dispatchd/core/model"
	"github.com/loadline/dispatchd/core/store"
	"github.com/loadline/dispatchd/internal/keylock"
)

var (
	// ErrStaleSample is returned when a sample is older than the last
	// accepted one for the trip.
	ErrStaleSample = errors.New("sample is older than the last accepted sample")
	// ErrLowAccuracy is returned when the reported accuracy radius
	// exceeds the configured ceiling.
	ErrLowAccuracy = errors.New("sample accuracy exceeds the ceiling")
	// ErrNoActiveTrip is returned when the load has no open trip to
	// attach samples to.
	ErrNoActiveTrip = errors.New("load has no active trip")
)

// Config defines sample filtering thresholds.
type Config struct {
	// MaxAccuracyM rejects samples with a larger uncertainty radius.
	MaxAccuracyM float64 `json:"max_accuracy_m"`
	// MinIntervalSeconds throttles samples closer in time than this to
	// the last accepted one.
	MinIntervalSeconds int `json:"min_interval_seconds"`
	// MinDistanceM throttles samples closer in space than this to the
	// last accepted one.
	MinDistanceM float64 `json:"min_distance_m"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.MaxAccuracyM <= 0 {
		c.MaxAccuracyM = 200
	}
	if c.MinIntervalSeconds <= 0 {
		c.MinIntervalSeconds = 30
	}
	if c.MinDistanceM <= 0 {
		c.MinDistanceM = 50
	}
}

// Tracker ingests location samples for active trips.
type Tracker struct {
	cfg   Config
	store store.Store
	bus   *bus.Bus
	locks *keylock.KeyLock
	sink  metrics.Sink
	log   logger.Logger
}

// New creates a Tracker. A nil sink disables metrics recording.
func New(cfg Config, st store.Store, b *bus.Bus, sink metrics.Sink, log logger.Logger) *Tracker {
	cfg.SetDefaults()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Tracker{
		cfg:   cfg,
		store: st,
		bus:   b,
		locks: keylock.New(),
		sink:  sink,
		log:   log,
	}
}

// Ingest attaches a sample to the load's active trip. The bool return
// reports whether the sample was stored: throttled samples are acknowledged
// with false and no error, so clients never treat normal cadence as a
// failure. Stored samples update the distance accounting and are fanned out
// on the load and driver channels.
func (t *Tracker) Ingest(ctx context.Context, loadID string, sample model.LocationSample) (bool, error) {
	if sample.Accuracy > t.cfg.MaxAccuracyM {
		return false, fmt.Errorf("ingest for load %s: accuracy %.0fm: %w",
			loadID, sample.Accuracy, ErrLowAccuracy)
	}

	unlock := t.locks.Lock("trip:" + loadID)
	defer unlock()

	trip, err := t.store.ActiveTripForLoad(ctx, loadID)
	if err != nil {
		return false, fmt.Errorf("ingest for load %s: %w", loadID, err)
	}
	if trip == nil {
		return false, fmt.Errorf("ingest for load %s: %w", loadID, ErrNoActiveTrip)
	}

	if last := trip.LastSample(); last != nil {
		if !sample.Timestamp.After(last.Timestamp) {
			return false, fmt.Errorf("ingest for trip %s: %w", trip.ID, ErrStaleSample)
		}
		interval := sample.Timestamp.Sub(last.Timestamp)
		dist := geo.HaversineM(last.Point(), sample.Point())
		if interval < time.Duration(t.cfg.MinIntervalSeconds)*time.Second && dist < t.cfg.MinDistanceM {
			return false, nil
		}
		trip.DistanceTraveled += dist
	}

	trip.LocationHistory = append(trip.LocationHistory, sample)
	if sample.DistanceRemaining != nil {
		trip.DistanceRemaining = *sample.DistanceRemaining
	}
	if err := t.store.PutTrip(ctx, trip); err != nil {
		return false, fmt.Errorf("persist trip %s: %w", trip.ID, err)
	}

	t.publish(ctx, trip, sample)
	t.record(trip, sample)
	return true, nil
}

func (t *Tracker) publish(ctx context.Context, trip *model.Trip, sample model.LocationSample) {
	payload := map[string]any{
		"trip_id":            trip.ID,
		"load_id":            trip.LoadID,
		"driver_id":          trip.DriverID,
		"lat":                sample.Lat,
		"lng":                sample.Lng,
		"timestamp":          sample.Timestamp,
		"speed":              sample.Speed,
		"accuracy":           sample.Accuracy,
		"distance_traveled":  trip.DistanceTraveled,
		"distance_remaining": trip.DistanceRemaining,
	}
	if err := t.bus.Publish(ctx, bus.LoadTopic(trip.LoadID), bus.EventLocationUpdate, payload); err != nil {
		t.log.Errorf("publish location-update: %v", err)
	}
	if err := t.bus.Publish(ctx, bus.DriverTopic(trip.DriverID), bus.EventLocationUpdate, payload); err != nil {
		t.log.Errorf("publish location-update: %v", err)
	}
}

func (t *Tracker) record(trip *model.Trip, sample model.LocationSample) {
	rec, ok := t.sink.(metrics.LocationRecorder)
	if !ok {
		return
	}
	err := rec.RecordLocation(metrics.LocationRecord{
		TripID:            trip.ID,
		DriverID:          trip.DriverID,
		Lat:               sample.Lat,
		Lng:               sample.Lng,
		Speed:             sample.Speed,
		Accuracy:          sample.Accuracy,
		DistanceTraveled:  trip.DistanceTraveled,
		DistanceRemaining: trip.DistanceRemaining,
		Time:              sample.Timestamp,
	})
	if err != nil {
		t.log.Errorf("record location for trip %s: %v", trip.ID, err)
	}
}

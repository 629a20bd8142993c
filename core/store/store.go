// Package store defines the durable store port consumed by the
// coordination core. The core treats persistence as a transactional
// key-value-by-identity store; query mechanics belong to the adapter.
package store

import (
	"context"
	"errors"

	"github.com/loadline/dispatchd/core/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("entity not found")

// LoadStore persists loads.
type LoadStore interface {
	GetLoad(ctx context.Context, id string) (*model.Load, error)
	PutLoad(ctx context.Context, l *model.Load) error
	ListLoadsByCompany(ctx context.Context, companyID string) ([]*model.Load, error)
}

// AssignmentStore persists assignments.
type AssignmentStore interface {
	GetAssignment(ctx context.Context, id string) (*model.Assignment, error)
	PutAssignment(ctx context.Context, a *model.Assignment) error
	// OfferedForLoad returns the assignment currently in the offered
	// state for the load, or nil when there is none.
	OfferedForLoad(ctx context.Context, loadID string) (*model.Assignment, error)
	// ListOffered returns every assignment still in the offered state,
	// for the expiry sweep.
	ListOffered(ctx context.Context) ([]*model.Assignment, error)
}

// TripStore persists trips.
type TripStore interface {
	GetTrip(ctx context.Context, id string) (*model.Trip, error)
	PutTrip(ctx context.Context, t *model.Trip) error
	// ActiveTripForLoad returns the open trip for the load, or nil.
	ActiveTripForLoad(ctx context.Context, loadID string) (*model.Trip, error)
}

// AlertStore persists SOS alerts.
type AlertStore interface {
	GetAlert(ctx context.Context, id string) (*model.SOSAlert, error)
	PutAlert(ctx context.Context, a *model.SOSAlert) error
	// ListOpenAlerts returns alerts that are active or acknowledged.
	ListOpenAlerts(ctx context.Context) ([]*model.SOSAlert, error)
}

// Store bundles the per-aggregate stores behind one backend.
type Store interface {
	LoadStore
	AssignmentStore
	TripStore
	AlertStore
}

// Config selects and parameterizes the store backend.
type Config struct {
	// Backend selects the store type: "memory" or "redis".
	Backend string `json:"backend"`
	// Addr is the redis address when the redis backend is selected.
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Backend != "memory" && c.Backend != "redis" {
		return errors.New("unknown store backend " + c.Backend)
	}
	return nil
}

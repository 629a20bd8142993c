package store

import (
	"context"
	"sort"
	"sync"

	"github.com/loadline/dispatchd/core/model"
)

// Memory is the in-memory Store used as the default backend and in tests.
// Values are copied on the way in and out so callers never share slices
// with the store.
type Memory struct {
	mu          sync.RWMutex
	loads       map[string]*model.Load
	assignments map[string]*model.Assignment
	trips       map[string]*model.Trip
	alerts      map[string]*model.SOSAlert
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		loads:       make(map[string]*model.Load),
		assignments: make(map[string]*model.Assignment),
		trips:       make(map[string]*model.Trip),
		alerts:      make(map[string]*model.SOSAlert),
	}
}

func cloneLoad(l *model.Load) *model.Load {
	c := *l
	c.StatusHistory = append([]model.StatusChange(nil), l.StatusHistory...)
	return &c
}

func cloneAssignment(a *model.Assignment) *model.Assignment {
	c := *a
	return &c
}

func cloneTrip(t *model.Trip) *model.Trip {
	c := *t
	c.LocationHistory = append([]model.LocationSample(nil), t.LocationHistory...)
	return &c
}

func cloneAlert(a *model.SOSAlert) *model.SOSAlert {
	c := *a
	c.NotifiedParties = append([]string(nil), a.NotifiedParties...)
	return &c
}

func (m *Memory) GetLoad(_ context.Context, id string) (*model.Load, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.loads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneLoad(l), nil
}

func (m *Memory) PutLoad(_ context.Context, l *model.Load) error {
	m.mu.Lock()
	m.loads[l.ID] = cloneLoad(l)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListLoadsByCompany(_ context.Context, companyID string) ([]*model.Load, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*model.Load
	for _, l := range m.loads {
		if companyID == "" || l.CompanyID == companyID {
			res = append(res, cloneLoad(l))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *Memory) GetAssignment(_ context.Context, id string) (*model.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAssignment(a), nil
}

func (m *Memory) PutAssignment(_ context.Context, a *model.Assignment) error {
	m.mu.Lock()
	m.assignments[a.ID] = cloneAssignment(a)
	m.mu.Unlock()
	return nil
}

func (m *Memory) OfferedForLoad(_ context.Context, loadID string) (*model.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assignments {
		if a.LoadID == loadID && a.State == model.AssignmentOffered {
			return cloneAssignment(a), nil
		}
	}
	return nil, nil
}

func (m *Memory) ListOffered(_ context.Context) ([]*model.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*model.Assignment
	for _, a := range m.assignments {
		if a.State == model.AssignmentOffered {
			res = append(res, cloneAssignment(a))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

func (m *Memory) GetTrip(_ context.Context, id string) (*model.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTrip(t), nil
}

func (m *Memory) PutTrip(_ context.Context, t *model.Trip) error {
	m.mu.Lock()
	m.trips[t.ID] = cloneTrip(t)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ActiveTripForLoad(_ context.Context, loadID string) (*model.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trips {
		if t.LoadID == loadID && t.Status == model.TripActive {
			return cloneTrip(t), nil
		}
	}
	return nil, nil
}

func (m *Memory) GetAlert(_ context.Context, id string) (*model.SOSAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAlert(a), nil
}

func (m *Memory) PutAlert(_ context.Context, a *model.SOSAlert) error {
	m.mu.Lock()
	m.alerts[a.ID] = cloneAlert(a)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListOpenAlerts(_ context.Context) ([]*model.SOSAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*model.SOSAlert
	for _, a := range m.alerts {
		if !a.Status.Closed() {
			res = append(res, cloneAlert(a))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// Package redisstore implements the store port on Redis. Entities are JSON
// values keyed by identity; the list queries are served from maintained
// index sets instead of scans.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/loadline/dispatchd/core/model"
	"github.com/loadline/dispatchd/core/store"
)

const (
	keyOfferedSet = "idx:assignments:offered"
	keyOpenAlerts = "idx:alerts:open"
)

// Store implements store.Store on a Redis client.
type Store struct {
	rdb *redis.Client
}

// New creates a Store and verifies the connection.
func New(ctx context.Context, cfg store.Config) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return &Store{rdb: rdb}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error { return s.rdb.Close() }

func loadKey(id string) string       { return "load:" + id }
func assignmentKey(id string) string { return "assignment:" + id }
func tripKey(id string) string       { return "trip:" + id }
func alertKey(id string) string      { return "alert:" + id }

func companyLoadsKey(companyID string) string { return "idx:company:" + companyID + ":loads" }
func offeredForLoadKey(loadID string) string  { return "idx:load:" + loadID + ":offered" }
func activeTripKey(loadID string) string      { return "idx:load:" + loadID + ":trip" }

func (s *Store) get(ctx context.Context, key string, v any) error {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) set(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetLoad(ctx context.Context, id string) (*model.Load, error) {
	var l model.Load
	if err := s.get(ctx, loadKey(id), &l); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Store) PutLoad(ctx context.Context, l *model.Load) error {
	if err := s.set(ctx, loadKey(l.ID), l); err != nil {
		return err
	}
	if l.CompanyID != "" {
		if err := s.rdb.SAdd(ctx, companyLoadsKey(l.CompanyID), l.ID).Err(); err != nil {
			return fmt.Errorf("index load %s: %w", l.ID, err)
		}
	}
	return nil
}

func (s *Store) ListLoadsByCompany(ctx context.Context, companyID string) ([]*model.Load, error) {
	ids, err := s.rdb.SMembers(ctx, companyLoadsKey(companyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list loads for %s: %w", companyID, err)
	}
	loads := make([]*model.Load, 0, len(ids))
	for _, id := range ids {
		l, err := s.GetLoad(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		loads = append(loads, l)
	}
	return loads, nil
}

func (s *Store) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	var a model.Assignment
	if err := s.get(ctx, assignmentKey(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) PutAssignment(ctx context.Context, a *model.Assignment) error {
	if err := s.set(ctx, assignmentKey(a.ID), a); err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	if a.State == model.AssignmentOffered {
		pipe.SAdd(ctx, keyOfferedSet, a.ID)
		pipe.Set(ctx, offeredForLoadKey(a.LoadID), a.ID, 0)
	} else {
		pipe.SRem(ctx, keyOfferedSet, a.ID)
		// Only clear the load pointer if this assignment still owns it.
		if cur, err := s.rdb.Get(ctx, offeredForLoadKey(a.LoadID)).Result(); err == nil && cur == a.ID {
			pipe.Del(ctx, offeredForLoadKey(a.LoadID))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index assignment %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) OfferedForLoad(ctx context.Context, loadID string) (*model.Assignment, error) {
	id, err := s.rdb.Get(ctx, offeredForLoadKey(loadID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("offered for %s: %w", loadID, err)
	}
	a, err := s.GetAssignment(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

func (s *Store) ListOffered(ctx context.Context) ([]*model.Assignment, error) {
	ids, err := s.rdb.SMembers(ctx, keyOfferedSet).Result()
	if err != nil {
		return nil, fmt.Errorf("list offered: %w", err)
	}
	out := make([]*model.Assignment, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAssignment(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) GetTrip(ctx context.Context, id string) (*model.Trip, error) {
	var t model.Trip
	if err := s.get(ctx, tripKey(id), &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) PutTrip(ctx context.Context, t *model.Trip) error {
	if err := s.set(ctx, tripKey(t.ID), t); err != nil {
		return err
	}
	if t.Status == model.TripActive {
		if err := s.rdb.Set(ctx, activeTripKey(t.LoadID), t.ID, 0).Err(); err != nil {
			return fmt.Errorf("index trip %s: %w", t.ID, err)
		}
		return nil
	}
	if cur, err := s.rdb.Get(ctx, activeTripKey(t.LoadID)).Result(); err == nil && cur == t.ID {
		if err := s.rdb.Del(ctx, activeTripKey(t.LoadID)).Err(); err != nil {
			return fmt.Errorf("index trip %s: %w", t.ID, err)
		}
	}
	return nil
}

func (s *Store) ActiveTripForLoad(ctx context.Context, loadID string) (*model.Trip, error) {
	id, err := s.rdb.Get(ctx, activeTripKey(loadID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active trip for %s: %w", loadID, err)
	}
	t, err := s.GetTrip(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return t, err
}

func (s *Store) GetAlert(ctx context.Context, id string) (*model.SOSAlert, error) {
	var a model.SOSAlert
	if err := s.get(ctx, alertKey(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) PutAlert(ctx context.Context, a *model.SOSAlert) error {
	if err := s.set(ctx, alertKey(a.ID), a); err != nil {
		return err
	}
	if a.Status.Closed() {
		if err := s.rdb.SRem(ctx, keyOpenAlerts, a.ID).Err(); err != nil {
			return fmt.Errorf("index alert %s: %w", a.ID, err)
		}
		return nil
	}
	if err := s.rdb.SAdd(ctx, keyOpenAlerts, a.ID).Err(); err != nil {
		return fmt.Errorf("index alert %s: %w", a.ID, err)
	}
	return nil
}

func (s *Store) ListOpenAlerts(ctx context.Context) ([]*model.SOSAlert, error) {
	ids, err := s.rdb.SMembers(ctx, keyOpenAlerts).Result()
	if err != nil {
		return nil, fmt.Errorf("list open alerts: %w", err)
	}
	out := make([]*model.SOSAlert, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAlert(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

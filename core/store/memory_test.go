package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loadline/dispatchd/core/model"
)

func TestMemory_LoadRoundTrip(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	if _, err := s.GetLoad(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	l := &model.Load{ID: "L1", CompanyID: "C1", Status: model.StatusBooked}
	if err := s.PutLoad(ctx, l); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetLoad(ctx, "L1")
	if err != nil {
		t.Fatal(err)
	}
	// Mutating the returned copy must not leak back into the store.
	got.RecordStatus(model.StatusCancelled, model.EventCancel, "x", time.Now(), nil)
	again, _ := s.GetLoad(ctx, "L1")
	if again.Status != model.StatusBooked || len(again.StatusHistory) != 0 {
		t.Fatalf("store shares state with caller: %#v", again)
	}
}

func TestMemory_ListLoadsByCompany(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	_ = s.PutLoad(ctx, &model.Load{ID: "L2", CompanyID: "C1"})
	_ = s.PutLoad(ctx, &model.Load{ID: "L1", CompanyID: "C1"})
	_ = s.PutLoad(ctx, &model.Load{ID: "L3", CompanyID: "C2"})
	got, _ := s.ListLoadsByCompany(ctx, "C1")
	if len(got) != 2 || got[0].ID != "L1" || got[1].ID != "L2" {
		t.Fatalf("list: %#v", got)
	}
	all, _ := s.ListLoadsByCompany(ctx, "")
	if len(all) != 3 {
		t.Fatalf("all: %d", len(all))
	}
}

func TestMemory_OfferedForLoad(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	_ = s.PutAssignment(ctx, &model.Assignment{ID: "A1", LoadID: "L1", State: model.AssignmentRejected})
	_ = s.PutAssignment(ctx, &model.Assignment{ID: "A2", LoadID: "L1", State: model.AssignmentOffered})
	got, err := s.OfferedForLoad(ctx, "L1")
	if err != nil || got == nil || got.ID != "A2" {
		t.Fatalf("got %#v, %v", got, err)
	}
	none, err := s.OfferedForLoad(ctx, "L2")
	if err != nil || none != nil {
		t.Fatalf("want nil, got %#v", none)
	}
	offered, _ := s.ListOffered(ctx)
	if len(offered) != 1 || offered[0].ID != "A2" {
		t.Fatalf("offered: %#v", offered)
	}
}

func TestMemory_ActiveTripForLoad(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	_ = s.PutTrip(ctx, &model.Trip{ID: "T1", LoadID: "L1", Status: model.TripClosed})
	_ = s.PutTrip(ctx, &model.Trip{ID: "T2", LoadID: "L1", Status: model.TripActive})
	got, err := s.ActiveTripForLoad(ctx, "L1")
	if err != nil || got == nil || got.ID != "T2" {
		t.Fatalf("got %#v, %v", got, err)
	}
}

func TestMemory_ListOpenAlerts(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	_ = s.PutAlert(ctx, &model.SOSAlert{ID: "S1", Status: model.SOSActive})
	_ = s.PutAlert(ctx, &model.SOSAlert{ID: "S2", Status: model.SOSResolved})
	_ = s.PutAlert(ctx, &model.SOSAlert{ID: "S3", Status: model.SOSAcknowledged})
	open, _ := s.ListOpenAlerts(ctx)
	if len(open) != 2 || open[0].ID != "S1" || open[1].ID != "S3" {
		t.Fatalf("open: %#v", open)
	}
}

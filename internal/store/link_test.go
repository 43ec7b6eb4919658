package store

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rcliao/sector-memory/internal/model"
	"github.com/rcliao/sector-memory/internal/vector"
)

func addPlain(t *testing.T, s *SQLiteStore, content string) *model.Memory {
	t.Helper()
	return addMemory(t, s, content, map[model.Sector]vector.Vector{model.Semantic: {1, 0, 0, 0}}, model.Semantic)
}

func TestUpsertWaypointReplacesOutgoingEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b, c := addPlain(t, s, "a"), addPlain(t, s, "b"), addPlain(t, s, "c")

	if err := s.UpsertWaypoint(ctx, model.Waypoint{SrcID: a.ID, DstID: b.ID, Weight: 0.8, CreatedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	later := t0.Add(time.Hour)
	if err := s.UpsertWaypoint(ctx, model.Waypoint{SrcID: a.ID, DstID: c.ID, Weight: 0.9, CreatedAt: later, UpdatedAt: later}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	all, err := s.Waypoints(ctx)
	if err != nil {
		t.Fatalf("waypoints: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 waypoint, got %d", len(all))
	}
	if all[0].DstID != c.ID || all[0].Weight != 0.9 || !all[0].CreatedAt.Equal(later) {
		t.Errorf("unexpected waypoint %+v", all[0])
	}

	in, err := s.Incoming(ctx, c.ID)
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if len(in) != 1 || in[0].SrcID != a.ID {
		t.Errorf("expected incoming edge from a, got %+v", in)
	}
}

func TestUpsertWaypointErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := addPlain(t, s, "a")

	err := s.UpsertWaypoint(ctx, model.Waypoint{SrcID: a.ID, DstID: a.ID, Weight: 1})
	if !errors.Is(err, model.ErrInvalidQuery) {
		t.Errorf("self loop: expected ErrInvalidQuery, got %v", err)
	}
	err = s.UpsertWaypoint(ctx, model.Waypoint{SrcID: a.ID, DstID: "missing", Weight: 1})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("missing endpoint: expected ErrNotFound, got %v", err)
	}
	if _, err := s.Waypoint(ctx, a.ID); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected no waypoint, got %v", err)
	}
}

func TestAddWaypointWeightClamps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := addPlain(t, s, "a"), addPlain(t, s, "b")
	s.UpsertWaypoint(ctx, model.Waypoint{SrcID: a.ID, DstID: b.ID, Weight: 0.98, CreatedAt: t0, UpdatedAt: t0})

	ok, err := s.AddWaypointWeight(ctx, a.ID, b.ID, 0.05, t0.Add(time.Minute))
	if err != nil || !ok {
		t.Fatalf("add weight: ok=%v err=%v", ok, err)
	}
	w, _ := s.Waypoint(ctx, a.ID)
	if w.Weight != 1 {
		t.Errorf("expected weight capped at 1, got %v", w.Weight)
	}

	if ok, _ := s.AddWaypointWeight(ctx, b.ID, a.ID, 0.05, t0); ok {
		t.Error("expected no change for a missing edge")
	}
}

func TestDeleteWaypointIfUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := addPlain(t, s, "a"), addPlain(t, s, "b")
	s.UpsertWaypoint(ctx, model.Waypoint{SrcID: a.ID, DstID: b.ID, Weight: 0.02, CreatedAt: t0, UpdatedAt: t0})
	snap, _ := s.Waypoint(ctx, a.ID)

	s.AddWaypointWeight(ctx, a.ID, b.ID, 0.5, t0.Add(time.Minute))
	if ok, _ := s.DeleteWaypointIf(ctx, *snap); ok {
		t.Fatal("expected stale snapshot not to delete")
	}

	fresh, _ := s.Waypoint(ctx, a.ID)
	if ok, err := s.DeleteWaypointIf(ctx, *fresh); err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
}

func TestDeleteWaypointIfSeesSameMillisecondReinforce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b := addPlain(t, s, "a"), addPlain(t, s, "b")
	s.UpsertWaypoint(ctx, model.Waypoint{SrcID: a.ID, DstID: b.ID, Weight: 0.02, CreatedAt: t0, UpdatedAt: t0})
	snap, _ := s.Waypoint(ctx, a.ID)

	// reinforced within the snapshot's millisecond: updated_at is unchanged
	s.AddWaypointWeight(ctx, a.ID, b.ID, 0.5, t0)
	if ok, _ := s.DeleteWaypointIf(ctx, *snap); ok {
		t.Fatal("expected the reinforced edge to survive")
	}
	w, err := s.Waypoint(ctx, a.ID)
	if err != nil {
		t.Fatalf("waypoint: %v", err)
	}
	if math.Abs(w.Weight-0.52) > 1e-9 {
		t.Errorf("expected weight 0.52, got %f", w.Weight)
	}
}

func TestOutgoingAndExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b, c := addPlain(t, s, "a"), addPlain(t, s, "b"), addPlain(t, s, "c")
	s.UpsertWaypoint(ctx, model.Waypoint{SrcID: a.ID, DstID: b.ID, Weight: 0.8, CreatedAt: t0, UpdatedAt: t0})
	s.UpsertWaypoint(ctx, model.Waypoint{SrcID: b.ID, DstID: c.ID, Weight: 0.7, CreatedAt: t0, UpdatedAt: t0})

	out, err := s.Outgoing(ctx, []string{a.ID, c.ID})
	if err != nil {
		t.Fatalf("outgoing: %v", err)
	}
	if len(out) != 1 || out[a.ID].DstID != b.ID {
		t.Errorf("unexpected outgoing %+v", out)
	}

	ex, err := s.Existing(ctx, []string{a.ID, "missing"})
	if err != nil {
		t.Fatalf("existing: %v", err)
	}
	if !ex[a.ID] || ex["missing"] {
		t.Errorf("unexpected existing %v", ex)
	}
}

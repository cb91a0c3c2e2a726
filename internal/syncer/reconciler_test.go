package syncer

import (
	"context"
	"errors"
	"testing"

	"notionflow/internal/models"
)

func TestReconcilerPersistsBatch(t *testing.T) {
	st := newFakeStore()
	r := NewReconciler(st, nil, false)
	events := syntheticEvents(models.PlatformNotion, "e", 5)

	synced := r.Persist(context.Background(), "u1", models.PlatformNotion, "cal1", events)
	if synced != 5 {
		t.Fatalf("synced = %d", synced)
	}
	if st.eventCount() != 5 {
		t.Fatalf("store has %d events", st.eventCount())
	}
}

func TestReconcilerIdempotent(t *testing.T) {
	st := newFakeStore()
	r := NewReconciler(st, nil, false)

	first := r.Persist(context.Background(), "u1", models.PlatformNotion, "cal1",
		syntheticEvents(models.PlatformNotion, "e", 5))
	second := r.Persist(context.Background(), "u1", models.PlatformNotion, "cal1",
		syntheticEvents(models.PlatformNotion, "e", 5))

	if first != 5 || second != 5 {
		t.Fatalf("synced counts = %d, %d", first, second)
	}
	if st.eventCount() != 5 {
		t.Fatalf("duplicate rows created: %d", st.eventCount())
	}
}

func TestReconcilerUpsertUpdatesTitle(t *testing.T) {
	st := newFakeStore()
	r := NewReconciler(st, nil, false)

	events := syntheticEvents(models.PlatformNotion, "e", 1)
	r.Persist(context.Background(), "u1", models.PlatformNotion, "cal1", events)

	events[0].Title = "Renamed"
	r.Persist(context.Background(), "u1", models.PlatformNotion, "cal1", events)

	if st.eventCount() != 1 {
		t.Fatalf("update created a row: %d", st.eventCount())
	}
	ev, _ := st.event("u1", models.PlatformNotion, "notion_e0")
	if ev.Title != "Renamed" {
		t.Fatalf("title = %q", ev.Title)
	}
}

func TestReconcilerNeverOrphans(t *testing.T) {
	st := newFakeStore() // no calendars exist for anyone
	r := NewReconciler(st, nil, false)

	events := syntheticEvents(models.PlatformNotion, "e", 3)
	events[0].CalendarID = "cal1"
	events[1].CalendarID = "cal1"
	// events[2] has no calendar and none can be resolved.

	synced := r.Persist(context.Background(), "u1", models.PlatformNotion, "", events)
	if synced != 2 {
		t.Fatalf("synced = %d, want 2", synced)
	}
	if st.eventCount() != 2 {
		t.Fatalf("store has %d events", st.eventCount())
	}
	if _, ok := st.event("u1", models.PlatformNotion, "notion_e2"); ok {
		t.Fatalf("unassignable event was persisted")
	}
}

func TestReconcilerResolvesFallbackCalendar(t *testing.T) {
	st := newFakeStore()
	st.calendars = append(st.calendars,
		models.Calendar{ID: "first", UserID: "u1", Active: true},
		models.Calendar{ID: "second", UserID: "u1", Active: true},
	)
	r := NewReconciler(st, nil, false)

	synced := r.Persist(context.Background(), "u1", models.PlatformNotion, "",
		syntheticEvents(models.PlatformNotion, "e", 2))
	if synced != 2 {
		t.Fatalf("synced = %d", synced)
	}
	ev, _ := st.event("u1", models.PlatformNotion, "notion_e0")
	if ev.CalendarID != "first" {
		t.Fatalf("fallback calendar = %q, want first active", ev.CalendarID)
	}
}

func TestReconcilerDryRunWritesNothing(t *testing.T) {
	st := newFakeStore()
	r := NewReconciler(st, nil, true)

	synced := r.Persist(context.Background(), "u1", models.PlatformNotion, "cal1",
		syntheticEvents(models.PlatformNotion, "e", 3))
	if synced != 3 {
		t.Fatalf("dry run must still count, got %d", synced)
	}
	if st.eventCount() != 0 {
		t.Fatalf("dry run wrote %d events", st.eventCount())
	}
}

func TestReconcilerWriteFailureReducesCount(t *testing.T) {
	st := newFakeStore()
	st.upsertErr = errors.New("connection refused")
	r := NewReconciler(st, nil, false)

	synced := r.Persist(context.Background(), "u1", models.PlatformNotion, "cal1",
		syntheticEvents(models.PlatformNotion, "e", 3))
	if synced != 0 {
		t.Fatalf("failed batch must count zero, got %d", synced)
	}
}

func TestReconcilerEmptyBatch(t *testing.T) {
	st := newFakeStore()
	r := NewReconciler(st, nil, false)
	if synced := r.Persist(context.Background(), "u1", models.PlatformNotion, "cal1", nil); synced != 0 {
		t.Fatalf("empty batch synced %d", synced)
	}
}

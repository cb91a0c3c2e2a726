package google

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

func newTestClient(t *testing.T, handler http.Handler) *CalendarClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	service, err := calendar.NewService(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return NewClientFromService(slog.Default(), service)
}

func TestEventsSendsWindowAndOrdering(t *testing.T) {
	var capturedQuery map[string][]string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"items":[{"id":"g1","summary":"Standup","start":{"dateTime":"2025-06-01T09:00:00Z"},"end":{"dateTime":"2025-06-01T09:15:00Z"}}]}`))
	}))

	start := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 8, 30, 0, 0, 0, 0, time.UTC)
	items, next, err := client.Events(context.Background(), "primary", start, end, "")
	if err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if len(items) != 1 || items[0].Id != "g1" {
		t.Fatalf("unexpected items: %+v", items)
	}
	if next != "" {
		t.Fatalf("expected terminal page, got token %q", next)
	}
	if got := capturedQuery["singleEvents"]; len(got) != 1 || got[0] != "true" {
		t.Fatalf("singleEvents = %v", got)
	}
	if got := capturedQuery["orderBy"]; len(got) != 1 || got[0] != "startTime" {
		t.Fatalf("orderBy = %v", got)
	}
	if got := capturedQuery["timeMin"]; len(got) != 1 || got[0] != start.Format(time.RFC3339) {
		t.Fatalf("timeMin = %v", got)
	}
	if got := capturedQuery["timeMax"]; len(got) != 1 || got[0] != end.Format(time.RFC3339) {
		t.Fatalf("timeMax = %v", got)
	}
}

func TestEventsPaginatesByToken(t *testing.T) {
	calls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("pageToken") == "next_1" {
			_, _ = w.Write([]byte(`{"items":[{"id":"g2"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"id":"g1"}],"nextPageToken":"next_1"}`))
	}))

	now := time.Now()
	_, next, err := client.Events(context.Background(), "primary", now, now.Add(time.Hour), "")
	if err != nil {
		t.Fatalf("first page failed: %v", err)
	}
	if next != "next_1" {
		t.Fatalf("expected continuation token, got %q", next)
	}
	items, next, err := client.Events(context.Background(), "primary", now, now.Add(time.Hour), next)
	if err != nil {
		t.Fatalf("second page failed: %v", err)
	}
	if next != "" || len(items) != 1 || items[0].Id != "g2" {
		t.Fatalf("unexpected second page: items=%+v next=%q", items, next)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestContainersListsCalendars(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"id":"primary","summary":"Personal"},{"id":"work@group.calendar.google.com","summary":"Work"}]}`))
	}))

	containers, err := client.Containers(context.Background())
	if err != nil {
		t.Fatalf("containers failed: %v", err)
	}
	if len(containers) != 2 {
		t.Fatalf("expected 2 containers, got %+v", containers)
	}
	if containers[0].ID != "primary" || containers[1].Title != "Work" {
		t.Fatalf("unexpected containers: %+v", containers)
	}
}

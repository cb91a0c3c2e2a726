package store

import (
	"testing"
	"time"

	"notionflow/internal/models"
)

func TestNewPostgresStoreRejectsEmptyDSN(t *testing.T) {
	if _, err := NewPostgresStore(""); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
	if _, err := NewPostgresStore("   "); err == nil {
		t.Fatalf("expected error for blank DSN")
	}
}

func TestDedupeByNaturalKeyKeepsLastOccurrence(t *testing.T) {
	// A recurring iCloud event with modified occurrences yields several
	// VEVENTs sharing one UID, so a batch can carry the same natural key
	// more than once. Only one row per key may reach the upsert statement.
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	mk := func(user, externalID, title string) models.CanonicalEvent {
		return models.CanonicalEvent{
			UserID:     user,
			ExternalID: externalID,
			Platform:   models.PlatformApple,
			CalendarID: "cal1",
			Title:      title,
			Start:      start,
			End:        start.Add(time.Hour),
		}
	}

	batch := []models.CanonicalEvent{
		mk("u1", "apple_uid1", "Standup"),
		mk("u1", "apple_uid2", "Lunch"),
		mk("u1", "apple_uid1", "Standup (moved)"),
		mk("u2", "apple_uid1", "Other user"),
	}

	deduped := dedupeByNaturalKey(batch)
	if len(deduped) != 3 {
		t.Fatalf("expected 3 events after dedupe, got %d", len(deduped))
	}
	if deduped[0].Title != "Standup (moved)" {
		t.Fatalf("expected last occurrence to win, got %q", deduped[0].Title)
	}
	if deduped[1].ExternalID != "apple_uid2" {
		t.Fatalf("expected original order preserved, got %q", deduped[1].ExternalID)
	}
	if deduped[2].UserID != "u2" {
		t.Fatalf("expected same external id under another user kept, got %q", deduped[2].UserID)
	}
}

func TestDedupeByNaturalKeyLeavesDistinctBatchAlone(t *testing.T) {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	batch := []models.CanonicalEvent{
		{UserID: "u1", ExternalID: "apple_a", Platform: models.PlatformApple, Start: start, End: start.Add(time.Hour)},
		{UserID: "u1", ExternalID: "apple_b", Platform: models.PlatformApple, Start: start, End: start.Add(time.Hour)},
	}
	if got := dedupeByNaturalKey(batch); len(got) != 2 {
		t.Fatalf("expected distinct batch untouched, got %d events", len(got))
	}
}

func TestNewPostgresStoreDoesNotConnectEagerly(t *testing.T) {
	// An unreachable DSN must not fail construction; the connection is
	// opened on first use.
	st, err := NewPostgresStore("postgres://nobody@localhost:1/none")
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("close before use failed: %v", err)
	}
}

package syncer

import (
	"context"
	"log/slog"

	"notionflow/internal/models"
	"notionflow/internal/store"
)

// Reconciler persists batches of normalized events with
// at-most-one-row-per-natural-key semantics. The natural key is
// (user, external id, platform); the store's atomic upsert decides
// insert-vs-update, so re-running a sync with unchanged remote data never
// duplicates rows.
type Reconciler struct {
	store  store.Store
	logger *slog.Logger
	dryRun bool
}

func NewReconciler(st store.Store, logger *slog.Logger, dryRun bool) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: st, logger: logger, dryRun: dryRun}
}

// Persist writes one batch of events for a single (user, platform) and
// returns how many were synced. Events that cannot be assigned a calendar
// are dropped rather than stored orphaned; a write failure reduces the
// count but never aborts the caller's remaining batches.
func (r *Reconciler) Persist(ctx context.Context, userID string, platform models.Platform, calendarID string, events []*models.CanonicalEvent) int {
	if len(events) == 0 {
		return 0
	}

	batch := make([]models.CanonicalEvent, 0, len(events))
	var externalIDs []string
	fallback := calendarID
	for _, ev := range events {
		ev.UserID = userID
		if ev.CalendarID == "" {
			if fallback == "" {
				fallback = r.fallbackCalendar(ctx, userID)
			}
			ev.CalendarID = fallback
		}
		if ev.CalendarID == "" {
			r.logger.Warn("dropping event with no resolvable calendar",
				"external_id", ev.ExternalID, "user_id", userID)
			continue
		}
		batch = append(batch, *ev)
		externalIDs = append(externalIDs, ev.ExternalID)
	}
	if len(batch) == 0 {
		return 0
	}

	existing, err := r.store.ExistingExternalIDs(ctx, userID, platform, externalIDs)
	if err != nil {
		r.logger.Warn("existing-id lookup failed, proceeding as all-new", "error", err)
		existing = map[string]struct{}{}
	}
	updates := 0
	for _, id := range externalIDs {
		if _, ok := existing[id]; ok {
			updates++
		}
	}

	if r.dryRun {
		r.logger.Info("[DRY RUN] would persist batch",
			"inserts", len(batch)-updates, "updates", updates)
		return len(batch)
	}

	written, err := r.store.UpsertEvents(ctx, batch)
	if err != nil {
		r.logger.Error("batch upsert failed", "size", len(batch), "error", err)
		return 0
	}
	r.logger.Debug("persisted batch",
		"written", written, "inserts", len(batch)-updates, "updates", updates)
	return written
}

func (r *Reconciler) fallbackCalendar(ctx context.Context, userID string) string {
	calendars, err := r.store.ActiveCalendars(ctx, userID)
	if err != nil || len(calendars) == 0 {
		return ""
	}
	return calendars[0].ID
}

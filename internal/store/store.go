package store

import (
	"context"
	"errors"

	"notionflow/internal/models"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("store: not found")

// Store is the datastore surface the sync pipeline depends on. The
// production implementation is Postgres; tests substitute an in-memory fake.
type Store interface {
	// ActiveCalendars returns the user's active calendars, oldest first.
	ActiveCalendars(ctx context.Context, userID string) ([]models.Calendar, error)

	// CreateCalendar persists a new calendar.
	CreateCalendar(ctx context.Context, cal models.Calendar) error

	// ExistingExternalIDs reports which of the given external ids already
	// have a stored event for (user, platform).
	ExistingExternalIDs(ctx context.Context, userID string, platform models.Platform, externalIDs []string) (map[string]struct{}, error)

	// UpsertEvents writes a batch of events with at-most-one-row-per
	// (user, external id, platform) semantics. Updates only touch the
	// mutable fields; identity fields are never rewritten. Returns the
	// number of rows written.
	UpsertEvents(ctx context.Context, events []models.CanonicalEvent) (int, error)

	// Credential loads the stored connection state for (user, platform).
	// Returns ErrNotFound when the user never connected the platform.
	Credential(ctx context.Context, userID string, platform models.Platform) (*models.SyncCredential, error)

	// SaveCredential creates or replaces the connection state for
	// (user, platform).
	SaveCredential(ctx context.Context, cred *models.SyncCredential) error

	Close() error
}

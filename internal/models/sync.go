package models

import "time"

// Calendar is an internal calendar owned by a user. Synced events are
// always attached to exactly one calendar.
type Calendar struct {
	ID        string
	UserID    string
	Name      string
	Active    bool
	CreatedAt time.Time
}

// SyncCredential holds the stored connection state for one (user, platform)
// pair. The Secrets map is an opaque blob whose keys depend on the platform:
// an API token for Notion, a username and app-specific password for Apple,
// an OAuth token JSON for Google.
type SyncCredential struct {
	UserID              string
	Platform            Platform
	Secrets             map[string]string
	Enabled             bool
	ConsecutiveFailures int
	LastSyncedAt        time.Time
}

// RemoteContainer is a discovered remote grouping of events: a Notion
// database or a CalDAV calendar collection. Containers are transient
// discovery results and are never persisted.
type RemoteContainer struct {
	ID           string // Provider-native identifier
	Title        string // Human-readable name
	HasDateField bool   // True when the container's schema exposes a date-typed field
}

// SyncResult is what every sync attempt returns to its caller. A sync with
// some failed items still reports Success true with SyncedEvents < TotalEvents;
// Error is only set when the attempt as a whole failed.
type SyncResult struct {
	Success      bool          `json:"success"`
	SyncedEvents int           `json:"synced_events"`
	TotalEvents  int           `json:"total_events"`
	CalendarID   string        `json:"calendar_id,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

package models

import (
	"fmt"
	"time"
)

// Platform identifies the external service an event was pulled from.
type Platform string

const (
	PlatformNotion  Platform = "notion"
	PlatformGoogle  Platform = "google"
	PlatformApple   Platform = "apple"
	PlatformOutlook Platform = "outlook"
)

// Valid reports whether p is one of the known source platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformNotion, PlatformGoogle, PlatformApple, PlatformOutlook:
		return true
	}
	return false
}

// CanonicalEvent is the internal representation of a calendar entry,
// independent of any specific provider. Every event persisted to the
// datastore satisfies End > Start and carries a non-empty CalendarID.
type CanonicalEvent struct {
	Title       string    // Summary of the event; never empty after normalization
	Description string    // Optional detail text
	Start       time.Time // Start of the event, timezone-aware
	End         time.Time // End of the event, always strictly after Start
	AllDay      bool      // True when the source date had no time component
	ExternalID  string    // Provider-native id, namespaced per platform
	Platform    Platform  // The source platform this event came from
	CalendarID  string    // Internal calendar the event belongs to
	UserID      string    // The account that owns the event
}

// ExternalID builds the namespaced reconciliation key for a provider-native id.
// Namespacing keeps ids from different platforms from colliding for one user.
func ExternalID(platform Platform, nativeID string) string {
	return fmt.Sprintf("%s_%s", platform, nativeID)
}

package normalize

import (
	"strings"

	"google.golang.org/api/calendar/v3"

	"notionflow/internal/models"
)

// FromGoogleEvent maps a Google Calendar API event to a canonical event.
// Google splits the start into DateTime (timed) and Date (all-day); an
// event with neither has no position on a calendar and is dropped.
func FromGoogleEvent(item *calendar.Event) (*models.CanonicalEvent, bool) {
	if item == nil || item.Start == nil {
		return nil, false
	}
	startRaw := item.Start.DateTime
	if startRaw == "" {
		startRaw = item.Start.Date
	}
	if startRaw == "" {
		return nil, false
	}

	start, allDay := ParseTimestamp(startRaw)
	end := start
	if item.End != nil {
		endRaw := item.End.DateTime
		if endRaw == "" {
			endRaw = item.End.Date
		}
		if endRaw != "" {
			end, _ = ParseTimestamp(endRaw)
		}
	}
	start, end = RepairDuration(start, end, allDay)

	title := strings.TrimSpace(item.Summary)
	if title == "" {
		title = DefaultTitle
	}

	return &models.CanonicalEvent{
		Title:       title,
		Description: item.Description,
		Start:       start,
		End:         end,
		AllDay:      allDay,
		ExternalID:  models.ExternalID(models.PlatformGoogle, item.Id),
		Platform:    models.PlatformGoogle,
	}, true
}

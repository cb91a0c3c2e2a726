package normalize

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"notionflow/internal/models"
)

// FromICalEvent maps a VEVENT component to a canonical event. Events
// without a UID cannot be reconciled on later syncs and are dropped, as are
// events without a DTSTART.
func FromICalEvent(ev ical.Event) (*models.CanonicalEvent, bool) {
	uid := icalText(ev, ical.PropUID)
	start, allDay, ok := icalDateTime(ev, ical.PropDateTimeStart)
	if uid == "" || !ok {
		return nil, false
	}

	end := start
	if e, _, ok := icalDateTime(ev, ical.PropDateTimeEnd); ok {
		end = e
	}
	start, end = RepairDuration(start, end, allDay)

	title := icalText(ev, ical.PropSummary)
	if title == "" {
		title = DefaultTitle
	}

	return &models.CanonicalEvent{
		Title:       title,
		Description: icalText(ev, ical.PropDescription),
		Start:       start,
		End:         end,
		AllDay:      allDay,
		ExternalID:  models.ExternalID(models.PlatformApple, uid),
		Platform:    models.PlatformApple,
	}, true
}

func icalText(ev ical.Event, name string) string {
	prop := ev.Props.Get(name)
	if prop == nil {
		return ""
	}
	return strings.TrimSpace(prop.Value)
}

// icalDateTime decodes a DTSTART/DTEND property. Floating and zoned values
// go through the prop's own decoder so a TZID parameter is honored instead
// of being read as UTC; values it cannot decode fall back to the lenient
// parser.
func icalDateTime(ev ical.Event, name string) (time.Time, bool, bool) {
	prop := ev.Props.Get(name)
	if prop == nil || strings.TrimSpace(prop.Value) == "" {
		return time.Time{}, false, false
	}
	raw := strings.TrimSpace(prop.Value)
	allDay := prop.ValueType() == ical.ValueDate || !strings.Contains(raw, "T")
	if t, err := prop.DateTime(time.UTC); err == nil {
		return t.UTC(), allDay, true
	}
	t, dateOnly := ParseTimestamp(raw)
	return t, allDay || dateOnly, true
}

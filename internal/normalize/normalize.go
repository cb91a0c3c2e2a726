// Package normalize converts raw provider items into canonical events.
//
// Provider data is unreliable: dates come in half a dozen string formats,
// titles live under whatever property name the user picked, and end times
// are frequently missing or before the start. Normalization never rejects
// an event for a repairable defect; only an item with no date at all is
// dropped.
package normalize

import (
	"strings"
	"time"
)

// DefaultTitle is used when the source item carries no usable title.
const DefaultTitle = "Untitled Event"

const (
	timedDuration  = time.Hour
	allDayDuration = 24 * time.Hour
	minimumPad     = 10 * time.Minute
)

// Candidate property names are probed in order before falling back to the
// first field of the right type. The lists are data-driven so new locales
// and naming conventions are additive.
var (
	titleCandidates = []string{
		"Name", "Title", "Task", "Event",
		"이름", "제목", "할일",
		"名前", "タイトル",
	}
	dateCandidates = []string{
		"Date", "Due", "Due Date", "When", "Deadline", "Scheduled",
		"날짜", "일정", "마감일",
		"日付", "期限",
	}
	descriptionCandidates = []string{
		"Description", "Notes", "Memo",
		"설명", "메모",
	}
)

// timestamp formats accepted from providers, most specific first.
// ISO8601 variants come from Notion and Google; the basic forms from
// CalDAV DTSTART/DTEND values.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"20060102T150405Z",
	"20060102T150405",
}

var dateOnlyLayouts = []string{
	"2006-01-02",
	"20060102",
}

// ParseTimestamp parses a provider datetime string into a timezone-aware
// time. The second result is true when the value had no time component
// (an all-day date). An unparseable non-empty value falls back to the
// current time rather than failing the event.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range dateOnlyLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), false
		}
	}
	return time.Now().UTC(), false
}

// RepairDuration enforces the end-after-start invariant the datastore
// requires. Repair is three-stage: a violated end is pushed out by the
// conventional duration for the event kind, re-checked, and as a last
// resort padded by ten minutes.
func RepairDuration(start, end time.Time, allDay bool) (time.Time, time.Time) {
	if !end.After(start) {
		if allDay {
			end = start.Add(allDayDuration)
		} else {
			end = start.Add(timedDuration)
		}
	}
	if !end.After(start) {
		end = start.Add(minimumPad)
	}
	return start, end
}

package normalize

import (
	"strings"

	"notionflow/internal/models"
	"notionflow/internal/notion"
)

// FromNotionPage maps one database row to a canonical event. Returns false
// when the page carries no date value anywhere in its schema; such a page
// is not a calendar entry and is dropped, not failed.
func FromNotionPage(page notion.Page) (*models.CanonicalEvent, bool) {
	date := notionDateValue(page)
	if date == nil || strings.TrimSpace(date.Start) == "" {
		return nil, false
	}

	start, allDay := ParseTimestamp(date.Start)
	end := start
	if strings.TrimSpace(date.End) != "" {
		end, _ = ParseTimestamp(date.End)
	}
	start, end = RepairDuration(start, end, allDay)

	return &models.CanonicalEvent{
		Title:       notionTitle(page),
		Description: notionDescription(page),
		Start:       start,
		End:         end,
		AllDay:      allDay,
		ExternalID:  models.ExternalID(models.PlatformNotion, page.ID),
		Platform:    models.PlatformNotion,
	}, true
}

// notionTitle probes the candidate names first, then the first title-typed
// property. An empty or absent title degrades to the default, never drops.
func notionTitle(page notion.Page) string {
	for _, name := range titleCandidates {
		if prop, ok := page.Properties[name]; ok && prop.Type == "title" {
			if text := joinRichText(prop.Title); text != "" {
				return text
			}
		}
	}
	for _, prop := range page.Properties {
		if prop.Type == "title" {
			if text := joinRichText(prop.Title); text != "" {
				return text
			}
		}
	}
	return DefaultTitle
}

func notionDateValue(page notion.Page) *notion.DateValue {
	for _, name := range dateCandidates {
		if prop, ok := page.Properties[name]; ok && prop.Type == "date" && prop.Date != nil {
			return prop.Date
		}
	}
	for _, prop := range page.Properties {
		if prop.Type == "date" && prop.Date != nil {
			return prop.Date
		}
	}
	return nil
}

func notionDescription(page notion.Page) string {
	for _, name := range descriptionCandidates {
		if prop, ok := page.Properties[name]; ok && prop.Type == "rich_text" {
			if text := joinRichText(prop.RichText); text != "" {
				return text
			}
		}
	}
	for _, prop := range page.Properties {
		if prop.Type == "rich_text" {
			if text := joinRichText(prop.RichText); text != "" {
				return text
			}
		}
	}
	return ""
}

func joinRichText(fragments []notion.RichText) string {
	var sb strings.Builder
	for _, rt := range fragments {
		sb.WriteString(rt.PlainText)
	}
	return strings.TrimSpace(sb.String())
}

package google

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"notionflow/internal/models"
)

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger
}

// NewClient creates a Google Calendar client from a stored OAuth token blob.
// The token JSON is the opaque credential saved at connect time.
func NewClient(ctx context.Context, logger *slog.Logger, clientID, clientSecret, tokenJSON string) (*CalendarClient, error) {
	token := &oauth2.Token{}
	if err := json.Unmarshal([]byte(tokenJSON), token); err != nil {
		return nil, fmt.Errorf("failed to decode stored google token: %w", err)
	}

	config := OAuthConfig(clientID, clientSecret)
	service, err := calendar.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, logger: logger}, nil
}

// NewClientFromService wraps an already-built calendar service. Tests use
// this with a service pointed at a fake HTTP server.
func NewClientFromService(logger *slog.Logger, service *calendar.Service) *CalendarClient {
	return &CalendarClient{service: service, logger: logger}
}

// Containers lists the account's calendars.
func (c *CalendarClient) Containers(ctx context.Context) ([]models.RemoteContainer, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	var containers []models.RemoteContainer
	for _, item := range list.Items {
		containers = append(containers, models.RemoteContainer{
			ID:           item.Id,
			Title:        item.Summary,
			HasDateField: true,
		})
	}
	return containers, nil
}

// Events fetches one page of events from the calendar within the window,
// expanded to single instances and ordered by start time. The returned
// token is empty on the last page.
func (c *CalendarClient) Events(ctx context.Context, calendarID string, start, end time.Time, pageToken string) ([]*calendar.Event, string, error) {
	call := c.service.Events.List(calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		OrderBy("startTime").
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	events, err := call.Do()
	if err != nil {
		return nil, "", fmt.Errorf("failed to retrieve events: %w", err)
	}
	c.logger.Debug("fetched google events", "calendarID", calendarID, "count", len(events.Items))
	return events.Items, events.NextPageToken, nil
}

// OAuthConfig returns the OAuth2 config used for both the desktop auth
// flow and rebuilding clients from stored tokens.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{calendar.CalendarReadonlyScope},
		Endpoint:     google.Endpoint,
	}
}

// ExchangeAuthCode trades an authorization code for a token during the
// connect flow.
func ExchangeAuthCode(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	token, err := config.Exchange(ctx, authCode)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	return token, nil
}

// EncodeToken serializes a token for storage in the credential blob.
func EncodeToken(token *oauth2.Token) (string, error) {
	data, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("unable to encode token: %w", err)
	}
	return string(data), nil
}

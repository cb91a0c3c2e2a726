package apple

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"notionflow/internal/models"
)

const (
	iCloudCalDAVEndpoint = "https://caldav.icloud.com/"

	// Each calendar costs one REPORT round trip against a slow server, so a
	// sync only touches the first few calendars found.
	defaultMaxCalendars = 3
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "notionflow/1.0")
	return t.Transport.RoundTrip(req)
}

// ClientOptions configures a CalDAV client. Endpoint and HTTPClient exist
// for tests; production use only needs the credentials.
type ClientOptions struct {
	Username     string
	Password     string
	Endpoint     string
	HTTPClient   *http.Client
	Logger       *slog.Logger
	MaxCalendars int
}

// Client reads calendars from a CalDAV server (iCloud) authenticated with
// an app-specific password.
type Client struct {
	caldavClient *caldav.Client
	logger       *slog.Logger
	endpoint     string
	maxCalendars int
}

// NewClient creates and initializes a new CalDAV client.
func NewClient(opts ClientOptions) (*Client, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = iCloudCalDAVEndpoint
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &customTransport{
				Username:  opts.Username,
				Password:  opts.Password,
				Transport: http.DefaultTransport,
			},
			Timeout: 30 * time.Second,
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxCalendars := opts.MaxCalendars
	if maxCalendars <= 0 {
		maxCalendars = defaultMaxCalendars
	}

	caldavClient, err := caldav.NewClient(httpClient, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	return &Client{
		caldavClient: caldavClient,
		logger:       logger,
		endpoint:     endpoint,
		maxCalendars: maxCalendars,
	}, nil
}

// Containers discovers the account's calendar collections. Discovery is
// two-stage: PROPFIND the principal for the calendar-home-set, then
// enumerate the collections under it. When either stage fails the client
// falls back to the URL structure iCloud is known to use rather than
// giving up on the whole sync.
func (c *Client) Containers(ctx context.Context) ([]models.RemoteContainer, error) {
	homeSet := c.discoverHomeSet(ctx)

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendars under %s: %w", homeSet, err)
	}

	var containers []models.RemoteContainer
	for _, cal := range calendars {
		containers = append(containers, models.RemoteContainer{
			ID:           cal.Path,
			Title:        cal.Name,
			HasDateField: true,
		})
		if len(containers) == c.maxCalendars {
			c.logger.Debug("calendar cap reached, skipping remaining collections",
				"cap", c.maxCalendars, "found", len(calendars))
			break
		}
	}
	return containers, nil
}

func (c *Client) discoverHomeSet(ctx context.Context) string {
	principal, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		c.logger.Warn("principal discovery failed, guessing iCloud layout", "error", err)
		return "/calendars/"
	}
	homeSet, err := c.caldavClient.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		c.logger.Warn("calendar-home-set discovery failed, guessing from principal",
			"principal", principal, "error", err)
		return path.Join(principal, "calendars") + "/"
	}
	return homeSet
}

// Events fetches the VEVENT components of one calendar collection within
// the given time range via a calendar-query REPORT.
func (c *Client) Events(ctx context.Context, calendarPath string, start, end time.Time) ([]ical.Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: ical.CompCalendar,
			Comps: []caldav.CalendarCompRequest{{
				Name:     ical.CompEvent,
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start,
				End:   end,
			}},
		},
	}

	objects, err := c.caldavClient.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		return nil, fmt.Errorf("calendar-query failed for %s: %w", calendarPath, err)
	}

	var events []ical.Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		events = append(events, obj.Data.Events()...)
	}
	c.logger.Debug("fetched caldav events", "calendar", calendarPath, "count", len(events))
	return events, nil
}

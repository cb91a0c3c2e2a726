package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"notionflow/internal/models"
)

const (
	defaultBaseURL    = "https://api.notion.com"
	defaultAPIVersion = "2022-06-28"
	defaultPageSize   = 100
)

// ClientOptions configures a Notion API client. Zero values fall back to
// production defaults; tests point BaseURL and HTTPClient at a fake server.
type ClientOptions struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	APIVersion string
	Logger     *slog.Logger
}

// Client talks to the Notion REST API with a bearer integration token.
//
// Databases whose schema repeatedly breaks queries are remembered in a
// per-client blacklist so repeated syncs within one process stop retrying
// them. The blacklist is owned by the instance, never shared globally.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	apiVersion string
	logger     *slog.Logger

	mu        sync.Mutex
	blacklist map[string]struct{}
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:      strings.TrimSpace(opts.Token),
		baseURL:    baseURL,
		httpClient: httpClient,
		apiVersion: apiVersion,
		logger:     logger,
		blacklist:  make(map[string]struct{}),
	}
}

// RichText is the fragment of Notion's rich text objects we care about.
type RichText struct {
	PlainText string `json:"plain_text"`
}

// Property describes one column of a database schema.
type Property struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Database is a Notion database as returned by search.
type Database struct {
	ID         string              `json:"id"`
	Title      []RichText          `json:"title"`
	Properties map[string]Property `json:"properties"`
}

// PlainTitle joins the database title fragments into one string.
func (d Database) PlainTitle() string {
	var sb strings.Builder
	for _, rt := range d.Title {
		sb.WriteString(rt.PlainText)
	}
	return strings.TrimSpace(sb.String())
}

// DateProperty returns the name of the first date-typed property, or "".
func (d Database) DateProperty() string {
	for name, prop := range d.Properties {
		if prop.Type == "date" {
			return name
		}
	}
	return ""
}

var calendarKeywords = []string{
	"calendar", "event", "schedule", "task", "todo", "plan",
	"일정", "캘린더", "할일", "カレンダー", "予定",
}

// CalendarLike reports whether the database plausibly holds calendar
// entries: a keyword in the title, or any date-typed property.
func (d Database) CalendarLike() bool {
	title := strings.ToLower(d.PlainTitle())
	for _, kw := range calendarKeywords {
		if strings.Contains(title, kw) {
			return true
		}
	}
	return d.DateProperty() != ""
}

// DateValue is a Notion date property value. Start and End are ISO8601
// strings; a date-only Start means an all-day entry.
type DateValue struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// PageProperty is one property value on a page.
type PageProperty struct {
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Title    []RichText `json:"title"`
	RichText []RichText `json:"rich_text"`
	Date     *DateValue `json:"date"`
}

// Page is a row of a Notion database.
type Page struct {
	ID             string                  `json:"id"`
	LastEditedTime string                  `json:"last_edited_time"`
	Properties     map[string]PageProperty `json:"properties"`
}

// QueryResult is one page of database query results.
type QueryResult struct {
	Pages      []Page
	NextCursor string
	HasMore    bool
}

type searchResponse struct {
	Results    []Database `json:"results"`
	NextCursor string     `json:"next_cursor"`
	HasMore    bool       `json:"has_more"`
}

type queryResponse struct {
	Results    []Page `json:"results"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}

// SearchDatabases lists every database visible to the integration,
// following the search cursor until exhausted.
func (c *Client) SearchDatabases(ctx context.Context) ([]Database, error) {
	var (
		databases []Database
		cursor    string
	)
	for {
		body := map[string]any{
			"filter":    map[string]string{"value": "database", "property": "object"},
			"page_size": defaultPageSize,
		}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var resp searchResponse
		if err := c.post(ctx, "/v1/search", body, &resp); err != nil {
			return nil, fmt.Errorf("notion: search databases: %w", err)
		}
		databases = append(databases, resp.Results...)
		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}
	return databases, nil
}

// Containers runs database discovery and filters to calendar-like results.
func (c *Client) Containers(ctx context.Context) ([]models.RemoteContainer, error) {
	databases, err := c.SearchDatabases(ctx)
	if err != nil {
		return nil, err
	}
	var containers []models.RemoteContainer
	for _, db := range databases {
		if c.Blacklisted(db.ID) || !db.CalendarLike() {
			continue
		}
		containers = append(containers, models.RemoteContainer{
			ID:           db.ID,
			Title:        db.PlainTitle(),
			HasDateField: db.DateProperty() != "",
		})
	}
	return containers, nil
}

// GetDatabase fetches one database's schema.
func (c *Client) GetDatabase(ctx context.Context, id string) (*Database, error) {
	var db Database
	if err := c.get(ctx, "/v1/databases/"+id, &db); err != nil {
		return nil, fmt.Errorf("notion: get database %s: %w", id, err)
	}
	return &db, nil
}

// QueryDatabase fetches one page of rows, sorted by the database's date
// property when it has one and by last_edited_time otherwise. Notion rejects
// sorts that reference a property its schema cannot order by; a 400 on the
// sorted query is retried once unsorted before the database is declared
// poisoned. A blacklisted database returns an empty terminal result.
func (c *Client) QueryDatabase(ctx context.Context, id string, pageSize int, cursor string) (*QueryResult, error) {
	if c.Blacklisted(id) {
		c.logger.Debug("skipping blacklisted notion database", "database_id", id)
		return &QueryResult{}, nil
	}
	if pageSize <= 0 || pageSize > defaultPageSize {
		pageSize = defaultPageSize
	}

	sorts := []map[string]string{{"timestamp": "last_edited_time", "direction": "descending"}}
	if db, err := c.GetDatabase(ctx, id); err == nil {
		if dateProp := db.DateProperty(); dateProp != "" {
			sorts = []map[string]string{{"property": dateProp, "direction": "ascending"}}
		}
	}

	body := map[string]any{"page_size": pageSize, "sorts": sorts}
	if cursor != "" {
		body["start_cursor"] = cursor
	}

	var resp queryResponse
	err := c.post(ctx, "/v1/databases/"+id+"/query", body, &resp)
	if isBadRequest(err) {
		c.logger.Warn("notion query rejected, retrying without sorts", "database_id", id, "error", err)
		delete(body, "sorts")
		err = c.post(ctx, "/v1/databases/"+id+"/query", body, &resp)
	}
	if err != nil {
		if isBadRequest(err) {
			c.markPoisoned(id)
		}
		return nil, fmt.Errorf("notion: query database %s: %w", id, err)
	}
	return &QueryResult{Pages: resp.Results, NextCursor: resp.NextCursor, HasMore: resp.HasMore}, nil
}

// Blacklisted reports whether the database was declared poisoned earlier in
// this process's lifetime.
func (c *Client) Blacklisted(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.blacklist[id]
	return ok
}

func (c *Client) markPoisoned(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blacklist[id] = struct{}{}
	c.logger.Warn("blacklisting notion database for this process", "database_id", id)
}

// apiError carries the status and Notion error body of a failed call.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("notion api: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("notion api: status=%d message=%s", e.Status, e.Message)
}

func isBadRequest(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	if c.token == "" {
		return fmt.Errorf("notion token is empty")
	}
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.apiVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{Status: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var parsed struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			if parsed.Code != "" {
				apiErr.Code = parsed.Code
			}
			if strings.TrimSpace(parsed.Message) != "" {
				apiErr.Message = parsed.Message
			}
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

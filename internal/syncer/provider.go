package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"notionflow/internal/apple"
	"notionflow/internal/google"
	"notionflow/internal/models"
	"notionflow/internal/normalize"
	"notionflow/internal/notion"
)

// Default fetch window for providers that query by time range.
const (
	windowBack    = 30 * 24 * time.Hour
	windowForward = 90 * 24 * time.Hour
)

// Provider is the read surface of one connected platform: discover the
// remote containers, then page through their events. Events come back
// already normalized; the cursor is opaque and empty on the last page.
type Provider interface {
	Platform() models.Platform
	Containers(ctx context.Context) ([]models.RemoteContainer, error)
	Events(ctx context.Context, container models.RemoteContainer, cursor string) ([]*models.CanonicalEvent, string, error)
}

// ProviderFactory builds a provider from a user's stored credential.
type ProviderFactory func(ctx context.Context, logger *slog.Logger, cred *models.SyncCredential) (Provider, error)

// Registry maps platforms to their provider factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[models.Platform]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[models.Platform]ProviderFactory)}
}

// Register adds a factory for a platform.
func (r *Registry) Register(platform models.Platform, factory ProviderFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[platform]; exists {
		return fmt.Errorf("provider for %s already registered", platform)
	}
	r.factories[platform] = factory
	return nil
}

// Build creates a provider for the credential's platform.
func (r *Registry) Build(ctx context.Context, logger *slog.Logger, cred *models.SyncCredential) (Provider, error) {
	r.mu.RLock()
	factory, exists := r.factories[cred.Platform]
	r.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no provider registered for %s", cred.Platform)
	}
	return factory(ctx, logger, cred)
}

// notionProvider adapts the Notion client to the Provider interface.
type notionProvider struct {
	client   *notion.Client
	pageSize int
}

// NewNotionFactory returns the factory for Notion integrations. The
// credential blob must carry the integration token under "token".
func NewNotionFactory() ProviderFactory {
	return func(ctx context.Context, logger *slog.Logger, cred *models.SyncCredential) (Provider, error) {
		token := cred.Secrets["token"]
		if token == "" {
			return nil, fmt.Errorf("notion credential has no token")
		}
		client := notion.NewClient(notion.ClientOptions{Token: token, Logger: logger})
		return &notionProvider{client: client, pageSize: 100}, nil
	}
}

func (p *notionProvider) Platform() models.Platform { return models.PlatformNotion }

func (p *notionProvider) Containers(ctx context.Context) ([]models.RemoteContainer, error) {
	return p.client.Containers(ctx)
}

func (p *notionProvider) Events(ctx context.Context, container models.RemoteContainer, cursor string) ([]*models.CanonicalEvent, string, error) {
	result, err := p.client.QueryDatabase(ctx, container.ID, p.pageSize, cursor)
	if err != nil {
		return nil, "", err
	}
	var events []*models.CanonicalEvent
	for _, page := range result.Pages {
		if ev, ok := normalize.FromNotionPage(page); ok {
			events = append(events, ev)
		}
	}
	if !result.HasMore {
		return events, "", nil
	}
	return events, result.NextCursor, nil
}

// appleProvider adapts the CalDAV client. A calendar-query has no paging,
// so every container is a single page.
type appleProvider struct {
	client *apple.Client
}

// NewAppleFactory returns the factory for Apple/iCloud connections. The
// credential blob carries "username" and "password" (app-specific).
func NewAppleFactory() ProviderFactory {
	return func(ctx context.Context, logger *slog.Logger, cred *models.SyncCredential) (Provider, error) {
		username := cred.Secrets["username"]
		password := cred.Secrets["password"]
		if username == "" || password == "" {
			return nil, fmt.Errorf("apple credential is missing username or password")
		}
		client, err := apple.NewClient(apple.ClientOptions{
			Username: username,
			Password: password,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return &appleProvider{client: client}, nil
	}
}

func (p *appleProvider) Platform() models.Platform { return models.PlatformApple }

func (p *appleProvider) Containers(ctx context.Context) ([]models.RemoteContainer, error) {
	return p.client.Containers(ctx)
}

func (p *appleProvider) Events(ctx context.Context, container models.RemoteContainer, cursor string) ([]*models.CanonicalEvent, string, error) {
	now := time.Now()
	raw, err := p.client.Events(ctx, container.ID, now.Add(-windowBack), now.Add(windowForward))
	if err != nil {
		return nil, "", err
	}
	var events []*models.CanonicalEvent
	for _, item := range raw {
		if ev, ok := normalize.FromICalEvent(item); ok {
			events = append(events, ev)
		}
	}
	return events, "", nil
}

// googleProvider adapts the Google Calendar client.
type googleProvider struct {
	client *google.CalendarClient
}

// NewGoogleFactory returns the factory for Google connections. The stored
// blob carries the OAuth token JSON under "token"; the app's client id and
// secret come from the environment at wiring time.
func NewGoogleFactory(clientID, clientSecret string) ProviderFactory {
	return func(ctx context.Context, logger *slog.Logger, cred *models.SyncCredential) (Provider, error) {
		tokenJSON := cred.Secrets["token"]
		if tokenJSON == "" {
			return nil, fmt.Errorf("google credential has no token")
		}
		client, err := google.NewClient(ctx, logger, clientID, clientSecret, tokenJSON)
		if err != nil {
			return nil, err
		}
		return &googleProvider{client: client}, nil
	}
}

func (p *googleProvider) Platform() models.Platform { return models.PlatformGoogle }

func (p *googleProvider) Containers(ctx context.Context) ([]models.RemoteContainer, error) {
	return p.client.Containers(ctx)
}

func (p *googleProvider) Events(ctx context.Context, container models.RemoteContainer, cursor string) ([]*models.CanonicalEvent, string, error) {
	now := time.Now()
	raw, next, err := p.client.Events(ctx, container.ID, now.Add(-windowBack), now.Add(windowForward), cursor)
	if err != nil {
		return nil, "", err
	}
	var events []*models.CanonicalEvent
	for _, item := range raw {
		if ev, ok := normalize.FromGoogleEvent(item); ok {
			events = append(events, ev)
		}
	}
	return events, next, nil
}

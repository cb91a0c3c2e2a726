package apple

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestDiscoveryFallsBackToGuessedLayout(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{
		Username:   "user@icloud.com",
		Password:   "app-specific",
		Endpoint:   server.URL,
		HTTPClient: server.Client(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	// Both discovery stages fail; the client must still try the guessed
	// iCloud layout rather than returning without a single request.
	if _, err := client.Containers(context.Background()); err == nil {
		t.Fatalf("expected error when every request fails")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) < 2 {
		t.Fatalf("expected principal probe plus fallback, got %v", paths)
	}
	if got := paths[len(paths)-1]; got != "/calendars/" {
		t.Fatalf("expected guessed /calendars/ path, got %q (all: %v)", got, paths)
	}
}

func TestClientSendsBasicAuthAndUserAgent(t *testing.T) {
	var capturedAuth, capturedAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capturedAuth = r.Header.Get("Authorization")
		capturedAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	transport := &customTransport{
		Username:  "user@icloud.com",
		Password:  "app-specific",
		Transport: http.DefaultTransport,
	}
	client, err := NewClient(ClientOptions{
		Endpoint:   server.URL,
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, _ = client.Containers(context.Background())

	if capturedAuth == "" {
		t.Fatalf("expected basic auth header")
	}
	if capturedAgent != "notionflow/1.0" {
		t.Fatalf("user agent = %q", capturedAgent)
	}
}

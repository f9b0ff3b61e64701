package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/git-pkgs/outdated/internal/core"
)

func TestCircuitBreakerFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("test content"))
	}))
	defer server.Close()

	fetcher := newTestFetcher(t)
	cbFetcher := NewCircuitBreakerFetcher(fetcher, 0)

	body, err := cbFetcher.Fetch(context.Background(), &core.Request{Source: "npm", URL: server.URL + "/react"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if string(body) != "test content" {
		t.Errorf("expected 'test content', got %q", string(body))
	}
}

func TestExtractRegistry(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{
			name:     "npm registry",
			url:      "https://registry.npmjs.org/@scope%2fname",
			expected: "registry.npmjs.org",
		},
		{
			name:     "jsr",
			url:      "https://jsr.io/@std/path/meta.json",
			expected: "jsr.io",
		},
		{
			name:     "invalid URL",
			url:      "not-a-valid-url",
			expected: "not-a-valid-url",
		},
		{
			name:     "with port",
			url:      "https://npm.corp.local:8443/pkg",
			expected: "npm.corp.local:8443",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractRegistry(tt.url)
			if got != tt.expected {
				t.Errorf("extractRegistry(%q) = %q, want %q", tt.url, got, tt.expected)
			}
		})
	}
}

func TestBreakerState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	cbFetcher := NewCircuitBreakerFetcher(newTestFetcher(t), 0)

	if states := cbFetcher.BreakerState(); len(states) != 0 {
		t.Errorf("expected empty states, got %d entries", len(states))
	}

	_, _ = cbFetcher.Fetch(context.Background(), &core.Request{Source: "npm", URL: server.URL + "/test"})

	states := cbFetcher.BreakerState()
	if len(states) != 1 {
		t.Fatalf("expected one breaker state after fetch, got %d", len(states))
	}
	for _, state := range states {
		if state != "closed" {
			t.Errorf("expected closed state, got %s", state)
		}
	}
}

func TestCircuitBreakerOpensOnTransientFailures(t *testing.T) {
	var calls atomic.Int32
	doer := core.DoerFunc(func(ctx context.Context, req *core.Request) ([]byte, error) {
		calls.Add(1)
		return nil, &core.RegistryError{Source: req.Source, URL: req.URL, StatusCode: http.StatusServiceUnavailable}
	})
	cbFetcher := NewCircuitBreakerFetcher(doer, 3)
	req := &core.Request{Source: "npm", URL: "https://registry.example.com/pkg"}

	for i := 0; i < 10; i++ {
		_, _ = cbFetcher.Fetch(context.Background(), req)
	}

	if got := calls.Load(); got != 3 {
		t.Errorf("upstream calls = %d, want 3", got)
	}
	if state := cbFetcher.BreakerState()["registry.example.com"]; state != "open" {
		t.Errorf("state = %q, want open", state)
	}

	_, err := cbFetcher.Fetch(context.Background(), req)
	if !errors.Is(err, core.ErrUpstreamDown) {
		t.Errorf("err = %v, want ErrUpstreamDown", err)
	}
}

func TestCircuitBreakerIgnoresNotFound(t *testing.T) {
	var calls atomic.Int32
	doer := core.DoerFunc(func(ctx context.Context, req *core.Request) ([]byte, error) {
		calls.Add(1)
		return nil, &core.RegistryError{Source: req.Source, URL: req.URL, StatusCode: http.StatusNotFound}
	})
	cbFetcher := NewCircuitBreakerFetcher(doer, 2)
	req := &core.Request{Source: "npm", URL: "https://registry.example.com/missing-pkg"}

	for i := 0; i < 5; i++ {
		_, err := cbFetcher.Fetch(context.Background(), req)
		if !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	}

	if got := calls.Load(); got != 5 {
		t.Errorf("upstream calls = %d, want 5", got)
	}
	if state := cbFetcher.BreakerState()["registry.example.com"]; state != "closed" {
		t.Errorf("state = %q, want closed", state)
	}
}

func TestCircuitBreakerMultipleRegistries(t *testing.T) {
	doer := core.DoerFunc(func(ctx context.Context, req *core.Request) ([]byte, error) {
		if req.Source == "jsr" {
			return nil, &core.ResolveError{URL: req.URL, Err: errors.New("connection refused")}
		}
		return []byte("ok"), nil
	})
	cbFetcher := NewCircuitBreakerFetcher(doer, 1)

	_, _ = cbFetcher.Fetch(context.Background(), &core.Request{Source: "jsr", URL: "https://jsr.io/@std/path/meta.json"})
	if _, err := cbFetcher.Fetch(context.Background(), &core.Request{Source: "npm", URL: "https://registry.npmjs.org/react"}); err != nil {
		t.Errorf("npm fetch should not be affected by jsr breaker: %v", err)
	}

	states := cbFetcher.BreakerState()
	if len(states) != 2 {
		t.Fatalf("expected 2 breaker states, got %d", len(states))
	}
	if states["jsr.io"] != "open" {
		t.Errorf("jsr.io = %q, want open", states["jsr.io"])
	}
	if states["registry.npmjs.org"] != "closed" {
		t.Errorf("registry.npmjs.org = %q, want closed", states["registry.npmjs.org"])
	}
}

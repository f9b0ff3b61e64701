package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Registry is the interface implemented by all source clients.
type Registry interface {
	// Protocol returns the source this registry serves (npm, jsr, github).
	Protocol() Protocol

	// FetchMetadata retrieves and normalizes the metadata of a package.
	FetchMetadata(ctx context.Context, name string) (*PackageMetadata, error)
}

// Endpoint is a registry base URL with its credentials.
type Endpoint struct {
	URL      string
	Token    string
	AuthType string // "bearer" (default) or "basic"
}

// Settings carries the routing and auth configuration shared by all sources.
type Settings struct {
	Registry     Endpoint
	Scopes       map[string]Endpoint // "@scope" -> endpoint
	JSRURL       string
	GitHubAPIURL string
	GitHubToken  string
	UserAgent    string
}

// Factory creates a registry instance.
type Factory func(settings Settings, doer Doer) Registry

var (
	factories = make(map[Protocol]Factory)
	mu        sync.RWMutex
)

// Register adds a registry factory for protocol.
func Register(protocol Protocol, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[protocol] = factory
}

// New creates a registry for the given protocol.
func New(protocol Protocol, settings Settings, doer Doer) (Registry, error) {
	mu.RLock()
	factory, ok := factories[protocol]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown protocol: %s", protocol)
	}
	return factory(settings, doer), nil
}

// SupportedProtocols returns all registered protocols, sorted.
func SupportedProtocols() []string {
	mu.RLock()
	defer mu.RUnlock()

	protocols := make([]string, 0, len(factories))
	for p := range factories {
		protocols = append(protocols, string(p))
	}
	sort.Strings(protocols)
	return protocols
}

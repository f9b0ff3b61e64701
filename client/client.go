// Package client routes dependency keys to the registry source that serves them.
package client

import (
	"context"
	"fmt"
	"strings"
	"sync"

	_ "github.com/git-pkgs/outdated/all"
	"github.com/git-pkgs/outdated/internal/core"
)

// Client fetches package metadata for fetch keys ("left-pad", "jsr:@std/path",
// "github:owner/repo"). It is safe for concurrent use.
type Client struct {
	settings core.Settings
	doer     core.Doer

	mu         sync.Mutex
	registries map[core.Protocol]core.Registry
}

// New creates a client. Every request goes through doer.
func New(settings core.Settings, doer core.Doer) *Client {
	return &Client{
		settings:   settings,
		doer:       doer,
		registries: make(map[core.Protocol]core.Registry),
	}
}

// Route splits a fetch key into its protocol and registry name.
func Route(key string) (core.Protocol, string) {
	for _, p := range []core.Protocol{core.ProtocolJSR, core.ProtocolGitHub} {
		if name, ok := strings.CutPrefix(key, string(p)+":"); ok {
			return p, name
		}
	}
	return core.ProtocolNPM, key
}

// Fetch retrieves the normalized metadata for key.
func (c *Client) Fetch(ctx context.Context, key string) (*core.PackageMetadata, error) {
	protocol, name := Route(key)
	if name == "" {
		return nil, fmt.Errorf("empty package name in key %q", key)
	}

	reg, err := c.registry(protocol)
	if err != nil {
		return nil, err
	}
	return reg.FetchMetadata(ctx, name)
}

func (c *Client) registry(protocol core.Protocol) (core.Registry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if reg, ok := c.registries[protocol]; ok {
		return reg, nil
	}
	reg, err := core.New(protocol, c.settings, c.doer)
	if err != nil {
		return nil, err
	}
	c.registries[protocol] = reg
	return reg, nil
}

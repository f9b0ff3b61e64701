// Package jsr provides a registry client for the JSR package registry.
package jsr

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/git-pkgs/outdated/internal/core"
)

const (
	DefaultURL = "https://jsr.io"
	protocol   = core.ProtocolJSR

	yankedMessage = "yanked"
)

func init() {
	core.Register(protocol, func(settings core.Settings, doer core.Doer) core.Registry {
		return New(settings.JSRURL, doer)
	})
}

type Registry struct {
	baseURL string
	doer    core.Doer
}

func New(baseURL string, doer core.Doer) *Registry {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Registry{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		doer:    doer,
	}
}

func (r *Registry) Protocol() core.Protocol {
	return protocol
}

type metaResponse struct {
	Scope    string                 `json:"scope"`
	Name     string                 `json:"name"`
	Latest   string                 `json:"latest"`
	Versions map[string]versionInfo `json:"versions"`
}

type versionInfo struct {
	Yanked    bool      `json:"yanked"`
	CreatedAt time.Time `json:"createdAt"`
}

// FetchMetadata fetches <base>/<@scope/name>/meta.json. Yanked versions stay in
// the version list and are marked deprecated.
func (r *Registry) FetchMetadata(ctx context.Context, name string) (*core.PackageMetadata, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	req := &core.Request{
		Source: string(protocol),
		URL:    fmt.Sprintf("%s/%s/meta.json", r.baseURL, name),
		Header: header,
	}

	var resp metaResponse
	if err := core.FetchJSON(ctx, r.doer, req, &resp); err != nil {
		return nil, err
	}

	numbers := make([]string, 0, len(resp.Versions))
	for num := range resp.Versions {
		numbers = append(numbers, num)
	}

	meta := &core.PackageMetadata{
		Name:       name,
		Versions:   core.SortVersions(numbers),
		DistTags:   map[string]string{},
		Time:       make(map[string]time.Time),
		Deprecated: make(map[string]string),
		Homepage:   fmt.Sprintf("%s/%s", DefaultURL, name),
	}
	if resp.Latest != "" {
		meta.DistTags["latest"] = resp.Latest
	}
	for _, num := range meta.Versions {
		v := resp.Versions[num]
		if !v.CreatedAt.IsZero() {
			meta.Time[num] = v.CreatedAt
		}
		if v.Yanked {
			meta.Deprecated[num] = yankedMessage
		}
	}

	return meta, nil
}

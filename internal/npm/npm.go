// Package npm provides a registry client for npm-compatible registries.
package npm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/git-pkgs/outdated/internal/core"
)

const (
	DefaultURL = "https://registry.npmjs.org"
	protocol   = core.ProtocolNPM
)

func init() {
	core.Register(protocol, func(settings core.Settings, doer core.Doer) core.Registry {
		return New(settings, doer)
	})
}

type Registry struct {
	registry core.Endpoint
	scopes   map[string]core.Endpoint
	doer     core.Doer
}

func New(settings core.Settings, doer core.Doer) *Registry {
	registry := settings.Registry
	if registry.URL == "" {
		registry.URL = DefaultURL
	}
	return &Registry{
		registry: registry,
		scopes:   settings.Scopes,
		doer:     doer,
	}
}

func (r *Registry) Protocol() core.Protocol {
	return protocol
}

type packageResponse struct {
	ID          string                 `json:"_id"`
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Homepage    interface{}            `json:"homepage"`
	Repository  interface{}            `json:"repository"`
	Versions    map[string]versionInfo `json:"versions"`
	Time        map[string]string      `json:"time"`
	DistTags    map[string]string      `json:"dist-tags"`
}

type versionInfo struct {
	Version       string          `json:"version"`
	Description   string          `json:"description"`
	Homepage      interface{}     `json:"homepage"`
	Repository    interface{}     `json:"repository"`
	Deprecated    json.RawMessage `json:"deprecated"`
	Dist          distInfo        `json:"dist"`
	NpmUser       npmUser         `json:"_npmUser"`
	Engines       json.RawMessage `json:"engines"`
	HasSignatures bool            `json:"hasSignatures"`
}

type distInfo struct {
	Tarball      string          `json:"tarball"`
	Integrity    string          `json:"integrity"`
	Signatures   json.RawMessage `json:"signatures"`
	Attestations json.RawMessage `json:"attestations"`
}

type npmUser struct {
	Name             string          `json:"name"`
	TrustedPublisher json.RawMessage `json:"trustedPublisher"`
}

// Endpoint returns the registry serving name: the longest matching scope
// registry, else the default one.
func (r *Registry) Endpoint(name string) core.Endpoint {
	best := ""
	for scope := range r.scopes {
		if strings.HasPrefix(name, scope+"/") && len(scope) > len(best) {
			best = scope
		}
	}
	if best != "" && r.scopes[best].URL != "" {
		return r.scopes[best]
	}
	return r.registry
}

// PackageURL returns the metadata document URL for name on endpoint.
func PackageURL(endpoint core.Endpoint, name string) string {
	base := strings.TrimSuffix(endpoint.URL, "/")
	if scope, pkg, ok := strings.Cut(name, "/"); ok && strings.HasPrefix(scope, "@") {
		return fmt.Sprintf("%s/%s%%2f%s", base, url.PathEscape(scope), url.PathEscape(pkg))
	}
	return fmt.Sprintf("%s/%s", base, url.PathEscape(name))
}

func (r *Registry) request(name string) *core.Request {
	endpoint := r.Endpoint(name)

	header := http.Header{}
	header.Set("Accept", "application/json")
	if endpoint.Token != "" {
		scheme := "Bearer"
		if strings.EqualFold(endpoint.AuthType, "basic") {
			scheme = "Basic"
		}
		header.Set("Authorization", scheme+" "+endpoint.Token)
	}

	return &core.Request{
		Source: string(protocol),
		URL:    PackageURL(endpoint, name),
		Header: header,
	}
}

func (r *Registry) FetchMetadata(ctx context.Context, name string) (*core.PackageMetadata, error) {
	var resp packageResponse
	if err := core.FetchJSON(ctx, r.doer, r.request(name), &resp); err != nil {
		return nil, err
	}
	return normalize(name, &resp), nil
}

func normalize(name string, resp *packageResponse) *core.PackageMetadata {
	numbers := make([]string, 0, len(resp.Versions))
	for num := range resp.Versions {
		numbers = append(numbers, num)
	}

	meta := &core.PackageMetadata{
		Name:       coalesceString(resp.Name, resp.ID, name),
		Versions:   core.SortVersions(numbers),
		DistTags:   make(map[string]string, len(resp.DistTags)),
		Time:       make(map[string]time.Time),
		Deprecated: make(map[string]string),
		Provenance: make(map[string]core.Provenance),
		Engines:    make(map[string]string),
	}

	for tag, v := range resp.DistTags {
		meta.DistTags[tag] = v
	}

	for _, num := range meta.Versions {
		v := resp.Versions[num]

		if ts, ok := resp.Time[num]; ok {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				meta.Time[num] = t
			}
		}
		if msg := deprecation(v.Deprecated); msg != "" {
			meta.Deprecated[num] = msg
		}
		meta.Provenance[num] = provenance(v)
		if node := nodeEngine(v.Engines); node != "" {
			meta.Engines[num] = node
		}
	}

	latest := resp.Versions[resp.DistTags["latest"]]
	meta.Description = coalesceString(latest.Description, resp.Description)
	meta.Homepage = coalesceString(extractString(resp.Homepage), extractString(latest.Homepage))
	meta.Repository = extractRepoURL(resp.Repository, latest.Repository)

	return meta
}

func provenance(v versionInfo) core.Provenance {
	switch {
	case present(v.NpmUser.TrustedPublisher):
		return core.ProvenanceTrusted
	case v.HasSignatures, present(v.Dist.Signatures), present(v.Dist.Attestations):
		return core.ProvenanceAttested
	default:
		return core.ProvenanceNone
	}
}

func present(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s != "" && s != "null" && s != "false" && s != "[]" && s != "{}"
}

// deprecation returns the deprecation message. Some old documents carry
// "deprecated": false or true instead of a string.
func deprecation(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return msg
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil && flag {
		return "deprecated"
	}
	return ""
}

// nodeEngine returns engines.node. Old documents sometimes use an array of
// "node >= 0.8" style strings.
func nodeEngine(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var engines map[string]interface{}
	if err := json.Unmarshal(raw, &engines); err == nil {
		if s, ok := engines["node"].(string); ok {
			return strings.TrimSpace(s)
		}
		return ""
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if rest, ok := strings.CutPrefix(strings.TrimSpace(item), "node"); ok {
				return strings.TrimSpace(rest)
			}
		}
	}
	return ""
}

func extractString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if arr, ok := v.([]interface{}); ok && len(arr) > 0 {
		if s, ok := arr[0].(string); ok {
			return s
		}
	}
	return ""
}

func extractRepoURL(pkgRepo, versionRepo interface{}) string {
	for _, repo := range []interface{}{versionRepo, pkgRepo} {
		switch r := repo.(type) {
		case string:
			return core.NormalizeGitURL(r)
		case map[string]interface{}:
			if url, ok := r["url"].(string); ok {
				return core.NormalizeGitURL(url)
			}
		case []interface{}:
			if len(r) > 0 {
				if m, ok := r[0].(map[string]interface{}); ok {
					if url, ok := m["url"].(string); ok {
						return core.NormalizeGitURL(url)
					}
				}
			}
		}
	}
	return ""
}

func coalesceString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

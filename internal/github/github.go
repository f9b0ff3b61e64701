// Package github resolves github:owner/repo dependencies against repository tags.
package github

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/git-pkgs/outdated/internal/core"
)

const (
	DefaultURL       = "https://api.github.com"
	DefaultUserAgent = "outdated"
	protocol         = core.ProtocolGitHub

	tagsPerPage = 100
	maxTagPages = 10
)

func init() {
	core.Register(protocol, func(settings core.Settings, doer core.Doer) core.Registry {
		return New(settings.GitHubAPIURL, settings.GitHubToken, doer)
	})
}

type Registry struct {
	baseURL string
	token   string
	doer    core.Doer
}

func New(baseURL, token string, doer core.Doer) *Registry {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Registry{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		doer:    doer,
	}
}

func (r *Registry) Protocol() core.Protocol {
	return protocol
}

type tagResponse struct {
	Name string `json:"name"`
}

// FetchMetadata lists the tags of name ("owner/repo") and keeps those that
// are semver once "refs/tags/" and "v" are stripped. Tags come back unordered,
// so pages are read until a short page, up to maxTagPages.
func (r *Registry) FetchMetadata(ctx context.Context, name string) (*core.PackageMetadata, error) {
	repo := strings.TrimSuffix(name, ".git")

	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	header.Set("User-Agent", DefaultUserAgent)
	if r.token != "" {
		header.Set("Authorization", "Bearer "+r.token)
	}

	var tags []tagResponse
	for page := 1; page <= maxTagPages; page++ {
		req := &core.Request{
			Source: string(protocol),
			URL:    fmt.Sprintf("%s/repos/%s/tags?per_page=%d&page=%d", r.baseURL, repo, tagsPerPage, page),
			Header: header,
		}

		var batch []tagResponse
		if err := core.FetchJSON(ctx, r.doer, req, &batch); err != nil {
			return nil, err
		}
		tags = append(tags, batch...)
		if len(batch) < tagsPerPage {
			break
		}
	}

	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, TagVersion(tag.Name))
	}

	meta := &core.PackageMetadata{
		Name:       repo,
		Versions:   core.SortVersions(names),
		DistTags:   map[string]string{},
		Homepage:   "https://github.com/" + repo,
		Repository: "https://github.com/" + repo,
	}
	if n := len(meta.Versions); n > 0 {
		meta.DistTags["latest"] = meta.Versions[n-1]
	}
	return meta, nil
}

// TagVersion strips a leading "refs/tags/" and "v" from a tag name.
func TagVersion(tag string) string {
	tag = strings.TrimPrefix(tag, "refs/tags/")
	return strings.TrimPrefix(tag, "v")
}

package jsr

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/git-pkgs/outdated/fetch"
	"github.com/git-pkgs/outdated/internal/core"
)

func TestFetchMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/@std/path/meta.json" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{
			"scope": "std",
			"name": "path",
			"latest": "1.0.8",
			"versions": {
				"1.0.8": {"createdAt": "2024-10-30T09:00:00Z"},
				"1.0.7": {"yanked": true, "createdAt": "2024-10-01T09:00:00Z"},
				"0.225.2": {},
				"1.1.0-rc.1": {}
			}
		}`))
	}))
	defer server.Close()

	f := fetch.NewFetcher(fetch.WithMaxRetries(0))
	defer f.Close()

	reg := New(server.URL, f)
	meta, err := reg.FetchMetadata(context.Background(), "@std/path")
	if err != nil {
		t.Fatalf("FetchMetadata failed: %v", err)
	}

	want := []string{"0.225.2", "1.0.7", "1.0.8", "1.1.0-rc.1"}
	if len(meta.Versions) != len(want) {
		t.Fatalf("versions = %v, want %v", meta.Versions, want)
	}
	for i := range want {
		if meta.Versions[i] != want[i] {
			t.Errorf("versions[%d] = %q, want %q", i, meta.Versions[i], want[i])
		}
	}
	if meta.Latest() != "1.0.8" {
		t.Errorf("latest = %q, want 1.0.8", meta.Latest())
	}
	if !meta.IsDeprecated("1.0.7") {
		t.Error("yanked 1.0.7 should be deprecated")
	}
	if meta.IsDeprecated("1.0.8") {
		t.Error("1.0.8 should not be deprecated")
	}
	if _, ok := meta.PublishedAt("1.0.8"); !ok {
		t.Error("expected a publish time for 1.0.8")
	}
	if _, ok := meta.PublishedAt("0.225.2"); ok {
		t.Error("0.225.2 has no createdAt")
	}
	if meta.Homepage != "https://jsr.io/@std/path" {
		t.Errorf("unexpected homepage: %q", meta.Homepage)
	}
}

func TestFetchMetadataNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := fetch.NewFetcher(fetch.WithMaxRetries(0))
	defer f.Close()

	_, err := New(server.URL, f).FetchMetadata(context.Background(), "@std/nope")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

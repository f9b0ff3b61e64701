package npm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/git-pkgs/outdated/fetch"
	"github.com/git-pkgs/outdated/internal/core"
)

func newDoer(t *testing.T) core.Doer {
	t.Helper()
	f := fetch.NewFetcher(fetch.WithMaxRetries(0))
	t.Cleanup(f.Close)
	return f
}

func TestFetchMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q, want application/json", got)
		}
		resp := map[string]interface{}{
			"_id":         "react",
			"name":        "react",
			"description": "React is a JavaScript library for building user interfaces.",
			"homepage":    "https://reactjs.org/",
			"repository": map[string]string{
				"type": "git",
				"url":  "git+https://github.com/facebook/react.git",
			},
			"dist-tags": map[string]string{"latest": "18.3.1", "next": "19.0.0-rc.1"},
			"versions": map[string]interface{}{
				"18.2.0": map[string]interface{}{
					"version":    "18.2.0",
					"deprecated": "use 18.3.1",
					"engines":    map[string]string{"node": ">=0.10.0"},
				},
				"18.3.1": map[string]interface{}{
					"version": "18.3.1",
					"dist": map[string]interface{}{
						"integrity":  "sha512-wS+hAgJShR0KhEvPJArfuPVN1+Hz1t0Y6n5jLrGQbkb4urgPE",
						"signatures": []map[string]string{{"keyid": "SHA256:abc", "sig": "xyz"}},
					},
				},
				"19.0.0-rc.1": map[string]interface{}{
					"version":  "19.0.0-rc.1",
					"_npmUser": map[string]interface{}{"name": "react-bot", "trustedPublisher": map[string]string{"id": "github"}},
				},
				"not-a-version": map[string]interface{}{},
			},
			"time": map[string]string{
				"created": "2011-10-26T17:46:21.942Z",
				"18.2.0":  "2022-06-14T19:46:38.369Z",
				"18.3.1":  "2024-04-26T16:09:06.245Z",
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	reg := New(core.Settings{Registry: core.Endpoint{URL: server.URL}}, newDoer(t))
	meta, err := reg.FetchMetadata(context.Background(), "react")
	if err != nil {
		t.Fatalf("FetchMetadata failed: %v", err)
	}

	want := []string{"18.2.0", "18.3.1", "19.0.0-rc.1"}
	if len(meta.Versions) != len(want) {
		t.Fatalf("versions = %v, want %v", meta.Versions, want)
	}
	for i := range want {
		if meta.Versions[i] != want[i] {
			t.Errorf("versions[%d] = %q, want %q", i, meta.Versions[i], want[i])
		}
	}
	if meta.Latest() != "18.3.1" {
		t.Errorf("latest = %q, want 18.3.1", meta.Latest())
	}
	if meta.Deprecated["18.2.0"] != "use 18.3.1" {
		t.Errorf("deprecated[18.2.0] = %q", meta.Deprecated["18.2.0"])
	}
	if meta.IsDeprecated("18.3.1") {
		t.Error("18.3.1 should not be deprecated")
	}
	if meta.Engines["18.2.0"] != ">=0.10.0" {
		t.Errorf("engines[18.2.0] = %q, want >=0.10.0", meta.Engines["18.2.0"])
	}
	if _, ok := meta.Engines["18.3.1"]; ok {
		t.Error("engines should only be recorded where declared")
	}
	if _, ok := meta.Time["created"]; ok {
		t.Error("time should only hold versions")
	}
	if _, ok := meta.PublishedAt("18.3.1"); !ok {
		t.Error("expected a publish time for 18.3.1")
	}
	if got := meta.ProvenanceOf("18.2.0"); got != core.ProvenanceNone {
		t.Errorf("provenance[18.2.0] = %q, want none", got)
	}
	if got := meta.ProvenanceOf("18.3.1"); got != core.ProvenanceAttested {
		t.Errorf("provenance[18.3.1] = %q, want attested", got)
	}
	if got := meta.ProvenanceOf("19.0.0-rc.1"); got != core.ProvenanceTrusted {
		t.Errorf("provenance[19.0.0-rc.1] = %q, want trusted", got)
	}
	if meta.Repository != "https://github.com/facebook/react" {
		t.Errorf("unexpected repository: %q", meta.Repository)
	}
	if meta.Homepage != "https://reactjs.org/" {
		t.Errorf("unexpected homepage: %q", meta.Homepage)
	}
}

func TestFetchMetadataScoped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/@babel%2fcore" {
			t.Errorf("unexpected path: %s", r.URL.EscapedPath())
		}
		_, _ = w.Write([]byte(`{"name":"@babel/core","dist-tags":{"latest":"7.24.0"},"versions":{"7.24.0":{}}}`))
	}))
	defer server.Close()

	reg := New(core.Settings{Registry: core.Endpoint{URL: server.URL}}, newDoer(t))
	meta, err := reg.FetchMetadata(context.Background(), "@babel/core")
	if err != nil {
		t.Fatalf("FetchMetadata failed: %v", err)
	}
	if meta.Name != "@babel/core" {
		t.Errorf("expected name '@babel/core', got %q", meta.Name)
	}
}

func TestFetchMetadataNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	reg := New(core.Settings{Registry: core.Endpoint{URL: server.URL}}, newDoer(t))
	_, err := reg.FetchMetadata(context.Background(), "missing-pkg")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchMetadataMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	reg := New(core.Settings{Registry: core.Endpoint{URL: server.URL}}, newDoer(t))
	if _, err := reg.FetchMetadata(context.Background(), "left-pad"); err == nil {
		t.Error("expected decode error")
	}
}

func TestScopeRoutingAndAuth(t *testing.T) {
	var gotAuth, gotPath string
	corp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"name":"@corp/ui","versions":{"1.0.0":{}}}`))
	}))
	defer corp.Close()

	public := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("scoped package should not hit the default registry: %s", r.URL.Path)
	}))
	defer public.Close()

	settings := core.Settings{
		Registry: core.Endpoint{URL: public.URL},
		Scopes: map[string]core.Endpoint{
			"@corp": {URL: corp.URL + "/api/npm/", Token: "dXNlcjpwYXNz", AuthType: "basic"},
		},
	}
	reg := New(settings, newDoer(t))
	if _, err := reg.FetchMetadata(context.Background(), "@corp/ui"); err != nil {
		t.Fatalf("FetchMetadata failed: %v", err)
	}
	if gotAuth != "Basic dXNlcjpwYXNz" {
		t.Errorf("Authorization = %q, want Basic dXNlcjpwYXNz", gotAuth)
	}
	if gotPath != "/api/npm/@corp%2fui" {
		t.Errorf("path = %q, want /api/npm/@corp%%2fui", gotPath)
	}
}

func TestEndpointLongestScope(t *testing.T) {
	reg := New(core.Settings{
		Registry: core.Endpoint{URL: "https://registry.npmjs.org", Token: "pub"},
		Scopes: map[string]core.Endpoint{
			"@corp":       {URL: "https://a.example.com"},
			"@corp-tools": {URL: "https://b.example.com"},
		},
	}, nil)

	tests := []struct {
		name string
		want string
	}{
		{"@corp/ui", "https://a.example.com"},
		{"@corp-tools/cli", "https://b.example.com"},
		{"@other/pkg", "https://registry.npmjs.org"},
		{"left-pad", "https://registry.npmjs.org"},
	}
	for _, tt := range tests {
		if got := reg.Endpoint(tt.name).URL; got != tt.want {
			t.Errorf("Endpoint(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRequestBearerAuth(t *testing.T) {
	reg := New(core.Settings{Registry: core.Endpoint{Token: "npm_abc"}}, nil)
	req := reg.request("left-pad")
	if got := req.Header.Get("Authorization"); got != "Bearer npm_abc" {
		t.Errorf("Authorization = %q, want Bearer npm_abc", got)
	}
	if req.URL != "https://registry.npmjs.org/left-pad" {
		t.Errorf("URL = %q", req.URL)
	}
}

func TestLegacyFields(t *testing.T) {
	if got := deprecation(json.RawMessage(`false`)); got != "" {
		t.Errorf("deprecation(false) = %q, want empty", got)
	}
	if got := deprecation(json.RawMessage(`true`)); got == "" {
		t.Error("deprecation(true) should be non-empty")
	}
	if got := nodeEngine(json.RawMessage(`["node >= 0.8.0"]`)); got != ">= 0.8.0" {
		t.Errorf("nodeEngine(array) = %q, want >= 0.8.0", got)
	}
	if got := nodeEngine(json.RawMessage(`{"npm":"*"}`)); got != "" {
		t.Errorf("nodeEngine(no node) = %q, want empty", got)
	}
}

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-pkgs/outdated/cache"
	"github.com/git-pkgs/outdated/internal/core"
)

func TestSetVersion(t *testing.T) {
	SetVersion("1.0.0", "abc123", "2024-01-01")
	defer SetVersion("", "", "")

	assert.Equal(t, "1.0.0", version)
	assert.Equal(t, "abc123", commit)
	assert.Equal(t, "2024-01-01", date)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(io.Discard)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func project(t *testing.T, registryURL, manifest string) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".npmrc"), []byte("registry="+registryURL+"/\n"), 0o600))
	path := filepath.Join(dir, "package.json")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o600))
	return path
}

func TestCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/left-pad" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":      "left-pad",
			"dist-tags": map[string]string{"latest": "2.0.0"},
			"versions": map[string]any{
				"1.0.0": map[string]any{},
				"1.1.0": map[string]any{},
				"2.0.0": map[string]any{"deprecated": "do not use"},
			},
		})
	}))
	defer server.Close()

	path := project(t, server.URL, `{"name": "app", "dependencies": {"left-pad": "^1.0.0", "missing": "^1.0.0"}}`)
	metricsFile := filepath.Join(t.TempDir(), "outdated.prom")

	out, err := run(t, "check", path, "--cache-ttl", "0", "--retries", "0", "--node-version", "20.0.0", "--metrics-file", metricsFile)
	require.NoError(t, err)
	assert.Contains(t, out, "app")
	assert.Contains(t, out, "left-pad")
	assert.Contains(t, out, "^1.1.0")
	assert.Contains(t, out, "missing")
	assert.Contains(t, out, "error")

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "outdated_resolutions_total")
}

func TestCheckConfigFileAndFlags(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":      "left-pad",
			"dist-tags": map[string]string{"latest": "2.0.0"},
			"versions":  map[string]any{"1.0.0": map[string]any{}, "2.0.0": map[string]any{}},
		})
	}))
	defer server.Close()

	path := project(t, server.URL, `{"name": "app", "dependencies": {"left-pad": "^1.0.0"}}`)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "outdated.toml"), []byte("mode = \"major\"\ncache_ttl = \"0s\"\n"), 0o600))

	out, err := run(t, "check", path, "--node-version", "20.0.0")
	require.NoError(t, err)
	assert.Contains(t, out, "^2.0.0", "mode from outdated.toml")

	out, err = run(t, "check", path, "--mode", "minor", "--node-version", "20.0.0")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date", "flag overrides the file")
}

func TestCheckInvalidMode(t *testing.T) {
	path := project(t, "http://127.0.0.1:1", `{"dependencies": {}}`)
	_, err := run(t, "check", path, "--mode", "sideways")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "sideways"))
}

func TestCheckMissingManifest(t *testing.T) {
	_, err := run(t, "check", filepath.Join(t.TempDir(), "package.json"))
	assert.Error(t, err)
}

func TestCacheCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	c := cache.Open(path)
	require.NoError(t, c.Set(context.Background(), "left-pad", core.Stub("left-pad"), time.Hour))
	require.NoError(t, c.Close())

	out, err := run(t, "cache", "stats", "--cache-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite")
	assert.Contains(t, out, "1")

	out, err = run(t, "cache", "clear", "--cache-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 1 cached entries")

	out, err = run(t, "cache", "clear", "--cache-path", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Cache is empty")

	out, err = run(t, "cache", "path", "--cache-path", path)
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)
}

func TestLoggerFromContext(t *testing.T) {
	l := newLogger(io.Discard, 0)
	ctx := withLogger(context.Background(), l)
	assert.Same(t, l, loggerFromContext(ctx))
	assert.NotNil(t, loggerFromContext(context.Background()))
}

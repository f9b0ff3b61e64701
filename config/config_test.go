package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/git-pkgs/outdated/internal/core"
	"github.com/git-pkgs/outdated/policy"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault(t *testing.T) {
	opts := Default()
	assert.Equal(t, policy.ModeDefault, opts.Mode)
	assert.Equal(t, 10, opts.Concurrency)
	assert.Equal(t, 10*time.Second, opts.Timeout)
	assert.Equal(t, 2, opts.Retries)
	assert.Equal(t, 30*time.Minute, opts.CacheTTL)
	assert.NoError(t, opts.Validate())
}

func TestLoadTOMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outdated.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "minor"
concurrency = 4
timeout = "3s"
cache_ttl = "1h"
cooldown = 7

[package_mode]
"@types/*" = "major"
`), 0o600))

	t.Setenv("OUTDATED_CONCURRENCY", "2")
	t.Setenv("OUTDATED_FORCE", "true")

	opts, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, policy.ModeMinor, opts.Mode)
	assert.Equal(t, 2, opts.Concurrency, "environment overrides the file")
	assert.Equal(t, 3*time.Second, opts.Timeout)
	assert.Equal(t, time.Hour, opts.CacheTTL)
	assert.Equal(t, 7, opts.Cooldown)
	assert.Equal(t, 2, opts.Retries, "unset fields keep defaults")
	assert.True(t, opts.Force)
	assert.Equal(t, "major", opts.PackageMode["@types/*"])
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outdated.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "sideways"`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, core.IsConfiguration(err))

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.True(t, core.IsConfiguration(err))
}

func TestLoadIfExistsMissing(t *testing.T) {
	opts, err := LoadIfExists(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Concurrency, opts.Concurrency)
}

func TestValidate(t *testing.T) {
	bad := []func(*Options){
		func(o *Options) { o.Concurrency = 0 },
		func(o *Options) { o.Retries = -1 },
		func(o *Options) { o.CacheTTL = -time.Second },
		func(o *Options) { o.Cooldown = -1 },
		func(o *Options) { o.PackageMode = map[string]string{"x": "nope"} },
	}
	for i, mutate := range bad {
		opts := Default()
		mutate(&opts)
		assert.Error(t, opts.Validate(), "case %d", i)
	}
}

func TestGitHubToken(t *testing.T) {
	assert.Equal(t, "a", GitHubToken(envMap(map[string]string{"GITHUB_TOKEN": "a", "GH_TOKEN": "b"})))
	assert.Equal(t, "b", GitHubToken(envMap(map[string]string{"GH_TOKEN": "b"})))
	assert.Equal(t, "b", GitHubToken(envMap(map[string]string{"GITHUB_TOKEN": "", "GH_TOKEN": "b"})), "empty GITHUB_TOKEN falls through")
	assert.Equal(t, "", GitHubToken(envMap(map[string]string{"GITHUB_TOKEN": "", "GH_TOKEN": ""})))
	assert.Equal(t, "", GitHubToken(envMap(nil)))
}

func TestParseNpmrc(t *testing.T) {
	src := `
# comment
; another comment
registry=https://npm.corp.local/api/npm/
@corp:registry=https://npm.corp.local/api/scoped/
@oss:registry = "https://registry.oss.dev"
//npm.corp.local/api/:_authToken=${NPM_TOKEN}
//registry.oss.dev/:_auth=dXNlcjpwYXNz
proxy=http://proxy.local:3128
https-proxy=http://secure-proxy.local:3129
strict-ssl=false
cafile=/etc/ssl/corp.pem
always-auth=true
`
	n, err := ParseNpmrc(strings.NewReader(src), envMap(map[string]string{"NPM_TOKEN": "s3cret"}))
	require.NoError(t, err)

	assert.Equal(t, "https://npm.corp.local/api/npm/", n.Registry.URL)
	assert.Equal(t, "s3cret", n.Registry.Token)
	assert.Equal(t, "bearer", n.Registry.AuthType)

	require.Contains(t, n.Scopes, "@corp")
	assert.Equal(t, "s3cret", n.Scopes["@corp"].Token)

	require.Contains(t, n.Scopes, "@oss")
	assert.Equal(t, "https://registry.oss.dev", n.Scopes["@oss"].URL)
	assert.Equal(t, "dXNlcjpwYXNz", n.Scopes["@oss"].Token)
	assert.Equal(t, "basic", n.Scopes["@oss"].AuthType)

	assert.Equal(t, "http://proxy.local:3128", n.Proxy)
	assert.Equal(t, "http://secure-proxy.local:3129", n.HTTPSProxy)
	require.NotNil(t, n.StrictSSL)
	assert.False(t, *n.StrictSSL)
	assert.Equal(t, "/etc/ssl/corp.pem", n.CAFile)

	tc := n.Transport()
	assert.Equal(t, n.Proxy, tc.Proxy)
	assert.Equal(t, n.CAFile, tc.CAFile)

	settings := n.Settings("ghp")
	assert.Equal(t, "ghp", settings.GitHubToken)
	assert.Equal(t, n.Registry, settings.Registry)
	assert.Len(t, settings.Scopes, 2)
}

func TestParseNpmrcDefaults(t *testing.T) {
	n, err := ParseNpmrc(strings.NewReader(""), envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultRegistry, n.Registry.URL)
	assert.Empty(t, n.Registry.Token)
	assert.Nil(t, n.StrictSSL)
	assert.Empty(t, n.Scopes)
}

func TestParseNpmrcUndefinedVariable(t *testing.T) {
	n, err := ParseNpmrc(strings.NewReader("//registry.npmjs.org/:_authToken=${MISSING}\n"), envMap(nil))
	require.NoError(t, err)
	assert.Empty(t, n.Registry.Token)
}

func TestLoadNpmrcMerge(t *testing.T) {
	dir := t.TempDir()
	user := filepath.Join(dir, "user.npmrc")
	project := filepath.Join(dir, "project.npmrc")
	require.NoError(t, os.WriteFile(user, []byte("//npm.corp.local/:_authToken=user-token\nstrict-ssl=false\n"), 0o600))
	require.NoError(t, os.WriteFile(project, []byte("registry=https://npm.corp.local/\nstrict-ssl=true\n"), 0o600))

	n, err := LoadNpmrc(user, filepath.Join(dir, "missing.npmrc"), project)
	require.NoError(t, err)
	assert.Equal(t, "https://npm.corp.local/", n.Registry.URL)
	assert.Equal(t, "user-token", n.Registry.Token, "credentials from an earlier file apply to a later registry")
	require.NotNil(t, n.StrictSSL)
	assert.True(t, *n.StrictSSL)
}

func TestNilNpmrc(t *testing.T) {
	var n *Npmrc
	assert.Equal(t, DefaultRegistry, n.Settings("").Registry.URL)
	assert.Empty(t, n.Transport().Proxy)
}

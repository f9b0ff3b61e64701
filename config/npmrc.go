package config

import (
	"bufio"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/git-pkgs/outdated/internal/core"
	"github.com/git-pkgs/outdated/transport"
)

// DefaultRegistry is the registry used when no npmrc names one.
const DefaultRegistry = "https://registry.npmjs.org/"

// Npmrc is the registry, auth and transport configuration read from .npmrc
// files.
type Npmrc struct {
	Registry   core.Endpoint
	Scopes     map[string]core.Endpoint // "@scope" -> endpoint
	Proxy      string
	HTTPSProxy string
	StrictSSL  *bool
	CAFile     string
}

// DefaultNpmrc returns the configuration used when no npmrc exists.
func DefaultNpmrc() *Npmrc {
	return &Npmrc{
		Registry: core.Endpoint{URL: DefaultRegistry},
		Scopes:   map[string]core.Endpoint{},
	}
}

// Settings returns the routing settings for the registry client.
func (n *Npmrc) Settings(githubToken string) core.Settings {
	if n == nil {
		n = DefaultNpmrc()
	}
	scopes := make(map[string]core.Endpoint, len(n.Scopes))
	for scope, ep := range n.Scopes {
		scopes[scope] = ep
	}
	return core.Settings{
		Registry:    n.Registry,
		Scopes:      scopes,
		GitHubToken: githubToken,
	}
}

// Transport returns the proxy and TLS configuration.
func (n *Npmrc) Transport() transport.Config {
	if n == nil {
		return transport.Config{}
	}
	return transport.Config{
		Proxy:      n.Proxy,
		HTTPSProxy: n.HTTPSProxy,
		StrictSSL:  n.StrictSSL,
		CAFile:     n.CAFile,
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ParseNpmrc parses npmrc key=value syntax. ${VAR} references are expanded
// with lookupEnv; undefined variables expand to "".
func ParseNpmrc(r io.Reader, lookupEnv func(string) (string, bool)) (*Npmrc, error) {
	raw := map[string]string{}
	if err := readNpmrc(r, lookupEnv, raw); err != nil {
		return nil, err
	}
	return build(raw), nil
}

// LoadNpmrc reads the given files in order, later files overriding earlier
// ones. Missing files are skipped.
func LoadNpmrc(paths ...string) (*Npmrc, error) {
	raw := map[string]string{}
	for _, path := range paths {
		f, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &core.ConfigurationError{Op: "read npmrc", Path: path, Err: err}
		}
		err = readNpmrc(f, os.LookupEnv, raw)
		_ = f.Close()
		if err != nil {
			return nil, &core.ConfigurationError{Op: "read npmrc", Path: path, Err: err}
		}
	}
	return build(raw), nil
}

// NpmrcPaths returns the user npmrc followed by the project npmrc in dir.
func NpmrcPaths(dir string) []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".npmrc"))
	}
	if dir != "" {
		paths = append(paths, filepath.Join(dir, ".npmrc"))
	}
	return paths
}

func readNpmrc(r io.Reader, lookupEnv func(string) (string, bool), raw map[string]string) error {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = unquote(strings.TrimSpace(value))
		value = envPattern.ReplaceAllStringFunc(value, func(ref string) string {
			v, _ := lookupEnv(ref[2 : len(ref)-1])
			return v
		})
		raw[key] = value
	}
	return scanner.Err()
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}

func build(raw map[string]string) *Npmrc {
	n := DefaultNpmrc()

	if v := raw["registry"]; v != "" {
		n.Registry.URL = v
	}
	for key, v := range raw {
		if scope, ok := strings.CutSuffix(key, ":registry"); ok && strings.HasPrefix(scope, "@") && v != "" {
			n.Scopes[scope] = core.Endpoint{URL: v}
		}
	}

	n.Proxy = raw["proxy"]
	n.HTTPSProxy = raw["https-proxy"]
	n.CAFile = raw["cafile"]
	if v, ok := raw["strict-ssl"]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			n.StrictSSL = &b
		}
	}

	creds := credentials(raw)
	n.Registry = withCredentials(n.Registry, creds)
	for scope, ep := range n.Scopes {
		n.Scopes[scope] = withCredentials(ep, creds)
	}
	return n
}

type credential struct {
	prefix   string // "//host/path/"
	token    string
	authType string
}

// credentials collects //host/path/:_authToken and :_auth entries, longest
// prefix first.
func credentials(raw map[string]string) []credential {
	var creds []credential
	for key, v := range raw {
		if !strings.HasPrefix(key, "//") || v == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(key, ":_authToken"); ok {
			creds = append(creds, credential{prefix: nerfDart(prefix), token: v, authType: "bearer"})
		} else if prefix, ok := strings.CutSuffix(key, ":_auth"); ok {
			creds = append(creds, credential{prefix: nerfDart(prefix), token: v, authType: "basic"})
		}
	}
	sort.Slice(creds, func(i, j int) bool {
		if len(creds[i].prefix) != len(creds[j].prefix) {
			return len(creds[i].prefix) > len(creds[j].prefix)
		}
		return creds[i].authType > creds[j].authType
	})
	return creds
}

func withCredentials(ep core.Endpoint, creds []credential) core.Endpoint {
	target := nerfDart(ep.URL)
	for _, c := range creds {
		if strings.HasPrefix(target, c.prefix) {
			ep.Token = c.token
			ep.AuthType = c.authType
			return ep
		}
	}
	return ep
}

// nerfDart strips the scheme and guarantees a trailing slash:
// https://npm.corp.local/api/ -> //npm.corp.local/api/.
func nerfDart(u string) string {
	if i := strings.Index(u, "//"); i >= 0 {
		u = u[i:]
	}
	if !strings.HasSuffix(u, "/") {
		u += "/"
	}
	return u
}

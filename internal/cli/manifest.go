package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/git-pkgs/outdated/internal/core"
)

// dependencySources lists the package.json sections read, in report order.
var dependencySources = []string{
	"dependencies",
	"devDependencies",
	"peerDependencies",
	"optionalDependencies",
}

// readManifest reads the dependencies declared in a package.json file.
func readManifest(path string) (*core.PackageManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := parseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	m.Path = path
	if m.Name == "" {
		m.Name = filepath.Base(filepath.Dir(path))
	}
	return m, nil
}

func parseManifest(data []byte) (*core.PackageManifest, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	m := &core.PackageManifest{}
	if raw, ok := doc["name"]; ok {
		_ = json.Unmarshal(raw, &m.Name)
	}

	for _, source := range dependencySources {
		raw, ok := doc[source]
		if !ok {
			continue
		}
		entries, err := orderedStrings(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		for _, e := range entries {
			m.Dependencies = append(m.Dependencies, parseDependency(e.key, e.value, source))
		}
	}

	if raw, ok := doc["packageManager"]; ok {
		var pm string
		if err := json.Unmarshal(raw, &pm); err == nil {
			if dep, ok := parsePackageManager(pm); ok {
				m.Dependencies = append(m.Dependencies, dep)
			}
		}
	}
	return m, nil
}

type entry struct {
	key, value string
}

// orderedStrings decodes a JSON object of strings keeping key order.
func orderedStrings(raw json.RawMessage) ([]entry, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected an object")
	}

	var entries []entry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, err
		}
		if s, ok := value.(string); ok {
			entries = append(entries, entry{key: key, value: s})
		}
	}
	return entries, nil
}

// parseDependency decodes the npm:, jsr: and github: protocols. Specs that
// do not point at a registry (file:, link:, workspace:, URLs) are kept with
// Update unset.
func parseDependency(name, spec, source string) core.DependencySpec {
	dep := core.DependencySpec{
		Name:           name,
		CurrentVersion: spec,
		Source:         source,
		Update:         true,
		Protocol:       core.ProtocolNPM,
	}

	switch {
	case strings.HasPrefix(spec, "npm:"):
		dep.AliasName, dep.CurrentVersion = splitAlias(strings.TrimPrefix(spec, "npm:"), "")
	case strings.HasPrefix(spec, "jsr:"):
		dep.Protocol = core.ProtocolJSR
		dep.AliasName, dep.CurrentVersion = splitAlias(strings.TrimPrefix(spec, "jsr:"), name)
	case strings.HasPrefix(spec, "github:"):
		return githubDependency(dep, strings.TrimPrefix(spec, "github:"))
	case isLocal(spec):
		dep.Update = false
	case isGitHubShorthand(spec):
		return githubDependency(dep, spec)
	}
	return dep
}

// splitAlias splits "name@range". A bare range is an alias of fallback.
func splitAlias(s, fallback string) (string, string) {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		if fallback != "" && !strings.HasPrefix(s, "@") {
			return fallback, s
		}
		return s, ""
	}
	return s[:at], s[at+1:]
}

// githubDependency handles "owner/repo#ref" and "owner/repo#semver:^1.2.0".
func githubDependency(dep core.DependencySpec, s string) core.DependencySpec {
	repo, ref, _ := strings.Cut(s, "#")
	dep.Protocol = core.ProtocolGitHub
	dep.AliasName = strings.TrimSuffix(repo, ".git")
	dep.CurrentVersion = strings.TrimPrefix(ref, "semver:")
	return dep
}

func isLocal(spec string) bool {
	for _, prefix := range []string{"file:", "link:", "workspace:", "portal:", "patch:", "catalog:", "git+", "git:", "http:", "https:"} {
		if strings.HasPrefix(spec, prefix) {
			return true
		}
	}
	return false
}

// isGitHubShorthand matches "owner/repo" and "owner/repo#ref".
func isGitHubShorthand(spec string) bool {
	repo, _, _ := strings.Cut(spec, "#")
	owner, name, ok := strings.Cut(repo, "/")
	return ok && owner != "" && name != "" && !strings.HasPrefix(owner, "@") &&
		!strings.ContainsAny(repo, " <>=^~*:") && !strings.Contains(name, "/")
}

// parsePackageManager parses "pnpm@9.1.0+sha512...".
func parsePackageManager(s string) (core.DependencySpec, bool) {
	name, version, ok := strings.Cut(s, "@")
	if !ok || name == "" || version == "" {
		return core.DependencySpec{}, false
	}
	version, _, _ = strings.Cut(version, "+")
	return core.DependencySpec{
		Name:           name,
		CurrentVersion: version,
		Source:         "packageManager",
		Update:         true,
		Protocol:       core.ProtocolNPM,
	}, true
}

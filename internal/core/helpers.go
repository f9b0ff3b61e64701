package core

import (
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ParseVersion parses a strict semver string. A leading "v" is rejected, as npm
// registries never publish one.
func ParseVersion(s string) (*semver.Version, error) {
	return semver.StrictNewVersion(s)
}

// SortVersions validates versions, drops duplicates and anything that is not
// strict semver, and returns the rest in ascending order.
func SortVersions(versions []string) []string {
	parsed := make([]*semver.Version, 0, len(versions))
	seen := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		sv, err := ParseVersion(v)
		if err != nil {
			continue
		}
		if _, ok := seen[sv.Original()]; ok {
			continue
		}
		seen[sv.Original()] = struct{}{}
		parsed = append(parsed, sv)
	}

	sort.Sort(semver.Collection(parsed))

	out := make([]string, len(parsed))
	for i, v := range parsed {
		out[i] = v.Original()
	}
	return out
}

// MaxVersion returns the highest of the given versions, or "" if none parse.
func MaxVersion(versions []string) string {
	sorted := SortVersions(versions)
	if len(sorted) == 0 {
		return ""
	}
	return sorted[len(sorted)-1]
}

// NormalizeGitURL turns git+https://github.com/a/b.git style URLs into
// https://github.com/a/b.
func NormalizeGitURL(u string) string {
	u = strings.TrimPrefix(u, "git+")
	u = strings.TrimPrefix(u, "git://")
	u = strings.TrimSuffix(u, ".git")
	if strings.HasPrefix(u, "github.com/") {
		u = "https://" + u
	}
	return u
}

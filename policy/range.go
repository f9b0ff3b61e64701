// Package policy filters registry versions and selects update targets.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrUnsupportedRange is returned for ranges the resolver does not rewrite:
// wildcards, dist-tags, compound ranges and upper bounds.
var ErrUnsupportedRange = errors.New("unsupported range")

// Range is a single-comparator version range such as "^1.2.3" or "~v2".
type Range struct {
	Raw      string
	Operator string // "^", "~", ">=", ">", "=" or ""
	Prefix   string // "v" or ""
	Version  string // as written, possibly partial
	Current  *semver.Version
}

var operators = []string{">=", ">", "^", "~", "="}

// ParseRange parses a declared range.
func ParseRange(raw string) (Range, error) {
	r := Range{Raw: raw}
	unsupported := fmt.Errorf("%w: %q", ErrUnsupportedRange, raw)

	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "<") || strings.Contains(s, "||") {
		return r, unsupported
	}

	for _, op := range operators {
		if rest, ok := strings.CutPrefix(s, op); ok {
			r.Operator = op
			s = strings.TrimSpace(rest)
			break
		}
	}
	if rest, ok := strings.CutPrefix(s, "v"); ok {
		r.Prefix = "v"
		s = rest
	}

	// "1.2.3 - 2.0.0", ">=1 <2" and friends.
	if s == "" || strings.ContainsAny(s, " \t") {
		return r, unsupported
	}

	release, _, _ := strings.Cut(s, "-")
	release, _, _ = strings.Cut(release, "+")
	parts := strings.Split(release, ".")
	if len(parts) > 3 {
		return r, unsupported
	}
	for _, p := range parts {
		if p == "" || strings.Trim(p, "0123456789") != "" {
			return r, unsupported
		}
	}
	if len(parts) < 3 && release != s {
		// "1.2-beta" is not a version.
		return r, unsupported
	}

	v, err := semver.NewVersion(s)
	if err != nil {
		return r, fmt.Errorf("%w: %q: %v", ErrUnsupportedRange, raw, err)
	}

	r.Version = s
	r.Current = v
	return r, nil
}

// WithVersion returns the range rewritten to target, keeping the operator and
// "v" prefix.
func (r Range) WithVersion(target string) string {
	return r.Operator + r.Prefix + target
}

// Exact reports whether the range pins a single version.
func (r Range) Exact() bool {
	return r.Operator == "" || r.Operator == "="
}

package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Overrides maps package names to modes. Exact names win over globs; globs
// are tried longest pattern first, then lexicographically.
type Overrides struct {
	exact map[string]Mode
	globs []globMode
}

type globMode struct {
	pattern string
	mode    Mode
}

// CompileOverrides validates every pattern and mode once.
func CompileOverrides(modes map[string]string) (*Overrides, error) {
	o := &Overrides{exact: make(map[string]Mode)}
	for pattern, raw := range modes {
		mode, err := ParseMode(raw)
		if err != nil {
			return nil, fmt.Errorf("override %q: %w", pattern, err)
		}
		if !strings.ContainsAny(pattern, "*?[{") {
			o.exact[pattern] = mode
			continue
		}
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("override %q: invalid glob pattern", pattern)
		}
		o.globs = append(o.globs, globMode{pattern: pattern, mode: mode})
	}

	sort.Slice(o.globs, func(i, j int) bool {
		a, b := o.globs[i].pattern, o.globs[j].pattern
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	return o, nil
}

// ModeFor returns the override for name, or fallback.
func (o *Overrides) ModeFor(name string, fallback Mode) Mode {
	if o == nil {
		return fallback
	}
	if mode, ok := o.exact[name]; ok {
		return mode
	}
	for _, g := range o.globs {
		if ok, _ := doublestar.Match(g.pattern, name); ok {
			return g.mode
		}
	}
	return fallback
}

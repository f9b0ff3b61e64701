package policy

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/git-pkgs/outdated/internal/core"
)

// Mode is a target selection strategy.
type Mode string

const (
	ModeDefault Mode = "default"
	ModeMajor   Mode = "major"
	ModeMinor   Mode = "minor"
	ModePatch   Mode = "patch"
	ModeLatest  Mode = "latest"
	ModeNewest  Mode = "newest"
	ModeNext    Mode = "next"
	ModeIgnore  Mode = "ignore"
)

// Modes lists every mode in documentation order.
var Modes = []Mode{ModeDefault, ModeMajor, ModeMinor, ModePatch, ModeLatest, ModeNewest, ModeNext, ModeIgnore}

// ParseMode validates s. An empty string is ModeDefault.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeDefault, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("invalid mode %q", s)
}

// SelectTarget picks the target version among candidates (ascending, as
// returned by Eligible) for a dependency at rng. It returns false when there
// is no candidate at or above the current version.
func SelectTarget(mode Mode, rng Range, candidates []*semver.Version, meta *core.PackageMetadata) (string, bool) {
	current := rng.Current
	if current == nil || mode == ModeIgnore {
		return "", false
	}

	switch mode {
	case ModeMajor, ModeNewest:
		return highest(candidates, current, nil)
	case ModeMinor:
		return highest(candidates, current, sameMajor(current))
	case ModePatch:
		return highest(candidates, current, sameMinor(current))
	case ModeLatest:
		return fromTag(meta, "latest", candidates, current)
	case ModeNext:
		if v, ok := taggedCandidate(meta, "next", candidates, current); ok {
			return v, true
		}
		return fromTag(meta, "latest", candidates, current)
	default:
		switch rng.Operator {
		case "~":
			return highest(candidates, current, sameMinor(current))
		case ">=", ">":
			return highest(candidates, current, nil)
		default:
			return highest(candidates, current, caret(current))
		}
	}
}

// fromTag returns the tagged version when it is a candidate, otherwise the
// highest candidate not above it. Without the tag it behaves like newest.
func fromTag(meta *core.PackageMetadata, tag string, candidates []*semver.Version, current *semver.Version) (string, bool) {
	if v, ok := taggedCandidate(meta, tag, candidates, current); ok {
		return v, true
	}
	tagged, err := semver.NewVersion(meta.DistTags[tag])
	if err != nil {
		return highest(candidates, current, nil)
	}
	return highest(candidates, current, func(v *semver.Version) bool {
		return !v.GreaterThan(tagged)
	})
}

func taggedCandidate(meta *core.PackageMetadata, tag string, candidates []*semver.Version, current *semver.Version) (string, bool) {
	if meta == nil {
		return "", false
	}
	raw := meta.DistTags[tag]
	if raw == "" {
		return "", false
	}
	for _, v := range candidates {
		if v.Original() == raw && !v.LessThan(current) {
			return v.Original(), true
		}
	}
	return "", false
}

func highest(candidates []*semver.Version, current *semver.Version, accept func(*semver.Version) bool) (string, bool) {
	for i := len(candidates) - 1; i >= 0; i-- {
		v := candidates[i]
		if v.LessThan(current) {
			break
		}
		if accept == nil || accept(v) {
			return v.Original(), true
		}
	}
	return "", false
}

func sameMajor(current *semver.Version) func(*semver.Version) bool {
	return func(v *semver.Version) bool {
		return v.Major() == current.Major()
	}
}

func sameMinor(current *semver.Version) func(*semver.Version) bool {
	return func(v *semver.Version) bool {
		return v.Major() == current.Major() && v.Minor() == current.Minor()
	}
}

// caret mirrors npm's ^: same major, or same minor for 0.x, or same patch
// for 0.0.x.
func caret(current *semver.Version) func(*semver.Version) bool {
	switch {
	case current.Major() > 0:
		return sameMajor(current)
	case current.Minor() > 0:
		return sameMinor(current)
	default:
		return func(v *semver.Version) bool {
			return v.Major() == 0 && v.Minor() == 0 && v.Patch() == current.Patch()
		}
	}
}

// ClassifyDiff compares current and target. A change in the prerelease part
// alone is a patch.
func ClassifyDiff(current, target *semver.Version) core.Diff {
	switch {
	case current == nil || target == nil:
		return core.DiffNone
	case current.Major() != target.Major():
		return core.DiffMajor
	case current.Minor() != target.Minor():
		return core.DiffMinor
	case current.Patch() != target.Patch():
		return core.DiffPatch
	case current.Prerelease() != target.Prerelease():
		return core.DiffPatch
	default:
		return core.DiffNone
	}
}

package policy

import (
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/git-pkgs/outdated/internal/core"
)

// FilterOptions controls which registry versions may become a target.
type FilterOptions struct {
	// Cooldown drops versions published less than this many days ago.
	Cooldown int
	Now      time.Time
}

// Eligible returns the candidate versions of meta for a dependency currently
// at rng, ascending.
//
// Deprecated versions are dropped unless the current version is itself
// deprecated. Prereleases are dropped unless they share the prerelease
// channel of the current version. The cooldown applies only when it leaves
// at least one version newer than the current one.
func Eligible(meta *core.PackageMetadata, rng Range, opts FilterOptions) []*semver.Version {
	if meta == nil || rng.Current == nil {
		return nil
	}

	keepDeprecated := meta.IsDeprecated(rng.Current.Original()) || meta.IsDeprecated(rng.Current.String())
	currentChannel := Channel(rng.Current)

	base := make([]*semver.Version, 0, len(meta.Versions))
	for _, raw := range meta.Versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if !keepDeprecated && meta.IsDeprecated(raw) {
			continue
		}
		if v.Prerelease() != "" {
			if rng.Current.Prerelease() == "" || Channel(v) != currentChannel {
				continue
			}
		}
		base = append(base, v)
	}
	sort.Sort(semver.Collection(base))

	if opts.Cooldown <= 0 {
		return base
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-time.Duration(opts.Cooldown) * 24 * time.Hour)

	cooled := make([]*semver.Version, 0, len(base))
	newer := false
	for _, v := range base {
		if published, ok := meta.PublishedAt(v.Original()); ok && published.After(cutoff) {
			continue
		}
		cooled = append(cooled, v)
		if v.GreaterThan(rng.Current) {
			newer = true
		}
	}
	if !newer {
		return base
	}
	return cooled
}

// Channel returns the prerelease channel of v: the alphabetic head of the
// first prerelease identifier ("rc" for both "rc.1" and "rc1"). Releases
// have no channel.
func Channel(v *semver.Version) string {
	pre := v.Prerelease()
	if pre == "" {
		return ""
	}
	first, _, _ := strings.Cut(pre, ".")
	end := strings.IndexFunc(first, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end >= 0 {
		first = first[:end]
	}
	return strings.ToLower(first)
}

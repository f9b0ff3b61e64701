// Package core provides shared types, the error taxonomy and the registry system.
package core

import (
	"strings"
	"time"
)

// PackageMetadata is the normalized registry document for one package.
// It is immutable once fetched.
type PackageMetadata struct {
	Name        string                `json:"name"`
	Versions    []string              `json:"versions"`
	DistTags    map[string]string     `json:"distTags,omitempty"`
	Time        map[string]time.Time  `json:"time,omitempty"`
	Deprecated  map[string]string     `json:"deprecated,omitempty"`
	Provenance  map[string]Provenance `json:"provenance,omitempty"`
	Engines     map[string]string     `json:"engines,omitempty"` // version -> engines.node
	Description string                `json:"description,omitempty"`
	Homepage    string                `json:"homepage,omitempty"`
	Repository  string                `json:"repository,omitempty"`
}

// Latest returns the "latest" dist-tag, or "" if none is set.
func (m *PackageMetadata) Latest() string {
	if m == nil {
		return ""
	}
	return m.DistTags["latest"]
}

// IsDeprecated reports whether version carries a deprecation message.
func (m *PackageMetadata) IsDeprecated(version string) bool {
	if m == nil {
		return false
	}
	return m.Deprecated[version] != ""
}

// PublishedAt returns the recorded publish time of version, if any.
func (m *PackageMetadata) PublishedAt(version string) (time.Time, bool) {
	if m == nil {
		return time.Time{}, false
	}
	t, ok := m.Time[version]
	return t, ok && !t.IsZero()
}

// ProvenanceOf returns the provenance level recorded for version.
func (m *PackageMetadata) ProvenanceOf(version string) Provenance {
	if m == nil {
		return ProvenanceNone
	}
	if p, ok := m.Provenance[version]; ok {
		return p
	}
	return ProvenanceNone
}

// Stub returns the empty metadata used for dependencies that failed to resolve.
func Stub(name string) *PackageMetadata {
	return &PackageMetadata{Name: name, Versions: []string{}}
}

// Provenance is the attestation strength recorded for a version.
type Provenance string

const (
	ProvenanceNone     Provenance = "none"
	ProvenanceAttested Provenance = "attested"
	ProvenanceTrusted  Provenance = "trusted"
)

// Rank orders provenance levels from weakest to strongest.
func (p Provenance) Rank() int {
	switch p {
	case ProvenanceTrusted:
		return 2
	case ProvenanceAttested:
		return 1
	default:
		return 0
	}
}

// Protocol identifies the source a dependency is fetched from.
type Protocol string

const (
	ProtocolNPM    Protocol = "npm"
	ProtocolJSR    Protocol = "jsr"
	ProtocolGitHub Protocol = "github"
)

// DependencySpec is one declared dependency of a package manifest.
type DependencySpec struct {
	Name           string
	CurrentVersion string // declared range with the protocol prefix removed
	Source         string // dependencies, devDependencies, ...
	Update         bool
	AliasName      string // real package name for npm:/jsr: aliases, owner/repo for github:
	Protocol       Protocol
}

// PackageName returns the name the registry knows the dependency by.
func (d DependencySpec) PackageName() string {
	if d.AliasName != "" {
		return d.AliasName
	}
	return d.Name
}

// FetchKey returns the registry and cache key for the dependency, e.g.
// "left-pad", "jsr:@std/path" or "github:owner/repo".
func (d DependencySpec) FetchKey() string {
	switch d.Protocol {
	case ProtocolJSR:
		return string(ProtocolJSR) + ":" + d.PackageName()
	case ProtocolGitHub:
		return string(ProtocolGitHub) + ":" + strings.TrimSuffix(d.PackageName(), ".git")
	default:
		return d.PackageName()
	}
}

// PackageManifest is the set of dependencies declared by one package.
type PackageManifest struct {
	Name         string
	Path         string
	Dependencies []DependencySpec
}

// Diff is the semver distance between the current and the target version.
type Diff string

const (
	DiffMajor Diff = "major"
	DiffMinor Diff = "minor"
	DiffPatch Diff = "patch"
	DiffNone  Diff = "none"
	DiffError Diff = "error"
)

// ResolvedChange is the update decision for one dependency.
type ResolvedChange struct {
	DependencySpec

	TargetVersion string
	Diff          Diff
	Metadata      *PackageMetadata
	Err           error // set iff Diff == DiffError

	CurrentDeprecated string
	TargetDeprecated  string

	CurrentProvenance    Provenance
	TargetProvenance     Provenance
	ProvenanceDowngraded bool

	NodeRange      string
	NodeCompatible *bool // nil when unknown

	CurrentPublishedAt time.Time
	TargetPublishedAt  time.Time

	PURL string
}

// Failed returns the terminal change recorded for a dependency whose metadata
// could not be fetched.
func Failed(dep DependencySpec, err error) ResolvedChange {
	return ResolvedChange{
		DependencySpec: dep,
		TargetVersion:  dep.CurrentVersion,
		Diff:           DiffError,
		Metadata:       Stub(dep.PackageName()),
		Err:            err,
	}
}

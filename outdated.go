// Package outdated finds available updates for npm-style project dependencies.
//
// Dependencies are looked up on the npm registry (or the registry configured
// in .npmrc), on JSR for jsr: aliases, and on GitHub tags for github: refs.
// A target version is chosen per a semver mode, and metadata is cached
// between runs.
//
// Basic usage:
//
//	manifest := &outdated.PackageManifest{
//		Name: "app",
//		Dependencies: []outdated.DependencySpec{
//			{Name: "left-pad", CurrentVersion: "^1.0.0", Source: "dependencies", Update: true},
//		},
//	}
//
//	opts := outdated.DefaultOptions()
//	opts.Mode = outdated.ModeLatest
//
//	changes, err := outdated.ResolvePackage(ctx, manifest, opts, nil, nil, nil, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, c := range changes {
//		fmt.Println(c.Name, c.CurrentVersion, "->", c.TargetVersion, c.Diff)
//	}
//
// For repeated runs, create a Resolver with resolve.New and reuse it.
package outdated

import (
	"context"

	"github.com/git-pkgs/outdated/cache"
	"github.com/git-pkgs/outdated/client"
	"github.com/git-pkgs/outdated/config"
	"github.com/git-pkgs/outdated/internal/core"
	"github.com/git-pkgs/outdated/policy"
	"github.com/git-pkgs/outdated/resolve"
)

// Re-export types from internal/core
type (
	// PackageMetadata is the normalized registry document for one package.
	PackageMetadata = core.PackageMetadata

	// DependencySpec is one declared dependency.
	DependencySpec = core.DependencySpec

	// PackageManifest is the set of dependencies declared by one package.
	PackageManifest = core.PackageManifest

	// ResolvedChange is the update decision for one dependency.
	ResolvedChange = core.ResolvedChange

	// Diff is the semver distance between current and target.
	Diff = core.Diff

	// Provenance is the attestation strength of a version.
	Provenance = core.Provenance

	// Protocol identifies the source of a dependency.
	Protocol = core.Protocol
)

// Re-export configuration types
type (
	// Options controls a resolution run.
	Options = config.Options

	// Npmrc holds registry, auth and transport settings.
	Npmrc = config.Npmrc

	// Mode is a target selection strategy.
	Mode = policy.Mode

	// Cache stores registry metadata between runs.
	Cache = cache.Cache
)

// Re-export constants
const (
	DiffMajor = core.DiffMajor
	DiffMinor = core.DiffMinor
	DiffPatch = core.DiffPatch
	DiffNone  = core.DiffNone
	DiffError = core.DiffError

	ProvenanceNone     = core.ProvenanceNone
	ProvenanceAttested = core.ProvenanceAttested
	ProvenanceTrusted  = core.ProvenanceTrusted

	ProtocolNPM    = core.ProtocolNPM
	ProtocolJSR    = core.ProtocolJSR
	ProtocolGitHub = core.ProtocolGitHub

	ModeDefault = policy.ModeDefault
	ModeMajor   = policy.ModeMajor
	ModeMinor   = policy.ModeMinor
	ModePatch   = policy.ModePatch
	ModeLatest  = policy.ModeLatest
	ModeNewest  = policy.ModeNewest
	ModeNext    = policy.ModeNext
	ModeIgnore  = policy.ModeIgnore
)

// Re-export errors
var (
	ErrNotFound         = core.ErrNotFound
	ErrUpstreamDown     = core.ErrUpstreamDown
	ErrUnsupportedRange = policy.ErrUnsupportedRange
	ErrNilManifest      = resolve.ErrNilManifest
)

// Error types
type (
	ConfigurationError = core.ConfigurationError
	RegistryError      = core.RegistryError
	ResolveError       = core.ResolveError
)

// DefaultOptions returns the default resolution options.
func DefaultOptions() Options {
	return config.Default()
}

// OpenCache opens the persistent cache at path, or the default location when
// path is empty.
func OpenCache(path string) *Cache {
	return cache.Open(path)
}

// LoadNpmrc reads the user and project .npmrc files for the project in dir.
func LoadNpmrc(dir string) (*Npmrc, error) {
	return config.LoadNpmrc(config.NpmrcPaths(dir)...)
}

// ResolvePackage resolves every dependency of manifest.
//
// A nil c makes the run open and close its own cache when options.CacheTTL
// is positive. A nil npmrc uses the public npm registry. onEachProcessed, if
// set, is called once per looked-up dependency.
func ResolvePackage(ctx context.Context, manifest *PackageManifest, options Options, c *Cache, npmrc *Npmrc, privateNames []string, onEachProcessed func()) ([]ResolvedChange, error) {
	r := resolve.New(resolve.WithCache(c), resolve.WithNpmrc(npmrc))
	defer r.Close()

	return r.ResolvePackage(ctx, manifest, resolve.Options{
		Options:         options,
		PrivateNames:    privateNames,
		OnEachProcessed: onEachProcessed,
	})
}

// PURL returns the Package URL of dep at version.
func PURL(dep DependencySpec, version string) string {
	return client.PURL(dep, version)
}

// SupportedProtocols returns all registered dependency sources.
func SupportedProtocols() []string {
	return core.SupportedProtocols()
}

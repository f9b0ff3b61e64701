// Package resolve decides the update target of every dependency in a
// manifest, fetching registry metadata with bounded concurrency.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/git-pkgs/outdated/cache"
	"github.com/git-pkgs/outdated/client"
	"github.com/git-pkgs/outdated/config"
	"github.com/git-pkgs/outdated/fetch"
	"github.com/git-pkgs/outdated/internal/core"
	"github.com/git-pkgs/outdated/metrics"
	"github.com/git-pkgs/outdated/policy"
	"github.com/git-pkgs/outdated/transport"
)

// ErrNilManifest is returned when ResolvePackage is called without a manifest.
var ErrNilManifest = errors.New("nil manifest")

// Options controls one ResolvePackage call.
type Options struct {
	config.Options

	// PrivateNames are never looked up.
	PrivateNames []string

	// OnEachProcessed fires once per looked-up dependency after it settles.
	OnEachProcessed func()

	// OnDependencyResolved fires for every reported change that is not an error.
	OnDependencyResolved func(manifest *core.PackageManifest, change core.ResolvedChange)
}

// Resolver resolves manifests. Hooks are invoked one at a time, so callers
// need no locking of their own.
type Resolver struct {
	cache          *cache.Cache
	npmrc          *config.Npmrc
	transports     *transport.Resolver
	ownsTransports bool
	doer           core.Doer
	logger         *log.Logger
	metrics        *metrics.Metrics
	lookupEnv      func(string) (string, bool)
	detectNode     func(context.Context) string
	now            func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithCache supplies a cache. A supplied cache is never closed by the resolver.
func WithCache(c *cache.Cache) Option {
	return func(r *Resolver) {
		r.cache = c
	}
}

// WithNpmrc sets registry, auth and transport configuration.
func WithNpmrc(n *config.Npmrc) Option {
	return func(r *Resolver) {
		r.npmrc = n
	}
}

// WithTransports shares a transport resolver across resolvers.
func WithTransports(t *transport.Resolver) Option {
	return func(r *Resolver) {
		r.transports = t
	}
}

// WithDoer replaces the retrying fetcher, for tests.
func WithDoer(d core.Doer) Option {
	return func(r *Resolver) {
		r.doer = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithMetrics records fetch, cache and resolution metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithLookupEnv replaces os.LookupEnv for GitHub token lookup.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Resolver) {
		r.lookupEnv = fn
	}
}

// WithNodeDetector replaces DetectNodeVersion.
func WithNodeDetector(fn func(context.Context) string) Option {
	return func(r *Resolver) {
		r.detectNode = fn
	}
}

// WithClock replaces time.Now for the cooldown filter.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		npmrc:      config.DefaultNpmrc(),
		logger:     log.New(io.Discard),
		lookupEnv:  os.LookupEnv,
		detectNode: DetectNodeVersion,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.npmrc == nil {
		r.npmrc = config.DefaultNpmrc()
	}
	if r.transports == nil {
		r.transports = transport.NewResolver(transport.WithDNSRefresh(5 * time.Minute))
		r.ownsTransports = true
	}
	return r
}

// Close releases the transport resolver if the resolver created it.
func (r *Resolver) Close() {
	if r.ownsTransports {
		r.transports.Close()
	}
}

// run is the per-call state shared by the dependency goroutines.
type run struct {
	manifest    *core.PackageManifest
	opts        Options
	overrides   *policy.Overrides
	mode        policy.Mode
	cache       *cache.Cache
	client      *client.Client
	logger      *log.Logger
	nodeVersion func() string
	now         time.Time
}

// ResolvePackage resolves every dependency of manifest and returns the
// reported changes in declaration order.
//
// Failures of individual dependencies are reported as changes with Diff
// "error". The returned error is non-nil only for invalid arguments or when
// ctx is done, in which case the changes collected so far are returned too.
func (r *Resolver) ResolvePackage(ctx context.Context, manifest *core.PackageManifest, opts Options) (changes []core.ResolvedChange, err error) {
	if manifest == nil {
		return nil, ErrNilManifest
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	overrides, err := policy.CompileOverrides(opts.PackageMode)
	if err != nil {
		return nil, err
	}
	mode, _ := policy.ParseMode(string(opts.Mode))

	logger := r.logger.With("run", uuid.NewString(), "package", manifest.Name)

	c := r.cache
	if c == nil && opts.CacheTTL > 0 {
		c = cache.Open(opts.CachePath, cache.WithLogger(logger), cache.WithMetrics(r.metrics))
		defer func() {
			stats := c.Stats()
			logger.Debug("cache stats", "backend", stats.Backend, "hits", stats.Hits, "misses", stats.Misses, "size", stats.Size)
			if cerr := c.Close(); cerr != nil {
				logger.Warn("closing cache", "err", cerr)
			}
		}()
	}

	doer := r.doer
	if doer == nil {
		fetcher := fetch.NewFetcher(
			fetch.WithTransport(r.transports, r.npmrc.Transport()),
			fetch.WithMaxRetries(opts.Retries),
			fetch.WithTimeout(opts.Timeout),
			fetch.WithLogger(logger),
			fetch.WithMetrics(r.metrics),
		)
		defer fetcher.Close()
		doer = fetcher
	}
	if opts.BreakerThreshold > 0 {
		doer = fetch.NewCircuitBreakerFetcher(doer, opts.BreakerThreshold)
	}

	nodeVersion := opts.NodeVersion
	rn := &run{
		manifest:  manifest,
		opts:      opts,
		overrides: overrides,
		mode:      mode,
		cache:     c,
		client:    client.New(r.npmrc.Settings(config.GitHubToken(r.lookupEnv)), doer),
		logger:    logger,
		nodeVersion: sync.OnceValue(func() string {
			if nodeVersion != "" {
				return nodeVersion
			}
			return r.detectNode(ctx)
		}),
		now: r.now(),
	}

	private := make(map[string]struct{}, len(opts.PrivateNames))
	for _, name := range opts.PrivateNames {
		private[name] = struct{}{}
	}

	results := make([]*core.ResolvedChange, len(manifest.Dependencies))
	sem := semaphore.NewWeighted(int64(opts.Concurrency))

	var (
		wg     sync.WaitGroup
		hookMu sync.Mutex
	)
	for i, dep := range manifest.Dependencies {
		depMode, rng, skip := rn.plan(dep, private)
		if skip != "" {
			logger.Debug("skipping dependency", "name", dep.Name, "reason", skip)
			continue
		}

		wg.Add(1)
		go func(i int, dep core.DependencySpec) {
			defer wg.Done()

			change, ok := r.resolveOne(ctx, rn, sem, dep, depMode, rng)

			hookMu.Lock()
			defer hookMu.Unlock()
			if ok {
				results[i] = &change
				if change.Diff != core.DiffError && opts.OnDependencyResolved != nil {
					opts.OnDependencyResolved(manifest, change)
				}
			}
			if opts.OnEachProcessed != nil {
				opts.OnEachProcessed()
			}
		}(i, dep)
	}
	wg.Wait()

	changes = make([]core.ResolvedChange, 0, len(results))
	for _, change := range results {
		if change != nil {
			changes = append(changes, *change)
		}
	}

	if err := ctx.Err(); err != nil {
		return changes, err
	}
	return changes, nil
}

// plan returns the effective mode and parsed range of dep, or the reason it
// is skipped without a lookup.
func (rn *run) plan(dep core.DependencySpec, private map[string]struct{}) (policy.Mode, policy.Range, string) {
	if !dep.Update {
		return "", policy.Range{}, "update disabled"
	}
	if _, ok := private[dep.Name]; ok {
		return "", policy.Range{}, "private"
	}
	mode := rn.overrides.ModeFor(dep.Name, rn.mode)
	if mode == policy.ModeIgnore {
		return "", policy.Range{}, "ignored"
	}
	rng, err := policy.ParseRange(dep.CurrentVersion)
	if err != nil {
		return "", policy.Range{}, err.Error()
	}
	return mode, rng, ""
}

// resolveOne returns the change for dep and whether it is reported.
func (r *Resolver) resolveOne(ctx context.Context, rn *run, sem *semaphore.Weighted, dep core.DependencySpec, mode policy.Mode, rng policy.Range) (core.ResolvedChange, bool) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return core.Failed(dep, err), true
	}
	defer sem.Release(1)

	meta, err := rn.metadata(ctx, dep.FetchKey())
	if err != nil {
		rn.logger.Warn("resolving dependency", "name", dep.Name, "err", err)
		r.metrics.Resolved(string(core.DiffError))
		return core.Failed(dep, err), true
	}

	candidates := policy.Eligible(meta, rng, policy.FilterOptions{Cooldown: rn.opts.Cooldown, Now: rn.now})
	target, ok := policy.SelectTarget(mode, rng, candidates, meta)
	if !ok {
		rn.logger.Debug("no target", "name", dep.Name, "mode", mode)
		return core.ResolvedChange{}, false
	}

	targetVersion, err := semver.NewVersion(target)
	if err != nil {
		return core.ResolvedChange{}, false
	}
	diff := policy.ClassifyDiff(rng.Current, targetVersion)
	if diff == core.DiffNone && !rn.opts.Force {
		return core.ResolvedChange{}, false
	}

	change := core.ResolvedChange{
		DependencySpec: dep,
		TargetVersion:  rng.WithVersion(target),
		Diff:           diff,
		Metadata:       meta,
	}
	rn.enrich(&change, meta, rng, target)
	r.metrics.Resolved(string(diff))
	return change, true
}

func (rn *run) metadata(ctx context.Context, key string) (*core.PackageMetadata, error) {
	useCache := rn.cache != nil && rn.opts.CacheTTL > 0

	if useCache && !rn.opts.RefreshCache {
		if meta, ok := rn.cache.Get(ctx, key); ok {
			return meta, nil
		}
	}

	meta, err := rn.client.Fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}

	if useCache {
		if err := rn.cache.Set(ctx, key, meta, rn.opts.CacheTTL); err != nil {
			rn.logger.Debug("cache write failed", "key", key, "err", err)
		}
	}
	return meta, nil
}

func (rn *run) enrich(change *core.ResolvedChange, meta *core.PackageMetadata, rng policy.Range, target string) {
	current := currentVersion(meta, rng)

	change.CurrentDeprecated = meta.Deprecated[current]
	change.TargetDeprecated = meta.Deprecated[target]

	change.CurrentProvenance = meta.ProvenanceOf(current)
	change.TargetProvenance = meta.ProvenanceOf(target)
	change.ProvenanceDowngraded = change.TargetProvenance.Rank() < change.CurrentProvenance.Rank()

	change.NodeRange = meta.Engines[target]
	if change.NodeRange != "" {
		change.NodeCompatible = nodeCompatible(change.NodeRange, rn.nodeVersion())
	}

	if t, ok := meta.PublishedAt(current); ok {
		change.CurrentPublishedAt = t
	}
	if t, ok := meta.PublishedAt(target); ok {
		change.TargetPublishedAt = t
	}

	change.PURL = client.PURL(change.DependencySpec, target)
}

// currentVersion returns the metadata key of the current version: the range
// version as written when listed, otherwise its normalized form.
func currentVersion(meta *core.PackageMetadata, rng policy.Range) string {
	for _, v := range meta.Versions {
		if v == rng.Version {
			return v
		}
	}
	return rng.Current.String()
}

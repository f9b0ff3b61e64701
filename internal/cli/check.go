package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/git-pkgs/outdated/cache"
	"github.com/git-pkgs/outdated/config"
	"github.com/git-pkgs/outdated/metrics"
	"github.com/git-pkgs/outdated/policy"
	"github.com/git-pkgs/outdated/resolve"
)

type checkOptions struct {
	configPath  string
	mode        string
	packageMode map[string]string
	private     []string
	concurrency int
	timeout     time.Duration
	retries     int
	cacheTTL    time.Duration
	cachePath   string
	refresh     bool
	force       bool
	cooldown    int
	breaker     int
	nodeVersion string
	metricsFile string
}

func newCheckCmd() *cobra.Command {
	var o checkOptions

	cmd := &cobra.Command{
		Use:   "check [package.json]",
		Short: "List available updates",
		Long: `Check reads a package.json (default: ./package.json) and lists the update
target of every dependency under the selected mode.

Options are read from outdated.toml next to the manifest, then from OUTDATED_*
environment variables, then from flags.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "package.json"
			if len(args) == 1 {
				path = args[0]
			}
			return runCheck(cmd, path, &o)
		},
	}

	modes := make([]string, len(policy.Modes))
	for i, m := range policy.Modes {
		modes[i] = string(m)
	}

	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", "", "config file (default: outdated.toml next to the manifest)")
	f.StringVarP(&o.mode, "mode", "m", "", "target mode: "+strings.Join(modes, ", "))
	f.StringToStringVar(&o.packageMode, "package-mode", nil, "per-package mode, name or glob=mode")
	f.StringSliceVar(&o.private, "private", nil, "package names never looked up")
	f.IntVarP(&o.concurrency, "concurrency", "c", 0, "maximum concurrent lookups")
	f.DurationVar(&o.timeout, "timeout", 0, "per-attempt request timeout")
	f.IntVar(&o.retries, "retries", 0, "retries after transient failures")
	f.DurationVar(&o.cacheTTL, "cache-ttl", 0, "metadata cache lifetime, 0 disables the cache")
	f.StringVar(&o.cachePath, "cache-path", "", "cache database path")
	f.BoolVar(&o.refresh, "refresh", false, "ignore cached metadata")
	f.BoolVar(&o.force, "force", false, "report dependencies already at their target")
	f.IntVar(&o.cooldown, "cooldown", 0, "skip versions published less than this many days ago")
	f.IntVar(&o.breaker, "breaker-threshold", 0, "consecutive failures that open a registry circuit, 0 disables")
	f.StringVar(&o.nodeVersion, "node-version", "", "node version for engines checks (default: node --version)")
	f.StringVar(&o.metricsFile, "metrics-file", "", "write Prometheus metrics to this file")

	return cmd
}

// effectiveOptions layers changed flags over the config file and environment.
func effectiveOptions(cmd *cobra.Command, dir string, o *checkOptions) (config.Options, error) {
	path := o.configPath
	if path == "" {
		path = filepath.Join(dir, "outdated.toml")
	}
	opts, err := config.LoadIfExists(path)
	if err != nil {
		return opts, err
	}

	f := cmd.Flags()
	if f.Changed("mode") {
		opts.Mode = policy.Mode(o.mode)
	}
	if f.Changed("package-mode") {
		if opts.PackageMode == nil {
			opts.PackageMode = map[string]string{}
		}
		for k, v := range o.packageMode {
			opts.PackageMode[k] = v
		}
	}
	if f.Changed("concurrency") {
		opts.Concurrency = o.concurrency
	}
	if f.Changed("timeout") {
		opts.Timeout = o.timeout
	}
	if f.Changed("retries") {
		opts.Retries = o.retries
	}
	if f.Changed("cache-ttl") {
		opts.CacheTTL = o.cacheTTL
	}
	if f.Changed("cache-path") {
		opts.CachePath = o.cachePath
	}
	if f.Changed("refresh") {
		opts.RefreshCache = o.refresh
	}
	if f.Changed("force") {
		opts.Force = o.force
	}
	if f.Changed("cooldown") {
		opts.Cooldown = o.cooldown
	}
	if f.Changed("breaker-threshold") {
		opts.BreakerThreshold = o.breaker
	}
	if f.Changed("node-version") {
		opts.NodeVersion = o.nodeVersion
	}
	return opts, opts.Validate()
}

func runCheck(cmd *cobra.Command, path string, o *checkOptions) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)
	out := cmd.OutOrStdout()

	manifest, err := readManifest(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)

	opts, err := effectiveOptions(cmd, dir, o)
	if err != nil {
		return err
	}

	npmrc, err := config.LoadNpmrc(config.NpmrcPaths(dir)...)
	if err != nil {
		return err
	}

	var (
		reg *prometheus.Registry
		m   *metrics.Metrics
	)
	if o.metricsFile != "" {
		reg = prometheus.NewRegistry()
		m = metrics.New(reg)
	}

	resolverOpts := []resolve.Option{
		resolve.WithNpmrc(npmrc),
		resolve.WithLogger(logger),
		resolve.WithMetrics(m),
	}
	if opts.CacheTTL > 0 {
		c := cache.Open(opts.CachePath, cache.WithLogger(logger), cache.WithMetrics(m))
		defer c.Close()
		resolverOpts = append(resolverOpts, resolve.WithCache(c))
	}

	r := resolve.New(resolverOpts...)
	defer r.Close()

	processed := 0
	p := newProgress(logger)
	changes, err := r.ResolvePackage(ctx, manifest, resolve.Options{
		Options:         opts,
		PrivateNames:    o.private,
		OnEachProcessed: func() { processed++ },
	})
	if err != nil {
		return err
	}
	p.done(fmt.Sprintf("Checked %d dependencies", processed))

	printChanges(out, manifest, changes)

	if reg != nil {
		if err := prometheus.WriteToTextfile(o.metricsFile, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}
	return nil
}

// Package config holds resolution options and npmrc-style registry settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"

	"github.com/git-pkgs/outdated/internal/core"
	"github.com/git-pkgs/outdated/policy"
)

// EnvPrefix prefixes every environment override, e.g. OUTDATED_MODE.
const EnvPrefix = "outdated"

// Options controls a resolution run.
type Options struct {
	Mode        policy.Mode       `toml:"mode" envconfig:"MODE"`
	PackageMode map[string]string `toml:"package_mode" envconfig:"PACKAGE_MODE"`

	Concurrency int           `toml:"concurrency" envconfig:"CONCURRENCY"`
	Timeout     time.Duration `toml:"timeout" envconfig:"TIMEOUT"`
	Retries     int           `toml:"retries" envconfig:"RETRIES"`

	CacheTTL     time.Duration `toml:"cache_ttl" envconfig:"CACHE_TTL"`
	CachePath    string        `toml:"cache_path" envconfig:"CACHE_PATH"`
	RefreshCache bool          `toml:"refresh_cache" envconfig:"REFRESH_CACHE"`

	Force            bool   `toml:"force" envconfig:"FORCE"`
	Cooldown         int    `toml:"cooldown" envconfig:"COOLDOWN"`
	BreakerThreshold int    `toml:"breaker_threshold" envconfig:"BREAKER_THRESHOLD"`
	NodeVersion      string `toml:"node_version" envconfig:"NODE_VERSION"`
}

// Default returns the default options.
func Default() Options {
	return Options{
		Mode:        policy.ModeDefault,
		Concurrency: 10,
		Timeout:     10 * time.Second,
		Retries:     2,
		CacheTTL:    30 * time.Minute,
	}
}

// Load returns Default overlaid with the TOML file at path (skipped when
// path is empty) and then with OUTDATED_* environment variables.
func Load(path string) (Options, error) {
	opts := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &opts); err != nil {
			return opts, &core.ConfigurationError{Op: "read config", Path: path, Err: err}
		}
	}

	if err := envconfig.Process(EnvPrefix, &opts); err != nil {
		return opts, &core.ConfigurationError{Op: "read environment", Err: err}
	}

	if err := opts.Validate(); err != nil {
		return opts, &core.ConfigurationError{Op: "validate config", Path: path, Err: err}
	}
	return opts, nil
}

// LoadIfExists is Load that treats a missing file as no file.
func LoadIfExists(path string) (Options, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	return Load(path)
}

// Validate reports the first invalid field.
func (o Options) Validate() error {
	if _, err := policy.ParseMode(string(o.Mode)); err != nil {
		return err
	}
	for pattern, mode := range o.PackageMode {
		if _, err := policy.ParseMode(mode); err != nil {
			return fmt.Errorf("package_mode %q: %w", pattern, err)
		}
	}
	switch {
	case o.Concurrency < 1:
		return fmt.Errorf("concurrency must be at least 1, got %d", o.Concurrency)
	case o.Retries < 0:
		return fmt.Errorf("retries must not be negative, got %d", o.Retries)
	case o.Timeout < 0:
		return fmt.Errorf("timeout must not be negative, got %s", o.Timeout)
	case o.CacheTTL < 0:
		return fmt.Errorf("cache_ttl must not be negative, got %s", o.CacheTTL)
	case o.Cooldown < 0:
		return fmt.Errorf("cooldown must not be negative, got %d", o.Cooldown)
	}
	return nil
}

// GitHubToken returns GITHUB_TOKEN, else GH_TOKEN. An empty value counts as
// unset.
func GitHubToken(lookupEnv func(string) (string, bool)) string {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	for _, name := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if v, ok := lookupEnv(name); ok && v != "" {
			return v
		}
	}
	return ""
}

package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/outdated/cache"
)

func newCacheCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the registry metadata cache",
	}
	cmd.PersistentFlags().StringVar(&path, "cache-path", "", "cache database path")

	cmd.AddCommand(newCacheClearCmd(&path))
	cmd.AddCommand(newCacheStatsCmd(&path))
	cmd.AddCommand(newCachePathCmd(&path))

	return cmd
}

func newCacheClearCmd(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cache.Open(*path, cache.WithLogger(loggerFromContext(cmd.Context())))
			defer c.Close()

			out := cmd.OutOrStdout()
			n := c.Stats().Size
			if n == 0 {
				printInfo(out, "Cache is empty")
				return nil
			}
			if err := c.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("clearing cache: %w", err)
			}
			printSuccess(out, "Cleared %d cached entries", n)
			if p, err := resolvedCachePath(*path); err == nil {
				printDetail(out, "Database: %s", p)
			}
			return nil
		},
	}
}

func newCacheStatsCmd(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cache size and backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cache.Open(*path, cache.WithLogger(loggerFromContext(cmd.Context())))
			defer c.Close()

			stats := c.Stats()
			out := cmd.OutOrStdout()
			printKeyValue(out, "Backend", stats.Backend)
			printKeyValue(out, "Entries", strconv.Itoa(stats.Size))
			if p, err := resolvedCachePath(*path); err == nil {
				printKeyValue(out, "Path", p)
			}
			return nil
		},
	}
}

func newCachePathCmd(path *string) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache database path",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvedCachePath(*path)
			if err != nil {
				return fmt.Errorf("get cache path: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
}

func resolvedCachePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return cache.DefaultPath()
}

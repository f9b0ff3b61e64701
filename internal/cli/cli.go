// Package cli implements the outdated command-line interface.
//
// # Commands
//
//   - check: list available updates for the dependencies of a package.json
//   - cache: inspect and clear the registry metadata cache
//
// All commands support --verbose (-v) for debug-level logging. The logger is
// passed to commands through context.Context.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// SetVersion sets the version information displayed by --version.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// Execute runs the outdated CLI.
func Execute(ctx context.Context) error {
	return newRootCommand(os.Stderr).ExecuteContext(ctx)
}

func newRootCommand(logOut io.Writer) *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "outdated",
		Short:        "Find available updates for npm dependencies",
		Long:         `outdated checks the dependencies of a package.json against the npm registry, JSR and GitHub tags and reports the version each one can move to.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := log.InfoLevel
			if verbose {
				level = log.DebugLevel
			}
			cmd.SetContext(withLogger(cmd.Context(), newLogger(logOut, level)))
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("outdated %s\ncommit: %s\nbuilt: %s\n", version, commit, date))
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	root.AddCommand(newCheckCmd())
	root.AddCommand(newCacheCmd())

	return root
}

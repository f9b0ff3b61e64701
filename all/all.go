// Package all imports all supported registry sources.
//
// Import this package for its side effects to register every source:
//
//	import (
//		"github.com/git-pkgs/outdated"
//		_ "github.com/git-pkgs/outdated/all"
//	)
//
//	// Now all sources are available
//	protocols := outdated.SupportedProtocols()
//	// ["github", "jsr", "npm"]
package all

import (
	_ "github.com/git-pkgs/outdated/internal/github"
	_ "github.com/git-pkgs/outdated/internal/jsr"
	_ "github.com/git-pkgs/outdated/internal/npm"
)

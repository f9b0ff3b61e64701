package resolve

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

const nodeDetectTimeout = 2 * time.Second

// DetectNodeVersion runs "node --version" and returns the version without
// the leading "v", or "" when node is not available.
func DetectNodeVersion(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, nodeDetectTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "node", "--version").Output()
	if err != nil {
		return ""
	}
	v := strings.TrimPrefix(strings.TrimSpace(string(out)), "v")
	if _, err := semver.NewVersion(v); err != nil {
		return ""
	}
	return v
}

// nodeCompatible reports whether node satisfies the engines.node range. It
// returns nil when either side is unknown or unparsable.
func nodeCompatible(nodeRange, node string) *bool {
	if nodeRange == "" || node == "" {
		return nil
	}
	v, err := semver.NewVersion(node)
	if err != nil {
		return nil
	}
	c, err := semver.NewConstraint(nodeRange)
	if err != nil {
		return nil
	}
	ok := c.Check(v)
	return &ok
}

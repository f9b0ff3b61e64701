package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/git-pkgs/outdated/internal/core"
)

var (
	colorCyan   = lipgloss.Color("36")
	colorGreen  = lipgloss.Color("35")
	colorYellow = lipgloss.Color("220")
	colorRed    = lipgloss.Color("167")
	colorWhite  = lipgloss.Color("255")
	colorGray   = lipgloss.Color("245")
	colorDim    = lipgloss.Color("240")
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleDim     = lipgloss.NewStyle().Foreground(colorDim)
	styleValue   = lipgloss.NewStyle().Foreground(colorWhite)
	styleWarning = lipgloss.NewStyle().Foreground(colorYellow)

	styleMajor = lipgloss.NewStyle().Foreground(colorRed)
	styleMinor = lipgloss.NewStyle().Foreground(colorYellow)
	stylePatch = lipgloss.NewStyle().Foreground(colorGreen)
	styleNone  = lipgloss.NewStyle().Foreground(colorGray)
	styleError = lipgloss.NewStyle().Foreground(colorRed).Bold(true)

	styleIconSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleIconInfo    = lipgloss.NewStyle().Foreground(colorGray)
)

const (
	iconSuccess = "✓"
	iconInfo    = "›"
	iconArrow   = "→"
	iconWarning = "!"
)

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleIconSuccess.Render(iconSuccess)+" "+fmt.Sprintf(format, args...))
}

func printInfo(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, styleIconInfo.Render(iconInfo)+" "+fmt.Sprintf(format, args...))
}

func printDetail(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, "  "+styleDim.Render(fmt.Sprintf(format, args...)))
}

func printKeyValue(w io.Writer, key, value string) {
	keyStyle := lipgloss.NewStyle().Foreground(colorGray).Width(12)
	fmt.Fprintln(w, keyStyle.Render(key)+" "+styleValue.Render(value))
}

func diffStyle(d core.Diff) lipgloss.Style {
	switch d {
	case core.DiffMajor:
		return styleMajor
	case core.DiffMinor:
		return styleMinor
	case core.DiffPatch:
		return stylePatch
	case core.DiffError:
		return styleError
	default:
		return styleNone
	}
}

// printChanges renders one line per change, names padded to a column.
func printChanges(w io.Writer, manifest *core.PackageManifest, changes []core.ResolvedChange) {
	fmt.Fprintln(w, styleTitle.Render(manifest.Name))
	if len(changes) == 0 {
		printSuccess(w, "All dependencies are up to date")
		return
	}

	width := 0
	for _, c := range changes {
		width = max(width, len(c.Name))
	}
	nameStyle := lipgloss.NewStyle().Foreground(colorWhite).Width(width + 2)

	for _, c := range changes {
		diff := diffStyle(c.Diff)
		if c.Diff == core.DiffError {
			fmt.Fprintf(w, "  %s %s %s\n", nameStyle.Render(c.Name), diff.Render("error"), styleDim.Render(errMessage(c.Err)))
			continue
		}

		line := fmt.Sprintf("  %s %s %s %s %s",
			nameStyle.Render(c.Name),
			styleDim.Render(c.CurrentVersion),
			styleDim.Render(iconArrow),
			diff.Render(c.TargetVersion),
			styleDim.Render(c.Source),
		)
		if notes := changeNotes(c); len(notes) > 0 {
			line += " " + styleWarning.Render(iconWarning+" "+strings.Join(notes, ", "))
		}
		fmt.Fprintln(w, line)
	}
}

func changeNotes(c core.ResolvedChange) []string {
	var notes []string
	if c.TargetDeprecated != "" {
		notes = append(notes, "deprecated")
	}
	if c.ProvenanceDowngraded {
		notes = append(notes, fmt.Sprintf("provenance %s → %s", c.CurrentProvenance, c.TargetProvenance))
	}
	if c.NodeCompatible != nil && !*c.NodeCompatible {
		notes = append(notes, "requires node "+c.NodeRange)
	}
	return notes
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

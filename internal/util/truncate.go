// Package util holds small helpers shared across the terminal surfaces.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Truncate shortens s to at most max runes, appending "..." when anything
// was cut. It counts raw runes, so styled terminal output should go through
// TruncateANSI instead.
func Truncate(s string, max int) string {
	if max <= 3 {
		return "..."
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}

// TruncateANSI shortens s to at most max visual columns, appending "..."
// when anything was cut. Escape sequences and wide characters are measured
// by display width rather than byte or rune count, so styled event-feed
// lines stay within the terminal.
func TruncateANSI(s string, max int) string {
	if max <= 3 {
		return "..."
	}
	if lipgloss.Width(s) <= max {
		return s
	}
	return ansi.Truncate(s, max, "...")
}

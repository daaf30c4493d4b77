package search

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Format renders a Result the way spec section 4.4 specifies: one
// "<relative-path>:<line-number>:<line-content>" line per match,
// relative to repoRoot, followed by a summary line. Grounded line-for-
// line on original_source/memory_grep.py's grep_formatted.
func Format(result Result, repoRoot, pattern string) string {
	if len(result.Matches) == 0 {
		return fmt.Sprintf("No matches found for pattern: %s", pattern)
	}

	var lines []string
	for _, m := range result.Matches {
		rel, err := filepath.Rel(repoRoot, m.Path)
		if err != nil {
			rel = m.Path
		}
		lines = append(lines, fmt.Sprintf("%s:%d:%s", rel, m.Line, m.Content))
	}

	summary := fmt.Sprintf("--- Found %d matches", len(result.Matches))
	if result.Truncated {
		summary += fmt.Sprintf(" (limited to first %d)", result.MaxResults)
	}
	summary += " ---"

	return strings.Join(lines, "\n") + "\n" + summary
}

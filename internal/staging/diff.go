package staging

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// diffContext is the number of unchanged lines shown around each hunk.
const diffContext = 3

// UnifiedDiff renders a unified diff between two LF-normalized texts.
// Both headers carry the same path; an absent side is passed as "".
func UnifiedDiff(path, before, after string) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        splitLines(before),
		B:        splitLines(after),
		FromFile: path,
		ToFile:   path,
		Context:  diffContext,
	}
	return difflib.GetUnifiedDiffString(ud)
}

// splitLines keeps line terminators; a missing final newline is added so
// every diff line ends in "\n".
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}

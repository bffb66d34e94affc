package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"
)

// DenyFileName is the per-project file listing extra protected patterns.
const DenyFileName = ".svpatchdeny"

// defaultDenyPatterns are always applied regardless of config or the deny file.
var defaultDenyPatterns = []string{".git", DenyFileName}

// denyPattern is a parsed deny pattern with its matching strategy.
type denyPattern struct {
	pattern   string
	matchPath bool // true = match against relative path; false = match against each path component
}

// DenyMatcher decides which project paths scripts may never touch.
// Patterns without '/' match any single path component, so ".git" protects
// everything below a .git directory. Patterns with '/' match the relative path
// or any of its parent directories.
type DenyMatcher struct {
	patterns []denyPattern
}

// NewDenyMatcher creates a DenyMatcher from raw pattern strings plus the defaults.
// Blank lines and lines starting with '#' are skipped.
func NewDenyMatcher(rawPatterns []string) *DenyMatcher {
	var patterns []denyPattern
	for _, raw := range append(append([]string{}, defaultDenyPatterns...), rawPatterns...) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.Trim(raw, "/")
		patterns = append(patterns, denyPattern{
			pattern:   raw,
			matchPath: strings.Contains(raw, "/"),
		})
	}
	return &DenyMatcher{patterns: patterns}
}

// Denied reports whether the slash-separated relative path is protected.
func (m *DenyMatcher) Denied(relativePath string) bool {
	normalized := path.Clean(strings.ReplaceAll(relativePath, "\\", "/"))
	components := strings.Split(normalized, "/")

	for _, p := range m.patterns {
		if p.matchPath {
			for i := len(components); i > 0; i-- {
				if matched, err := path.Match(p.pattern, strings.Join(components[:i], "/")); err == nil && matched {
					return true
				}
			}
			continue
		}
		for _, c := range components {
			// Bad pattern: skip rather than crash.
			if matched, err := path.Match(p.pattern, c); err == nil && matched {
				return true
			}
		}
	}
	return false
}

// ParseDenyFile reads a deny file and returns the raw pattern strings.
// Returns nil and no error if the file does not exist.
func ParseDenyFile(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening deny file: %w", err)
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		patterns = append(patterns, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading deny file: %w", err)
	}
	return patterns, nil
}

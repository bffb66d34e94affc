package patch

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultRegexTimeout bounds the wall-clock time of a single regex operation.
const DefaultRegexTimeout = 10 * time.Second

// compilePattern compiles a script pattern in multi-line mode.
// Surrounding whitespace is not part of the pattern.
func compilePattern(pattern string) (*regexp.Regexp, *Failure) {
	p := strings.TrimSpace(pattern)
	// \Z is end-of-text in script patterns; RE2 spells it \z.
	p = strings.ReplaceAll(p, `\Z`, `\z`)
	re, err := regexp.Compile("(?m)" + p)
	if err != nil {
		return nil, failf(ErrRegex, "invalid pattern %q: %v", strings.TrimSpace(pattern), err)
	}
	return re, nil
}

// budget is the time allowance of one operation. It is checked before each
// search and between substitutions. A single search is not interrupted; RE2
// keeps it linear in the input.
type budget struct {
	clock    Clock
	deadline time.Time
	limit    time.Duration
}

func newBudget(clock Clock, limit time.Duration) *budget {
	if limit <= 0 {
		limit = DefaultRegexTimeout
	}
	return &budget{clock: clock, deadline: clock.Now().Add(limit), limit: limit}
}

func (b *budget) check() *Failure {
	if b.clock.Now().After(b.deadline) {
		return failf(ErrRegexTimeout, "regex evaluation exceeded %s", b.limit)
	}
	return nil
}

// findAll returns up to n submatch index slices (n < 0 means all), checking
// the budget before the search starts.
func (b *budget) findAll(re *regexp.Regexp, text string, n int) ([][]int, *Failure) {
	if f := b.check(); f != nil {
		return nil, f
	}
	return re.FindAllStringSubmatchIndex(text, n), nil
}

// findFirst returns the first match or nil.
func (b *budget) findFirst(re *regexp.Regexp, text string) ([]int, *Failure) {
	m, f := b.findAll(re, text, 1)
	if f != nil || len(m) == 0 {
		return nil, f
	}
	return m[0], nil
}

// replace substitutes up to n matches (n < 0 means all) using tmpl.
// It returns the new text and the number of substitutions made.
func (b *budget) replace(re *regexp.Regexp, text string, tmpl template, n int) (string, int, *Failure) {
	matches, f := b.findAll(re, text, n)
	if f != nil {
		return text, 0, f
	}
	if len(matches) == 0 {
		return text, 0, nil
	}
	var out strings.Builder
	last := 0
	for _, m := range matches {
		if f := b.check(); f != nil {
			return text, 0, f
		}
		out.WriteString(text[last:m[0]])
		tmpl.expand(&out, text, m)
		last = m[1]
	}
	out.WriteString(text[last:])
	return out.String(), len(matches), nil
}

// template is a parsed replacement string. Group references use backslash
// syntax: \1 to \99, \g<name>, \g<1>. The escapes \n, \t, \r and \\ are
// recognized; '$' has no special meaning.
type template []templatePiece

type templatePiece struct {
	literal string
	group   int // -1 for literals
}

func parseTemplate(repl string, re *regexp.Regexp) (template, *Failure) {
	var t template
	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t = append(t, templatePiece{literal: lit.String(), group: -1})
			lit.Reset()
		}
	}
	group := func(g int) *Failure {
		if g < 0 || g > re.NumSubexp() {
			return failf(ErrRegex, "invalid group reference %d in replacement", g)
		}
		flush()
		t = append(t, templatePiece{group: g})
		return nil
	}

	for i := 0; i < len(repl); i++ {
		c := repl[i]
		if c != '\\' || i+1 == len(repl) {
			lit.WriteByte(c)
			continue
		}
		next := repl[i+1]
		switch {
		case next == '\\':
			lit.WriteByte('\\')
			i++
		case next == 'n':
			lit.WriteByte('\n')
			i++
		case next == 't':
			lit.WriteByte('\t')
			i++
		case next == 'r':
			lit.WriteByte('\r')
			i++
		case next >= '0' && next <= '9':
			j := i + 2
			if j < len(repl) && repl[j] >= '0' && repl[j] <= '9' {
				j++
			}
			g, _ := strconv.Atoi(repl[i+1 : j])
			if f := group(g); f != nil {
				return nil, f
			}
			i = j - 1
		case next == 'g':
			end := strings.IndexByte(repl[i:], '>')
			if i+2 >= len(repl) || repl[i+2] != '<' || end < 0 {
				return nil, failf(ErrRegex, "malformed \\g<...> reference in replacement")
			}
			name := repl[i+3 : i+end]
			if name == "" {
				return nil, failf(ErrRegex, "empty \\g<> reference in replacement")
			}
			g, err := strconv.Atoi(name)
			if err != nil {
				g = re.SubexpIndex(name)
				if g < 0 {
					return nil, failf(ErrRegex, "unknown group name %q in replacement", name)
				}
			}
			if f := group(g); f != nil {
				return nil, f
			}
			i += end
		default:
			lit.WriteByte('\\')
			lit.WriteByte(next)
			i++
		}
	}
	flush()
	return t, nil
}

// expand writes the template for match m of text. Unmatched groups expand to "".
func (t template) expand(out *strings.Builder, text string, m []int) {
	for _, p := range t {
		if p.group < 0 {
			out.WriteString(p.literal)
			continue
		}
		start, end := m[2*p.group], m[2*p.group+1]
		if start >= 0 {
			out.WriteString(text[start:end])
		}
	}
}

// ScanHit is one match recorded by SCAN_FILE.
type ScanHit struct {
	Line          int      `json:"line"`
	Col           int      `json:"col"`
	Match         string   `json:"match"`
	ContextBefore []string `json:"context_before"`
	ContextLine   string   `json:"context_line"`
	ContextAfter  []string `json:"context_after"`
}

// scan collects up to maxHits matches with surrounding context lines.
func (b *budget) scan(re *regexp.Regexp, text string, maxHits, context int) ([]ScanHit, *Failure) {
	if maxHits <= 0 {
		return []ScanHit{}, nil
	}
	matches, f := b.findAll(re, text, maxHits)
	if f != nil {
		return nil, f
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	hits := make([]ScanHit, 0, len(matches))
	for _, m := range matches {
		start := m[0]
		lineNo := strings.Count(text[:start], "\n") + 1
		lineStart := strings.LastIndexByte(text[:start], '\n') + 1
		idx := lineNo - 1

		hit := ScanHit{
			Line:          lineNo,
			Col:           len([]rune(text[lineStart:start])) + 1,
			Match:         text[m[0]:m[1]],
			ContextBefore: []string{},
			ContextAfter:  []string{},
		}
		if idx < len(lines) {
			hit.ContextLine = lines[idx]
		}
		for i := max(0, idx-context); i < idx && i < len(lines); i++ {
			hit.ContextBefore = append(hit.ContextBefore, lines[i])
		}
		for i := idx + 1; i <= idx+context && i < len(lines); i++ {
			hit.ContextAfter = append(hit.ContextAfter, lines[i])
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

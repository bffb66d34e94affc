package script

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// DefaultHeredocTag terminates a heredoc payload opened with a bare "<<".
const DefaultHeredocTag = "EOF"

var (
	optionRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*\s*=`)
	commandLineRe = regexp.MustCompile(`^\s*([A-Za-z_]+)\s*\|`)
)

// ParseError identifies the script line that could not be parsed.
type ParseError struct {
	Line int
	Raw  string
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Parse turns script text into an ordered list of operations.
// Parsing is all-or-nothing: the first malformed line aborts with a *ParseError.
func Parse(src string) ([]Operation, error) {
	lines := strings.Split(NormalizeNewlines(src), "\n")

	var ops []Operation
	for i := 0; i < len(lines); {
		raw := lines[i]
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			i++
			continue
		}
		lineNo := i + 1

		fields := SplitFields(trimmed)
		if len(fields) < 2 {
			return nil, &ParseError{Line: lineNo, Raw: raw, Msg: "expected OPERATOR | path"}
		}

		name := strings.ToUpper(fields[0])
		if fields[1] == "" {
			return nil, &ParseError{Line: lineNo, Raw: raw, Msg: fmt.Sprintf("%s: empty path", name)}
		}
		args, opts := splitArgs(fields[2:])

		kind, args, err := resolve(name, args, opts)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Raw: raw, Msg: err.Error()}
		}

		i++
		if idx, ok := kind.payloadIndex(); ok && len(args) > idx {
			arg := args[idx]
			payload, next, err := capturePayload(lines, i, arg)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Raw: raw, Msg: err.Error()}
			}
			if next == i && !isHeredoc(arg) {
				payload = unquoteJSON(payload)
			}
			args[idx] = payload
			i = next
		}

		if len(args) < minArgs[kind] {
			return nil, &ParseError{
				Line: lineNo,
				Raw:  raw,
				Msg:  fmt.Sprintf("%s requires %d argument(s), got %d", kind, minArgs[kind], len(args)),
			}
		}
		if kind == AssertRegexCount {
			if _, err := strconv.Atoi(strings.TrimSpace(args[1])); err != nil {
				return nil, &ParseError{Line: lineNo, Raw: raw, Msg: fmt.Sprintf("%s: expected count must be an integer, got %q", kind, args[1])}
			}
		}

		ops = append(ops, Operation{
			Kind:    kind,
			Path:    fields[1],
			Args:    args,
			Options: opts,
			Line:    lineNo,
			Raw:     raw,
		})
	}
	return ops, nil
}

// resolve maps an operator name onto its canonical kind, rewriting PATCH_REGEX by mode.
func resolve(name string, args []string, opts map[string]string) (Kind, []string, error) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	if name == patchRegex {
		return resolvePatchRegex(args, opts)
	}
	kind, ok := kindsByName[name]
	if !ok {
		msg := fmt.Sprintf("unknown operator %q", name)
		if s := suggest(name); s != "" {
			msg += fmt.Sprintf(" (did you mean %s?)", s)
		}
		return 0, nil, fmt.Errorf("%s", msg)
	}
	return kind, args, nil
}

func resolvePatchRegex(args []string, opts map[string]string) (Kind, []string, error) {
	mode, ok := opts["MODE"]
	if !ok {
		return 0, nil, fmt.Errorf("PATCH_REGEX requires MODE=replace|insert_before|insert_after|delete")
	}
	mode = strings.ToLower(strings.TrimSpace(mode))

	var kind Kind
	need := 2
	switch mode {
	case "replace":
		kind = ReplaceRegex
		if v, ok := opts["FIRST"]; ok && IsTruthy(v) {
			kind = ReplaceRegexFirst
		}
	case "insert_before":
		kind = InsertBeforeRegex
	case "insert_after":
		kind = InsertAfterRegex
	case "delete":
		kind = DeleteRegex
		need = 1
	default:
		return 0, nil, fmt.Errorf("PATCH_REGEX: unknown MODE %q", mode)
	}
	if len(args) < need {
		return 0, nil, fmt.Errorf("PATCH_REGEX MODE=%s requires %d argument(s), got %d", mode, need, len(args))
	}
	return kind, args[:need], nil
}

// capturePayload extends a payload argument with the lines that follow the command.
// It returns the payload and the index of the first line not consumed.
func capturePayload(lines []string, start int, arg string) (string, int, error) {
	if isHeredoc(arg) {
		tag := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(arg), "<<"))
		if tag == "" {
			tag = DefaultHeredocTag
		}
		for j := start; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == tag {
				return strings.Join(lines[start:j], "\n"), j + 1, nil
			}
		}
		return "", len(lines), fmt.Errorf("unterminated heredoc: missing %q terminator", tag)
	}

	j := start
	for j < len(lines) && !IsCommandLine(lines[j]) {
		j++
	}
	if j == start {
		return arg, start, nil
	}
	return arg + "\n" + strings.Join(lines[start:j], "\n"), j, nil
}

// IsCommandLine reports whether line begins with a known operator followed by a separator.
func IsCommandLine(line string) bool {
	m := commandLineRe.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	return KnownOperator(m[1])
}

func isHeredoc(arg string) bool {
	return strings.HasPrefix(strings.TrimSpace(arg), "<<")
}

// splitArgs separates KEY=VALUE option tokens from positional arguments.
func splitArgs(fields []string) ([]string, map[string]string) {
	args := []string{}
	opts := map[string]string{}
	for _, f := range fields {
		if isOption(f) {
			k, v, _ := strings.Cut(f, "=")
			opts[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
			continue
		}
		args = append(args, f)
	}
	return args, opts
}

func isOption(field string) bool {
	if !optionRe.MatchString(field) {
		return false
	}
	key, _, _ := strings.Cut(field, "=")
	if strings.Contains(key, " ") {
		return false
	}
	return !(len(field) >= 2 && strings.HasPrefix(field, `"`) && strings.HasSuffix(field, `"`))
}

// SplitFields splits a command line on unescaped '|'.
// `\|` yields a literal pipe and `\\` a literal backslash; other escapes pass through.
// Every field is whitespace-trimmed.
func SplitFields(line string) []string {
	var out []string
	var buf strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '\\' && i+1 < len(line) && (line[i+1] == '|' || line[i+1] == '\\') {
			buf.WriteByte(line[i+1])
			i++
			continue
		}
		if c == '|' {
			out = append(out, strings.TrimSpace(buf.String()))
			buf.Reset()
			continue
		}
		buf.WriteByte(c)
	}
	return append(out, strings.TrimSpace(buf.String()))
}

// unquoteJSON decodes a double-quoted JSON string; anything else is returned unchanged.
func unquoteJSON(s string) string {
	t := strings.TrimSpace(s)
	if len(t) < 2 || !strings.HasPrefix(t, `"`) || !strings.HasSuffix(t, `"`) {
		return s
	}
	var out string
	if err := json.Unmarshal([]byte(t), &out); err != nil {
		return s
	}
	return out
}

// NormalizeNewlines converts CRLF and lone CR line endings to LF.
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func suggest(name string) string {
	candidates := operatorNames()
	ranks := fuzzy.RankFindFold(name, candidates)
	if len(ranks) > 0 {
		sort.SliceStable(ranks, func(i, j int) bool { return ranks[i].Distance < ranks[j].Distance })
		return ranks[0].Target
	}

	best, bestDist := "", 4
	for _, c := range candidates {
		if d := fuzzy.LevenshteinDistance(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

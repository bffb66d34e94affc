package patch

import (
	"strings"
	"testing"
	"time"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// steppingClock advances by step on every read.
type steppingClock struct {
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

func TestBudget(t *testing.T) {
	re, f := compilePattern(`a`)
	if f != nil {
		t.Fatal(f)
	}

	t.Run("search is charged once", func(t *testing.T) {
		// deadline at 1.5s; the pre-search check reads 1s.
		b := newBudget(&steppingClock{step: time.Second}, 1500*time.Millisecond)
		matches, f := b.findAll(re, "aaaa", -1)
		if f != nil {
			t.Fatalf("findAll() failure = %v", f)
		}
		if len(matches) != 4 {
			t.Errorf("len(findAll()) = %d, want 4", len(matches))
		}
	})

	t.Run("substitutions are checked", func(t *testing.T) {
		b := newBudget(&steppingClock{step: time.Second}, 1500*time.Millisecond)
		tmpl, f := parseTemplate("b", re)
		if f != nil {
			t.Fatal(f)
		}
		out, n, f := b.replace(re, "aaaa", tmpl, -1)
		if f == nil || f.Kind != ErrRegexTimeout {
			t.Fatalf("replace() = %q, %d, %v, want %s", out, n, f, ErrRegexTimeout)
		}
		if out != "aaaa" || n != 0 {
			t.Errorf("replace() after timeout = %q, %d, want the input unchanged", out, n)
		}
	})

	t.Run("expired before the search", func(t *testing.T) {
		b := newBudget(&steppingClock{step: time.Second}, 500*time.Millisecond)
		if _, f := b.findAll(re, "aaaa", -1); f == nil || f.Kind != ErrRegexTimeout {
			t.Errorf("findAll() failure = %v, want %s", f, ErrRegexTimeout)
		}
	})
}

func TestTemplateExpand(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		repl    string
		text    string
		want    string
		wantErr bool
	}{
		{name: "literal", pattern: `b`, repl: `X`, text: "abc", want: "aXc"},
		{name: "numbered group", pattern: `(\w)=(\w)`, repl: `\2=\1`, text: "a=b", want: "b=a"},
		{name: "two digit group", pattern: `(a)(b)(c)(d)(e)(f)(g)(h)(i)(j)(k)`, repl: `\11`, text: "abcdefghijk", want: "k"},
		{name: "g syntax by number", pattern: `(x)`, repl: `\g<1>0`, text: "x", want: "x0"},
		{name: "g syntax by name", pattern: `(?P<word>\w+)`, repl: `<\g<word>>`, text: "hi", want: "<hi>"},
		{name: "dollar is literal", pattern: `(x)`, repl: `$1`, text: "x", want: "$1"},
		{name: "escapes", pattern: `;`, repl: `\n\t\\`, text: "a;b", want: "a\n\t\\b"},
		{name: "unknown escape passes through", pattern: `x`, repl: `\q`, text: "x", want: `\q`},
		{name: "unmatched group is empty", pattern: `(a)|(b)`, repl: `[\1\2]`, text: "b", want: "[b]"},
		{name: "bad group number", pattern: `x`, repl: `\1`, text: "x", wantErr: true},
		{name: "unknown name", pattern: `x`, repl: `\g<nope>`, text: "x", wantErr: true},
		{name: "malformed g", pattern: `x`, repl: `\g1`, text: "x", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			re, f := compilePattern(tt.pattern)
			if f != nil {
				t.Fatalf("compilePattern() = %v", f)
			}
			tmpl, f := parseTemplate(tt.repl, re)
			if (f != nil) != tt.wantErr {
				t.Fatalf("parseTemplate() failure = %v, wantErr %v", f, tt.wantErr)
			}
			if tt.wantErr {
				if f.Kind != ErrRegex {
					t.Errorf("Kind = %s, want %s", f.Kind, ErrRegex)
				}
				return
			}
			b := newBudget(fixedClock{}, time.Second)
			got, _, f := b.replace(re, tt.text, tmpl, -1)
			if f != nil {
				t.Fatalf("replace() = %v", f)
			}
			if got != tt.want {
				t.Errorf("replace() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompilePattern(t *testing.T) {
	t.Run("multi-line anchors", func(t *testing.T) {
		re, f := compilePattern("  ^b$  ")
		if f != nil {
			t.Fatal(f)
		}
		if !re.MatchString("a\nb\nc") {
			t.Error("expected ^b$ to match a middle line")
		}
	})

	t.Run("end of text", func(t *testing.T) {
		re, f := compilePattern(`c\Z`)
		if f != nil {
			t.Fatal(f)
		}
		if re.MatchString("c\nd") || !re.MatchString("d\nc") {
			t.Error(`\Z should anchor at end of text only`)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		_, f := compilePattern("a(")
		if f == nil || f.Kind != ErrRegex {
			t.Errorf("compilePattern() = %v, want %s", f, ErrRegex)
		}
	})
}

func TestReplaceBlock(t *testing.T) {
	b := newBudget(fixedClock{}, time.Second)
	tests := []struct {
		name string
		text string
		want string
	}{
		{"whole block", "BEGIN\nold\nEND\n", "NEW\n"},
		{"surrounded", "a\nBEGIN\nx\nEND\nb\n", "a\nNEW\nb\n"},
		{"end before begin is ignored", "END\nBEGIN\nx\n", "END\nBEGIN\nx\n"},
		{"first end after begin", "BEGIN\n1\nEND\n2\nEND\n", "NEW\n2\nEND\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, f := replaceBlock(b, tt.text, "^BEGIN$", "^END$", "NEW")
			if f != nil {
				t.Fatal(f)
			}
			if got != tt.want {
				t.Errorf("replaceBlock() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBudgetScanContext(t *testing.T) {
	b := newBudget(fixedClock{}, time.Second)
	re, _ := compilePattern("x")
	text := strings.Join([]string{"l1", "l2 x", "l3", "x l4"}, "\n")
	hits, f := b.scan(re, text, 10, 1)
	if f != nil {
		t.Fatal(f)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
	if hits[0].Line != 2 || hits[0].Col != 4 || hits[0].ContextBefore[0] != "l1" || hits[0].ContextAfter[0] != "l3" {
		t.Errorf("hit[0] = %+v", hits[0])
	}
	if hits[1].Line != 4 || hits[1].Col != 1 || len(hits[1].ContextAfter) != 0 {
		t.Errorf("hit[1] = %+v", hits[1])
	}
}

package script

import (
	"sort"
	"strconv"
	"strings"
)

// Kind is the closed set of operators a script may contain.
type Kind int

const (
	AssertFileExists Kind = iota + 1
	AssertFileNotExists
	AssertRegex
	AssertNotRegex
	AssertRegexCount
	ScanFile
	CreateFile
	WriteFile
	UpsertFile
	InsertBeforeRegex
	InsertAfterRegex
	ReplaceRegex
	ReplaceRegexFirst
	DeleteRegex
	ReplaceBlock
	DeleteFile
	MoveFile
	CopyFile
)

var kindNames = map[Kind]string{
	AssertFileExists:    "ASSERT_FILE_EXISTS",
	AssertFileNotExists: "ASSERT_FILE_NOT_EXISTS",
	AssertRegex:         "ASSERT_REGEX",
	AssertNotRegex:      "ASSERT_NOT_REGEX",
	AssertRegexCount:    "ASSERT_REGEX_COUNT",
	ScanFile:            "SCAN_FILE",
	CreateFile:          "CREATE_FILE",
	WriteFile:           "WRITE_FILE",
	UpsertFile:          "UPSERT_FILE",
	InsertBeforeRegex:   "INSERT_BEFORE_REGEX",
	InsertAfterRegex:    "INSERT_AFTER_REGEX",
	ReplaceRegex:        "REPLACE_REGEX",
	ReplaceRegexFirst:   "REPLACE_REGEX_FIRST",
	DeleteRegex:         "DELETE_REGEX",
	ReplaceBlock:        "REPLACE_BLOCK",
	DeleteFile:          "DELETE_FILE",
	MoveFile:            "MOVE_FILE",
	CopyFile:            "COPY_FILE",
}

// minArgs is the number of positional arguments each operator needs after the path.
var minArgs = map[Kind]int{
	AssertFileExists:    0,
	AssertFileNotExists: 0,
	AssertRegex:         1,
	AssertNotRegex:      1,
	AssertRegexCount:    2,
	ScanFile:            1,
	CreateFile:          0,
	WriteFile:           1,
	UpsertFile:          1,
	InsertBeforeRegex:   2,
	InsertAfterRegex:    2,
	ReplaceRegex:        2,
	ReplaceRegexFirst:   2,
	DeleteRegex:         1,
	ReplaceBlock:        3,
	DeleteFile:          0,
	MoveFile:            1,
	CopyFile:            1,
}

// aliases map alternative operator spellings onto canonical ones.
var aliases = map[string]string{
	"ASSERT_EXISTS":     "ASSERT_FILE_EXISTS",
	"ASSERT_NOT_EXISTS": "ASSERT_FILE_NOT_EXISTS",
	"ASSERT_MATCH":      "ASSERT_REGEX",
	"ASSERT_NOT_MATCH":  "ASSERT_NOT_REGEX",
	"ASSERT_COUNT":      "ASSERT_REGEX_COUNT",
	"SCAN":              "SCAN_FILE",
}

// patchRegex is rewritten into a concrete regex operator according to its MODE option.
const patchRegex = "PATCH_REGEX"

var kindsByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "UNKNOWN(" + strconv.Itoa(int(k)) + ")"
}

// IsMutation reports whether the operator changes file content or existence.
func (k Kind) IsMutation() bool {
	switch k {
	case AssertFileExists, AssertFileNotExists, AssertRegex, AssertNotRegex, AssertRegexCount, ScanFile:
		return false
	}
	return true
}

// payloadIndex returns the argument position that may carry a multi-line payload.
func (k Kind) payloadIndex() (int, bool) {
	switch k {
	case CreateFile, WriteFile, UpsertFile:
		return 0, true
	case ReplaceBlock:
		return 2, true
	}
	return 0, false
}

// KnownOperator reports whether name (any case) is a canonical operator, an alias, or PATCH_REGEX.
func KnownOperator(name string) bool {
	name = strings.ToUpper(name)
	if _, ok := kindsByName[name]; ok {
		return true
	}
	if _, ok := aliases[name]; ok {
		return true
	}
	return name == patchRegex
}

// operatorNames lists every spelling the parser accepts.
func operatorNames() []string {
	names := make([]string, 0, len(kindNames)+len(aliases)+1)
	for _, name := range kindNames {
		names = append(names, name)
	}
	for alias := range aliases {
		names = append(names, alias)
	}
	names = append(names, patchRegex)
	sort.Strings(names)
	return names
}

// Operation is one parsed command.
type Operation struct {
	Kind    Kind
	Path    string
	Args    []string
	Options map[string]string // keys upper-cased
	Line    int
	Raw     string
}

// Arg returns the i-th positional argument or "" if absent.
func (op Operation) Arg(i int) string {
	if i < 0 || i >= len(op.Args) {
		return ""
	}
	return op.Args[i]
}

// Option returns the raw value of an option, matching the key case-insensitively.
func (op Operation) Option(key string) (string, bool) {
	v, ok := op.Options[strings.ToUpper(key)]
	return v, ok
}

// Bool reports whether an option is set to a truthy value.
func (op Operation) Bool(key string) bool {
	v, ok := op.Option(key)
	if !ok {
		return false
	}
	return IsTruthy(v)
}

// Int returns an integer option, or def when it is absent or not a number.
func (op Operation) Int(key string, def int) int {
	v, ok := op.Option(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// IsTruthy reports whether v is one of 1, true, yes, y, on (case-insensitive).
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

package patch

import (
	"fmt"
	"strings"
)

// ErrorKind is the closed taxonomy of failures reported by a run.
type ErrorKind string

const (
	ErrParse                 ErrorKind = "PARSE_ERROR"
	ErrAssertFileExists      ErrorKind = "ASSERT_FILE_EXISTS_FAILED"
	ErrAssertFileNotExists   ErrorKind = "ASSERT_FILE_NOT_EXISTS_FAILED"
	ErrAssertRegex           ErrorKind = "ASSERT_REGEX_FAILED"
	ErrAssertNotRegex        ErrorKind = "ASSERT_NOT_REGEX_FAILED"
	ErrAssertRegexCount      ErrorKind = "ASSERT_REGEX_COUNT_FAILED"
	ErrFileNotFound          ErrorKind = "FILE_NOT_FOUND"
	ErrDirectoryNotSupported ErrorKind = "DIRECTORY_NOT_SUPPORTED"
	ErrDestinationIsDir      ErrorKind = "DESTINATION_IS_DIRECTORY"
	ErrDestinationExists     ErrorKind = "DESTINATION_EXISTS"
	ErrRegex                 ErrorKind = "REGEX_ERROR"
	ErrRegexTimeout          ErrorKind = "REGEX_TIMEOUT"
	ErrStrictNoop            ErrorKind = "STRICT_FAIL_EXPECTED_CHANGE"
	ErrPathNotAllowed        ErrorKind = "PATH_NOT_ALLOWED_OR_UNSAFE"
	ErrMaxFiles              ErrorKind = "MAX_FILES_EXCEEDED"
	ErrMaxBytes              ErrorKind = "MAX_BYTES_EXCEEDED"
	ErrScriptNotFound        ErrorKind = "SCRIPT_NOT_FOUND"
	ErrPipeline              ErrorKind = "PIPELINE_INVALID"
	ErrCommit                ErrorKind = "COMMIT_FAILED"
	ErrBackup                ErrorKind = "BACKUP_FAILED"
	ErrHistory               ErrorKind = "HISTORY_FAILED"
	ErrCancelled             ErrorKind = "CANCELLED"
)

// RunFatal reports whether an error of this kind stops the whole run regardless of policy.
func (k ErrorKind) RunFatal() bool {
	switch k {
	case ErrParse, ErrPipeline, ErrPathNotAllowed, ErrMaxFiles, ErrMaxBytes, ErrCommit, ErrBackup, ErrCancelled:
		return true
	}
	return false
}

// Failure is one entry in the report's error list.
type Failure struct {
	Kind    ErrorKind `json:"error"`
	Message string    `json:"message"`
	Step    string    `json:"step,omitempty"`
	Script  string    `json:"script,omitempty"`
	File    string    `json:"file,omitempty"`
	Line    int       `json:"line,omitempty"`
	Op      string    `json:"op,omitempty"`
	Raw     string    `json:"raw,omitempty"`
	Limit   int64     `json:"limit,omitempty"`
	Found   int64     `json:"found,omitempty"`
}

func (f *Failure) Error() string {
	var b strings.Builder
	b.WriteString(string(f.Kind))
	if f.File != "" {
		fmt.Fprintf(&b, " %s", f.File)
	}
	if f.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", f.Line)
	}
	if f.Message != "" {
		fmt.Fprintf(&b, ": %s", f.Message)
	}
	return b.String()
}

// NewFailure creates a Failure found outside the engine, such as a pipeline
// descriptor that could not be loaded.
func NewFailure(kind ErrorKind, format string, args ...any) *Failure {
	return failf(kind, format, args...)
}

func failf(kind ErrorKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

package patch

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"svpatch/internal/staging"
)

// Denier reports paths that scripts may never touch.
type Denier interface {
	Denied(path string) bool
}

var drivePrefix = regexp.MustCompile(`^[A-Za-z]:`)

// Validator gates every path an operation names. Paths must stay inside the
// root, fall under an allow prefix, and not match the deny list.
type Validator struct {
	root  string
	allow []string
	deny  Denier
}

// NewValidator creates a Validator. An empty allow list, or one containing
// "." or "", admits the whole root. deny may be nil.
func NewValidator(root string, allow []string, deny Denier) *Validator {
	var prefixes []string
	for _, a := range allow {
		p := RelNorm(a)
		if p == "" || p == "." {
			prefixes = nil
			break
		}
		prefixes = append(prefixes, p)
	}
	return &Validator{root: root, allow: prefixes, deny: deny}
}

// AllowPrefixes returns the effective allowlist, with "." meaning the whole root.
func (v *Validator) AllowPrefixes() []string {
	if len(v.allow) == 0 {
		return []string{"."}
	}
	return append([]string(nil), v.allow...)
}

// Normalize cleans raw into a root-relative slash path, or returns a
// PATH_NOT_ALLOWED_OR_UNSAFE failure.
func (v *Validator) Normalize(raw string) (string, *Failure) {
	rel := RelNorm(raw)
	if !v.safe(raw, rel) {
		return rel, failf(ErrPathNotAllowed, "path %q is unsafe or escapes the project root", raw)
	}
	if !v.allowed(rel) {
		return rel, failf(ErrPathNotAllowed, "path %q is outside the allowlist %v", rel, v.AllowPrefixes())
	}
	if v.deny != nil && v.deny.Denied(rel) {
		return rel, failf(ErrPathNotAllowed, "path %q is protected", rel)
	}
	return rel, nil
}

func (v *Validator) safe(raw, rel string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" || rel == "" || rel == "." {
		return false
	}
	if strings.HasPrefix(rel, "/") || filepath.IsAbs(raw) || drivePrefix.MatchString(raw) {
		return false
	}
	joined := filepath.Join(v.root, filepath.FromSlash(rel))
	r, err := filepath.Rel(v.root, joined)
	if err != nil {
		return false
	}
	return r != ".." && !strings.HasPrefix(r, ".."+string(filepath.Separator))
}

func (v *Validator) allowed(rel string) bool {
	if len(v.allow) == 0 {
		return true
	}
	for _, p := range v.allow {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}

// RelNorm converts backslashes to slashes and cleans the path lexically.
// Blank input yields "".
func RelNorm(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return path.Clean(strings.ReplaceAll(p, "\\", "/"))
}

// Limits caps the size of a run. A zero or negative value disables the cap.
type Limits struct {
	MaxFiles           int   `json:"max_files"`
	MaxTotalWriteBytes int64 `json:"max_total_write_bytes"`
}

// LimitsOutcome is what the limit check observed.
type LimitsOutcome struct {
	FilesChanged int   `json:"files_changed"`
	BytesTotal   int64 `json:"bytes_total"`
	OK           bool  `json:"ok"`
}

// CheckLimits evaluates the finalized run diff against the limits.
// Written bytes are the final content sizes of changed, non-deleted files.
func CheckLimits(changes []*staging.Change, limits Limits) (LimitsOutcome, []*Failure) {
	var out LimitsOutcome
	for _, c := range changes {
		if c.Action == staging.Unchanged {
			continue
		}
		out.FilesChanged++
		if !c.IsDeleted() {
			out.BytesTotal += c.BytesAfter
		}
	}

	var failures []*Failure
	if limits.MaxFiles > 0 && out.FilesChanged > limits.MaxFiles {
		f := failf(ErrMaxFiles, "files_changed %d exceeds max_files %d", out.FilesChanged, limits.MaxFiles)
		f.Limit, f.Found = int64(limits.MaxFiles), int64(out.FilesChanged)
		failures = append(failures, f)
	}
	if limits.MaxTotalWriteBytes > 0 && out.BytesTotal > limits.MaxTotalWriteBytes {
		f := failf(ErrMaxBytes, "total_write_bytes %d exceeds max_total_write_bytes %d", out.BytesTotal, limits.MaxTotalWriteBytes)
		f.Limit, f.Found = limits.MaxTotalWriteBytes, out.BytesTotal
		failures = append(failures, f)
	}
	out.OK = len(failures) == 0
	return out, failures
}

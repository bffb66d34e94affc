package history

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/text/unicode/norm"

	"svpatch/internal/patch"
	"svpatch/internal/pipeline"
)

const runStampLayout = "20060102T150405Z"

var runIDPattern = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})T\d{6}Z_[0-9a-f]{8}$`)

// NewRunID returns "YYYYMMDDTHHMMSSZ_<8 hex>" for t, taking the suffix from ids.
func NewRunID(t time.Time, ids patch.IDGenerator) string {
	suffix := ids.New()
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return t.UTC().Format(runStampLayout) + "_" + suffix
}

// ValidRunID reports whether id has the run id shape.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

// RunDir returns the run directory relative to the history dir:
// runs/YYYY/MM/DD/<run_id>.
func RunDir(runID string) (string, error) {
	m := runIDPattern.FindStringSubmatch(runID)
	if m == nil {
		return "", fmt.Errorf("malformed run id %q", runID)
	}
	return path.Join("runs", m[1], m[2], m[3], runID), nil
}

// ChangeID fingerprints the inputs that define a change: the same root,
// pipeline, strictness and allowlist always produce the same id. Strings are
// NFC-normalized and object keys sorted before hashing.
func ChangeID(root string, p pipeline.Pipeline, strict bool, allow []string) (string, error) {
	rawPipeline, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding pipeline: %w", err)
	}
	var pipelineTree any
	if err := json.Unmarshal(rawPipeline, &pipelineTree); err != nil {
		return "", fmt.Errorf("decoding pipeline: %w", err)
	}

	normAllow := make([]any, 0, len(allow))
	for _, a := range allow {
		normAllow = append(normAllow, patch.RelNorm(a))
	}
	seed := canonical(map[string]any{
		"root":     filepath.ToSlash(root),
		"pipeline": pipelineTree,
		"strict":   strict,
		"allow":    normAllow,
	})

	// encoding/json sorts map keys, which gives the canonical form.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(seed); err != nil {
		return "", fmt.Errorf("encoding change seed: %w", err)
	}
	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:])[:12], nil
}

// canonical NFC-normalizes every string in a decoded JSON tree.
func canonical(v any) any {
	switch x := v.(type) {
	case string:
		return norm.NFC.String(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = canonical(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[norm.NFC.String(k)] = canonical(e)
		}
		return out
	default:
		return v
	}
}

// ProjectID names a project in the vault: 16 hex chars of the sha256 of its
// NFC-normalized absolute root.
func ProjectID(root string) string {
	sum := sha256.Sum256([]byte(norm.NFC.String(filepath.ToSlash(root))))
	return hex.EncodeToString(sum[:])[:16]
}

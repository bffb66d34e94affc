package patch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"svpatch/internal/pipeline"
	"svpatch/internal/staging"
)

// Mode selects whether a run may touch disk.
type Mode string

const (
	ModePlan  Mode = "plan"
	ModeApply Mode = "apply"
)

// Status is the outcome of a run, a step, or a script.
type Status string

const (
	StatusOK         Status = "OK"
	StatusFailed     Status = "FAILED"
	StatusRunning    Status = "RUNNING"
	StatusRolledBack Status = "FAILED_ROLLED_BACK"
	StatusNoRollback Status = "FAILED_NO_ROLLBACK"
)

// OnScriptFailure decides whether a failed script stops the pipeline.
type OnScriptFailure string

const (
	FailureAbort    OnScriptFailure = "abort"
	FailureContinue OnScriptFailure = "continue"
)

// ParseOnScriptFailure validates a policy name. Empty selects abort.
func ParseOnScriptFailure(s string) (OnScriptFailure, error) {
	switch OnScriptFailure(s) {
	case "", FailureAbort:
		return FailureAbort, nil
	case FailureContinue:
		return FailureContinue, nil
	}
	return "", fmt.Errorf("unknown on_script_failure policy %q (want abort or continue)", s)
}

// OpRecord is the outcome of one command.
type OpRecord struct {
	Line    int    `json:"line"`
	Op      string `json:"op"`
	Changed bool   `json:"changed"`
	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
	Found   *int   `json:"found,omitempty"`
	Hits    *int   `json:"hits,omitempty"`
}

// FileRecord groups the commands of one script that named a file.
type FileRecord struct {
	File    string     `json:"file"`
	Changed bool       `json:"changed"`
	Ops     []OpRecord `json:"ops"`
}

// ScriptRecord is the outcome of one script.
type ScriptRecord struct {
	Script string        `json:"script"`
	Status Status        `json:"status"`
	Files  []*FileRecord `json:"files"`
	Errors []*Failure    `json:"errors"`

	files map[string]*FileRecord
}

func newScriptRecord(script string) *ScriptRecord {
	return &ScriptRecord{
		Script: script,
		Status: StatusOK,
		Files:  []*FileRecord{},
		Errors: []*Failure{},
		files:  make(map[string]*FileRecord),
	}
}

func (s *ScriptRecord) file(path string) *FileRecord {
	if fr, ok := s.files[path]; ok {
		return fr
	}
	fr := &FileRecord{File: path, Ops: []OpRecord{}}
	s.files[path] = fr
	s.Files = append(s.Files, fr)
	return fr
}

// StepRecord is the outcome of one pipeline step.
type StepRecord struct {
	Name    string          `json:"name"`
	Status  Status          `json:"status"`
	Scripts []*ScriptRecord `json:"scripts"`
}

// ChangeRecord is one entry of the finalized run diff.
type ChangeRecord struct {
	Path         string         `json:"path"`
	Action       staging.Action `json:"action"`
	IsNew        bool           `json:"is_new"`
	IsDeleted    bool           `json:"is_deleted"`
	BytesBefore  int64          `json:"bytes_before"`
	BytesAfter   int64          `json:"bytes_after"`
	SHA256Before string         `json:"sha256_before,omitempty"`
	SHA256After  string         `json:"sha256_after,omitempty"`
	Diff         string         `json:"diff"`
}

func newChangeRecord(c *staging.Change) ChangeRecord {
	return ChangeRecord{
		Path:         c.Path,
		Action:       c.Action,
		IsNew:        c.IsNew(),
		IsDeleted:    c.IsDeleted(),
		BytesBefore:  c.BytesBefore,
		BytesAfter:   c.BytesAfter,
		SHA256Before: c.SHA256Before,
		SHA256After:  c.SHA256After,
		Diff:         c.Diff,
	}
}

// ScanRecord holds the hits of one SCAN_FILE command.
type ScanRecord struct {
	File    string    `json:"file"`
	Line    int       `json:"line"`
	Regex   string    `json:"regex"`
	Max     int       `json:"max"`
	Context int       `json:"context"`
	Hits    []ScanHit `json:"hits"`
}

// RollbackRecord describes what rollback-on-fail did.
type RollbackRecord struct {
	Attempted     bool     `json:"attempted"`
	FilesRestored []string `json:"files_restored"`
	FilesRemoved  []string `json:"files_removed"`
	Errors        []string `json:"errors,omitempty"`
}

// Complete reports whether every journaled file was put back.
func (r RollbackRecord) Complete() bool {
	return r.Attempted && len(r.Errors) == 0
}

// ArtifactPaths locates the copies of the report and summary kept with a run.
type ArtifactPaths struct {
	ReportPath  string `json:"report_path"`
	SummaryPath string `json:"summary_path"`
}

// HistoryRecord is the lineage metadata of an apply run with backups.
type HistoryRecord struct {
	Enabled      bool           `json:"enabled"`
	RunID        string         `json:"run_id,omitempty"`
	ChangeID     string         `json:"change_id,omitempty"`
	ParentRunID  string         `json:"parent_run_id,omitempty"`
	RunPath      string         `json:"run_path,omitempty"`
	ManifestPath string         `json:"manifest_path,omitempty"`
	Status       Status         `json:"status,omitempty"`
	Artifacts    *ArtifactPaths `json:"artifacts,omitempty"`
}

// LimitsRecord is the configured limits plus what the check observed.
type LimitsRecord struct {
	Limits
	AllowlistPrefixes []string       `json:"allowlist_prefixes"`
	Outcome           *LimitsOutcome `json:"outcome,omitempty"`
}

// PipelineSnapshot is the normalized pipeline the run executed.
type PipelineSnapshot struct {
	Ref   string          `json:"ref"`
	Steps []pipeline.Step `json:"steps"`
}

// Report is the single record of what a run did.
type Report struct {
	Root            string           `json:"root"`
	Mode            Mode             `json:"mode"`
	PlanOnly        bool             `json:"plan_only"`
	Strict          bool             `json:"strict"`
	Backup          bool             `json:"backup"`
	RollbackOnFail  bool             `json:"rollback_on_fail"`
	OnScriptFailure OnScriptFailure  `json:"on_script_failure"`
	Limits          LimitsRecord     `json:"limits"`
	Pipeline        PipelineSnapshot `json:"pipeline"`
	Steps           []*StepRecord    `json:"steps"`
	Changes         []ChangeRecord   `json:"changes"`
	Committed       []string         `json:"committed"`
	Errors          []*Failure       `json:"errors"`
	Scans           []ScanRecord     `json:"scans"`
	Rollback        RollbackRecord   `json:"rollback"`
	History         HistoryRecord    `json:"history"`
	Status          Status           `json:"status"`
	SummaryPath     string           `json:"summary_path,omitempty"`
	DurationMS      int64            `json:"duration_ms"`
}

func newReport(req *Request, v *Validator) *Report {
	mode := ModeApply
	if req.PlanOnly {
		mode = ModePlan
	}
	return &Report{
		Root:            req.Root,
		Mode:            mode,
		PlanOnly:        req.PlanOnly,
		Strict:          req.Strict,
		Backup:          req.Backup,
		RollbackOnFail:  req.RollbackOnFail,
		OnScriptFailure: req.OnScriptFailure,
		Limits: LimitsRecord{
			Limits:            req.Limits,
			AllowlistPrefixes: v.AllowPrefixes(),
		},
		Pipeline:  PipelineSnapshot{Ref: req.PipelineRef, Steps: req.Pipeline.Steps},
		Steps:     []*StepRecord{},
		Changes:   []ChangeRecord{},
		Committed: []string{},
		Errors:    []*Failure{},
		Scans:     []ScanRecord{},
		Rollback:  RollbackRecord{FilesRestored: []string{}, FilesRemoved: []string{}},
		Status:    StatusRunning,
	}
}

// Failed reports whether the run recorded any error.
func (r *Report) Failed() bool {
	return len(r.Errors) > 0
}

// RunFatal reports whether any recorded error is run-fatal.
func (r *Report) RunFatal() bool {
	for _, e := range r.Errors {
		if e.Kind.RunFatal() {
			return true
		}
	}
	return false
}

// PartiallyApplied reports whether the tree may hold a mix of old and new content.
func (r *Report) PartiallyApplied() bool {
	return r.Mode == ModeApply && r.Failed() && len(r.Committed) > 0 && !r.Rollback.Complete()
}

// HistoryStatus derives the lineage status of the run.
func (r *Report) HistoryStatus() Status {
	switch {
	case !r.Failed():
		return StatusOK
	case r.Rollback.Complete():
		return StatusRolledBack
	default:
		return StatusNoRollback
	}
}

// WriteJSONFile writes v as two-space indented JSON, replacing path atomically.
func WriteJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'))
}

// WriteFileAtomic writes data to a temp sibling and renames it onto path.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming onto %s: %w", path, err)
	}
	return nil
}

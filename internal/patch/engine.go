package patch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"svpatch/internal/pipeline"
	"svpatch/internal/script"
	"svpatch/internal/staging"
)

// Request is one invocation of the engine.
type Request struct {
	Root            string // absolute project root
	Pipeline        pipeline.Pipeline
	PipelineRef     string
	PlanOnly        bool
	Strict          bool
	Backup          bool
	RollbackOnFail  bool
	Allow           []string
	Limits          Limits
	OnScriptFailure OnScriptFailure
	RegexTimeout    time.Duration
	ReportPath      string // report is not written when empty

	// Preflight holds failures found before the engine ran. When it is
	// non-empty no script runs, but the report is still written.
	Preflight []*Failure
}

// AreaFactory creates the staging overlay for a run.
type AreaFactory func(disk staging.Disk) (*staging.Area, error)

// Engine runs pipelines against a project tree.
type Engine struct {
	disk    Filesystem
	newArea AreaFactory
	history History
	deny    Denier
	logger  Logger
	clock   Clock
}

// NewEngine creates an Engine with the provided dependencies. history and
// deny may be nil; newArea nil selects an in-memory overlay.
func NewEngine(disk Filesystem, newArea AreaFactory, history History, deny Denier, logger Logger, clock Clock) *Engine {
	if newArea == nil {
		newArea = func(d staging.Disk) (*staging.Area, error) { return staging.NewArea(d), nil }
	}
	return &Engine{
		disk:    disk,
		newArea: newArea,
		history: history,
		deny:    deny,
		logger:  logger,
		clock:   clock,
	}
}

// Run executes the pipeline, commits in apply mode when nothing failed, and
// writes the report. The returned report is complete even when the run
// failed; a non-nil error means the report itself could not be produced or written.
func (e *Engine) Run(ctx context.Context, req Request) (*Report, error) {
	start := e.clock.Now()
	if req.OnScriptFailure == "" {
		req.OnScriptFailure = FailureAbort
	}
	validator := NewValidator(req.Root, req.Allow, e.deny)
	rep := newReport(&req, validator)
	rep.Errors = append(rep.Errors, req.Preflight...)

	area, err := e.newArea(e.disk)
	if err != nil {
		return nil, fmt.Errorf("creating staging area: %w", err)
	}
	defer area.Close()

	x := &execution{
		req:       &req,
		area:      area,
		validator: validator,
		clock:     e.clock,
		logger:    e.logger,
		timeout:   req.RegexTimeout,
		rep:       rep,
	}

	e.logger.Info("run started", "mode", string(rep.Mode), "root", req.Root, "pipeline", req.PipelineRef)

	var journal Journal
	if !req.PlanOnly && req.Backup && e.history != nil && !rep.Failed() {
		j, err := e.history.Begin(ctx, RunInfo{
			Root:           req.Root,
			PipelineRef:    req.PipelineRef,
			Pipeline:       req.Pipeline,
			Strict:         req.Strict,
			Backup:         req.Backup,
			RollbackOnFail: req.RollbackOnFail,
			Limits:         req.Limits,
			Allow:          validator.AllowPrefixes(),
			StartedAt:      start,
		})
		if err != nil {
			rep.Errors = append(rep.Errors, failf(ErrHistory, "starting run history: %v", err))
		} else {
			journal = j
			rep.History = j.Meta()
		}
	}

	if !rep.Failed() {
		e.runPipeline(x)
	}

	changes, err := area.Finalize()
	if err != nil {
		rep.Errors = append(rep.Errors, failf(ErrCommit, "finalizing staged changes: %v", err))
	}
	changed := staging.Changed(changes)
	for _, c := range changed {
		rep.Changes = append(rep.Changes, newChangeRecord(c))
	}

	outcome, limitFailures := CheckLimits(changed, req.Limits)
	rep.Limits.Outcome = &outcome
	rep.Errors = append(rep.Errors, limitFailures...)

	if !req.PlanOnly && !rep.Failed() {
		e.commit(ctx, rep, journal, changed)
	}

	rep.Status = finalStatus(rep)
	rep.DurationMS = e.clock.Now().Sub(start).Milliseconds()
	if req.ReportPath != "" {
		rep.SummaryPath = filepath.Join(filepath.Dir(req.ReportPath), SummaryFileName)
	}

	if journal != nil {
		if err := journal.Finish(ctx, rep, RenderSummary(rep)); err != nil {
			rep.Errors = append(rep.Errors, failf(ErrHistory, "recording run history: %v", err))
			rep.Status = finalStatus(rep)
		}
	}

	e.logger.Info("run finished",
		"status", string(rep.Status),
		"changes", len(rep.Changes),
		"errors", len(rep.Errors),
		"duration_ms", rep.DurationMS,
	)

	if req.ReportPath != "" {
		if err := WriteJSONFile(req.ReportPath, rep); err != nil {
			return rep, fmt.Errorf("writing report: %w", err)
		}
		if err := WriteFileAtomic(rep.SummaryPath, []byte(RenderSummary(rep))); err != nil {
			return rep, fmt.Errorf("writing summary: %w", err)
		}
	}
	return rep, nil
}

// runPipeline executes steps, scripts and commands in declared order.
func (e *Engine) runPipeline(x *execution) {
	for _, step := range x.req.Pipeline.Steps {
		sr := &StepRecord{Name: step.Name, Status: StatusOK, Scripts: []*ScriptRecord{}}
		x.rep.Steps = append(x.rep.Steps, sr)

		halt := false
		for _, ref := range step.Scripts {
			rec := newScriptRecord(ref)
			sr.Scripts = append(sr.Scripts, rec)

			f := e.runScript(x, step.Name, ref, rec)
			if f == nil {
				continue
			}
			rec.Status = StatusFailed
			sr.Status = StatusFailed
			e.logger.Warn("script failed", "step", step.Name, "script", ref, "error", string(f.Kind), "line", f.Line)
			if f.Kind.RunFatal() || x.req.OnScriptFailure == FailureAbort {
				halt = true
				break
			}
		}
		if halt {
			return
		}
	}
}

// runScript loads, parses and executes one script.
func (e *Engine) runScript(x *execution, step, ref string, rec *ScriptRecord) *Failure {
	oc := &opContext{step: step, script: ref, rec: rec}

	src, err := e.loadScript(x.req.Root, ref)
	if err != nil {
		f := failf(ErrScriptNotFound, "%v", err)
		f.Step, f.Script = step, ref
		rec.Errors = append(rec.Errors, f)
		x.rep.Errors = append(x.rep.Errors, f)
		return f
	}

	ops, err := script.Parse(string(src))
	if err != nil {
		f := failf(ErrParse, "%v", err)
		f.Step, f.Script = step, ref
		var pe *script.ParseError
		if errors.As(err, &pe) {
			f.Line, f.Raw, f.Message = pe.Line, pe.Raw, pe.Msg
		}
		rec.Errors = append(rec.Errors, f)
		x.rep.Errors = append(x.rep.Errors, f)
		return f
	}

	e.logger.Debug("script parsed", "script", ref, "ops", len(ops))
	return x.runOps(oc, ops)
}

// loadScript reads a script. Relative paths are read from the project tree,
// absolute paths from the host filesystem.
func (e *Engine) loadScript(root, ref string) ([]byte, error) {
	if filepath.IsAbs(ref) {
		data, err := os.ReadFile(ref)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("script %s not found", ref)
		}
		return data, err
	}
	rel := RelNorm(ref)
	kind, err := e.disk.Kind(rel)
	if err != nil {
		return nil, err
	}
	if kind != staging.Regular {
		return nil, fmt.Errorf("script %s not found under %s", rel, root)
	}
	return e.disk.ReadFile(rel)
}

// commit backs up pre-images, writes the diff and rolls back on failure when asked.
func (e *Engine) commit(ctx context.Context, rep *Report, journal Journal, changed []*staging.Change) {
	c := &committer{disk: e.disk, journal: journal, logger: e.logger}

	var backups map[string]string
	if rep.Backup {
		var f *Failure
		backups, f = c.backupAll(changed)
		if f != nil {
			rep.Errors = append(rep.Errors, f)
			return
		}
	}

	f := c.commit(ctx, changed, backups)
	rep.Committed = c.committedPaths()
	if f == nil {
		e.logger.Info("changes committed", "files", len(rep.Committed))
		return
	}
	rep.Errors = append(rep.Errors, f)
	e.logger.Error("commit failed", "file", f.File, "error", f.Message, "committed", len(rep.Committed))

	if rep.RollbackOnFail && len(c.entries) > 0 {
		rep.Rollback = c.rollback()
	}
}

// finalStatus derives the run status from errors, commits and rollback.
func finalStatus(rep *Report) Status {
	switch {
	case !rep.Failed():
		return StatusOK
	case len(rep.Committed) == 0:
		return StatusFailed
	case rep.Rollback.Complete():
		return StatusRolledBack
	default:
		return StatusNoRollback
	}
}

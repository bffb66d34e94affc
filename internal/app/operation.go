package app

import (
	"fmt"
	"path/filepath"
	"time"

	"svpatch/internal/config"
	"svpatch/internal/patch"
	"svpatch/internal/pipeline"
)

// RunOptions carries the flags of one plan or apply invocation. Nil pointers
// and empty values mean the flag was not given and the config default applies.
type RunOptions struct {
	PipelinePath       string
	ReportPath         string
	PlanOnly           bool
	Strict             *bool
	Backup             *bool
	RollbackOnFail     *bool
	Allow              []string
	MaxFiles           *int
	MaxTotalWriteBytes *int64
	OnScriptFailure    string
	RegexTimeout       time.Duration
}

// request merges the options over the config defaults.
func (o RunOptions) request(cfg *config.Config, root string, p *pipeline.Pipeline) (patch.Request, error) {
	d := cfg.Defaults
	req := patch.Request{
		Root:           root,
		Pipeline:       *p,
		PipelineRef:    o.PipelinePath,
		PlanOnly:       o.PlanOnly,
		Strict:         pick(o.Strict, d.Strict),
		Backup:         pick(o.Backup, d.Backup),
		RollbackOnFail: pick(o.RollbackOnFail, d.RollbackOnFail),
		Allow:          d.Allow,
		Limits: patch.Limits{
			MaxFiles:           pick(o.MaxFiles, d.MaxFiles),
			MaxTotalWriteBytes: pick(o.MaxTotalWriteBytes, d.MaxTotalWriteBytes),
		},
	}
	if len(o.Allow) > 0 {
		req.Allow = o.Allow
	}

	policy := d.OnScriptFailure
	if o.OnScriptFailure != "" {
		policy = o.OnScriptFailure
	}
	onFailure, err := patch.ParseOnScriptFailure(policy)
	if err != nil {
		return patch.Request{}, err
	}
	req.OnScriptFailure = onFailure

	req.RegexTimeout = o.RegexTimeout
	if req.RegexTimeout == 0 {
		if req.RegexTimeout, err = cfg.RegexTimeoutDuration(); err != nil {
			return patch.Request{}, err
		}
	}
	if req.RegexTimeout < 0 {
		return patch.Request{}, fmt.Errorf("regex timeout must be positive, got %s", req.RegexTimeout)
	}

	if o.ReportPath != "" {
		abs, err := filepath.Abs(o.ReportPath)
		if err != nil {
			return patch.Request{}, fmt.Errorf("resolving report path: %w", err)
		}
		req.ReportPath = abs
	}
	return req, nil
}

func pick[T any](flag *T, fallback T) T {
	if flag != nil {
		return *flag
	}
	return fallback
}

package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"svpatch/internal/config"
	"svpatch/internal/patch"
	"svpatch/internal/pipeline"
)

func ptr[T any](v T) *T { return &v }

func TestRunOptions_request(t *testing.T) {
	cfg := config.NewConfig("/base")
	cfg.Defaults.Strict = true
	cfg.Defaults.Backup = true
	cfg.Defaults.Allow = []string{"src"}
	p := &pipeline.Pipeline{Steps: []pipeline.Step{{Name: "s", Scripts: []string{"a.sv"}}}}

	t.Run("config defaults apply when no flag is given", func(t *testing.T) {
		got, err := RunOptions{PipelinePath: "p.json"}.request(cfg, "/project", p)
		if err != nil {
			t.Fatalf("request() error = %v", err)
		}
		want := patch.Request{
			Root:            "/project",
			Pipeline:        *p,
			PipelineRef:     "p.json",
			Strict:          true,
			Backup:          true,
			Allow:           []string{"src"},
			Limits:          patch.Limits{MaxFiles: config.DefaultMaxFiles, MaxTotalWriteBytes: config.DefaultMaxTotalWriteBytes},
			OnScriptFailure: patch.FailureAbort,
			RegexTimeout:    10 * time.Second,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("request() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("flags override config", func(t *testing.T) {
		opts := RunOptions{
			PipelinePath:       "p.json",
			ReportPath:         "out/report.json",
			PlanOnly:           true,
			Strict:             ptr(false),
			Backup:             ptr(false),
			RollbackOnFail:     ptr(true),
			Allow:              []string{"docs"},
			MaxFiles:           ptr(0),
			MaxTotalWriteBytes: ptr(int64(64)),
			OnScriptFailure:    "continue",
			RegexTimeout:       time.Second,
		}
		got, err := opts.request(cfg, "/project", p)
		if err != nil {
			t.Fatalf("request() error = %v", err)
		}
		wantReport, _ := filepath.Abs("out/report.json")
		want := patch.Request{
			Root:            "/project",
			Pipeline:        *p,
			PipelineRef:     "p.json",
			PlanOnly:        true,
			RollbackOnFail:  true,
			Allow:           []string{"docs"},
			Limits:          patch.Limits{MaxFiles: 0, MaxTotalWriteBytes: 64},
			OnScriptFailure: patch.FailureContinue,
			RegexTimeout:    time.Second,
			ReportPath:      wantReport,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("request() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("rejects unknown failure policy", func(t *testing.T) {
		if _, err := (RunOptions{OnScriptFailure: "retry"}).request(cfg, "/project", p); err == nil {
			t.Error("request() accepted an unknown policy")
		}
	})

	t.Run("rejects negative regex timeout", func(t *testing.T) {
		if _, err := (RunOptions{RegexTimeout: -time.Second}).request(cfg, "/project", p); err == nil {
			t.Error("request() accepted a negative timeout")
		}
	})
}

package app

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"svpatch/internal/config"
	"svpatch/internal/patch"
)

type appFixture struct {
	app    *SVPatchApp
	root   string
	report string
}

func newAppFixture(t *testing.T, files map[string]string) *appFixture {
	t.Helper()
	root := t.TempDir()
	for p, c := range files {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(c), 0o644))
	}

	a, err := NewSVPatchApp(config.NewConfig(t.TempDir()), root, false)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	return &appFixture{app: a, root: root, report: filepath.Join(t.TempDir(), "out", "report.json")}
}

func (f *appFixture) readReport(t *testing.T) *patch.Report {
	t.Helper()
	data, err := os.ReadFile(f.report)
	require.NoError(t, err, "report was not written")
	var rep patch.Report
	require.NoError(t, json.Unmarshal(data, &rep))
	return &rep
}

func errorKinds(rep *patch.Report) []patch.ErrorKind {
	kinds := make([]patch.ErrorKind, 0, len(rep.Errors))
	for _, e := range rep.Errors {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

const testPipeline = `{"steps": [{"name": "fix", "scripts": ["fix.sv"]}]}`

func TestSVPatchApp_Run(t *testing.T) {
	t.Run("pipeline resolves against the root", func(t *testing.T) {
		f := newAppFixture(t, map[string]string{
			"pipeline.json": testPipeline,
			"fix.sv":        "WRITE_FILE | a.txt | two",
			"a.txt":         "one\n",
		})

		rep, err := f.app.Run(context.Background(), RunOptions{PipelinePath: "pipeline.json", ReportPath: f.report})
		require.NoError(t, err)
		require.Equal(t, patch.StatusOK, rep.Status, "errors: %v", rep.Errors)

		data, err := os.ReadFile(filepath.Join(f.root, "a.txt"))
		require.NoError(t, err)
		if string(data) != "two" {
			t.Errorf("a.txt = %q, want %q", data, "two")
		}
		if got := f.readReport(t); got.Status != patch.StatusOK {
			t.Errorf("written report Status = %s", got.Status)
		}
	})

	t.Run("missing pipeline still writes a report", func(t *testing.T) {
		f := newAppFixture(t, map[string]string{"a.txt": "one\n"})

		rep, err := f.app.Run(context.Background(), RunOptions{PipelinePath: "missing.json", ReportPath: f.report})
		require.NoError(t, err)
		if rep.Status != patch.StatusFailed {
			t.Errorf("Status = %s, want %s", rep.Status, patch.StatusFailed)
		}

		written := f.readReport(t)
		if kinds := errorKinds(written); len(kinds) != 1 || kinds[0] != patch.ErrPipeline {
			t.Errorf("report errors = %v, want [%s]", kinds, patch.ErrPipeline)
		}
		if _, err := os.Stat(filepath.Join(filepath.Dir(f.report), patch.SummaryFileName)); err != nil {
			t.Errorf("summary not written: %v", err)
		}
	})

	t.Run("history that cannot be opened still writes a report", func(t *testing.T) {
		f := newAppFixture(t, map[string]string{
			"pipeline.json": testPipeline,
			"fix.sv":        "WRITE_FILE | a.txt | two",
			"a.txt":         "one\n",
			"data":          "a regular file where the history dir should be",
		})

		backup := true
		rep, err := f.app.Run(context.Background(), RunOptions{
			PipelinePath: "pipeline.json",
			ReportPath:   f.report,
			Backup:       &backup,
		})
		require.NoError(t, err)
		if rep.Status != patch.StatusFailed {
			t.Errorf("Status = %s, want %s", rep.Status, patch.StatusFailed)
		}

		written := f.readReport(t)
		if kinds := errorKinds(written); len(kinds) != 1 || kinds[0] != patch.ErrHistory {
			t.Errorf("report errors = %v, want [%s]", kinds, patch.ErrHistory)
		}
		data, err := os.ReadFile(filepath.Join(f.root, "a.txt"))
		require.NoError(t, err)
		if string(data) != "one\n" {
			t.Errorf("a.txt = %q, run without history must not commit", data)
		}
	})
}

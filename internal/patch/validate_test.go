package patch_test

import (
	"testing"

	"svpatch/internal/patch"
	"svpatch/internal/staging"
)

type denyList []string

func (d denyList) Denied(p string) bool {
	for _, x := range d {
		if p == x {
			return true
		}
	}
	return false
}

func TestValidator_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		allow   []string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "plain", raw: "a/b.txt", want: "a/b.txt"},
		{name: "dot prefix", raw: "./a.txt", want: "a.txt"},
		{name: "backslashes", raw: `a\b.txt`, want: "a/b.txt"},
		{name: "inner dotdot stays inside", raw: "a/../b.txt", want: "b.txt"},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "root itself", raw: ".", wantErr: true},
		{name: "escape", raw: "../x", wantErr: true},
		{name: "nested escape", raw: "a/../../x", wantErr: true},
		{name: "absolute", raw: "/etc/hosts", wantErr: true},
		{name: "drive", raw: `C:\x`, wantErr: true},
		{name: "allowed prefix", allow: []string{"src"}, raw: "src/a.go", want: "src/a.go"},
		{name: "allowed exact", allow: []string{"src/a.go"}, raw: "src/a.go", want: "src/a.go"},
		{name: "prefix is not string prefix", allow: []string{"src"}, raw: "srcx/a.go", wantErr: true},
		{name: "dot allows all", allow: []string{"src", "."}, raw: "docs/a", want: "docs/a"},
		{name: "denied", raw: "secret.key", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := patch.NewValidator("/project", tt.allow, denyList{"secret.key"})
			got, f := v.Normalize(tt.raw)
			if (f != nil) != tt.wantErr {
				t.Fatalf("Normalize(%q) failure = %v, wantErr %v", tt.raw, f, tt.wantErr)
			}
			if f != nil {
				if f.Kind != patch.ErrPathNotAllowed {
					t.Errorf("Kind = %s, want %s", f.Kind, patch.ErrPathNotAllowed)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestCheckLimits(t *testing.T) {
	changes := []*staging.Change{
		{Path: "a", Action: staging.Added, BytesAfter: 10},
		{Path: "b", Action: staging.Modified, BytesAfter: 5},
		{Path: "c", Action: staging.Deleted, BytesBefore: 100},
		{Path: "d", Action: staging.Unchanged, BytesAfter: 1000},
	}

	t.Run("within limits", func(t *testing.T) {
		out, failures := patch.CheckLimits(changes, patch.Limits{MaxFiles: 3, MaxTotalWriteBytes: 15})
		if len(failures) != 0 {
			t.Fatalf("unexpected failures: %v", failures)
		}
		if out.FilesChanged != 3 || out.BytesTotal != 15 || !out.OK {
			t.Errorf("outcome = %+v", out)
		}
	})

	t.Run("zero disables", func(t *testing.T) {
		_, failures := patch.CheckLimits(changes, patch.Limits{})
		if len(failures) != 0 {
			t.Errorf("unexpected failures: %v", failures)
		}
	})

	t.Run("both exceeded", func(t *testing.T) {
		_, failures := patch.CheckLimits(changes, patch.Limits{MaxFiles: 2, MaxTotalWriteBytes: 14})
		if len(failures) != 2 || failures[0].Kind != patch.ErrMaxFiles || failures[1].Kind != patch.ErrMaxBytes {
			t.Fatalf("failures = %v", failures)
		}
		if failures[1].Limit != 14 || failures[1].Found != 15 {
			t.Errorf("limit/found = %d/%d", failures[1].Limit, failures[1].Found)
		}
	})
}

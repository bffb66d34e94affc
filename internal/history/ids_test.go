package history_test

import (
	"testing"
	"time"

	"svpatch/internal/history"
	"svpatch/internal/pipeline"
	"svpatch/internal/testutil"
)

func TestNewRunID(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 5, 0, time.FixedZone("CET", 3600))
	got := history.NewRunID(at, testutil.NewStubIDGenerator())
	if want := "20240115T093005Z_00000001"; got != want {
		t.Errorf("NewRunID() = %q, want %q", got, want)
	}
	if !history.ValidRunID(got) {
		t.Errorf("ValidRunID(%q) = false", got)
	}
}

func TestValidRunID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"20240115T093005Z_0a1b2c3d", true},
		{"20240115T093005Z_0A1B2C3D", false},
		{"20240115T093005_0a1b2c3d", false},
		{"20240115T093005Z_0a1b2c", false},
		{"../../etc/passwd", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := history.ValidRunID(tt.id); got != tt.want {
				t.Errorf("ValidRunID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestRunDir(t *testing.T) {
	got, err := history.RunDir("20240115T093005Z_0a1b2c3d")
	if err != nil {
		t.Fatalf("RunDir() error = %v", err)
	}
	if want := "runs/2024/01/15/20240115T093005Z_0a1b2c3d"; got != want {
		t.Errorf("RunDir() = %q, want %q", got, want)
	}
	if _, err := history.RunDir("bogus"); err == nil {
		t.Error("RunDir() accepted a malformed id")
	}
}

func TestChangeID(t *testing.T) {
	p := pipeline.Pipeline{Steps: []pipeline.Step{{Name: "step-1", Scripts: []string{"a.sv"}}}}

	base, err := history.ChangeID("/project", p, false, []string{"src"})
	if err != nil {
		t.Fatalf("ChangeID() error = %v", err)
	}
	if len(base) != 12 {
		t.Errorf("len(ChangeID()) = %d, want 12", len(base))
	}

	t.Run("stable for identical inputs", func(t *testing.T) {
		again, _ := history.ChangeID("/project", p, false, []string{"src"})
		if again != base {
			t.Errorf("ChangeID() = %q, want %q", again, base)
		}
	})

	t.Run("allow prefixes are normalized", func(t *testing.T) {
		again, _ := history.ChangeID("/project", p, false, []string{"./src/"})
		if again != base {
			t.Errorf("ChangeID() = %q, want %q", again, base)
		}
	})

	t.Run("unicode forms collapse", func(t *testing.T) {
		nfc, _ := history.ChangeID("/caf\u00e9", p, false, nil)
		nfd, _ := history.ChangeID("/cafe\u0301", p, false, nil)
		if nfc != nfd {
			t.Errorf("NFC id %q != NFD id %q", nfc, nfd)
		}
	})

	changes := []struct {
		name   string
		root   string
		p      pipeline.Pipeline
		strict bool
		allow  []string
	}{
		{"root", "/other", p, false, []string{"src"}},
		{"strict", "/project", p, true, []string{"src"}},
		{"allow", "/project", p, false, []string{"docs"}},
		{"pipeline", "/project", pipeline.Pipeline{Steps: []pipeline.Step{{Name: "step-1", Scripts: []string{"b.sv"}}}}, false, []string{"src"}},
	}
	for _, tt := range changes {
		t.Run("differs by "+tt.name, func(t *testing.T) {
			got, err := history.ChangeID(tt.root, tt.p, tt.strict, tt.allow)
			if err != nil {
				t.Fatalf("ChangeID() error = %v", err)
			}
			if got == base {
				t.Errorf("ChangeID() = %q, same as base", got)
			}
		})
	}
}

func TestProjectID(t *testing.T) {
	a := history.ProjectID("/project")
	if len(a) != 16 {
		t.Errorf("len(ProjectID()) = %d, want 16", len(a))
	}
	if b := history.ProjectID("/project"); a != b {
		t.Errorf("ProjectID() not stable: %q vs %q", a, b)
	}
	if c := history.ProjectID("/other"); a == c {
		t.Error("ProjectID() collides for different roots")
	}
}

package staging

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"svpatch/internal/config"
)

// mockDisk is a minimal read-only tree for staging tests.
type mockDisk struct {
	files map[string]string
	dirs  map[string]bool
}

func newMockDisk(files map[string]string) *mockDisk {
	d := &mockDisk{files: make(map[string]string), dirs: make(map[string]bool)}
	for p, c := range files {
		d.files[p] = c
	}
	return d
}

func (d *mockDisk) Kind(path string) (EntryKind, error) {
	if _, ok := d.files[path]; ok {
		return Regular, nil
	}
	if d.dirs[path] {
		return Directory, nil
	}
	return Missing, nil
}

func (d *mockDisk) ReadFile(path string) ([]byte, error) {
	c, ok := d.files[path]
	if !ok {
		return nil, fmt.Errorf("not found: %s", path)
	}
	return []byte(c), nil
}

func newTestAreas(t *testing.T, disk Disk) map[string]*Area {
	t.Helper()
	fsArea, err := NewAreaFromConfig(config.StagingConfig{Type: "filesystem", StagingDir: t.TempDir()}, disk)
	if err != nil {
		t.Fatalf("NewAreaFromConfig() error = %v", err)
	}
	t.Cleanup(func() { fsArea.Close() })
	return map[string]*Area{
		"memory":     NewArea(disk),
		"filesystem": fsArea,
	}
}

func TestArea_ReadWriteDelete(t *testing.T) {
	disk := newMockDisk(map[string]string{"a.txt": "one\r\ntwo\r\n"})
	disk.dirs["src"] = true

	for name, area := range newTestAreas(t, disk) {
		t.Run(name, func(t *testing.T) {
			got, ok, err := area.Read("a.txt")
			if err != nil || !ok {
				t.Fatalf("Read() = %q, %v, %v", got, ok, err)
			}
			if got != "one\ntwo\n" {
				t.Errorf("Read() = %q, want newlines normalized", got)
			}

			changed, err := area.Write("a.txt", "one\ntwo\n")
			if err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if changed {
				t.Error("Write() of identical content reported a change")
			}

			changed, _ = area.Write("a.txt", "three\n")
			if !changed {
				t.Error("Write() of new content reported no change")
			}
			if got, _, _ := area.Read("a.txt"); got != "three\n" {
				t.Errorf("Read() after Write() = %q", got)
			}

			existed, err := area.Delete("a.txt")
			if err != nil || !existed {
				t.Fatalf("Delete() = %v, %v", existed, err)
			}
			if ok, _ := area.Exists("a.txt"); ok {
				t.Error("deleted file still exists")
			}
			if existed, _ := area.Delete("a.txt"); existed {
				t.Error("second Delete() reported the file existed")
			}

			if _, err := area.Write("a.txt", "back\n"); err != nil {
				t.Fatalf("Write() after Delete() error = %v", err)
			}
			if ok, _ := area.Exists("a.txt"); !ok {
				t.Error("Write() did not clear the delete marker")
			}

			if _, _, err := area.Read("src"); err == nil {
				t.Error("Read() of a directory succeeded")
			}
			if isDir, _ := area.IsDir("src"); !isDir {
				t.Error("IsDir(src) = false")
			}

			if got := area.StagedBytes(); got != int64(len("back\n")) {
				t.Errorf("StagedBytes() = %d", got)
			}
			if orig, ok := area.Original("a.txt"); !ok || string(orig) != "one\r\ntwo\r\n" {
				t.Errorf("Original() = %q, %v, want raw pre-image", orig, ok)
			}
		})
	}
}

func TestArea_Finalize(t *testing.T) {
	disk := newMockDisk(map[string]string{
		"mod.txt":   "a\nb\n",
		"del.txt":   "gone\n",
		"same.txt":  "keep\n",
		"empty.txt": "",
	})
	area := NewArea(disk)
	defer area.Close()

	mustWrite := func(p, c string) {
		t.Helper()
		if _, err := area.Write(p, c); err != nil {
			t.Fatalf("Write(%s) error = %v", p, err)
		}
	}
	mustWrite("mod.txt", "a\nc\n")
	mustWrite("new.txt", "fresh")
	mustWrite("same.txt", "changed\n")
	mustWrite("same.txt", "keep\n")
	mustWrite("empty.txt", "")
	mustWrite("tmp.txt", "x")
	if _, err := area.Delete("tmp.txt"); err != nil {
		t.Fatal(err)
	}
	if _, err := area.Delete("del.txt"); err != nil {
		t.Fatal(err)
	}

	all, err := area.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	got := map[string]Action{}
	var order []string
	for _, c := range all {
		got[c.Path] = c.Action
		order = append(order, c.Path)
	}
	want := map[string]Action{
		"del.txt":   Deleted,
		"empty.txt": Unchanged,
		"mod.txt":   Modified,
		"new.txt":   Added,
		"same.txt":  Unchanged,
		"tmp.txt":   Unchanged,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Finalize() actions (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"del.txt", "empty.txt", "mod.txt", "new.txt", "same.txt", "tmp.txt"}, order); diff != "" {
		t.Errorf("Finalize() order (-want +got):\n%s", diff)
	}

	changed := Changed(all)
	if len(changed) != 3 {
		t.Fatalf("Changed() = %d entries, want 3", len(changed))
	}
	byPath := map[string]*Change{}
	for _, c := range changed {
		byPath[c.Path] = c
	}

	t.Run("added file", func(t *testing.T) {
		c := byPath["new.txt"]
		if !c.IsNew() || c.Original != nil || c.SHA256Before != "" {
			t.Errorf("added change = %+v", c)
		}
		if c.BytesAfter != 5 || c.SHA256After != SHA256Text("fresh") {
			t.Errorf("BytesAfter = %d, SHA256After = %s", c.BytesAfter, c.SHA256After)
		}
		if !strings.Contains(c.Diff, "+fresh\n") {
			t.Errorf("Diff = %q", c.Diff)
		}
	})

	t.Run("deleted file", func(t *testing.T) {
		c := byPath["del.txt"]
		if !c.IsDeleted() || c.BytesAfter != 0 || c.SHA256After != "" || c.BytesBefore != 5 {
			t.Errorf("deleted change = %+v", c)
		}
		if !strings.Contains(c.Diff, "-gone\n") {
			t.Errorf("Diff = %q", c.Diff)
		}
	})

	t.Run("modified file", func(t *testing.T) {
		want := "--- mod.txt\n+++ mod.txt\n@@ -1,2 +1,2 @@\n a\n-b\n+c\n"
		if diff := cmp.Diff(want, byPath["mod.txt"].Diff); diff != "" {
			t.Errorf("Diff mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestVerifyUnchanged(t *testing.T) {
	disk := newMockDisk(map[string]string{"a.txt": "one\n", "empty.txt": ""})
	area := NewArea(disk)
	area.Write("a.txt", "two\n")
	area.Write("empty.txt", "now full\n")
	area.Write("b.txt", "new\n")
	changes, err := area.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	byPath := map[string]*Change{}
	for _, c := range changes {
		byPath[c.Path] = c
	}

	for p, c := range byPath {
		if err := VerifyUnchanged(disk, c); err != nil {
			t.Errorf("VerifyUnchanged(%s) on untouched disk = %v", p, err)
		}
	}

	disk.files["a.txt"] = "edited\n"
	if err := VerifyUnchanged(disk, byPath["a.txt"]); err == nil {
		t.Error("VerifyUnchanged() missed a content change")
	}
	disk.files["b.txt"] = "raced\n"
	if err := VerifyUnchanged(disk, byPath["b.txt"]); err == nil {
		t.Error("VerifyUnchanged() missed a file created after staging")
	}
	delete(disk.files, "empty.txt")
	if err := VerifyUnchanged(disk, byPath["empty.txt"]); err == nil {
		t.Error("VerifyUnchanged() missed a removed file")
	}
}

func TestUnifiedDiff_MissingTrailingNewline(t *testing.T) {
	got, err := UnifiedDiff("x", "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	want := "--- x\n+++ x\n@@ -1 +1 @@\n-a\n+b\n"
	if got != want {
		t.Errorf("UnifiedDiff() = %q, want %q", got, want)
	}
}

func TestFilesystemStore(t *testing.T) {
	dir := t.TempDir()
	s, err := newFilesystemStore(dir)
	if err != nil {
		t.Fatalf("newFilesystemStore() error = %v", err)
	}

	if err := s.Put("a/b.txt", "hello"); err != nil {
		t.Fatal(err)
	}
	if err := s.Put("a/b.txt", "hi"); err != nil {
		t.Fatal(err)
	}
	if got, ok, err := s.Get("a/b.txt"); err != nil || !ok || got != "hi" {
		t.Errorf("Get() = %q, %v, %v", got, ok, err)
	}
	if s.Size() != 2 {
		t.Errorf("Size() = %d, want 2", s.Size())
	}
	if _, ok, _ := s.Get("missing"); ok {
		t.Error("Get() found content never staged")
	}
	if err := s.Remove("a/b.txt"); err != nil {
		t.Fatal(err)
	}
	if s.Size() != 0 {
		t.Errorf("Size() after Remove() = %d", s.Size())
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Close() left %d entries in the staging dir", len(entries))
	}
}

func TestNewAreaFromConfig_Errors(t *testing.T) {
	disk := newMockDisk(nil)
	if _, err := NewAreaFromConfig(config.StagingConfig{Type: "filesystem", StagingDir: ""}, disk); err == nil {
		t.Error("filesystem store without a dir was accepted")
	}
	if _, err := NewAreaFromConfig(config.StagingConfig{Type: "tape", StagingDir: ""}, disk); err == nil {
		t.Error("unknown store type was accepted")
	}
}

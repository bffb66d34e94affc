package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// EntryKind describes what a path refers to on disk.
type EntryKind int

const (
	Missing EntryKind = iota
	Regular
	Directory
)

// Disk is the read side of the project tree the overlay sits on.
// Paths are slash-separated and relative to the project root.
type Disk interface {
	Kind(path string) (EntryKind, error)
	ReadFile(path string) ([]byte, error)
}

// ErrIsDirectory is returned when a file operation targets a directory.
var ErrIsDirectory = errors.New("path is a directory")

// Action classifies a touched path after finalization.
type Action string

const (
	Unchanged Action = ""
	Added     Action = "ADD"
	Modified  Action = "MOD"
	Deleted   Action = "DEL"
)

// Change is the finalized state of one touched path.
type Change struct {
	Path         string
	Action       Action
	Original     []byte // raw pre-image bytes, nil when the file did not exist
	Content      string // final staged content (LF newlines)
	BytesBefore  int64
	BytesAfter   int64
	SHA256Before string
	SHA256After  string
	Diff         string
}

// IsNew reports whether the change creates a file.
func (c *Change) IsNew() bool { return c.Action == Added }

// IsDeleted reports whether the change removes a file.
func (c *Change) IsDeleted() bool { return c.Action == Deleted }

type entry struct {
	origExists bool
	origRaw    []byte
	origText   string
	staged     bool
	deleted    bool
}

// Area is a read/write overlay over a Disk. Nothing is written to disk by an Area.
// An Area belongs to a single invocation and is not safe for concurrent use.
type Area struct {
	disk    Disk
	store   contentStore
	entries map[string]*entry
}

// NewArea creates an overlay that keeps staged content in memory.
func NewArea(disk Disk) *Area {
	return newArea(disk, newMemoryStore())
}

func newArea(disk Disk, store contentStore) *Area {
	return &Area{disk: disk, store: store, entries: make(map[string]*entry)}
}

// Close releases the content store.
func (a *Area) Close() error {
	return a.store.Close()
}

// load captures the on-disk pre-image of path the first time it is touched.
func (a *Area) load(path string) (*entry, error) {
	if e, ok := a.entries[path]; ok {
		return e, nil
	}
	kind, err := a.disk.Kind(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	e := &entry{}
	switch kind {
	case Directory:
		return nil, fmt.Errorf("%s: %w", path, ErrIsDirectory)
	case Regular:
		raw, err := a.disk.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if raw == nil {
			raw = []byte{}
		}
		e.origExists = true
		e.origRaw = raw
		e.origText = NormalizeNewlines(string(raw))
	}
	a.entries[path] = e
	return e, nil
}

// IsDir reports whether path is a directory on disk. Directories are never staged.
func (a *Area) IsDir(path string) (bool, error) {
	if e, ok := a.entries[path]; ok && (e.staged || e.deleted || e.origExists) {
		return false, nil
	}
	kind, err := a.disk.Kind(path)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return kind == Directory, nil
}

// Read returns the content visible at path: staged, then disk, unless logically deleted.
func (a *Area) Read(path string) (string, bool, error) {
	e, err := a.load(path)
	if err != nil {
		return "", false, err
	}
	return a.current(path, e)
}

func (a *Area) current(path string, e *entry) (string, bool, error) {
	if e.deleted {
		return "", false, nil
	}
	if e.staged {
		c, ok, err := a.store.Get(path)
		if err != nil {
			return "", false, err
		}
		return c, ok, nil
	}
	if e.origExists {
		return e.origText, true, nil
	}
	return "", false, nil
}

// Exists reports whether a file is visible at path. Directories report false.
func (a *Area) Exists(path string) (bool, error) {
	isDir, err := a.IsDir(path)
	if err != nil || isDir {
		return false, err
	}
	_, ok, err := a.Read(path)
	return ok, err
}

// Write stages content at path and clears any delete marker.
// It reports whether the visible content changed.
func (a *Area) Write(path, content string) (bool, error) {
	e, err := a.load(path)
	if err != nil {
		return false, err
	}
	prev, existed, err := a.current(path, e)
	if err != nil {
		return false, err
	}
	if err := a.store.Put(path, content); err != nil {
		return false, err
	}
	e.staged = true
	e.deleted = false
	return !existed || prev != content, nil
}

// Delete marks path as logically deleted and drops any staged write.
// It reports whether a file was visible at path before the call.
func (a *Area) Delete(path string) (bool, error) {
	e, err := a.load(path)
	if err != nil {
		return false, err
	}
	_, existed, err := a.current(path, e)
	if err != nil {
		return false, err
	}
	if err := a.store.Remove(path); err != nil {
		return false, err
	}
	e.staged = false
	e.deleted = true
	return existed, nil
}

// Original returns the raw pre-image captured for path.
func (a *Area) Original(path string) ([]byte, bool) {
	e, ok := a.entries[path]
	if !ok || !e.origExists {
		return nil, false
	}
	return e.origRaw, true
}

// Touched returns every path the overlay has loaded, sorted.
func (a *Area) Touched() []string {
	paths := make([]string, 0, len(a.entries))
	for p := range a.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// StagedBytes returns the number of bytes held by the content store.
func (a *Area) StagedBytes() int64 {
	return a.store.Size()
}

// Finalize compares the final view of every touched path with its pre-image.
// The result is sorted by path and includes unchanged entries.
func (a *Area) Finalize() ([]*Change, error) {
	var changes []*Change
	for _, path := range a.Touched() {
		e := a.entries[path]
		final, exists, err := a.current(path, e)
		if err != nil {
			return nil, err
		}

		c := &Change{Path: path, Content: final}
		if e.origExists {
			c.Original = e.origRaw
			c.BytesBefore = int64(len(e.origText))
			c.SHA256Before = SHA256Text(e.origText)
		}
		if exists {
			c.BytesAfter = int64(len(final))
			c.SHA256After = SHA256Text(final)
		}

		switch {
		case !e.origExists && exists:
			c.Action = Added
		case e.origExists && !exists:
			c.Action = Deleted
		case e.origExists && exists && final != e.origText:
			c.Action = Modified
		default:
			c.Action = Unchanged
		}

		if c.Action != Unchanged {
			before := ""
			if e.origExists {
				before = e.origText
			}
			diff, err := UnifiedDiff(path, before, final)
			if err != nil {
				return nil, fmt.Errorf("diffing %s: %w", path, err)
			}
			c.Diff = diff
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// Changed filters finalized entries down to the ones that alter the tree.
func Changed(changes []*Change) []*Change {
	var out []*Change
	for _, c := range changes {
		if c.Action != Unchanged {
			out = append(out, c)
		}
	}
	return out
}

// NormalizeNewlines converts CRLF and lone CR line endings to LF.
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// SHA256Text returns the hex sha256 of text.
func SHA256Text(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

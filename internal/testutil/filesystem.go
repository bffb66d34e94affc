package testutil

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"svpatch/internal/patch"
	"svpatch/internal/staging"
)

// MemDisk is an in-memory project tree for testing. Paths are slash-separated
// and relative to the root. Directories are implied by the files below them
// and can also be added explicitly.
type MemDisk struct {
	mu        sync.Mutex
	files     map[string][]byte
	dirs      map[string]bool
	failWrite map[string]error
	writes    []string
}

// NewMemDisk creates an empty in-memory disk.
func NewMemDisk() *MemDisk {
	return &MemDisk{
		files:     make(map[string][]byte),
		dirs:      make(map[string]bool),
		failWrite: make(map[string]error),
	}
}

// AddFile adds a file with the given content.
func (m *MemDisk) AddFile(p string, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[p] = []byte(content)
}

// AddDirectory adds an empty directory.
func (m *MemDisk) AddDirectory(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[p] = true
}

// FailWrite makes every later write or remove of p fail with err.
func (m *MemDisk) FailWrite(p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite[p] = err
}

// Content returns the content of a file and whether it exists.
func (m *MemDisk) Content(p string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[p]
	return string(b), ok
}

// Files returns every file path, sorted.
func (m *MemDisk) Files() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Writes returns every path written or removed, in order.
func (m *MemDisk) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}

func (m *MemDisk) isDir(p string) bool {
	if m.dirs[p] {
		return true
	}
	prefix := p + "/"
	for f := range m.files {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	return false
}

func (m *MemDisk) Kind(p string) (staging.EntryKind, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; ok {
		return staging.Regular, nil
	}
	if m.isDir(p) {
		return staging.Directory, nil
	}
	return staging.Missing, nil
}

func (m *MemDisk) ReadFile(p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", p)
	}
	return append([]byte(nil), b...), nil
}

func (m *MemDisk) WriteFile(p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failWrite[p]; err != nil {
		return err
	}
	if m.isDir(p) {
		return fmt.Errorf("is a directory: %s", p)
	}
	for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
		m.dirs[dir] = true
	}
	m.files[p] = append([]byte(nil), data...)
	m.writes = append(m.writes, p)
	return nil
}

func (m *MemDisk) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failWrite[p]; err != nil {
		return err
	}
	delete(m.files, p)
	m.writes = append(m.writes, p)
	return nil
}

// Compile-time check
var _ patch.Filesystem = (*MemDisk)(nil)

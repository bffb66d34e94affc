package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// filesystemStore spills staged content to disk so large pipelines do not
// have to hold every rewritten file in memory.
//
// Directory structure:
//
//	<staging_dir>/
//	  svpatch-stage-*/        (one per invocation, removed on Close)
//	    <sha256(path)>        (staged content)
type filesystemStore struct {
	dir   string
	sizes map[string]int64
	size  int64
}

func newFilesystemStore(stagingDir string) (*filesystemStore, error) {
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	dir, err := os.MkdirTemp(stagingDir, "svpatch-stage-*")
	if err != nil {
		return nil, fmt.Errorf("creating staging workspace: %w", err)
	}
	return &filesystemStore{dir: dir, sizes: make(map[string]int64)}, nil
}

func (s *filesystemStore) blobPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:]))
}

func (s *filesystemStore) Put(path string, content string) error {
	if err := os.WriteFile(s.blobPath(path), []byte(content), 0600); err != nil {
		return fmt.Errorf("staging %s: %w", path, err)
	}
	s.size += int64(len(content)) - s.sizes[path]
	s.sizes[path] = int64(len(content))
	return nil
}

func (s *filesystemStore) Get(path string) (string, bool, error) {
	if _, ok := s.sizes[path]; !ok {
		return "", false, nil
	}
	data, err := os.ReadFile(s.blobPath(path))
	if err != nil {
		return "", false, fmt.Errorf("reading staged %s: %w", path, err)
	}
	return string(data), true, nil
}

func (s *filesystemStore) Remove(path string) error {
	n, ok := s.sizes[path]
	if !ok {
		return nil
	}
	if err := os.Remove(s.blobPath(path)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing staged %s: %w", path, err)
	}
	s.size -= n
	delete(s.sizes, path)
	return nil
}

func (s *filesystemStore) Size() int64 { return s.size }

func (s *filesystemStore) Close() error {
	return os.RemoveAll(s.dir)
}

var _ contentStore = (*filesystemStore)(nil)

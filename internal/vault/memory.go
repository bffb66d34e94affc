package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"svpatch/internal/patch"
)

type memoryItem struct {
	data    []byte
	version int64
}

// MemoryVault keeps archived pre-images and run metadata in memory.
// Safe for concurrent use.
type MemoryVault struct {
	name     string
	mu       sync.RWMutex
	content  map[string][]byte      // checksum -> pre-image
	metadata map[string]*memoryItem // "projectID/name" -> item
}

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:     name,
		content:  make(map[string][]byte),
		metadata: make(map[string]*memoryItem),
	}
}

func (m *MemoryVault) PutContent(checksum string, r io.Reader, size int64) error {
	data, err := readSized(r, size)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content[checksum] = data
	return nil
}

func (m *MemoryVault) GetContent(checksum string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.content[checksum]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("content not found: %s", checksum)
	}
	_, err := io.Copy(w, bytes.NewReader(data))
	return err
}

// HasContent reports whether checksum has been stored.
func (m *MemoryVault) HasContent(checksum string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.content[checksum]
	return ok
}

func (m *MemoryVault) PutMetadata(projectID, name string, r io.Reader, size int64, version int64) error {
	data, err := readSized(r, size)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[projectID+"/"+name] = &memoryItem{data: data, version: version}
	return nil
}

func (m *MemoryVault) GetMetadata(projectID, name string, w io.Writer) error {
	m.mu.RLock()
	item, ok := m.metadata[projectID+"/"+name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("metadata %q not found for project %s", name, projectID)
	}
	_, err := io.Copy(w, bytes.NewReader(item.data))
	return err
}

// GetMetadataVersion returns 0 for items never stored.
func (m *MemoryVault) GetMetadataVersion(projectID, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if item, ok := m.metadata[projectID+"/"+name]; ok {
		return item.version, nil
	}
	return 0, nil
}

func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// readSized reads r fully and checks it produced exactly size bytes.
func readSized(r io.Reader, size int64) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read data: %w", err)
	}
	if int64(len(data)) != size {
		return nil, fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}
	return data, nil
}

var _ patch.Vault = (*MemoryVault)(nil)

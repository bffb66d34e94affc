package staging

// contentStore abstracts where staged file content lives until commit.
// Implementations are owned by a single Area and need not be safe for concurrent use.
type contentStore interface {
	// Put stores content for path, replacing any previous value.
	Put(path string, content string) error

	// Get returns the staged content for path.
	Get(path string) (content string, ok bool, err error)

	// Remove drops the staged content for path (no-op when absent).
	Remove(path string) error

	// Size returns the total bytes currently staged.
	Size() int64

	// Close releases any resources held by the store.
	Close() error
}

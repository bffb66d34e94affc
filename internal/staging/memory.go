package staging

// memoryStore keeps staged content in a map. It is the default store.
type memoryStore struct {
	content map[string]string
	size    int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{content: make(map[string]string)}
}

func (s *memoryStore) Put(path string, content string) error {
	if old, ok := s.content[path]; ok {
		s.size -= int64(len(old))
	}
	s.content[path] = content
	s.size += int64(len(content))
	return nil
}

func (s *memoryStore) Get(path string) (string, bool, error) {
	c, ok := s.content[path]
	return c, ok, nil
}

func (s *memoryStore) Remove(path string) error {
	if old, ok := s.content[path]; ok {
		s.size -= int64(len(old))
		delete(s.content, path)
	}
	return nil
}

func (s *memoryStore) Size() int64 { return s.size }

func (s *memoryStore) Close() error { return nil }

var _ contentStore = (*memoryStore)(nil)

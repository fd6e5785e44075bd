package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is the key-value persistence backend behind the ledger.
// Implementations are synchronous and best-effort.
type Store interface {
	// Get returns the value for key, or nil when the key is absent.
	Get(key string) ([]byte, error)

	// Set replaces the value for key.
	Set(key string, value []byte) error

	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore keeps values in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value.
func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// FileStore persists all keys as one JSON object of string values,
// the same shape a browser's local storage would hold.
type FileStore struct {
	FilePath string

	mu sync.Mutex
}

// NewFileStore creates a file-backed store. The file is created on first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{FilePath: path}
}

func (s *FileStore) read() (map[string]string, error) {
	values := make(map[string]string)
	if s.FilePath == "" {
		return values, nil
	}

	data, err := os.ReadFile(s.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil // File doesn't exist yet, that's OK
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.FilePath, err)
	}
	return values, nil
}

// Get reads key from the file.
func (s *FileStore) Get(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		return nil, err
	}
	v, ok := values[key]
	if !ok {
		return nil, nil
	}
	return []byte(v), nil
}

// Set rewrites the file with key replaced. The write goes through a
// temporary file so a crash never leaves a truncated store behind.
func (s *FileStore) Set(key string, value []byte) error {
	if s.FilePath == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.read()
	if err != nil {
		// A corrupt file is replaced rather than blocking every write.
		values = make(map[string]string)
	}
	values[key] = string(value)

	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	dir := filepath.Dir(s.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	tmp := s.FilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, s.FilePath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

// Close is a no-op for JSON files.
func (s *FileStore) Close() error {
	return nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)

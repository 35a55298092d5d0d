package identity

import (
	"encoding/json"
	"errors"
	"github.com/labstack/gommon/log"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps a JSON object of key/value pairs in one file
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	data[key] = value

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err = os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// load reads the file, a missing or unreadable document is treated as empty
func (s *FileStore) load() (map[string]string, error) {
	data := make(map[string]string)
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal(b, &data); err != nil {
		log.Warnf("ignoring corrupt store %s: %v", s.path, err)
		return make(map[string]string), nil
	}
	return data, nil
}

// MapStore is an in-memory Store
type MapStore map[string]string

func (m MapStore) Get(key string) (string, bool, error) {
	v, ok := m[key]
	return v, ok, nil
}

func (m MapStore) Set(key, value string) error {
	m[key] = value
	return nil
}

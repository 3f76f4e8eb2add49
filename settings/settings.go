// Package settings persists small string key-value pairs across restarts:
// the active provider id, custom endpoint details, and per-provider API keys.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Keys used by the rest of the program.
const (
	KeyProviderID    = "provider_id"
	KeyCustomBaseURL = "custom_base_url"
	KeyCustomAPIKey  = "custom_api_key"
	KeyCustomModel   = "custom_model"
)

// ProviderKeyName returns the settings key holding the remembered API key
// for a specific provider id.
func ProviderKeyName(providerID string) string {
	return "api_key_" + providerID
}

type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// FileStore keeps all settings in a single YAML file, rewritten on every Set.
type FileStore struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

func Open(path string) (*FileStore, error) {
	s := &FileStore{path: path, values: map[string]string{}}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	if s.values == nil {
		s.values = map[string]string{}
	}
	return s, nil
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.flush()
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flush()
}

// flush writes through a temp file so a crash mid-write cannot truncate
// the settings. Caller holds the lock.
func (s *FileStore) flush() error {
	data, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}

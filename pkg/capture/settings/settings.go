// Package settings is a file-backed implementation of capture.Settings.
//
// Values live in a single JSON document rewritten atomically on every Set,
// so tuned thresholds and runtime flags survive process restarts and an
// interrupted write never corrupts the store.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/quietharbor/aegis/pkg/capture"
)

// Store is a durable JSON key-value store.
type Store struct {
	path string

	mu     sync.Mutex
	values map[string]any
}

var _ capture.Settings = (*Store)(nil)

// Open loads the store at path, creating an empty one when the file does
// not exist.
func Open(path string) (*Store, error) {
	s := &Store{path: path, values: make(map[string]any)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: open: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	return s, nil
}

// GetString returns the string value for key.
func (s *Store) GetString(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key].(string)
	return v, ok
}

// GetFloat returns the numeric value for key.
func (s *Store) GetFloat(key string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key].(float64)
	return v, ok
}

// GetBool returns the boolean value for key.
func (s *Store) GetBool(key string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key].(bool)
	return v, ok
}

// Set stores value under key and persists the store. Only strings,
// numbers, and booleans are accepted.
func (s *Store) Set(key string, value any) error {
	switch v := value.(type) {
	case string, bool, float64:
	case int:
		value = float64(v)
	default:
		return fmt.Errorf("settings: unsupported value type %T", value)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return s.save()
}

// save writes the document atomically. Must be called with s.mu held.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: encode: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("settings: save: %w", err)
	}
	return nil
}

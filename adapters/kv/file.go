package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/satriahrh/arunika/companion/domain/repositories"
)

// FileStore persists settings in a single YAML or TOML file, chosen by the
// file extension. Every write rewrites the whole file.
type FileStore struct {
	path string
	toml bool

	mu     sync.Mutex
	values map[string]string
}

// NewFileStore loads path if it exists. A missing file starts empty.
func NewFileStore(path string) (*FileStore, error) {
	ext := strings.ToLower(filepath.Ext(path))
	s := &FileStore{
		path:   path,
		toml:   ext == ".toml",
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	if err := s.unmarshal(data); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", repositories.ErrNotFound
	}
	return v, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.values[key]; ok && old == value {
		return nil
	}
	s.values[key] = value
	return s.flushLocked()
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.flushLocked()
}

func (s *FileStore) unmarshal(data []byte) error {
	if s.toml {
		return toml.Unmarshal(data, &s.values)
	}
	return yaml.Unmarshal(data, &s.values)
}

// flushLocked writes to a temp file and renames it over the original.
func (s *FileStore) flushLocked() error {
	var (
		data []byte
		err  error
	)
	if s.toml {
		data, err = toml.Marshal(s.values)
	} else {
		data, err = yaml.Marshal(s.values)
	}
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating settings dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing settings: %w", err)
	}
	return nil
}

// Package prefs persists the user's language choice in a small TOML file.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/BurntSushi/toml"

	"speecher/language"
)

const fileName = "prefs.toml"

type file struct {
	SelectedLanguageCode string `toml:"selectedLanguageCode"`
}

// Store is safe for concurrent use. Every Set writes through to disk.
type Store struct {
	path string

	mu   sync.Mutex
	data file
}

// Dir returns the per-user speecher directory holding preferences, the
// recording file and downloaded models.
func Dir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		cfg, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		base = cfg
	}
	return filepath.Join(base, "speecher"), nil
}

func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// Open loads path if it exists. A missing file is not an error; the store
// starts empty and the first Set creates it.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := toml.DecodeFile(path, &s.data); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

// Language returns the saved code, or language.Default when nothing valid is
// stored.
func (s *Store) Language() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if language.Valid(s.data.SelectedLanguageCode) {
		return s.data.SelectedLanguageCode
	}
	return language.Default
}

func (s *Store) SetLanguage(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.data
	next.SelectedLanguageCode = code
	if err := s.write(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

// write replaces the file atomically so a crash never leaves half a file.
func (s *Store) write(data file) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create prefs directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".prefs-*.toml")
	if err != nil {
		return fmt.Errorf("failed to write prefs: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := toml.NewEncoder(tmp).Encode(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode prefs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write prefs: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace prefs: %w", err)
	}
	return nil
}

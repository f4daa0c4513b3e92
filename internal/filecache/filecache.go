// Package filecache manages the per-stage scratch directory that holds
// downloads and rendered PDFs between fetch and upload.
package filecache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns one cache directory.
type Manager struct {
	dir string
}

// New builds a Manager for dir.
func New(dir string) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("file cache path is required")
	}
	return &Manager{dir: filepath.Clean(dir)}, nil
}

// Path returns the cache directory.
func (m *Manager) Path() string {
	return m.dir
}

// Join returns the path of name inside the cache directory.
func (m *Manager) Join(name string) string {
	return filepath.Join(m.dir, filepath.Base(name))
}

// Create makes the directory if it does not exist.
func (m *Manager) Create() error {
	if err := os.MkdirAll(m.dir, 0o750); err != nil {
		return fmt.Errorf("create file cache: %w", err)
	}
	return nil
}

// Clear removes everything in the directory and leaves it empty.
func (m *Manager) Clear() error {
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("clear file cache: %w", err)
	}
	return m.Create()
}

package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrInvalidLease is returned when cached or vendor-supplied data is not a usable lease.
var ErrInvalidLease = errors.New("invalid proxy lease")

// Cache persists the most recent lease as JSON so consecutive runs can reuse it.
type Cache struct {
	path string
}

// NewCache builds a Cache for path.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Path returns the cache file location.
func (c *Cache) Path() string {
	return c.path
}

// Load reads the cached lease. A missing file yields os.ErrNotExist.
func (c *Cache) Load() (Lease, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return Lease{}, fmt.Errorf("read proxy cache: %w", err)
	}
	var lease Lease
	if err := json.Unmarshal(data, &lease); err != nil {
		return Lease{}, fmt.Errorf("decode proxy cache: %w", err)
	}
	if !lease.Valid() {
		return Lease{}, fmt.Errorf("%w: %s", ErrInvalidLease, c.path)
	}
	return lease, nil
}

// Save validates and writes the lease, creating parent directories.
func (c *Cache) Save(lease Lease) error {
	if !lease.Valid() {
		return fmt.Errorf("%w: %+v", ErrInvalidLease, lease)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return fmt.Errorf("create proxy cache dir: %w", err)
	}
	data, err := json.Marshal(lease)
	if err != nil {
		return fmt.Errorf("encode proxy cache: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("write proxy cache: %w", err)
	}
	return nil
}

// Seed loads the cached lease into a State, returning an empty State when the
// cache is missing or unusable.
func (c *Cache) Seed() State {
	lease, err := c.Load()
	if err != nil {
		return State{}
	}
	return NewState(lease)
}

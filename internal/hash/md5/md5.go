// Package md5 provides the artifact checksum recorded in the task table.
package md5

import (
	"crypto/md5" // #nosec G501 -- checksum column is md5 by contract, not used for security
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Hasher implements crawler.FileHasher using MD5.
type Hasher struct{}

// New returns an MD5 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := md5.Sum(data) // #nosec G401
	return hex.EncodeToString(sum[:]), nil
}

// HashFile streams the file at path through MD5.
func (h *Hasher) HashFile(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the stage's own cache dir
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()     //nolint:errcheck // read-only
	digest := md5.New() // #nosec G401
	if _, err := io.Copy(digest, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/regcrawl/internal/crawler"
)

// FileSink writes the latest status block of each target to
// {dir}/{precinct_code}.txt, replacing the previous one.
type FileSink struct {
	dir string
}

// NewFileSink returns a FileSink rooted at dir.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Record writes the status file. Targets without a code are skipped.
func (s *FileSink) Record(_ context.Context, o crawler.Outcome) error {
	if s.dir == "" || o.Code == "" {
		return nil
	}
	data, err := json.Marshal(StatusFromOutcome(o))
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	path := filepath.Join(s.dir, filepath.Base(o.Code)+".txt")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	return nil
}

// Package uuid provides ID generation helpers.
package uuid

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string. It satisfies crawler.IDGenerator when no
// snowflake endpoint is configured.
func (Generator) NewID(_ context.Context) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewHex returns a random UUIDv4 rendered as 32 hex characters without
// dashes. Cached downloads and uploaded objects are named with it.
func (Generator) NewHex() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

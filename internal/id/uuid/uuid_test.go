// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"context"
	"regexp"
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID(context.Background())
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID(context.Background())
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
}

// TestGeneratorNewHex checks the dashless form used for file names.
func TestGeneratorNewHex(t *testing.T) {
	t.Parallel()

	gen := New()
	hexPattern := regexp.MustCompile(`^[0-9a-f]{32}$`)
	a, b := gen.NewHex(), gen.NewHex()
	if !hexPattern.MatchString(a) {
		t.Fatalf("unexpected hex id %q", a)
	}
	if a == b {
		t.Fatalf("expected unique names, got %s twice", a)
	}
	if _, err := goUUID.Parse(a); err != nil {
		t.Fatalf("hex id should still parse as uuid: %v", err)
	}
}

package crawler

import (
	"context"
	"time"
)

// BlobStore uploads finished artifacts to durable object storage.
type BlobStore interface {
	// PutFile uploads the file at localPath under object and returns the
	// durable path recorded in the task table.
	PutFile(ctx context.Context, object string, localPath string, contentType string) (string, error)
	// ObjectName recovers the object name from a durable path produced by this
	// store, so re-processed rows overwrite their previous artifact.
	ObjectName(durablePath string) (string, bool)
}

// PDFRenderer turns an HTML document into a PDF file on disk.
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string, dst string) error
}

// FileHasher computes the checksum recorded for uploaded artifacts.
type FileHasher interface {
	HashFile(path string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces text identifiers for new rows.
type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
)

const publicHost = "https://storage.googleapis.com/"

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Folder string
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	folder string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	folder := strings.Trim(cfg.Folder, "/")
	if folder != "" {
		folder += "/"
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		folder: folder,
	}, nil
}

// PutFile streams localPath into folder+object and returns its public URL.
func (s *BlobStore) PutFile(ctx context.Context, object, localPath, contentType string) (string, error) {
	if strings.TrimSpace(object) == "" {
		return "", fmt.Errorf("object name is required")
	}
	f, err := os.Open(localPath) // #nosec G304 -- path from the stage cache dir
	if err != nil {
		return "", fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	writer := s.client.Bucket(s.bucket).Object(s.folder + object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, f); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return s.base() + object, nil
}

// ObjectName strips the bucket URL from a path produced by PutFile.
func (s *BlobStore) ObjectName(durablePath string) (string, bool) {
	name, ok := strings.CutPrefix(durablePath, s.base())
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

func (s *BlobStore) base() string {
	return publicHost + s.bucket + "/" + s.folder
}

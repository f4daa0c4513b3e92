package csrc

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/stage"
	"github.com/JakeFAU/regcrawl/internal/store"
)

const fallbackContentType = "application/octet-stream"

// AttachmentDeps are the collaborators of AttachmentProcessor.
type AttachmentDeps struct {
	Tasks  store.TaskRepository
	Blobs  crawler.BlobStore
	Hasher crawler.FileHasher
}

// AttachmentProcessor uploads downloaded attachments and completes their rows.
type AttachmentProcessor struct {
	deps   AttachmentDeps
	logger *zap.Logger
}

var _ stage.AttachmentProcessor = (*AttachmentProcessor)(nil)

// NewAttachmentProcessor builds an AttachmentProcessor.
func NewAttachmentProcessor(deps AttachmentDeps, logger *zap.Logger) *AttachmentProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttachmentProcessor{deps: deps, logger: logger}
}

// ProcessAttachment implements stage.AttachmentProcessor.
func (p *AttachmentProcessor) ProcessAttachment(ctx context.Context, rec crawler.Record, localPath, ext string) error {
	stem := strings.TrimSuffix(filepath.Base(localPath), "."+ext)
	artifact, err := upload(ctx, p.deps.Blobs, p.deps.Hasher, rec, localPath, stem, ext, contentType(ext))
	if err != nil {
		return err
	}
	artifact.Kind = strings.ToUpper(ext)
	if err := p.deps.Tasks.CompleteArtifact(ctx, rec.ID, artifact); err != nil {
		return fmt.Errorf("complete attachment %d: %w", rec.ID, err)
	}
	p.logger.Info("attachment archived", zap.Int64("id", rec.ID), zap.String("path", artifact.Path))
	return nil
}

func contentType(ext string) string {
	if t := mime.TypeByExtension("." + strings.ToLower(ext)); t != "" {
		return t
	}
	return fallbackContentType
}

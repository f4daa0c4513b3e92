package stage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/filecache"
	"github.com/JakeFAU/regcrawl/internal/pipeline"
	"github.com/JakeFAU/regcrawl/internal/store"
)

// AttachmentProcessor handles one downloaded attachment.
type AttachmentProcessor interface {
	ProcessAttachment(ctx context.Context, rec crawler.Record, localPath, ext string) error
}

// AttachmentDeps are the collaborators of an attachment run.
type AttachmentDeps struct {
	Tasks     store.TaskRepository
	Fetcher   Fetcher
	Cache     *filecache.Manager
	Processor AttachmentProcessor
	// NewName returns a unique file stem.
	NewName func() string
}

// Attachment downloads every pending attachment into the file cache and
// hands it to the site processor.
type Attachment struct {
	window crawler.Window
	deps   AttachmentDeps
	logger *zap.Logger
}

// NewAttachment builds an attachment stage.
func NewAttachment(window crawler.Window, deps AttachmentDeps, logger *zap.Logger) *Attachment {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Attachment{window: window, deps: deps, logger: logger}
}

// Name implements pipeline.Stage.
func (a *Attachment) Name() crawler.StageName { return crawler.StageAttachment }

// Execute implements pipeline.Stage.
func (a *Attachment) Execute(ctx context.Context) error {
	if a.deps.Tasks == nil {
		a.logger.Error("task store not configured, attachment stage skipped")
		return nil
	}
	summary, err := pipeline.Drain[crawler.Record](ctx, a, a.logger)
	a.logger.Info("attachment run complete",
		zap.Int("records", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return err
}

// Pending implements pipeline.Source.
func (a *Attachment) Pending(ctx context.Context) ([]crawler.Record, error) {
	return a.deps.Tasks.Pending(ctx, store.AttachmentTasks(a.window))
}

// Process implements pipeline.Source.
func (a *Attachment) Process(ctx context.Context, rec crawler.Record) (err error) {
	defer func() { observeItem(string(crawler.StageAttachment), err) }()

	ext := pipeline.FileExtension(rec.AttachmentURL)
	dst := a.deps.Cache.Join(pipeline.LocalName(a.deps.NewName(), ext))
	a.logger.Info("downloading attachment", zap.Int64("id", rec.ID), zap.String("url", rec.AttachmentURL), zap.String("path", dst))
	if err := a.deps.Fetcher.Download(ctx, rec.AttachmentURL, dst); err != nil {
		return fmt.Errorf("download attachment %d: %w", rec.ID, err)
	}
	return a.deps.Processor.ProcessAttachment(ctx, rec, dst, ext)
}

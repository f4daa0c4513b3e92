package stage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/pipeline"
	"github.com/JakeFAU/regcrawl/internal/store"
)

// DetailProcessor handles one decoded detail page.
type DetailProcessor interface {
	ProcessDetail(ctx context.Context, rec crawler.Record, page string) error
}

// DetailDeps are the collaborators of a detail run.
type DetailDeps struct {
	Tasks     store.TaskRepository
	Fetcher   Fetcher
	Processor DetailProcessor
}

// Detail fetches every announcement in the window and hands its page to the
// site processor.
type Detail struct {
	window crawler.Window
	deps   DetailDeps
	logger *zap.Logger
}

// NewDetail builds a detail stage.
func NewDetail(window crawler.Window, deps DetailDeps, logger *zap.Logger) *Detail {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detail{window: window, deps: deps, logger: logger}
}

// Name implements pipeline.Stage.
func (d *Detail) Name() crawler.StageName { return crawler.StageDetail }

// Execute implements pipeline.Stage.
func (d *Detail) Execute(ctx context.Context) error {
	if d.deps.Tasks == nil {
		d.logger.Error("task store not configured, detail stage skipped")
		return nil
	}
	summary, err := pipeline.Drain[crawler.Record](ctx, d, d.logger)
	d.logger.Info("detail run complete",
		zap.Int("records", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return err
}

// Pending implements pipeline.Source.
func (d *Detail) Pending(ctx context.Context) ([]crawler.Record, error) {
	return d.deps.Tasks.Pending(ctx, store.DetailTasks(d.window))
}

// Process implements pipeline.Source.
func (d *Detail) Process(ctx context.Context, rec crawler.Record) (err error) {
	defer func() { observeItem(string(crawler.StageDetail), err) }()

	d.logger.Info("processing detail", zap.Int64("id", rec.ID), zap.String("url", rec.DetailURL))
	resp, err := d.deps.Fetcher.Get(ctx, rec.DetailURL)
	if err != nil {
		return fmt.Errorf("fetch detail %d: %w", rec.ID, err)
	}
	page, encoding, err := pipeline.Decode(resp.Body, resp.Charset())
	if err != nil {
		return fmt.Errorf("decode detail %d: %w", rec.ID, err)
	}
	d.logger.Debug("detail decoded", zap.Int64("id", rec.ID), zap.String("encoding", encoding))
	return d.deps.Processor.ProcessDetail(ctx, rec, page)
}

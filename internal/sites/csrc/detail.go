package csrc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/clock/system"
	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/filecache"
	"github.com/JakeFAU/regcrawl/internal/metrics"
	"github.com/JakeFAU/regcrawl/internal/stage"
	"github.com/JakeFAU/regcrawl/internal/store"
)

const (
	pdfKind        = "PDF"
	pdfContentType = "application/pdf"
)

// DetailConfig configures DetailProcessor.
type DetailConfig struct {
	// SiteBase is the site root used to resolve video links.
	SiteBase string
	Template *PageTemplate
}

// DetailDeps are the collaborators of DetailProcessor.
type DetailDeps struct {
	Tasks    store.TaskRepository
	Blobs    crawler.BlobStore
	Renderer crawler.PDFRenderer
	Hasher   crawler.FileHasher
	IDs      crawler.IDGenerator
	Clock    crawler.Clock
	Cache    *filecache.Manager
	NewName  func() string
}

// DetailProcessor saves attachment rows found on a detail page and archives
// the page itself as a PDF.
type DetailProcessor struct {
	cfg    DetailConfig
	deps   DetailDeps
	logger *zap.Logger
}

var _ stage.DetailProcessor = (*DetailProcessor)(nil)

// NewDetailProcessor builds a DetailProcessor.
func NewDetailProcessor(cfg DetailConfig, deps DetailDeps, logger *zap.Logger) *DetailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = system.New(time.Local)
	}
	return &DetailProcessor{cfg: cfg, deps: deps, logger: logger}
}

// ProcessDetail implements stage.DetailProcessor. A failed attachment write is
// logged and the PDF is still produced.
func (p *DetailProcessor) ProcessDetail(ctx context.Context, rec crawler.Record, page string) error {
	cleaned, err := CleanDetail(page, rec.DetailURL, p.cfg.SiteBase)
	if err != nil {
		return err
	}
	if err := p.saveAttachments(ctx, rec, cleaned.Links); err != nil {
		p.logger.Warn("attachment rows not saved, continuing with pdf", zap.Int64("id", rec.ID), zap.Error(err))
	}
	if rec.Done {
		p.logger.Info("pdf already archived", zap.Int64("id", rec.ID))
		return nil
	}
	doc, err := p.cfg.Template.Render(rec.Title, cleaned.Content)
	if err != nil {
		return err
	}
	return p.archive(ctx, rec, doc)
}

func (p *DetailProcessor) saveAttachments(ctx context.Context, parent crawler.Record, links []Link) error {
	var (
		inserts []crawler.Record
		renames []crawler.TitleChange
	)
	for _, l := range links {
		title, _ := SplitNameSuffix(l.Title)
		existing, err := p.deps.Tasks.FindAttachment(ctx, parent.ID, l.URL)
		switch {
		case errors.Is(err, store.ErrNotFound):
			textID, err := p.deps.IDs.NewID(ctx)
			if err != nil {
				p.logger.Error("no id for attachment", zap.String("url", l.URL), zap.Error(err))
				continue
			}
			inserts = append(inserts, attachmentRow(parent, title, l.URL, textID, p.now()))
		case err != nil:
			return fmt.Errorf("look up attachment %s: %w", l.URL, err)
		case existing.Title != title:
			renames = append(renames, crawler.TitleChange{ID: existing.ID, Title: title})
		}
	}

	if len(inserts) > 0 {
		if err := p.deps.Tasks.InsertBatch(ctx, inserts); err != nil {
			return fmt.Errorf("insert attachments of %d: %w", parent.ID, err)
		}
		for range inserts {
			metrics.ObserveRecordAction("inserted")
		}
	}
	if len(renames) > 0 {
		if err := p.deps.Tasks.RenameAttachments(ctx, renames); err != nil {
			return fmt.Errorf("rename attachments of %d: %w", parent.ID, err)
		}
		for range renames {
			metrics.ObserveRecordAction("updated")
		}
	}
	p.logger.Info("attachment rows saved",
		zap.Int64("id", parent.ID),
		zap.Int("inserted", len(inserts)),
		zap.Int("renamed", len(renames)),
	)
	return nil
}

func attachmentRow(parent crawler.Record, title, url, textID string, now time.Time) crawler.Record {
	pid := parent.ID
	return crawler.Record{
		ParentID:      &pid,
		Region:        parent.Region,
		RegionCode:    parent.RegionCode,
		Title:         title,
		DetailURL:     parent.DetailURL,
		PublishTime:   parent.PublishTime,
		Number:        parent.Number,
		Type:          parent.Type,
		AttachmentURL: url,
		TextID:        textID,
		InsertedAt:    now,
	}
}

func (p *DetailProcessor) now() time.Time {
	return crawler.WallClock(p.deps.Clock.Now(), nil)
}

func (p *DetailProcessor) archive(ctx context.Context, rec crawler.Record, doc string) error {
	stem := p.deps.NewName()
	local := p.deps.Cache.Join(stem + ".pdf")
	if err := p.deps.Renderer.RenderPDF(ctx, doc, local); err != nil {
		return fmt.Errorf("render pdf %d: %w", rec.ID, err)
	}
	defer os.Remove(local) //nolint:errcheck // cache is cleared after the run anyway

	artifact, err := upload(ctx, p.deps.Blobs, p.deps.Hasher, rec, local, stem, "pdf", pdfContentType)
	if err != nil {
		return err
	}
	artifact.Kind = pdfKind
	if err := p.deps.Tasks.CompleteArtifact(ctx, rec.ID, artifact); err != nil {
		return fmt.Errorf("complete pdf %d: %w", rec.ID, err)
	}
	p.logger.Info("pdf archived", zap.Int64("id", rec.ID), zap.String("path", artifact.Path))
	return nil
}

package stage

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/metrics"
	"github.com/JakeFAU/regcrawl/internal/monitor"
	"github.com/JakeFAU/regcrawl/internal/pipeline"
	"github.com/JakeFAU/regcrawl/internal/store"
)

// ErrNoTotal is returned by a ListSite when page 1 carries no usable total.
var ErrNoTotal = errors.New("list page has no total")

// ListItem is one entry of a list page.
type ListItem struct {
	Title        string
	URL          string
	PublishTime  time.Time
	Number       string
	ManuscriptID string
}

// ListPage is one parsed page of a target's listing.
type ListPage struct {
	Total    int
	PageSize int
	Items    []ListItem
}

// ListSite fetches and classifies list entries for one site.
type ListSite interface {
	FetchPage(ctx context.Context, target crawler.Target, page int) (ListPage, error)
	Classify(ctx context.Context, item ListItem) (string, error)
}

// PageCount is ceil(total / size).
func PageCount(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// ListConfig configures a list run.
type ListConfig struct {
	Targets []crawler.Target
	Window  crawler.Window
}

// ListDeps are the collaborators of a list run. Tasks may be nil when no
// store is configured; the run then does nothing.
type ListDeps struct {
	Site    ListSite
	Tasks   store.TaskRepository
	IDs     crawler.IDGenerator
	Monitor monitor.Sink
	Clock   crawler.Clock
}

// List walks every target's pages and reconciles the entries against the
// task table.
type List struct {
	cfg    ListConfig
	deps   ListDeps
	logger *zap.Logger
}

// NewList builds a list stage.
func NewList(cfg ListConfig, deps ListDeps, logger *zap.Logger) *List {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Monitor == nil {
		deps.Monitor = monitor.NewFanout(logger)
	}
	return &List{cfg: cfg, deps: deps, logger: logger}
}

// Name implements pipeline.Stage.
func (l *List) Name() crawler.StageName { return crawler.StageList }

// Execute implements pipeline.Stage.
func (l *List) Execute(ctx context.Context) error {
	if l.deps.Tasks == nil {
		l.logger.Error("task store not configured, list stage skipped")
		return nil
	}
	if len(l.cfg.Targets) == 0 {
		l.logger.Error("no targets configured")
		return nil
	}
	summary, err := pipeline.Drain[crawler.Target](ctx, targetSource{l}, l.logger)
	l.logger.Info("list run complete",
		zap.Int("targets", summary.Total),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
	)
	return err
}

type targetSource struct{ l *List }

func (s targetSource) Pending(context.Context) ([]crawler.Target, error) {
	return s.l.cfg.Targets, nil
}

func (s targetSource) Process(ctx context.Context, t crawler.Target) error {
	err := s.l.crawlTarget(ctx, t)
	observeItem(string(crawler.StageList), err)
	return err
}

// pageResult is what parsing one page reports back to the walk.
type pageResult struct {
	proceed  bool
	newToday int
	items    int
}

func (l *List) crawlTarget(ctx context.Context, t crawler.Target) (err error) {
	logger := l.logger.With(zap.String("target", t.Name), zap.String("code", t.Code))
	logger.Info("target started")

	first, ferr := l.deps.Site.FetchPage(ctx, t, 1)
	if ferr == nil && first.PageSize <= 0 {
		ferr = ErrNoTotal
	}
	if ferr != nil {
		logger.Warn("page count unavailable, target skipped", zap.Error(ferr))
		metrics.ObserveListPage(t.Code, "error")
		return nil
	}
	pages := PageCount(first.Total, first.PageSize)
	logger.Info("page count resolved", zap.Int("total", first.Total), zap.Int("page_size", first.PageSize), zap.Int("pages", pages))

	outcome := crawler.Outcome{
		Target:    t.Name,
		Code:      t.Code,
		StatusID:  t.StatusID,
		Condition: t.Condition,
		State:     crawler.OutcomeFailed,
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("target %s panicked: %v\n%s", t.Name, rec, debug.Stack())
		}
		if err != nil {
			outcome.State = crawler.OutcomeFailed
			outcome.Total = nil
			outcome.ErrorText = err.Error()
		}
		outcome.LogTime = l.now()
		if merr := l.deps.Monitor.Record(ctx, outcome); merr != nil {
			logger.Error("monitor fan-out failed", zap.Error(merr))
		}
	}()

	counted := 0
	for page := 1; page <= pages; page++ {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("target %s interrupted on page %d: %w", t.Name, page, cerr)
		}
		data := first
		if page > 1 {
			data, ferr = l.deps.Site.FetchPage(ctx, t, page)
			if ferr != nil {
				logger.Error("list page failed", zap.Int("page", page), zap.Error(ferr))
				metrics.ObserveListPage(t.Code, "error")
				continue
			}
		}
		metrics.ObserveListPage(t.Code, "ok")

		res := l.parsePage(ctx, t, data, logger)
		outcome.Increment += res.newToday
		counted += res.items
		if !res.proceed && !l.cfg.Window.FullCrawl {
			logger.Info("reached records older than the window, stopping", zap.Int("page", page), zap.Int("pages", pages))
			break
		}
	}

	outcome.State = crawler.OutcomeSucceeded
	outcome.Total = &counted
	logger.Info("target finished", zap.Int("items", counted), zap.Int("new_today", outcome.Increment))
	return nil
}

func (l *List) parsePage(ctx context.Context, t crawler.Target, page ListPage, logger *zap.Logger) pageResult {
	res := pageResult{proceed: true, items: len(page.Items)}
	for _, item := range page.Items {
		if !l.cfg.Window.FullCrawl && item.PublishTime.Before(l.cfg.Window.Start) {
			res.proceed = false
			return res
		}
		action := l.reconcile(ctx, t, item, &res, logger)
		metrics.ObserveRecordAction(action)
	}
	return res
}

// reconcile inserts, updates or leaves the row matching item and returns the
// action taken.
func (l *List) reconcile(ctx context.Context, t crawler.Target, item ListItem, res *pageResult, logger *zap.Logger) string {
	logger = logger.With(zap.String("url", item.URL))

	existing, err := l.deps.Tasks.FindListed(ctx, item.URL, t.Name)
	found := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("lookup failed, record skipped", zap.Error(err))
		return "skipped"
	}
	if !item.PublishTime.Before(l.cfg.Window.Today) {
		res.newToday++
	}

	kind, err := l.deps.Site.Classify(ctx, item)
	if err != nil {
		logger.Warn("classification failed, record skipped", zap.String("manuscript_id", item.ManuscriptID), zap.Error(err))
		return "skipped"
	}
	change := crawler.ListedChange{
		Title:       item.Title,
		PublishTime: item.PublishTime,
		Number:      item.Number,
		Type:        kind,
	}

	if !found {
		textID, err := l.deps.IDs.NewID(ctx)
		if err != nil {
			logger.Warn("id generation failed, record skipped", zap.Error(err))
			return "skipped"
		}
		rec := crawler.Record{
			Region:      t.Name,
			RegionCode:  t.Code,
			Title:       change.Title,
			DetailURL:   item.URL,
			PublishTime: change.PublishTime,
			Number:      change.Number,
			Type:        change.Type,
			TextID:      textID,
			InsertedAt:  l.now(),
		}
		id, err := l.deps.Tasks.Insert(ctx, rec)
		if err != nil {
			logger.Error("insert failed, record skipped", zap.Error(err))
			return "skipped"
		}
		logger.Debug("record inserted", zap.Int64("id", id))
		return "inserted"
	}

	if !change.Differs(existing) {
		return "unchanged"
	}
	if err := l.deps.Tasks.ReconcileListed(ctx, existing.ID, change); err != nil {
		logger.Error("reconcile rolled back, record skipped", zap.Int64("id", existing.ID), zap.Error(err))
		return "skipped"
	}
	logger.Info("record updated", zap.Int64("id", existing.ID))
	return "updated"
}

func (l *List) now() time.Time {
	if l.deps.Clock == nil {
		return crawler.WallClock(time.Now(), nil)
	}
	return crawler.WallClock(l.deps.Clock.Now(), nil)
}

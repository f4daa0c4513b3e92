package pipeline

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/filecache"
	"github.com/JakeFAU/regcrawl/internal/metrics"
)

// Stage is one runnable crawl stage.
type Stage interface {
	Name() crawler.StageName
	Execute(ctx context.Context) error
}

// RunnerConfig wires the resources a Runner manages around a stage.
type RunnerConfig struct {
	Task    string
	Cache   *filecache.Manager
	Window  crawler.Window
	Closers []io.Closer
	Clock   crawler.Clock
}

// Runner executes a stage inside the standard lifecycle: prepare the file
// cache, run, and always release the cache and connections afterwards.
type Runner struct {
	cfg    RunnerConfig
	logger *zap.Logger
}

// NewRunner builds a Runner.
func NewRunner(cfg RunnerConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = wallClock{}
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Run executes the stage. Failures are logged and never returned.
func (r *Runner) Run(ctx context.Context, stage Stage) {
	logger := r.logger.With(zap.String("task", r.cfg.Task), zap.String("stage", string(stage.Name())))
	started := r.cfg.Clock.Now()
	logger.Info("stage started",
		zap.Time("started_at", started),
		zap.String("window_start", r.cfg.Window.Start.Format(crawler.TimeLayout)),
		zap.String("window_end", r.cfg.Window.End.Format(crawler.TimeLayout)),
		zap.Bool("full_crawl", r.cfg.Window.FullCrawl),
	)

	defer func() {
		r.cleanup(logger)
		finished := r.cfg.Clock.Now()
		elapsed := finished.Sub(started)
		metrics.ObserveStageDuration(string(stage.Name()), elapsed)
		logger.Info("stage finished", zap.Time("finished_at", finished), zap.Duration("elapsed", elapsed))
	}()

	if err := r.execute(ctx, stage); err != nil {
		logger.Error("stage failed", zap.Error(err))
	}
}

func (r *Runner) execute(ctx context.Context, stage Stage) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	if r.cfg.Cache != nil {
		if err := r.cfg.Cache.Create(); err != nil {
			return err
		}
	}
	return stage.Execute(ctx)
}

func (r *Runner) cleanup(logger *zap.Logger) {
	if r.cfg.Cache != nil {
		if err := r.cfg.Cache.Clear(); err != nil {
			logger.Warn("file cache cleanup failed", zap.String("path", r.cfg.Cache.Path()), zap.Error(err))
		}
	}
	for _, c := range r.cfg.Closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

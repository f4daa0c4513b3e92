// Package app builds the long-lived collaborators of one stage run and acts
// as the dependency container handed to site factories.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/clock/system"
	"github.com/JakeFAU/regcrawl/internal/config"
	"github.com/JakeFAU/regcrawl/internal/crawler"
	collyfetcher "github.com/JakeFAU/regcrawl/internal/fetcher/colly"
	"github.com/JakeFAU/regcrawl/internal/filecache"
	"github.com/JakeFAU/regcrawl/internal/hash/md5"
	"github.com/JakeFAU/regcrawl/internal/id/snowflake"
	"github.com/JakeFAU/regcrawl/internal/id/uuid"
	"github.com/JakeFAU/regcrawl/internal/monitor"
	"github.com/JakeFAU/regcrawl/internal/monitor/sinks"
	"github.com/JakeFAU/regcrawl/internal/pipeline"
	"github.com/JakeFAU/regcrawl/internal/proxy"
	"github.com/JakeFAU/regcrawl/internal/storage/gcs"
	"github.com/JakeFAU/regcrawl/internal/storage/local"
	"github.com/JakeFAU/regcrawl/internal/storage/memory"
	"github.com/JakeFAU/regcrawl/internal/storage/postgres"
	"github.com/JakeFAU/regcrawl/internal/storage/s3"
	"github.com/JakeFAU/regcrawl/internal/store"
)

// App holds the resources shared by every component of a stage run.
type App struct {
	Config    config.Config
	StageName crawler.StageName
	Stage     config.StageConfig
	Logger    *zap.Logger

	Location *time.Location
	Clock    crawler.Clock
	Window   crawler.Window
	Cache    *filecache.Manager

	// Tasks is nil when no data store is configured.
	Tasks    store.TaskRepository
	Statuses store.StatusRepository
	Blobs    crawler.BlobStore
	Session  *pipeline.Session
	IDs      crawler.IDGenerator
	Hasher   crawler.FileHasher
	Monitor  *monitor.Fanout

	names   *uuid.Generator
	closers []io.Closer
}

// Option customizes New.
type Option func(*options)

type options struct {
	connectOpts []postgres.ConnectOption
	retriever   pipeline.Retriever
	clock       crawler.Clock
}

// WithConnectOptions forwards options to the Postgres connector.
func WithConnectOptions(opts ...postgres.ConnectOption) Option {
	return func(o *options) { o.connectOpts = append(o.connectOpts, opts...) }
}

// WithRetriever replaces the colly retrieval unit.
func WithRetriever(r pipeline.Retriever) Option {
	return func(o *options) { o.retriever = r }
}

// WithClock replaces the system clock.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// New resolves every collaborator stage needs from cfg. A store that is
// configured but unreachable is an error; a store that is not configured
// leaves Tasks nil.
func New(ctx context.Context, cfg config.Config, stage crawler.StageName, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	stageCfg, err := cfg.Stage(stage)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Services.Location()
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		StageName: stage,
		Stage:     stageCfg,
		Logger:    logger,
		Location:  loc,
		Clock:     o.clock,
		Hasher:    md5.New(),
		names:     uuid.New(),
	}
	if a.Clock == nil {
		a.Clock = system.New(loc)
	}
	fullCrawl := stage == crawler.StageList && cfg.Env.ListFullCrawl
	a.Window = pipeline.NewWindow(a.Clock.Now(), stageCfg.UpdateTimeExtent, fullCrawl, loc)

	if a.Cache, err = filecache.New(stageCfg.FileCachePath); err != nil {
		return nil, err
	}
	if err := a.openStores(ctx, o.connectOpts); err != nil {
		a.closeAll()
		return nil, err
	}
	if err := a.openBlobs(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	a.IDs = a.idGenerator()
	a.Session = a.session(o.retriever)
	if err := a.buildMonitor(ctx); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context, connectOpts []postgres.ConnectOption) error {
	table := a.Config.Project.Table
	dataDB := a.Config.DataDB
	if dataDB == nil {
		a.Logger.Warn("no data store configured")
		return nil
	}

	if dataDB.Driver == "memory" {
		a.Tasks = memory.NewTaskStore()
		if a.Config.Project.MonitorTable != "" {
			a.Statuses = memory.NewStatusStore()
		}
		return nil
	}

	conn, err := postgres.Connect(ctx, *dataDB, a.Logger, connectOpts...)
	if err != nil {
		return fmt.Errorf("connect data store: %w", err)
	}
	tasks, err := postgres.NewTaskStore(conn, table)
	if err != nil {
		_ = conn.Close()
		return err
	}
	a.Tasks = tasks
	a.AddCloser(tasks)

	if a.StageName != crawler.StageList || a.Config.Project.MonitorTable == "" {
		return nil
	}
	monitorConn := conn
	if m := a.Config.MonitorDB; m != nil && m.Driver != "memory" {
		if monitorConn, err = postgres.Connect(ctx, *m, a.Logger, connectOpts...); err != nil {
			return fmt.Errorf("connect monitor store: %w", err)
		}
	}
	statuses, err := postgres.NewMonitorStore(monitorConn, a.Config.Project.MonitorTable)
	if err != nil {
		return err
	}
	a.Statuses = statuses
	a.AddCloser(statuses)
	return nil
}

func (a *App) openBlobs(ctx context.Context) error {
	sc := a.Config.Storage
	if sc == nil {
		a.Logger.Warn("no object storage configured, artifacts are kept in memory")
		a.Blobs = memory.NewBlobStore()
		return nil
	}
	switch sc.Kind {
	case "", "s3":
		blobs, err := s3.New(ctx, s3.Config{
			AccessKey: sc.AccessKey,
			SecretKey: sc.SecretKey,
			Endpoint:  sc.Endpoint,
			Region:    sc.Region,
			Bucket:    sc.Bucket,
			Folder:    sc.Folder,
			Scheme:    sc.Scheme,
		})
		if err != nil {
			return fmt.Errorf("init s3 storage: %w", err)
		}
		a.Blobs = blobs
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		blobs, err := gcs.New(client, gcs.Config{Bucket: sc.Bucket, Folder: sc.Folder})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.Blobs = blobs
		a.AddCloser(client)
	case "local":
		blobs, err := local.New(local.Config{BaseDir: sc.BaseDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.Blobs = blobs
	case "memory":
		a.Blobs = memory.NewBlobStore()
	default:
		return fmt.Errorf("unknown object storage kind %q", sc.Kind)
	}
	return nil
}

func (a *App) idGenerator() crawler.IDGenerator {
	if url := a.Config.Services.SnowflakeURL; url != "" {
		return snowflake.New(url, a.Logger)
	}
	return a.names
}

func (a *App) session(retriever pipeline.Retriever) *pipeline.Session {
	cache := proxy.NewCache(a.Stage.ProxyCachePath)
	if retriever == nil {
		fcfg := collyfetcher.DefaultConfig()
		fcfg.RetryNumber = a.Stage.RetryNumber
		fcfg.RetryDelay = a.Stage.RetryDelay
		fcfg.UseProxy = a.Config.Env.ProxyEnabled()
		fcfg.RequestsPerSecond = a.Stage.RequestRate
		fcfg.RequestBurst = a.Stage.RequestBurst

		var leases collyfetcher.LeaseSource
		if fcfg.UseProxy {
			vendor := proxy.NewVendor(a.Config.Services.ProxyVendorURL, nil, a.Logger)
			leases = proxy.NewAcquirer(vendor, cache, a.Logger)
		}
		retriever = collyfetcher.New(fcfg, leases, a.Logger)
	}
	initial := proxy.State{}
	if a.Config.Env.ProxyEnabled() {
		initial = cache.Seed()
	}
	return pipeline.NewSession(retriever, initial)
}

func (a *App) buildMonitor(ctx context.Context) error {
	a.Monitor = monitor.NewFanout(a.Logger)
	if a.StageName != crawler.StageList {
		return nil
	}
	a.Monitor.Add("log", sinks.NewLogSink(a.Logger)).
		Add("metrics", sinks.NewMetricsSink())
	if a.Statuses != nil {
		a.Monitor.Add("store", sinks.NewStoreSink(a.Statuses, a.Logger))
	}
	if url := a.Config.Services.MonitorAPIURL; url != "" {
		a.Monitor.Add("api", sinks.NewAPISink(url, a.Logger))
	}
	if a.Stage.LogPath != "" {
		a.Monitor.Add("file", sinks.NewFileSink(a.Stage.LogPath))
	}
	if ps := a.Config.Services.PubSub; ps.ProjectID != "" && ps.Topic != "" {
		sink, err := sinks.NewPubSubSink(ctx, ps.ProjectID, ps.Topic, a.Logger)
		if err != nil {
			return err
		}
		a.Monitor.Add("pubsub", sink)
		a.AddCloser(sink)
	}
	return nil
}

// NewName returns a fresh hex stem for a local file or object name.
func (a *App) NewName() string {
	return a.names.NewHex()
}

// AddCloser registers c to be closed when the run ends.
func (a *App) AddCloser(c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, c)
	}
}

// Runner wraps a stage with cache setup and teardown. The runner closes
// every registered resource when the stage finishes.
func (a *App) Runner() *pipeline.Runner {
	closers := a.closers
	a.closers = nil
	return pipeline.NewRunner(pipeline.RunnerConfig{
		Task:    a.Config.Project.Name,
		Cache:   a.Cache,
		Window:  a.Window,
		Closers: closers,
		Clock:   a.Clock,
	}, a.Logger)
}

// Close releases every resource not yet handed to a Runner.
func (a *App) Close() error {
	return a.closeAll()
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

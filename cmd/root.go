// Package cmd defines the regcrawl command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/api"
	"github.com/JakeFAU/regcrawl/internal/app"
	"github.com/JakeFAU/regcrawl/internal/config"
	"github.com/JakeFAU/regcrawl/internal/dispatcher"
	"github.com/JakeFAU/regcrawl/internal/logging"
	"github.com/JakeFAU/regcrawl/internal/metrics"
	"github.com/JakeFAU/regcrawl/internal/sites/csrc"
)

const metricsJob = "regcrawl"

// newRegistry builds the project registry. Tests replace it.
var newRegistry = func() *dispatcher.Registry {
	reg := dispatcher.NewRegistry()
	csrc.Register(reg)
	return reg
}

type rootOptions struct {
	configDir   string
	projectsDir string
	appOpts     []app.Option
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regcrawl <project> <stage>",
		Short: "Crawls regulatory announcements one stage at a time.",
		Long: `regcrawl runs one stage (list, detail or attachment) of a project's
crawl: list pages are reconciled into the task table, detail pages are archived
as PDFs with their attachment rows, and pending attachments are downloaded and
uploaded to object storage.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&opts.configDir, "config-dir", "config", "directory holding config.yml and infrastructure.yml")
	cmd.Flags().StringVar(&opts.projectsDir, "projects-dir", "", "directory holding <project>.yml (default <config-dir>/projects)")
	return cmd
}

func run(ctx context.Context, opts *rootOptions, project, stageToken string) error {
	name, factory, err := newRegistry().Resolve(project, stageToken)
	if err != nil {
		return err
	}

	projectsDir := opts.projectsDir
	if projectsDir == "" {
		projectsDir = filepath.Join(opts.configDir, "projects")
	}
	cfg, err := config.Load(config.Options{
		ConfigDir:   opts.configDir,
		ProjectsDir: projectsDir,
		Project:     project,
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	stageCfg, err := cfg.Stage(name)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Env.DevelopmentLogging, stageCfg.LogFilePath())
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger = logger.With(zap.String("project", project), zap.String("environment", cfg.Environment))

	metrics.Init()
	a, err := app.New(ctx, cfg, name, logger, opts.appOpts...)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	st, err := factory(ctx, a)
	if err != nil {
		logger.Error("stage construction failed", zap.Error(err))
		if cerr := a.Close(); cerr != nil {
			logger.Warn("close failed", zap.Error(cerr))
		}
		return err
	}
	runner := a.Runner()

	if addr := cfg.Services.MetricsAddr; addr != "" {
		opsCtx, stop := context.WithCancel(ctx)
		defer stop()
		server := api.NewServer(logger.Named("ops"), api.Check{
			Name: "file_cache",
			Fn: func(context.Context) error {
				_, err := os.Stat(a.Cache.Path())
				return err
			},
		})
		go func() {
			if err := server.Serve(opsCtx, addr); err != nil {
				logger.Warn("ops endpoint stopped", zap.Error(err))
			}
		}()
	}

	runner.Run(ctx, st)

	if pushURL := cfg.Services.MetricsPushURL; pushURL != "" {
		grouping := map[string]string{"project": project, "stage": string(name)}
		if err := metrics.Push(context.WithoutCancel(ctx), pushURL, metricsJob, grouping); err != nil {
			logger.Warn("metrics push failed", zap.Error(err))
		}
	}
	return nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(&rootOptions{})
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "regcrawl: %v\n", err)
		stop()
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pkghub/hubcap/internal/api"
	"github.com/pkghub/hubcap/internal/compat"
	"github.com/pkghub/hubcap/internal/config"
	"github.com/pkghub/hubcap/internal/github"
	"github.com/pkghub/hubcap/internal/gitstore"
	"github.com/pkghub/hubcap/internal/metrics"
	"github.com/pkghub/hubcap/internal/middleware"
	"github.com/pkghub/hubcap/internal/runner"
	"github.com/pkghub/hubcap/internal/tarball"
	"github.com/pkghub/hubcap/internal/update"
)

type globalFlags struct {
	logLevel  string
	logFormat string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "hubcap",
		Short:         "Register new package releases with the dbt hub",
		Version:       api.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info",
		"log level: debug, info, warn or error.")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "json",
		"log format: json or text.")

	root.AddCommand(
		newRunCommand(flags),
		newDryRunCommand(flags),
		newServeCommand(flags),
	)
	return root
}

func newRunCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Record new release tags on hub branches and open pull requests",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withLogger(c, flags, runBatch)
		},
	}
}

func newDryRunCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dry-run",
		Short: "Clone every tracked package and validate its manifest",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withLogger(c, flags, runDry)
		},
	}
}

func newServeCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline on a schedule and on GitHub webhooks, serving status over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withLogger(c, flags, serve)
		},
	}
}

// withLogger installs the structured logger and reports a failure before
// cobra turns it into a non-zero exit
func withLogger(c *cobra.Command, flags *globalFlags, fn func(context.Context, *slog.Logger) error) error {
	logger, err := newLogger(c.ErrOrStderr(), flags.logLevel, flags.logFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, logger); err != nil {
		logger.Error("application failed", "error", err)
		return err
	}
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", format)
	}
}

func runBatch(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	shutdownTracer := initTracer(cfg, logger)
	defer shutdownTracer()

	r, err := newRunner(cfg, logger)
	if err != nil {
		return err
	}

	logger.Info("starting run",
		"hub", cfg.Org+"/"+cfg.Repo,
		"push_branches", cfg.PushBranches,
		"one_branch_per_repo", cfg.OneBranchPerRepo,
		"compat_check", cfg.CompatCheck,
	)
	_, runErr := r.Run(ctx)

	if cfg.PushgatewayURL != "" {
		if err := metrics.Push(context.WithoutCancel(ctx), cfg.PushgatewayURL, "hubcap"); err != nil {
			logger.Warn("failed to push metrics", "error", err)
		}
	}
	return runErr
}

func runDry(ctx context.Context, logger *slog.Logger) error {
	// pre-flight needs neither pushing nor GitHub credentials
	cfg, err := config.LoadReadOnly()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	r, err := newRunner(cfg, logger)
	if err != nil {
		return err
	}
	_, err = r.DryRun(ctx)
	return err
}

func initTracer(cfg *config.Config, logger *slog.Logger) func() {
	shutdown, err := middleware.InitTracer(cfg.OTLPEndpoint, api.Version)
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	}
	return func() {
		if shutdown == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("tracer shutdown error", "error", err)
		}
	}
}

// newRunner wires the pipeline collaborators from configuration
func newRunner(cfg *config.Config, logger *slog.Logger) (*runner.Runner, error) {
	var creds github.Credentials
	switch {
	case cfg.HasApp():
		app, err := github.NewAppAuth(cfg.GitHubAppID, cfg.GitHubAppPrivateKey, cfg.GitHubInstallationID)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GitHub App auth: %w", err)
		}
		creds = app
	case cfg.User.Token != "":
		user, err := github.NewUserToken(cfg.User.Name, cfg.User.Token)
		if err != nil {
			return nil, err
		}
		creds = user
	}

	digester, err := tarball.New(tarball.Config{
		Timeout:   cfg.HTTPTimeout,
		CacheSize: cfg.CacheSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	var checker update.Checker
	if cfg.CompatCheck {
		c, err := compat.New(compat.Config{
			Binary:  cfg.CompatBinary,
			Timeout: cfg.CompatTimeout,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		checker = c
	}

	rcfg := runner.Config{
		Org:                cfg.Org,
		Repo:               cfg.Repo,
		PushBranches:       cfg.PushBranches,
		OneBranchPerRepo:   cfg.OneBranchPerRepo,
		User:               gitstore.Signature{Name: cfg.User.Name, Email: cfg.User.Email},
		Workdir:            cfg.Workdir,
		HubJSONPath:        cfg.HubJSONPath,
		ExclusionsJSONPath: cfg.ExclusionsJSONPath,
		CloneTimeout:       cfg.CloneTimeout,
		CloneConcurrency:   cfg.CloneConcurrency,
		Credentials:        creds,
		Digester:           digester,
		Checker:            checker,
		Logger:             logger,
	}
	if cfg.PushBranches {
		pulls, err := github.NewClient(github.Config{
			Owner:       cfg.Org,
			Repo:        cfg.Repo,
			Credentials: creds,
			Timeout:     cfg.HTTPTimeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		rcfg.Pulls = pulls
	}
	return runner.New(rcfg)
}

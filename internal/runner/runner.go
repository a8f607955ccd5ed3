// Package runner wires the pipeline stages into a batch run.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/pkghub/hubcap/internal/dispatch"
	"github.com/pkghub/hubcap/internal/domain"
	"github.com/pkghub/hubcap/internal/github"
	"github.com/pkghub/hubcap/internal/gitstore"
	"github.com/pkghub/hubcap/internal/index"
	"github.com/pkghub/hubcap/internal/maintainers"
	"github.com/pkghub/hubcap/internal/manifest"
	"github.com/pkghub/hubcap/internal/metrics"
	"github.com/pkghub/hubcap/internal/naming"
	"github.com/pkghub/hubcap/internal/update"
)

var tracer = otel.Tracer("hubcap/runner")

// Runner executes the pipeline: clone the hub, find new tags, record them
// on branches and open pull requests
type Runner struct {
	config Config

	mu        sync.RWMutex
	lastIndex *index.Index
	hubPath   string
}

// Config holds runner configuration
type Config struct {
	// Org and Repo name the hub repository
	Org  string
	Repo string
	// PushBranches disables pushing and pull requests when false
	PushBranches     bool
	OneBranchPerRepo bool
	User             gitstore.Signature

	Workdir            string
	HubJSONPath        string
	ExclusionsJSONPath string

	CloneTimeout     time.Duration
	CloneConcurrency int

	// Credentials authenticate hub git traffic; optional when not pushing
	Credentials github.Credentials
	Digester    update.Digester
	// Checker is optional
	Checker update.Checker
	// Pulls is the pull request API; required when pushing
	Pulls dispatch.PullRequests
	// CloneURL maps org/repo to a clone URL. Defaults to GitHub HTTPS.
	CloneURL func(org, repo string) string
	// Now fixes the run timestamp used in branch names
	Now    func() time.Time
	Logger *slog.Logger
}

// New creates a runner
func New(cfg Config) (*Runner, error) {
	if cfg.Org == "" || cfg.Repo == "" {
		return nil, errors.New("hub org and repo are required")
	}
	if cfg.Digester == nil {
		return nil, errors.New("digester is required")
	}
	if cfg.PushBranches && cfg.Pulls == nil {
		return nil, errors.New("pull request client is required when pushing branches")
	}
	if cfg.Workdir == "" {
		cfg.Workdir = "target"
	}
	if cfg.CloneTimeout == 0 {
		cfg.CloneTimeout = 2 * time.Minute
	}
	if cfg.CloneConcurrency <= 0 {
		cfg.CloneConcurrency = 4
	}
	if cfg.CloneURL == nil {
		cfg.CloneURL = domain.CloneURL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{config: cfg}, nil
}

// LastIndex returns the version index built by the most recent run, or nil
func (r *Runner) LastIndex() *index.Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastIndex
}

// HubPath returns the hub working tree of the most recent run
func (r *Runner) HubPath() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hubPath
}

// HubHead returns the checked out branch and commit of the hub working
// tree. Both are empty before the first run or while a clone is underway.
func (r *Runner) HubHead() (branch, commit string) {
	path := r.HubPath()
	if path == "" {
		return "", ""
	}
	hub, err := gitstore.Open(gitstore.Config{Path: path, Logger: r.config.Logger})
	if err != nil {
		return "", ""
	}
	branch, _ = hub.CurrentBranch()
	commit, _ = hub.HeadCommit()
	return branch, commit
}

// Run executes the full pipeline. Per-package failures are counted in the
// summary; only structural failures are returned as errors.
func (r *Runner) Run(ctx context.Context) (summary *domain.RunSummary, err error) {
	cfg := r.config
	summary = &domain.RunSummary{StartedAt: cfg.Now()}
	logger := cfg.Logger.With("hub", cfg.Org+"/"+cfg.Repo)

	ctx, span := tracer.Start(ctx, "hubcap.run")
	defer func() {
		summary.FinishedAt = time.Now()
		if err != nil {
			summary.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(
			attribute.Int("tasks", summary.TasksBuilt),
			attribute.Int("failed_units", summary.FailedUnits()),
		)
		span.End()
		metrics.RecordRun(summary)
	}()

	workspace, err := filepath.Abs(cfg.Workdir)
	if err != nil {
		return summary, domain.E(domain.KindFileOperation, "resolve workspace", err)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return summary, domain.E(domain.KindFileOperation, "create workspace", err)
	}

	pms, err := maintainers.Load(cfg.HubJSONPath, cfg.ExclusionsJSONPath)
	if err != nil {
		return summary, err
	}
	logger.Info("loaded package maintainers", "maintainers", len(pms))

	hub, err := r.cloneHub(ctx, workspace)
	if err != nil {
		return summary, err
	}

	idx, err := index.Build(hub.Path(), cfg.Logger)
	if err != nil {
		return summary, err
	}

	r.mu.Lock()
	r.lastIndex = idx
	r.hubPath = hub.Path()
	r.mu.Unlock()

	cloned := r.clonePackages(ctx, workspace, pms, summary)

	builder := update.NewBuilder(update.BuilderConfig{
		Workspace: workspace,
		HubRoot:   hub.Path(),
		Index:     idx,
		Logger:    cfg.Logger,
	})
	tasks, skipped := builder.Build(ctx, cloned)
	countSkips(summary, skipped)
	summary.TasksBuilt = len(tasks)

	strategy := naming.New(cfg.OneBranchPerRepo, summary.StartedAt)
	executor, err := update.NewExecutor(update.ExecutorConfig{
		Hub:      hub,
		Naming:   strategy,
		Digester: cfg.Digester,
		Checker:  cfg.Checker,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return summary, err
	}

	results, branches := executor.ExecuteAll(ctx, tasks)
	for _, res := range results {
		summary.TagsAttempted += len(res.Task.NewTags)
		if res.State == update.StateFailed {
			summary.TasksFailed++
			// tags never reached count as failed
			summary.TagsFailed += len(res.Task.NewTags) - len(res.Committed)
			continue
		}
		summary.TagsFailed += len(res.Failed)
	}
	for _, b := range branches {
		summary.Branches = append(summary.Branches, b.Name)
	}

	if !cfg.PushBranches {
		logger.Info("pushing disabled, leaving branches local", "branches", summary.Branches)
		r.logSummary(logger, summary)
		return summary, nil
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Hub:      hub,
		Pulls:    cfg.Pulls,
		Naming:   strategy,
		HubOwner: cfg.Org,
		HubRepo:  cfg.Repo,
		HubURL:   cfg.CloneURL(cfg.Org, cfg.Repo),
		Logger:   cfg.Logger,
	})
	if err != nil {
		return summary, err
	}
	for _, res := range dispatcher.Dispatch(ctx, branches) {
		switch res.Outcome {
		case dispatch.Opened:
			summary.PullRequestsOpened++
		case dispatch.SkippedEmpty, dispatch.SkippedDuplicate:
			summary.PullRequestsSkipped++
		default:
			summary.PullRequestsFailed++
		}
	}

	r.logSummary(logger, summary)
	return summary, nil
}

// countSkips sorts builder skips: invalid manifests, packages that are not
// hub packages, and everything else
func countSkips(summary *domain.RunSummary, skipped []error) {
	for _, err := range skipped {
		switch domain.KindOf(err) {
		case domain.KindPackage:
			summary.ManifestsFailed++
		case domain.KindUnknown:
			summary.PackagesSkipped++
		default:
			summary.PackagesFailed++
		}
	}
}

func (r *Runner) logSummary(logger *slog.Logger, s *domain.RunSummary) {
	logger.Info("run finished",
		"attempted_units", s.AttemptedUnits(),
		"failed_units", s.FailedUnits(),
		"clones_failed", s.ClonesFailed,
		"manifests_failed", s.ManifestsFailed,
		"packages_skipped", s.PackagesSkipped,
		"packages_failed", s.PackagesFailed,
		"tasks", s.TasksBuilt,
		"tasks_failed", s.TasksFailed,
		"tags_failed", s.TagsFailed,
		"branches", len(s.Branches),
		"pull_requests_opened", s.PullRequestsOpened,
		"pull_requests_skipped", s.PullRequestsSkipped,
		"pull_requests_failed", s.PullRequestsFailed,
	)
}

func (r *Runner) cloneHub(ctx context.Context, workspace string) (*gitstore.Repo, error) {
	cfg := r.config
	gcfg := gitstore.Config{
		URL:    cfg.CloneURL(cfg.Org, cfg.Repo),
		Path:   filepath.Join(workspace, cfg.Repo),
		Author: cfg.User,
		Logger: cfg.Logger,
	}
	if cfg.Credentials != nil {
		gcfg.Auth = cfg.Credentials
		gcfg.Username = cfg.Credentials.Username()
	}

	cloneCtx, cancel := context.WithTimeout(ctx, cfg.CloneTimeout)
	defer cancel()
	hub, err := gitstore.Clone(cloneCtx, gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to clone hub within %s: %w", cfg.CloneTimeout, err)
	}
	hub.SetIdentity(cfg.User.Name, cfg.User.Email)
	return hub, nil
}

// clonePackages clones every package in parallel and returns the
// maintainers restricted to the repositories that cloned
func (r *Runner) clonePackages(ctx context.Context, workspace string, pms []domain.PackageMaintainer, summary *domain.RunSummary) []domain.PackageMaintainer {
	cfg := r.config

	var (
		mu     sync.Mutex
		failed int
		ok     = make(map[string][]string)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.CloneConcurrency)
	for _, m := range pms {
		for _, repo := range m.Packages() {
			repo := repo
			org := m.Name()
			summary.ClonesAttempted++
			g.Go(func() error {
				cloneCtx, cancel := context.WithTimeout(gctx, cfg.CloneTimeout)
				defer cancel()

				_, err := gitstore.Clone(cloneCtx, gitstore.Config{
					URL:    cfg.CloneURL(org, repo),
					Path:   domain.ClonePath(workspace, org, repo),
					Logger: cfg.Logger,
				})

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					cfg.Logger.Error("failed to clone package", "org", org, "repo", repo, "error", err)
					failed++
					return nil
				}
				ok[org] = append(ok[org], repo)
				return nil
			})
		}
	}
	_ = g.Wait()
	summary.ClonesFailed = failed

	out := make([]domain.PackageMaintainer, 0, len(ok))
	for _, m := range pms {
		if repos := ok[m.Name()]; len(repos) > 0 {
			out = append(out, domain.NewPackageMaintainer(m.Name(), repos))
		}
	}
	return out
}

// DryRun clones every package into a temporary directory and validates
// its manifest without touching the hub. It fails when any clone or
// manifest fails.
func (r *Runner) DryRun(ctx context.Context) (summary *domain.RunSummary, err error) {
	cfg := r.config
	summary = &domain.RunSummary{StartedAt: cfg.Now(), DryRun: true}
	defer func() {
		summary.FinishedAt = time.Now()
		if err != nil {
			summary.Error = err.Error()
		}
	}()

	pms, err := maintainers.Load(cfg.HubJSONPath, cfg.ExclusionsJSONPath)
	if err != nil {
		return summary, err
	}

	tmp, err := os.MkdirTemp("", "hubcap-dry-run-")
	if err != nil {
		return summary, domain.E(domain.KindFileOperation, "create temporary workspace", err)
	}
	defer os.RemoveAll(tmp)

	cloned := r.clonePackages(ctx, tmp, pms, summary)
	for _, m := range cloned {
		for _, repo := range m.Packages() {
			summary.ManifestsChecked++
			project, err := manifest.LoadProject(domain.ClonePath(tmp, m.Name(), repo))
			if err != nil {
				summary.ManifestsFailed++
				cfg.Logger.Error("manifest validation failed", "org", m.Name(), "repo", repo, "error", err)
				continue
			}
			cfg.Logger.Info("manifest valid", "org", m.Name(), "repo", repo, "package", project.Name)
		}
	}

	cfg.Logger.Info("dry run finished",
		"clones_attempted", summary.ClonesAttempted,
		"clones_failed", summary.ClonesFailed,
		"manifests_checked", summary.ManifestsChecked,
		"manifests_failed", summary.ManifestsFailed,
	)
	if summary.ClonesFailed > 0 || summary.ManifestsFailed > 0 {
		return summary, domain.Errorf(domain.KindPackage, "dry run",
			"%d of %d clones and %d of %d manifests failed",
			summary.ClonesFailed, summary.ClonesAttempted, summary.ManifestsFailed, summary.ManifestsChecked)
	}
	return summary, nil
}

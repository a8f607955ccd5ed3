package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pkghub/hubcap/internal/domain"
	"github.com/pkghub/hubcap/internal/gitstore"
	"github.com/pkghub/hubcap/internal/manifest"
	"github.com/pkghub/hubcap/internal/naming"
	"github.com/pkghub/hubcap/internal/version"
)

var tracer = otel.Tracer("hubcap/update")

// State is a task's position in the executor state machine
type State int

const (
	StatePending State = iota
	StateBranchReady
	StateTagsCommitted
	StateIndexCommitted
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateBranchReady:
		return "BRANCH_READY"
	case StateTagsCommitted:
		return "TAGS_COMMITTED"
	case StateIndexCommitted:
		return "INDEX_COMMITTED"
	case StateDone:
		return "DONE"
	default:
		return "FAILED"
	}
}

// next lists the state each non-terminal state may advance to. Any state
// may move to StateFailed.
var next = map[State]State{
	StatePending:        StateBranchReady,
	StateBranchReady:    StateTagsCommitted,
	StateTagsCommitted:  StateIndexCommitted,
	StateIndexCommitted: StateDone,
}

// Digester hashes a release tarball
type Digester interface {
	SHA1(ctx context.Context, url string) (string, error)
}

// Checker runs the compatibility check on a package working tree
type Checker interface {
	Check(ctx context.Context, dir, profile, rev string) domain.Compatibility
}

// Hub is the shared hub working tree
type Hub interface {
	EnsureBranch(name string) (bool, error)
	CheckoutDefault(force bool) error
	CommitPaths(message string, paths ...string) (string, error)
	Discard(path string) error
}

// Result is the outcome of one task
type Result struct {
	Task   *domain.UpdateTask
	Branch string
	State  State
	// Committed tags, ascending
	Committed []string
	Failed    []string
	// Commits on Branch carrying this task's records, including ones
	// found there from an earlier run
	Commits int
	Err     error
}

// advance moves the result to state to, rejecting skipped or backward steps
func (r *Result) advance(to State) error {
	if want, ok := next[r.State]; !ok || want != to {
		return fmt.Errorf("invalid task transition %s -> %s", r.State, to)
	}
	r.State = to
	return nil
}

// tagResult is what processing one tag hands back to the index step
type tagResult struct {
	tag     string
	compat  domain.Compatibility
	checked bool
	// resumed is set when the record was already committed on the branch
	resumed bool
}

// Executor applies tasks to the hub working tree one at a time
type Executor struct {
	hub      Hub
	naming   naming.Strategy
	digester Digester
	checker  Checker
	logger   *slog.Logger
}

// ExecutorConfig holds executor configuration
type ExecutorConfig struct {
	Hub      Hub
	Naming   naming.Strategy
	Digester Digester
	// Checker is optional; without it records carry no compatibility flag
	Checker Checker
	Logger  *slog.Logger
}

// NewExecutor creates an executor
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if cfg.Hub == nil || cfg.Naming == nil || cfg.Digester == nil {
		return nil, errors.New("hub, naming strategy and digester are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		hub:      cfg.Hub,
		naming:   cfg.Naming,
		digester: cfg.Digester,
		checker:  cfg.Checker,
		logger:   cfg.Logger,
	}, nil
}

// ExecuteAll runs tasks in order and returns every result plus the
// branches that received work, in the order they were first used. The hub
// is back on its default branch when ExecuteAll returns.
func (e *Executor) ExecuteAll(ctx context.Context, tasks []*domain.UpdateTask) ([]*Result, []*domain.BranchInfo) {
	var (
		results  []*Result
		branches []*domain.BranchInfo
		byName   = make(map[string]*domain.BranchInfo)
	)

	for _, task := range tasks {
		res := e.Execute(ctx, task)
		results = append(results, res)

		if res.State == StateDone {
			info, ok := byName[res.Branch]
			if !ok {
				info = &domain.BranchInfo{Name: res.Branch, Org: task.Maintainer, Repo: task.Repository}
				byName[res.Branch] = info
				branches = append(branches, info)
			}
			info.Sources = append(info.Sources, task.FullName())
			info.Commits += res.Commits
		}

		// a shared branch stays checked out between successful tasks
		if res.State == StateFailed || !e.naming.Shared() {
			e.restoreDefault(res.State == StateFailed)
		}
	}

	e.restoreDefault(false)
	return results, branches
}

func (e *Executor) restoreDefault(force bool) {
	if err := e.hub.CheckoutDefault(force); err != nil {
		e.logger.Error("failed to restore default branch", "force", force, "error", err)
		if !force {
			if err := e.hub.CheckoutDefault(true); err != nil {
				e.logger.Error("failed to force default branch", "error", err)
			}
		}
	}
}

// Execute runs a single task on the hub working tree. The caller restores
// the default branch afterwards.
func (e *Executor) Execute(ctx context.Context, task *domain.UpdateTask) *Result {
	ctx, span := tracer.Start(ctx, "update.task", trace.WithAttributes(
		attribute.String("org", task.Maintainer),
		attribute.String("repo", task.Repository),
		attribute.String("package", task.Package),
		attribute.Int("new_tags", len(task.NewTags)),
	))
	defer span.End()

	logger := e.logger.With("org", task.Maintainer, "repo", task.Repository, "package", task.Package)
	res := &Result{Task: task, State: StatePending}

	fail := func(err error) *Result {
		logger.Error("update task failed", "state", res.State.String(), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res.State = StateFailed
		res.Err = err
		return res
	}

	pkg, err := gitstore.Open(gitstore.Config{Path: task.LocalPath, Logger: e.logger})
	if err != nil {
		return fail(err)
	}

	branch := e.naming.Branch(task.Maintainer, task.Repository)
	created, err := e.hub.EnsureBranch(branch)
	if err != nil {
		return fail(err)
	}
	res.Branch = branch
	logger.Info("checked out hub branch", "branch", branch, "created", created)

	// checkout prunes untracked files, so directories are made afterwards
	if err := os.MkdirAll(task.VersionsDir, 0o755); err != nil {
		return fail(domain.E(domain.KindFileOperation, "create versions directory", err))
	}
	if err := res.advance(StateBranchReady); err != nil {
		return fail(err)
	}

	var done []tagResult
	for _, tag := range version.Sort(task.NewTags) {
		tr, err := e.processTag(ctx, pkg, task, tag)
		if err != nil {
			logger.Error("failed to add version", "tag", tag, "error", err)
			res.Failed = append(res.Failed, tag)
			continue
		}
		if tr.resumed {
			logger.Info("version already recorded on branch", "tag", tag)
		}
		done = append(done, tr)
		res.Committed = append(res.Committed, tag)
		res.Commits++
	}
	if len(done) == 0 {
		return fail(domain.Errorf(domain.KindVersion, "update", "no tag of %s could be recorded", task.FullName()))
	}
	if err := res.advance(StateTagsCommitted); err != nil {
		return fail(err)
	}

	committed, err := e.writeIndex(task, done, logger)
	if err != nil {
		return fail(err)
	}
	if committed {
		res.Commits++
	}
	if err := res.advance(StateIndexCommitted); err != nil {
		return fail(err)
	}
	if err := res.advance(StateDone); err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.Int("committed", len(res.Committed)))
	logger.Info("update task completed", "branch", branch, "committed", res.Committed, "failed", res.Failed)
	return res
}

// processTag writes and commits the version record for one tag. On error
// nothing of the tag is left in the hub tree.
func (e *Executor) processTag(ctx context.Context, pkg *gitstore.Repo, task *domain.UpdateTask, tag string) (tagResult, error) {
	ctx, span := tracer.Start(ctx, "update.tag", trace.WithAttributes(attribute.String("tag", tag)))
	defer span.End()

	unit := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var de *domain.Error
		if errors.As(err, &de) && de.Org == "" {
			de.WithUnit(task.Maintainer, task.Repository, tag)
			return err
		}
		return fmt.Errorf("%s@%s: %w", task.FullName(), tag, err)
	}

	path := task.VersionPath(tag)
	if tr, ok := resumedTag(path, tag); ok {
		span.SetAttributes(attribute.Bool("resumed", true))
		_, err := e.hub.CommitPaths(naming.CommitMessage(task.Maintainer, task.Repository, tag), path)
		if err != nil && !errors.Is(err, gitstore.ErrNothingToCommit) {
			return tagResult{}, unit(err)
		}
		return tr, nil
	}

	if err := pkg.CheckoutTag(tag); err != nil {
		return tagResult{}, unit(err)
	}

	project, err := manifest.LoadProject(pkg.Path())
	if err != nil {
		return tagResult{}, unit(err)
	}
	packages := manifest.LoadPackages(pkg.Path(), e.logger)

	tr := tagResult{tag: tag}
	if e.checker != nil {
		rev, _ := pkg.HeadCommit()
		tr.compat = e.checker.Check(ctx, pkg.Path(), project.Profile, rev)
		tr.checked = true
		span.SetAttributes(attribute.String("compat", tr.compat.String()))
	}

	sum, err := e.digester.SHA1(ctx, domain.TarballURL(task.Maintainer, task.Repository, tag))
	if err != nil {
		return tagResult{}, unit(domain.E(domain.KindReleaseCarrier, "digest tarball", err))
	}

	rec := domain.NewVersionRecord(task.Maintainer, task.Repository, task.Package, tag, packages, project.RequireDbtVersion, sum)
	if tr.checked {
		rec.SetCompat(tr.compat)
	}
	if err := domain.ValidateVersionRecord(rec); err != nil {
		return tagResult{}, unit(err)
	}
	data, err := domain.EncodeRecord(rec)
	if err != nil {
		return tagResult{}, unit(domain.E(domain.KindVersion, "encode version record", err))
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		e.discard(path)
		return tagResult{}, unit(domain.E(domain.KindFileOperation, "write version record", err))
	}
	if _, err := e.hub.CommitPaths(naming.CommitMessage(task.Maintainer, task.Repository, tag), path); err != nil {
		if errors.Is(err, gitstore.ErrNothingToCommit) {
			tr.resumed = true
			return tr, nil
		}
		e.discard(path)
		return tagResult{}, unit(err)
	}
	return tr, nil
}

// resumedTag reports a version record already present on the checked out
// branch. Records are written once, so an earlier run's file is kept as is.
func resumedTag(path, tag string) (tagResult, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tagResult{}, false
	}
	tr := tagResult{tag: tag, resumed: true}
	flag, err := domain.DecodeVersionCompat(data)
	if err != nil {
		// unreadable leftovers are rewritten
		return tagResult{}, false
	}
	if flag != nil {
		tr.checked = true
		tr.compat = domain.CompatIncompatible
		if *flag {
			tr.compat = domain.CompatCompatible
		}
	}
	return tr, true
}

func (e *Executor) discard(path string) {
	if err := e.hub.Discard(path); err != nil {
		e.logger.Warn("failed to discard uncommitted record", "path", path, "error", err)
	}
}

// writeIndex recomputes and commits the package index over the existing
// tags plus the ones committed in this run. It reports whether a commit was
// made; an unchanged index is not an error.
func (e *Executor) writeIndex(task *domain.UpdateTask, done []tagResult, logger *slog.Logger) (bool, error) {
	tags := append([]string{}, task.ExistingTags...)
	for _, tr := range done {
		tags = append(tags, tr.tag)
	}
	latest, err := version.Latest(tags)
	if err != nil {
		return false, err
	}

	path := task.IndexPath()
	var prior *domain.IndexRecord
	if data, err := os.ReadFile(path); err == nil {
		prior = domain.DecodeIndexRecord(data)
	} else if !os.IsNotExist(err) {
		logger.Warn("cannot read existing index", "path", path, "error", err)
	}

	rec := domain.NewIndexRecord(task.Maintainer, task.Repository, task.Package, latest.String(), prior)
	rec.FusionCompat = e.latestCompat(task, latest, done, prior)
	if err := domain.ValidateIndexRecord(rec); err != nil {
		return false, err
	}

	data, err := domain.EncodeRecord(rec)
	if err != nil {
		return false, domain.E(domain.KindVersion, "encode index record", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, domain.E(domain.KindFileOperation, "write index record", err)
	}
	if _, err := e.hub.CommitPaths(naming.IndexCommitMessage(task.Maintainer, task.Repository), path); err != nil {
		if errors.Is(err, gitstore.ErrNothingToCommit) {
			return false, nil
		}
		return false, err
	}
	logger.Info("index updated", "latest", rec.Latest)
	return true, nil
}

// latestCompat is the compatibility of the latest version only: this
// run's check when it produced the latest tag, otherwise the flag already
// stored for that version.
func (e *Executor) latestCompat(task *domain.UpdateTask, latest *version.Version, done []tagResult, prior *domain.IndexRecord) *bool {
	for _, tr := range done {
		if tr.tag == latest.Original() {
			if !tr.checked {
				return nil
			}
			b := tr.compat.Bool()
			return &b
		}
	}

	if data, err := os.ReadFile(task.VersionPath(latest.Original())); err == nil {
		if flag, err := domain.DecodeVersionCompat(data); err == nil && flag != nil {
			return flag
		}
	}
	if prior != nil && prior.Latest == latest.String() {
		return prior.FusionCompat
	}
	return nil
}

// Package update turns new upstream release tags into hub commits.
package update

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pkghub/hubcap/internal/domain"
	"github.com/pkghub/hubcap/internal/gitstore"
	"github.com/pkghub/hubcap/internal/index"
	"github.com/pkghub/hubcap/internal/manifest"
	"github.com/pkghub/hubcap/internal/version"
)

// TagLister lists the tags of a cloned package repository
type TagLister interface {
	Tags(ctx context.Context) ([]string, error)
}

// Builder finds packages with tags the hub has not recorded yet
type Builder struct {
	workspace string
	hubRoot   string
	index     *index.Index
	open      func(path string) (TagLister, error)
	logger    *slog.Logger
}

// BuilderConfig holds builder configuration
type BuilderConfig struct {
	// Workspace contains the package clones
	Workspace string
	// HubRoot is the hub working tree; version records go below it
	HubRoot string
	Index   *index.Index
	Logger  *slog.Logger
}

// NewBuilder creates a task builder
func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Builder{
		workspace: cfg.Workspace,
		hubRoot:   cfg.HubRoot,
		index:     cfg.Index,
		open: func(path string) (TagLister, error) {
			return gitstore.Open(gitstore.Config{Path: path, Logger: cfg.Logger})
		},
		logger: cfg.Logger,
	}
}

// Build returns one task per package with unrecorded tags, in maintainer
// then package order. Packages that cannot be inspected are skipped; the
// reasons are returned alongside the tasks.
func (b *Builder) Build(ctx context.Context, maintainers []domain.PackageMaintainer) ([]*domain.UpdateTask, []error) {
	var (
		tasks   []*domain.UpdateTask
		skipped []error
	)
	for _, m := range maintainers {
		for _, repo := range m.Packages() {
			task, err := b.buildOne(ctx, m.Name(), repo)
			if err != nil {
				b.logger.Warn("skipping package", "org", m.Name(), "repo", repo, "error", err)
				skipped = append(skipped, err)
				continue
			}
			if task == nil {
				b.logger.Debug("no new tags", "org", m.Name(), "repo", repo)
				continue
			}
			b.logger.Info("found new tags", "org", m.Name(), "repo", repo, "package", task.Package, "tags", task.NewTags)
			tasks = append(tasks, task)
		}
	}
	return tasks, skipped
}

// buildOne returns nil without error when the package is up to date. All
// errors are skips.
func (b *Builder) buildOne(ctx context.Context, org, repo string) (*domain.UpdateTask, error) {
	path := domain.ClonePath(b.workspace, org, repo)
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		return nil, domain.Skipf("%s/%s: no working tree at %s", org, repo, path)
	}
	if !manifest.HasProject(path) {
		return nil, domain.Skipf("%s/%s: no %s, not a hub package", org, repo, manifest.ProjectFile)
	}

	project, err := manifest.LoadProject(path)
	if err != nil {
		return nil, domain.Skip(withUnit(err, org, repo))
	}

	lister, err := b.open(path)
	if err != nil {
		return nil, domain.Skip(withUnit(err, org, repo))
	}
	remote, err := lister.Tags(ctx)
	if err != nil {
		return nil, domain.Skip(withUnit(err, org, repo))
	}

	existing := b.index.Tags(project.Name, org)
	fresh := NewTags(remote, existing)
	if len(fresh) == 0 {
		return nil, nil
	}

	return &domain.UpdateTask{
		Maintainer:   org,
		Repository:   repo,
		Package:      project.Name,
		LocalPath:    path,
		ExistingTags: existing,
		NewTags:      fresh,
		VersionsDir:  domain.PackageVersionsDir(b.hubRoot, org, project.Name),
	}, nil
}

// NewTags returns the valid remote tags missing from existing, ascending.
// Tags are compared without their "v" prefix.
func NewTags(remote, existing []string) []string {
	known := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		known[version.StripV(t)] = struct{}{}
	}

	var out []string
	for _, t := range version.Canonical(version.FilterValid(remote)) {
		if _, ok := known[version.StripV(t)]; ok {
			continue
		}
		out = append(out, t)
	}
	return version.Sort(out)
}

func withUnit(err error, org, repo string) error {
	if de, ok := err.(*domain.Error); ok {
		cp := *de
		return cp.WithUnit(org, repo, "")
	}
	return fmt.Errorf("%s/%s: %w", org, repo, err)
}

package update

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkghub/hubcap/internal/domain"
	"github.com/pkghub/hubcap/internal/index"
	"github.com/pkghub/hubcap/internal/testutil"
)

// hubWithVersions lays out recorded versions without a git repository
func hubWithVersions(t *testing.T, versions map[string][]string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, filepath.FromSlash(domain.PackagesDir)), 0o755))
	for key, tags := range versions {
		org, pkg := filepath.Split(key)
		dir := domain.PackageVersionsDir(root, filepath.Clean(org), pkg)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for _, tag := range tags {
			require.NoError(t, os.WriteFile(filepath.Join(dir, tag+".json"), []byte("{}\n"), 0o644))
		}
	}
	return root
}

func newTestBuilder(t *testing.T, hubRoot, workspace string) *Builder {
	t.Helper()
	idx, err := index.Build(hubRoot, nil)
	require.NoError(t, err)
	return NewBuilder(BuilderConfig{Workspace: workspace, HubRoot: hubRoot, Index: idx})
}

func TestBuildNewTags(t *testing.T) {
	hubRoot := hubWithVersions(t, map[string][]string{"dbt-labs/dbt_utils": {"1.0.0"}})
	workspace := t.TempDir()
	testutil.Package(t, domain.ClonePath(workspace, "dbt-labs", "dbt-utils"), "dbt_utils", "1.0.0", "1.0.1", "v1.0.2", "not-a-version")

	b := newTestBuilder(t, hubRoot, workspace)
	tasks, skipped := b.Build(context.Background(), []domain.PackageMaintainer{
		domain.NewPackageMaintainer("dbt-labs", []string{"dbt-utils"}),
	})
	require.Empty(t, skipped)
	require.Len(t, tasks, 1)

	task := tasks[0]
	assert.Equal(t, "dbt-labs", task.Maintainer)
	assert.Equal(t, "dbt-utils", task.Repository)
	assert.Equal(t, "dbt_utils", task.Package)
	assert.Equal(t, []string{"1.0.0"}, task.ExistingTags)
	assert.Equal(t, []string{"1.0.1", "v1.0.2"}, task.NewTags)
	assert.Equal(t, domain.PackageVersionsDir(hubRoot, "dbt-labs", "dbt_utils"), task.VersionsDir)
}

func TestBuildSkipsPackagesWithoutManifest(t *testing.T) {
	hubRoot := hubWithVersions(t, nil)
	workspace := t.TempDir()

	bare := testutil.InitRepo(t, domain.ClonePath(workspace, "acme", "scripts"))
	bare.WriteFile("README.md", "no project here\n")
	bare.CommitAll("initial")
	bare.Tag("1.0.0")

	testutil.Package(t, domain.ClonePath(workspace, "acme", "metrics"), "acme_metrics", "0.1.0")

	b := newTestBuilder(t, hubRoot, workspace)
	tasks, skipped := b.Build(context.Background(), []domain.PackageMaintainer{
		domain.NewPackageMaintainer("acme", []string{"scripts", "metrics", "not-cloned"}),
	})

	require.Len(t, tasks, 1)
	assert.Equal(t, "acme_metrics", tasks[0].Package)
	require.Len(t, skipped, 2)
	for _, err := range skipped {
		assert.True(t, domain.IsSkip(err))
	}
}

func TestBuildIdempotent(t *testing.T) {
	workspace := t.TempDir()
	testutil.Package(t, domain.ClonePath(workspace, "acme", "metrics"), "acme_metrics", "0.1.0", "v0.2.0")
	maintainers := []domain.PackageMaintainer{domain.NewPackageMaintainer("acme", []string{"metrics"})}

	first, _ := newTestBuilder(t, hubWithVersions(t, nil), workspace).Build(context.Background(), maintainers)
	require.Len(t, first, 1)

	recorded := hubWithVersions(t, map[string][]string{"acme/acme_metrics": first[0].NewTags})
	second, skipped := newTestBuilder(t, recorded, workspace).Build(context.Background(), maintainers)
	assert.Empty(t, second)
	assert.Empty(t, skipped)
}

type failingLister struct{}

func (failingLister) Tags(context.Context) ([]string, error) {
	return nil, domain.E(domain.KindGitOperation, "fetch tags", errors.New("connection reset"))
}

func TestBuildTagFetchFailureSkips(t *testing.T) {
	workspace := t.TempDir()
	testutil.Package(t, domain.ClonePath(workspace, "acme", "metrics"), "acme_metrics", "0.1.0")

	b := newTestBuilder(t, hubWithVersions(t, nil), workspace)
	b.open = func(string) (TagLister, error) { return failingLister{}, nil }

	tasks, skipped := b.Build(context.Background(), []domain.PackageMaintainer{
		domain.NewPackageMaintainer("acme", []string{"metrics"}),
	})
	assert.Empty(t, tasks)
	require.Len(t, skipped, 1)
	assert.ErrorIs(t, skipped[0], domain.ErrGitOperation)
	assert.Contains(t, skipped[0].Error(), "acme/metrics")
}

func TestNewTags(t *testing.T) {
	testCases := map[string]struct {
		remote   []string
		existing []string
		want     []string
	}{
		"nothing recorded": {
			remote: []string{"1.0.0", "0.9.0"},
			want:   []string{"0.9.0", "1.0.0"},
		},
		"prefix ignored when diffing": {
			remote:   []string{"v1.0.0", "1.1.0"},
			existing: []string{"1.0.0"},
			want:     []string{"1.1.0"},
		},
		"both spellings remote": {
			remote: []string{"v2.0.0", "2.0.0"},
			want:   []string{"2.0.0"},
		},
		"invalid dropped": {
			remote: []string{"latest", "1.0", "1.0.0-rc.1"},
			want:   []string{"1.0.0-rc.1"},
		},
		"up to date": {
			remote:   []string{"1.0.0"},
			existing: []string{"1.0.0"},
		},
	}
	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			got := NewTags(tc.remote, tc.existing)
			if len(tc.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

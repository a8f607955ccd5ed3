package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkghub/hubcap/internal/index"
)

type staticSource struct {
	idx  *index.Index
	path string
}

func (s *staticSource) LastIndex() *index.Index { return s.idx }
func (s *staticSource) HubPath() string { return s.path }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newHub(t *testing.T) *staticSource {
	t.Helper()
	root := t.TempDir()
	pkgs := filepath.Join(root, "data", "packages")
	for _, v := range []string{"1.0.0", "0.9.0", "1.10.0", "1.2.0"} {
		writeFile(t, filepath.Join(pkgs, "dbt-labs", "dbt_utils", "versions", v+".json"), "{}")
	}
	writeFile(t, filepath.Join(pkgs, "dbt-labs", "dbt_utils", "index.json"),
		`{"name": "dbt_utils", "namespace": "dbt-labs", "description": "utils", "latest": "1.10.0", "assets": {"logo": "logos/dbt-labs.svg"}}`)
	writeFile(t, filepath.Join(pkgs, "acme", "widgets", "versions", "0.1.0.json"), "{}")
	writeFile(t, filepath.Join(pkgs, "acme", "widgets", "index.json"), `not json`)
	writeFile(t, filepath.Join(pkgs, "calogica", "dbt_expectations", "versions", "0.5.0.json"), "{}")

	idx, err := index.Build(root, nil)
	require.NoError(t, err)
	return &staticSource{idx: idx, path: root}
}

func newCatalog(t *testing.T, src Source) *Catalog {
	t.Helper()
	c, err := New(Config{Source: src, CacheSize: 10})
	require.NoError(t, err)
	return c
}

func TestNotLoadedUntilRefresh(t *testing.T) {
	c := newCatalog(t, newHub(t))
	assert.False(t, c.Loaded())

	_, err := c.GetPackage("dbt-labs", "dbt_utils")
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, err = c.ListPackages("", "", 0)
	assert.ErrorIs(t, err, ErrNotLoaded)
	assert.Zero(t, c.PackageCount())
	assert.True(t, c.LastSyncAt().IsZero())

	c.Refresh()
	assert.True(t, c.Loaded())
	assert.Equal(t, 3, c.PackageCount())
	assert.False(t, c.LastSyncAt().IsZero())
}

func TestGetPackage(t *testing.T) {
	c := newCatalog(t, newHub(t))
	c.Refresh()

	rec, err := c.GetPackage("dbt-labs", "dbt_utils")
	require.NoError(t, err)
	assert.Equal(t, "dbt_utils", rec.Name)
	assert.Equal(t, "1.10.0", rec.Latest)
	assert.JSONEq(t, `{"logo": "logos/dbt-labs.svg"}`, string(rec.Assets))

	_, err = c.GetPackage("dbt-labs", "dbt_utils")
	require.NoError(t, err)
	stats := c.CacheStats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 10, stats.Capacity)
	assert.InDelta(t, 0.5, stats.HitRate, 0.001)
}

func TestGetPackageErrors(t *testing.T) {
	c := newCatalog(t, newHub(t))
	c.Refresh()

	testCases := map[string]struct {
		namespace, name string
		notFound        bool
	}{
		"unknown package":      {namespace: "dbt-labs", name: "nope", notFound: true},
		"no index record":      {namespace: "calogica", name: "dbt_expectations", notFound: true},
		"path traversal":       {namespace: "..", name: "dbt_utils", notFound: true},
		"escaped separator":    {namespace: "dbt-labs", name: "..%2F..%2Fsecrets", notFound: true},
		"invalid index record": {namespace: "acme", name: "widgets"},
	}
	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			_, err := c.GetPackage(tc.namespace, tc.name)
			require.Error(t, err)
			if tc.notFound {
				assert.ErrorIs(t, err, ErrNotFound)
			} else {
				assert.NotErrorIs(t, err, ErrNotFound)
			}
		})
	}
}

func TestRefreshPurgesCache(t *testing.T) {
	src := newHub(t)
	c := newCatalog(t, src)
	c.Refresh()

	_, err := c.GetPackage("dbt-labs", "dbt_utils")
	require.NoError(t, err)
	writeFile(t, filepath.Join(src.path, "data", "packages", "dbt-labs", "dbt_utils", "index.json"),
		`{"name": "dbt_utils", "namespace": "dbt-labs", "latest": "1.11.0"}`)

	rec, err := c.GetPackage("dbt-labs", "dbt_utils")
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", rec.Latest, "served from cache")

	c.Refresh()
	rec, err = c.GetPackage("dbt-labs", "dbt_utils")
	require.NoError(t, err)
	assert.Equal(t, "1.11.0", rec.Latest)
	assert.Equal(t, 1, c.CacheStats().Size)
}

func TestListPackages(t *testing.T) {
	c := newCatalog(t, newHub(t))
	c.Refresh()

	page, err := c.ListPackages("", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Packages, 2)
	assert.Equal(t, "acme", page.Packages[0].Namespace)
	assert.Equal(t, "calogica", page.Packages[1].Namespace)
	assert.Equal(t, "calogica/dbt_expectations", page.Metadata.NextCursor)

	page, err = c.ListPackages("", page.Metadata.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page.Packages, 1)
	assert.Equal(t, "dbt_utils", page.Packages[0].Name)
	assert.Equal(t, []string{"0.9.0", "1.0.0", "1.2.0", "1.10.0"}, page.Packages[0].Versions)
	assert.Empty(t, page.Metadata.NextCursor)

	page, err = c.ListPackages("UTILS", "", 0)
	require.NoError(t, err)
	require.Len(t, page.Packages, 1)
	assert.Equal(t, 1, page.Metadata.Count)
}

func TestNewRequiresSource(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

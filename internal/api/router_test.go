package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkghub/hubcap/internal/catalog"
	"github.com/pkghub/hubcap/internal/domain"
)

type fakeCatalog struct {
	loaded  bool
	records map[string]*domain.IndexRecord
	broken  map[string]bool
	query   string
}

func (f *fakeCatalog) GetPackage(namespace, name string) (*domain.IndexRecord, error) {
	if !f.loaded {
		return nil, catalog.ErrNotLoaded
	}
	key := namespace + "/" + name
	if f.broken[key] {
		return nil, fmt.Errorf("failed to parse index record for %s", key)
	}
	rec, ok := f.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrNotFound, key)
	}
	return rec, nil
}

func (f *fakeCatalog) ListPackages(query, cursor string, limit int) (*domain.PackageListResponse, error) {
	if !f.loaded {
		return nil, catalog.ErrNotLoaded
	}
	f.query = query
	return &domain.PackageListResponse{
		Packages: []domain.PackageSummary{{Namespace: "dbt-labs", Name: "dbt_utils", Versions: []string{"1.0.0"}}},
		Metadata: domain.ListMetadata{Count: 1},
	}, nil
}

func (f *fakeCatalog) PackageCount() int { return len(f.records) }
func (f *fakeCatalog) Loaded() bool { return f.loaded }
func (f *fakeCatalog) CacheStats() *domain.CacheStats {
	return &domain.CacheStats{Capacity: 10}
}

type fakeRuns struct {
	last    *domain.RunSummary
	running bool
}

func (f *fakeRuns) LastSummary() *domain.RunSummary { return f.last }
func (f *fakeRuns) IsRunning() bool { return f.running }
func (f *fakeRuns) LastRunTime() time.Time {
	if f.last == nil {
		return time.Time{}
	}
	return f.last.FinishedAt
}

type fakeHub struct{}

func (fakeHub) HubHead() (string, string) { return "main", "abc123" }

type fakeTrigger struct{ calls int }

func (f *fakeTrigger) Trigger() { f.calls++ }

func newRouter(cat *fakeCatalog, runs *fakeRuns, secret string, trigger *fakeTrigger) http.Handler {
	return NewRouter(Config{
		Catalog:       cat,
		Runs:          runs,
		Hub:           fakeHub{},
		HubRepo:       "dbt-labs/hub.getdbt.com",
		Trigger:       trigger,
		WebhookSecret: secret,
	})
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func loadedCatalog() *fakeCatalog {
	return &fakeCatalog{
		loaded: true,
		records: map[string]*domain.IndexRecord{
			"dbt-labs/dbt_utils": {
				Name:      "dbt_utils",
				Namespace: "dbt-labs",
				Latest:    "1.3.0",
				Assets:    json.RawMessage(`{"logo":"logos/placeholder.svg"}`),
			},
		},
		broken: map[string]bool{"acme/widgets": true},
	}
}

func TestHealth(t *testing.T) {
	finished := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

	testCases := map[string]struct {
		catalog *fakeCatalog
		runs    *fakeRuns
		status  string
	}{
		"before first run": {
			catalog: &fakeCatalog{},
			runs:    &fakeRuns{running: true},
			status:  "degraded",
		},
		"healthy": {
			catalog: loadedCatalog(),
			runs:    &fakeRuns{last: &domain.RunSummary{FinishedAt: finished}},
			status:  "ok",
		},
		"last run failed": {
			catalog: loadedCatalog(),
			runs:    &fakeRuns{last: &domain.RunSummary{FinishedAt: finished, Error: "failed to clone hub"}},
			status:  "degraded",
		},
	}
	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			rec, body := get(t, newRouter(tc.catalog, tc.runs, "", nil), "/v1/health")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.status, body["status"])
			assert.Equal(t, "dbt-labs/hub.getdbt.com", body["hub_repo"])
			assert.Equal(t, "main", body["branch"])
			assert.Equal(t, "abc123", body["commit_sha"])
		})
	}

	_, body := get(t, newRouter(loadedCatalog(), &fakeRuns{last: &domain.RunSummary{FinishedAt: finished}}, "", nil), "/v1/health")
	assert.Equal(t, "2026-10-19T08:00:00Z", body["last_run_at"])
	assert.EqualValues(t, 1, body["package_count"])
}

func TestPingAndVersion(t *testing.T) {
	h := newRouter(loadedCatalog(), &fakeRuns{}, "", nil)

	rec, body := get(t, h, "/v1/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["pong"])

	rec, body = get(t, h, "/v1/version")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "version")
	assert.Contains(t, body, "git_commit")
}

func TestLastRun(t *testing.T) {
	rec, _ := get(t, newRouter(loadedCatalog(), &fakeRuns{}, "", nil), "/v1/runs/last")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	runs := &fakeRuns{last: &domain.RunSummary{TasksBuilt: 2, Branches: []string{"bump-package-versions-1700000000"}}}
	rec, body := get(t, newRouter(loadedCatalog(), runs, "", nil), "/v1/runs/last")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["tasks_built"])
	assert.Equal(t, []any{"bump-package-versions-1700000000"}, body["branches"])
}

func TestPackages(t *testing.T) {
	cat := loadedCatalog()
	h := newRouter(cat, &fakeRuns{}, "", nil)

	testCases := map[string]struct {
		path string
		code int
	}{
		"list":             {path: "/v1/packages?q=utils&limit=5", code: http.StatusOK},
		"get":              {path: "/v1/packages/dbt-labs/dbt_utils", code: http.StatusOK},
		"unknown":          {path: "/v1/packages/dbt-labs/nope", code: http.StatusNotFound},
		"unreadable":       {path: "/v1/packages/acme/widgets", code: http.StatusInternalServerError},
		"missing name":     {path: "/v1/packages/dbt-labs", code: http.StatusNotFound},
		"unknown endpoint": {path: "/v1/servers", code: http.StatusNotFound},
	}
	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			rec, _ := get(t, h, tc.path)
			assert.Equal(t, tc.code, rec.Code)
		})
	}

	_, body := get(t, h, "/v1/packages/dbt-labs/dbt_utils")
	assert.Equal(t, "1.3.0", body["latest"])
	assert.Equal(t, "utils", cat.query)
}

func TestPackagesBeforeFirstRun(t *testing.T) {
	h := newRouter(&fakeCatalog{}, &fakeRuns{}, "", nil)

	rec, _ := get(t, h, "/v1/packages")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec, _ = get(t, h, "/v1/packages/dbt-labs/dbt_utils")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(loadedCatalog(), &fakeRuns{}, "", nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hubcap_catalog_packages")
}

func TestWebhookRoute(t *testing.T) {
	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(`{}`))
		r.Header.Set("X-GitHub-Event", "ping")
		return r
	}

	rec := httptest.NewRecorder()
	newRouter(loadedCatalog(), &fakeRuns{}, "", &fakeTrigger{}).ServeHTTP(rec, req())
	assert.Equal(t, http.StatusNotFound, rec.Code, "not mounted without a secret")

	rec = httptest.NewRecorder()
	newRouter(loadedCatalog(), &fakeRuns{}, "s3cret", &fakeTrigger{}).ServeHTTP(rec, req())
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "mounted and verifying signatures")
}

// Package catalog serves read-only views of the hub tree produced by the
// last pipeline run.
package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pkghub/hubcap/internal/domain"
	"github.com/pkghub/hubcap/internal/index"
	"github.com/pkghub/hubcap/internal/metrics"
	"github.com/pkghub/hubcap/internal/version"
)

var (
	// ErrNotLoaded is returned before the first run has built an index
	ErrNotLoaded = errors.New("version index not loaded")
	// ErrNotFound is returned for packages the hub does not list
	ErrNotFound = errors.New("package not found")
)

// Source exposes the outputs of the most recent run
type Source interface {
	LastIndex() *index.Index
	HubPath() string
}

// Catalog provides access to package index records
type Catalog struct {
	source    Source
	cache     *lru.Cache[string, *domain.IndexRecord]
	cacheSize int
	logger    *slog.Logger

	mu      sync.RWMutex
	index   *index.Index
	hubPath string

	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	lastSyncAt  atomic.Value // time.Time
}

// Config holds catalog configuration
type Config struct {
	Source    Source
	CacheSize int
	Logger    *slog.Logger
}

// New creates a catalog. It is empty until Refresh is called.
func New(cfg Config) (*Catalog, error) {
	if cfg.Source == nil {
		return nil, errors.New("source is required")
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache, err := lru.New[string, *domain.IndexRecord](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	c := &Catalog{
		source:    cfg.Source,
		cache:     cache,
		cacheSize: cfg.CacheSize,
		logger:    cfg.Logger,
	}
	c.lastSyncAt.Store(time.Time{})
	return c, nil
}

// Refresh picks up the latest run's index and invalidates the cache
func (c *Catalog) Refresh() {
	c.cache.Purge()
	c.cacheHits.Store(0)
	c.cacheMisses.Store(0)

	idx := c.source.LastIndex()
	hubPath := c.source.HubPath()

	c.mu.Lock()
	c.index = idx
	c.hubPath = hubPath
	c.mu.Unlock()

	if idx == nil {
		return
	}
	c.lastSyncAt.Store(time.Now())
	metrics.CatalogPackages.Set(float64(idx.Len()))
	c.logger.Info("catalog refreshed", "packages", idx.Len(), "versions", idx.VersionCount())
}

// GetPackage returns the index record of namespace/name from the hub tree
func (c *Catalog) GetPackage(namespace, name string) (*domain.IndexRecord, error) {
	namespace = unescape(namespace)
	name = unescape(name)
	key := namespace + "/" + name

	if rec, ok := c.cache.Get(key); ok {
		c.cacheHits.Add(1)
		metrics.CatalogCacheHits.Inc()
		return rec, nil
	}
	c.cacheMisses.Add(1)
	metrics.CatalogCacheMisses.Inc()

	c.mu.RLock()
	idx, hubPath := c.index, c.hubPath
	c.mu.RUnlock()
	if idx == nil {
		return nil, ErrNotLoaded
	}
	if !validSegment(namespace) || !validSegment(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	dir := filepath.Dir(domain.PackageVersionsDir(hubPath, namespace, name))
	data, err := os.ReadFile(filepath.Join(dir, domain.IndexFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index record: %w", err)
	}

	rec := domain.DecodeIndexRecord(data)
	if rec == nil {
		return nil, fmt.Errorf("failed to parse index record for %s", key)
	}

	c.cache.Add(key, rec)
	return rec, nil
}

// ListPackages returns a page of packages sorted by namespace then name.
// cursor is the namespace/name of the last entry of the previous page.
// A non-empty query keeps packages whose namespace/name contains it.
func (c *Catalog) ListPackages(query, cursor string, limit int) (*domain.PackageListResponse, error) {
	c.mu.RLock()
	idx := c.index
	c.mu.RUnlock()
	if idx == nil {
		return nil, ErrNotLoaded
	}

	if limit <= 0 {
		limit = 30
	}
	if limit > 100 {
		limit = 100
	}
	query = strings.ToLower(query)

	var keys []index.Key
	for _, k := range idx.Keys() {
		if query != "" && !strings.Contains(strings.ToLower(k.Maintainer+"/"+k.Package), query) {
			continue
		}
		keys = append(keys, k)
	}

	start := 0
	if cursor != "" {
		for i, k := range keys {
			if k.Maintainer+"/"+k.Package == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(keys) {
		end = len(keys)
	}

	results := make([]domain.PackageSummary, 0, end-start)
	for _, k := range keys[start:end] {
		results = append(results, domain.PackageSummary{
			Namespace: k.Maintainer,
			Name:      k.Package,
			Versions:  version.Sort(idx.Tags(k.Package, k.Maintainer)),
		})
	}

	var next string
	if end < len(keys) {
		next = keys[end-1].Maintainer + "/" + keys[end-1].Package
	}
	return &domain.PackageListResponse{
		Packages: results,
		Metadata: domain.ListMetadata{NextCursor: next, Count: len(results)},
	}, nil
}

// PackageCount returns the number of packages in the loaded index
func (c *Catalog) PackageCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.index == nil {
		return 0
	}
	return c.index.Len()
}

// Loaded reports whether a run has produced an index yet
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index != nil
}

// CacheStats returns current cache statistics
func (c *Catalog) CacheStats() *domain.CacheStats {
	hits := c.cacheHits.Load()
	misses := c.cacheMisses.Load()
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return &domain.CacheStats{
		Size:     c.cache.Len(),
		Capacity: c.cacheSize,
		HitRate:  hitRate,
	}
}

// LastSyncAt returns when the catalog last picked up an index
func (c *Catalog) LastSyncAt() time.Time {
	return c.lastSyncAt.Load().(time.Time)
}

func unescape(s string) string {
	if d, err := url.PathUnescape(s); err == nil {
		return d
	}
	return s
}

// validSegment rejects names that would leave the packages directory
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

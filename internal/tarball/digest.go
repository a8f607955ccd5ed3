// Package tarball computes content digests of release tarballs.
package tarball

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Digester downloads tarballs and hashes them with SHA-1, the digest hub
// consumers verify against
type Digester struct {
	client *http.Client
	cache  *lru.Cache[string, string]
	logger *slog.Logger
}

// Config holds digester configuration
type Config struct {
	// Timeout bounds a single download
	Timeout   time.Duration
	CacheSize int
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// New creates a digester
func New(cfg Config) (*Digester, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Digester{
		client: &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		cache:  cache,
		logger: cfg.Logger,
	}, nil
}

// SHA1 returns the lowercase hex SHA-1 of the body served at url
func (d *Digester) SHA1(ctx context.Context, url string) (string, error) {
	if sum, ok := d.cache.Get(url); ok {
		return sum, nil
	}

	d.logger.Debug("downloading tarball", "url", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	h := sha1.New()
	if _, err := io.Copy(h, resp.Body); err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	sum := hex.EncodeToString(h.Sum(nil))

	d.cache.Add(url, sum)
	d.logger.Info("tarball digested", "url", url, "sha1", sum)
	return sum, nil
}

// Package compat runs the Fusion schema compatibility check against a
// package working tree.
package compat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/pkghub/hubcap/internal/domain"
)

// DefaultProfile is used when the project does not name one
const DefaultProfile = "test_schema_compat"

const (
	profilesFile  = "profiles.yml"
	strictModeEnv = "_DBT_FUSION_STRICT_MODE=1"
)

// Checker parses a package with the Fusion binary in strict mode
type Checker struct {
	binary  string
	timeout time.Duration
	cache   *lru.Cache[string, domain.Compatibility]
	logger  *slog.Logger
}

// Config holds checker configuration
type Config struct {
	// Binary is the Fusion executable, looked up on PATH when not absolute
	Binary    string
	Timeout   time.Duration
	CacheSize int
	Logger    *slog.Logger
}

// New creates a checker
func New(cfg Config) (*Checker, error) {
	if cfg.Binary == "" {
		cfg.Binary = "dbtf"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache, err := lru.New[string, domain.Compatibility](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	return &Checker{
		binary:  cfg.Binary,
		timeout: cfg.Timeout,
		cache:   cache,
		logger:  cfg.Logger,
	}, nil
}

// Check reports whether the project in dir parses cleanly. It never fails:
// anything that prevents a verdict yields CompatUnknown. A non-empty rev
// (the checked out commit) enables caching.
func (c *Checker) Check(ctx context.Context, dir, profile, rev string) domain.Compatibility {
	key := dir + "@" + rev
	if rev != "" {
		if res, ok := c.cache.Get(key); ok {
			return res
		}
	}

	res := c.check(ctx, dir, profile)
	if rev != "" && res != domain.CompatUnknown {
		c.cache.Add(key, res)
	}
	return res
}

func (c *Checker) check(ctx context.Context, dir, profile string) domain.Compatibility {
	if profile == "" {
		profile = DefaultProfile
	}
	logger := c.logger.With("dir", dir, "profile", profile)

	restore, err := writeProfiles(dir, profile)
	if err != nil {
		logger.Warn("failed to write temporary profiles", "error", err)
		return domain.CompatUnknown
	}
	defer func() {
		if err := restore(); err != nil {
			logger.Warn("failed to clean up temporary profiles", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, "parse", "--profile", profile, "--project-dir", dir)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), strictModeEnv)
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err = cmd.Run()
	switch {
	case err == nil:
		logger.Info("package is fusion schema compatible")
		return domain.CompatCompatible
	case ctx.Err() != nil:
		logger.Warn("compatibility check timed out", "timeout", c.timeout)
		return domain.CompatUnknown
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		logger.Info("package is not fusion schema compatible", "exit_code", exitErr.ExitCode(), "output", tail(out.String(), 2000))
		return domain.CompatIncompatible
	}
	logger.Warn("compatibility check could not run", "binary", c.binary, "error", err)
	return domain.CompatUnknown
}

type postgresTarget struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	Schema   string `yaml:"schema"`
	Threads  int    `yaml:"threads"`
}

type profileEntry struct {
	Target  string                    `yaml:"target"`
	Outputs map[string]postgresTarget `yaml:"outputs"`
}

// Profiles renders the placeholder profiles.yml; the parse never connects
func Profiles(profile string) ([]byte, error) {
	return yaml.Marshal(map[string]profileEntry{
		profile: {
			Target: "dev",
			Outputs: map[string]postgresTarget{
				"dev": {
					Type:     "postgres",
					Host:     "localhost",
					Port:     5432,
					User:     "postgres",
					Password: "postgres",
					DBName:   "postgres",
					Schema:   "public",
					Threads:  1,
				},
			},
		},
	})
}

// writeProfiles installs the placeholder and returns a func putting back
// whatever was there before
func writeProfiles(dir, profile string) (func() error, error) {
	path := filepath.Join(dir, profilesFile)

	data, err := Profiles(profile)
	if err != nil {
		return nil, err
	}

	prior, err := os.ReadFile(path)
	existed := err == nil
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, err
	}

	return func() error {
		if existed {
			return os.WriteFile(path, prior, 0o644)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Package index builds the set of versions already recorded in the hub tree.
package index

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkghub/hubcap/internal/domain"
)

// Key identifies a package in the hub
type Key struct {
	Package    string
	Maintainer string
}

// Index maps each hub package to the version strings it already records.
// It is built once per run and never mutated afterwards.
type Index struct {
	entries map[Key]map[string]struct{}
}

// Build walks <hubRoot>/data/packages/<maintainer>/<package>/versions and
// records every <tag>.json it finds. Only structural problems with the hub
// root are errors. Unreadable maintainer or package directories are logged
// and contribute nothing.
func Build(hubRoot string, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(hubRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.Errorf(domain.KindFileOperation, "build version index", "hub path %s does not exist", hubRoot)
		}
		return nil, domain.E(domain.KindFileOperation, "build version index", err)
	}
	if !info.IsDir() {
		return nil, domain.Errorf(domain.KindFileOperation, "build version index", "hub path %s is not a directory", hubRoot)
	}

	packagesDir := filepath.Join(hubRoot, filepath.FromSlash(domain.PackagesDir))
	info, err = os.Stat(packagesDir)
	if err != nil || !info.IsDir() {
		return nil, domain.Errorf(domain.KindFileOperation, "build version index", "packages directory not found at %s", packagesDir)
	}

	maintainers, err := os.ReadDir(packagesDir)
	if err != nil {
		return nil, domain.E(domain.KindFileOperation, "build version index", err)
	}

	idx := &Index{entries: make(map[Key]map[string]struct{})}
	for _, m := range maintainers {
		if !m.IsDir() {
			continue
		}
		maintainerDir := filepath.Join(packagesDir, m.Name())
		pkgs, err := os.ReadDir(maintainerDir)
		if err != nil {
			logger.Warn("skipping unreadable maintainer directory", "maintainer", m.Name(), "error", err)
			continue
		}
		for _, p := range pkgs {
			if !p.IsDir() {
				continue
			}
			key := Key{Package: p.Name(), Maintainer: m.Name()}
			tags, err := readVersions(filepath.Join(maintainerDir, p.Name(), domain.VersionsDir))
			if err != nil {
				logger.Warn("skipping unreadable package directory",
					"maintainer", m.Name(), "package", p.Name(), "error", err)
				tags = nil
			}
			set := make(map[string]struct{}, len(tags))
			for _, t := range tags {
				set[t] = struct{}{}
			}
			idx.entries[key] = set
		}
	}

	logger.Info("version index built", "packages", len(idx.entries), "versions", idx.VersionCount())
	return idx, nil
}

func readVersions(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tags []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if tag := strings.TrimSuffix(name, ".json"); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}

// Tags returns the recorded versions for a package, sorted. A package
// missing from the index has none.
func (i *Index) Tags(pkg, maintainer string) []string {
	set := i.entries[Key{Package: pkg, Maintainer: maintainer}]
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Has reports whether tag is recorded for the package
func (i *Index) Has(pkg, maintainer, tag string) bool {
	_, ok := i.entries[Key{Package: pkg, Maintainer: maintainer}][tag]
	return ok
}

// Keys returns every indexed package sorted by maintainer then package
func (i *Index) Keys() []Key {
	out := make([]Key, 0, len(i.entries))
	for k := range i.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Maintainer != out[b].Maintainer {
			return out[a].Maintainer < out[b].Maintainer
		}
		return out[a].Package < out[b].Package
	})
	return out
}

// Len is the number of indexed packages
func (i *Index) Len() int { return len(i.entries) }

// VersionCount is the number of recorded versions across all packages
func (i *Index) VersionCount() int {
	n := 0
	for _, set := range i.entries {
		n += len(set)
	}
	return n
}

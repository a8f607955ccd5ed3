package domain

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Hub tree layout
const (
	PackagesDir   = "data/packages"
	VersionsDir   = "versions"
	IndexFileName = "index.json"
)

// PackageMaintainer is a GitHub account and the package repositories it owns
type PackageMaintainer struct {
	name     string
	packages []string
}

// NewPackageMaintainer builds a maintainer with a deduplicated, sorted package set
func NewPackageMaintainer(name string, packages []string) PackageMaintainer {
	seen := make(map[string]struct{}, len(packages))
	uniq := make([]string, 0, len(packages))
	for _, p := range packages {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		uniq = append(uniq, p)
	}
	sort.Strings(uniq)
	return PackageMaintainer{name: name, packages: uniq}
}

// Name returns the maintainer's GitHub account
func (m PackageMaintainer) Name() string { return m.name }

// Packages returns a copy of the maintainer's repositories
func (m PackageMaintainer) Packages() []string {
	out := make([]string, len(m.packages))
	copy(out, m.packages)
	return out
}

// HasPackage reports whether repo is tracked for this maintainer
func (m PackageMaintainer) HasPackage(repo string) bool {
	i := sort.SearchStrings(m.packages, repo)
	return i < len(m.packages) && m.packages[i] == repo
}

func (m PackageMaintainer) String() string {
	return fmt.Sprintf("(maintainer: %s, packages: [%s])", m.name, strings.Join(m.packages, ", "))
}

// UpdateTask is one package with tags that are not yet recorded in the hub
type UpdateTask struct {
	// Maintainer is the GitHub account owning the repository
	Maintainer string
	// Repository is the GitHub repository name used for cloning and URLs
	Repository string
	// Package is the name declared in the package's own manifest
	Package string
	// LocalPath is the package's cloned working tree
	LocalPath string
	// ExistingTags are already recorded in the hub
	ExistingTags []string
	// NewTags need a version record, ascending by version precedence
	NewTags []string
	// VersionsDir is where version records for this package live in the hub tree
	VersionsDir string
}

// PackageVersionsDir returns the versions directory of a package in the hub tree
func PackageVersionsDir(hubRoot, maintainer, pkg string) string {
	return filepath.Join(hubRoot, filepath.FromSlash(PackagesDir), maintainer, pkg, VersionsDir)
}

// ClonePath is where a package repository is cloned inside the workspace
func ClonePath(workspace, maintainer, repo string) string {
	return filepath.Join(workspace, maintainer+"_"+repo)
}

// CloneURL is the public clone URL of a GitHub repository
func CloneURL(maintainer, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", maintainer, repo)
}

// IndexPath returns the package's index record path
func (t *UpdateTask) IndexPath() string {
	return filepath.Join(filepath.Dir(t.VersionsDir), IndexFileName)
}

// VersionPath returns the version record path for tag
func (t *UpdateTask) VersionPath(tag string) string {
	return filepath.Join(t.VersionsDir, tag+".json")
}

// FullName is the org/repo pair identifying the task upstream
func (t *UpdateTask) FullName() string {
	return t.Maintainer + "/" + t.Repository
}

func (t *UpdateTask) String() string {
	return fmt.Sprintf("%s (package %s, new tags %v)", t.FullName(), t.Package, t.NewTags)
}

// BranchInfo describes a hub branch produced by the executor
type BranchInfo struct {
	Name string
	// Org and Repo identify the first package that wrote to the branch
	Org  string
	Repo string
	// Sources lists every org/repo that committed to the branch
	Sources []string
	Commits int
}

// HasCommits reports whether the branch carries anything worth a pull request
func (b *BranchInfo) HasCommits() bool { return b.Commits > 0 }

// Compatibility is the outcome of a compatibility check
type Compatibility int

const (
	CompatUnknown Compatibility = iota
	CompatCompatible
	CompatIncompatible
)

// Bool collapses the result to the value stored in records; unknown is false
func (c Compatibility) Bool() bool { return c == CompatCompatible }

func (c Compatibility) String() string {
	switch c {
	case CompatCompatible:
		return "compatible"
	case CompatIncompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

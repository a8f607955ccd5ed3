// Package testutil builds real git working trees for tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/stretchr/testify/require"
)

// Sig is the fixed identity fixture commits are made with
var Sig = &object.Signature{Name: "fixture", Email: "fixture@example.com", When: time.Unix(1700000000, 0)}

// Repo is a fixture working tree
type Repo struct {
	t    *testing.T
	Path string
	Git  *git.Repository
}

// InitRepo creates a repository on branch main at dir
func InitRepo(t *testing.T, dir string) *Repo {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)
	return &Repo{t: t, Path: dir, Git: repo}
}

// WriteFile writes content at a path relative to the tree root
func (r *Repo) WriteFile(rel, content string) {
	r.t.Helper()
	p := filepath.Join(r.Path, filepath.FromSlash(rel))
	require.NoError(r.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(r.t, os.WriteFile(p, []byte(content), 0o644))
}

// CommitAll stages every change and commits it
func (r *Repo) CommitAll(msg string) plumbing.Hash {
	r.t.Helper()
	wt, err := r.Git.Worktree()
	require.NoError(r.t, err)
	require.NoError(r.t, wt.AddWithOptions(&git.AddOptions{All: true}))
	h, err := wt.Commit(msg, &git.CommitOptions{Author: Sig, AllowEmptyCommits: true})
	require.NoError(r.t, err)
	return h
}

// Tag creates a lightweight tag at HEAD
func (r *Repo) Tag(name string) {
	r.t.Helper()
	head, err := r.Git.Head()
	require.NoError(r.t, err)
	_, err = r.Git.CreateTag(name, head.Hash(), nil)
	require.NoError(r.t, err)
}

// AnnotatedTag creates an annotated tag at HEAD
func (r *Repo) AnnotatedTag(name string) {
	r.t.Helper()
	head, err := r.Git.Head()
	require.NoError(r.t, err)
	_, err = r.Git.CreateTag(name, head.Hash(), &git.CreateTagOptions{Tagger: Sig, Message: name})
	require.NoError(r.t, err)
}

var fileTransport sync.Once

// URL returns a file:// URL for the repository. Such URLs are served in
// process, so clones and pushes in tests need no git binary.
func (r *Repo) URL() string {
	fileTransport.Do(func() {
		client.InstallProtocol("file", server.NewClient(server.DefaultLoader))
	})
	return "file://" + filepath.ToSlash(filepath.Join(r.Path, ".git"))
}

// HasBranch reports whether a local branch exists
func (r *Repo) HasBranch(name string) bool {
	r.t.Helper()
	g, err := git.PlainOpen(r.Path)
	require.NoError(r.t, err)
	_, err = g.Reference(plumbing.NewBranchReferenceName(name), false)
	return err == nil
}

// Head returns the HEAD reference
func (r *Repo) Head() *plumbing.Reference {
	r.t.Helper()
	head, err := r.Git.Head()
	require.NoError(r.t, err)
	return head
}

// Log returns commit messages reachable from ref, newest first. The
// repository is reopened so refs written by other handles are visible.
func (r *Repo) Log(ref string) []string {
	r.t.Helper()
	g, err := git.PlainOpen(r.Path)
	require.NoError(r.t, err)
	h, err := g.ResolveRevision(plumbing.Revision(ref))
	require.NoError(r.t, err)
	iter, err := g.Log(&git.LogOptions{From: *h})
	require.NoError(r.t, err)
	var out []string
	require.NoError(r.t, iter.ForEach(func(c *object.Commit) error {
		out = append(out, c.Message)
		return nil
	}))
	return out
}

// PackageProject is the dbt_project.yml written by Package
const PackageProject = "name: '%s'\nversion: '1.0.0'\nrequire-dbt-version: '>=1.3.0'\n"

// Package creates a package repository at dir named name in its manifest,
// with one commit and lightweight tag per entry in tags
func Package(t *testing.T, dir, name string, tags ...string) *Repo {
	t.Helper()
	r := InitRepo(t, dir)
	r.WriteFile("dbt_project.yml", fmt.Sprintf(PackageProject, name))
	r.WriteFile("packages.yml", "packages:\n  - package: dbt-labs/dbt_utils\n    version: \">=1.0.0\"\n")
	r.CommitAll("initial")
	for _, tag := range tags {
		r.WriteFile("CHANGELOG.md", "release "+tag+"\n")
		r.CommitAll("release " + tag)
		r.Tag(tag)
	}
	return r
}

// Hub creates a hub working tree at dir with a README on main
func Hub(t *testing.T, dir string) *Repo {
	t.Helper()
	r := InitRepo(t, dir)
	r.WriteFile("README.md", "hub\n")
	r.WriteFile("data/packages/.keep", "")
	r.CommitAll("initial")
	return r
}

package gitstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/pkghub/hubcap/internal/domain"
)

// ErrNothingToCommit is returned by CommitPaths when none of the paths changed
var ErrNothingToCommit = errors.New("nothing to commit")

// DefaultRemote is the remote a clone is made from
const DefaultRemote = "origin"

// TokenSource supplies an access token for HTTPS git transport
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Repo is an explicit handle on one working tree. Every operation acts on
// Path and never on the process working directory.
type Repo struct {
	config        Config
	repo          *git.Repository
	worktree      *git.Worktree
	defaultBranch string
	mu            sync.Mutex
	logger        *slog.Logger
}

// Config holds working tree configuration
type Config struct {
	// URL is cloned from when using Clone
	URL string
	// Branch to clone; empty means the remote HEAD
	Branch string
	Path   string
	// Auth is optional; without it remotes are accessed anonymously
	Auth     TokenSource
	Username string
	Author   Signature
	Logger   *slog.Logger
}

// Signature is the identity commits are made with
type Signature struct {
	Name  string
	Email string
}

func (c *Config) defaults() error {
	if c.Path == "" {
		return errors.New("local path is required")
	}
	abs, err := filepath.Abs(c.Path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", c.Path, err)
	}
	c.Path = abs
	if c.Username == "" {
		c.Username = "x-access-token"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Open wraps an existing working tree. The branch checked out now becomes
// the default branch.
func Open(cfg Config) (*Repo, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	repo, err := git.PlainOpen(cfg.Path)
	if err != nil {
		return nil, gitErr("open", fmt.Errorf("%s: %w", cfg.Path, err))
	}
	return newRepo(cfg, repo)
}

// Clone performs a clean clone of cfg.URL into cfg.Path, including tags
func Clone(ctx context.Context, cfg Config) (*Repo, error) {
	if cfg.URL == "" {
		return nil, errors.New("repo URL is required")
	}
	if err := cfg.defaults(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.RemoveAll(cfg.Path); err != nil {
		return nil, fmt.Errorf("failed to clean existing directory: %w", err)
	}

	auth, err := authFor(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth: %w", err)
	}

	cfg.Logger.Info("cloning repository", "url", cfg.URL, "branch", cfg.Branch, "path", cfg.Path)

	opts := &git.CloneOptions{
		URL:  cfg.URL,
		Auth: auth,
		Tags: git.AllTags,
	}
	if cfg.Branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(cfg.Branch)
	}

	repo, err := git.PlainCloneContext(ctx, cfg.Path, false, opts)
	if err != nil {
		return nil, gitErr("clone", fmt.Errorf("%s: %w", cfg.URL, err))
	}
	r, err := newRepo(cfg, repo)
	if err != nil {
		return nil, err
	}
	head, _ := r.HeadCommit()
	cfg.Logger.Info("clone completed", "path", cfg.Path, "branch", r.defaultBranch, "commit", head)
	return r, nil
}

func newRepo(cfg Config, repo *git.Repository) (*Repo, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, gitErr("open", fmt.Errorf("failed to get worktree: %w", err))
	}
	r := &Repo{config: cfg, repo: repo, worktree: wt, logger: cfg.Logger}

	head, err := repo.Head()
	switch {
	case err == nil && head.Name().IsBranch():
		r.defaultBranch = head.Name().Short()
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// unborn HEAD: read the symbolic target
		if sym, serr := repo.Storer.Reference(plumbing.HEAD); serr == nil && sym.Type() == plumbing.SymbolicReference {
			r.defaultBranch = sym.Target().Short()
		}
	case err != nil:
		return nil, gitErr("open", fmt.Errorf("failed to read HEAD: %w", err))
	}
	return r, nil
}

// Path returns the working tree root
func (r *Repo) Path() string { return r.config.Path }

// DefaultBranch is the branch that was checked out when the handle was made
func (r *Repo) DefaultBranch() string { return r.defaultBranch }

// SetIdentity changes the author used by CommitPaths
func (r *Repo) SetIdentity(name, email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config.Author = Signature{Name: name, Email: email}
}

// CurrentBranch returns the checked out branch, or "" when HEAD is detached
func (r *Repo) CurrentBranch() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentBranch()
}

func (r *Repo) currentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", gitErr("head", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// HeadCommit returns the HEAD commit SHA
func (r *Repo) HeadCommit() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", gitErr("head", err)
	}
	return head.Hash().String(), nil
}

// HasRemote reports whether a remote is configured
func (r *Repo) HasRemote(name string) bool {
	_, err := r.repo.Remote(name)
	return err == nil
}

// Tags returns all tag names, fetching them from origin first when the
// working tree has one
func (r *Repo) Tags(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.HasRemote(DefaultRemote) {
		auth, err := authFor(ctx, r.config)
		if err != nil {
			return nil, fmt.Errorf("failed to get auth: %w", err)
		}
		err = r.repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: DefaultRemote,
			RefSpecs:   []config.RefSpec{"+refs/tags/*:refs/tags/*"},
			Tags:       git.AllTags,
			Auth:       auth,
			Force:      true,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, gitErr("fetch tags", err)
		}
	}

	iter, err := r.repo.Tags()
	if err != nil {
		return nil, gitErr("list tags", err)
	}
	var tags []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		tags = append(tags, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, gitErr("list tags", err)
	}
	sort.Strings(tags)
	return tags, nil
}

// CheckoutTag detaches HEAD at the commit tag points to. Annotated tags are
// peeled.
func (r *Repo) CheckoutTag(tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, err := r.repo.Tag(tag)
	if err != nil {
		return gitErr("checkout", fmt.Errorf("tag %s: %w", tag, err))
	}
	hash := ref.Hash()
	if obj, err := r.repo.TagObject(hash); err == nil {
		c, err := obj.Commit()
		if err != nil {
			return gitErr("checkout", fmt.Errorf("tag %s: %w", tag, err))
		}
		hash = c.Hash
	} else if !errors.Is(err, plumbing.ErrObjectNotFound) {
		return gitErr("checkout", fmt.Errorf("tag %s: %w", tag, err))
	}

	if err := r.worktree.Checkout(&git.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return gitErr("checkout", fmt.Errorf("tag %s: %w", tag, err))
	}
	return nil
}

// EnsureBranch checks out name, creating it from the default branch when it
// does not exist yet. It reports whether the branch was created.
func (r *Repo) EnsureBranch(name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	branchRef := plumbing.NewBranchReferenceName(name)
	if _, err := r.repo.Reference(branchRef, true); err == nil {
		if err := r.worktree.Checkout(&git.CheckoutOptions{Branch: branchRef}); err != nil {
			return false, gitErr("checkout", fmt.Errorf("branch %s: %w", name, err))
		}
		return false, nil
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return false, gitErr("checkout", err)
	}

	base, err := r.repo.Reference(plumbing.NewBranchReferenceName(r.defaultBranch), true)
	if err != nil {
		return false, gitErr("checkout", fmt.Errorf("default branch %s: %w", r.defaultBranch, err))
	}
	err = r.worktree.Checkout(&git.CheckoutOptions{
		Branch: branchRef,
		Hash:   base.Hash(),
		Create: true,
	})
	if err != nil {
		return false, gitErr("checkout", fmt.Errorf("create branch %s: %w", name, err))
	}
	return true, nil
}

// Checkout switches to an existing branch. force discards local changes to
// tracked files.
func (r *Repo) Checkout(branch string, force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.checkout(branch, force)
}

func (r *Repo) checkout(branch string, force bool) error {
	err := r.worktree.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Force:  force,
	})
	if err != nil {
		return gitErr("checkout", fmt.Errorf("branch %s: %w", branch, err))
	}
	return nil
}

// CheckoutDefault returns the working tree to its default branch
func (r *Repo) CheckoutDefault(force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, err := r.currentBranch(); err == nil && cur == r.defaultBranch && !force {
		return nil
	}
	return r.checkout(r.defaultBranch, force)
}

// CommitPaths stages the given paths (absolute or relative to the working
// tree root) and commits them. ErrNothingToCommit is returned when none of
// them differ from HEAD.
func (r *Repo) CommitPaths(message string, paths ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rels := make([]string, 0, len(paths))
	for _, p := range paths {
		rel, err := r.rel(p)
		if err != nil {
			return "", gitErr("commit", err)
		}
		if _, err := r.worktree.Add(rel); err != nil {
			return "", gitErr("commit", fmt.Errorf("stage %s: %w", rel, err))
		}
		rels = append(rels, rel)
	}

	status, err := r.worktree.Status()
	if err != nil {
		return "", gitErr("commit", err)
	}
	staged := false
	for _, rel := range rels {
		switch status.File(rel).Staging {
		case git.Added, git.Modified, git.Deleted, git.Renamed, git.Copied:
			staged = true
		}
	}
	if !staged {
		return "", ErrNothingToCommit
	}

	hash, err := r.worktree.Commit(message, &git.CommitOptions{Author: r.signature()})
	if err != nil {
		return "", gitErr("commit", err)
	}
	return hash.String(), nil
}

// Discard deletes a file that has not been committed and drops it from
// the index
func (r *Repo) Discard(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rel, err := r.rel(path)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(r.config.Path, filepath.FromSlash(rel))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	idx, err := r.repo.Storer.Index()
	if err != nil {
		return gitErr("discard", err)
	}
	if _, err := idx.Remove(rel); err != nil {
		return nil
	}
	if err := r.repo.Storer.SetIndex(idx); err != nil {
		return gitErr("discard", err)
	}
	return nil
}

// AddRemote configures a remote. An existing remote with another URL is
// replaced.
func (r *Repo) AddRemote(name, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if remote, err := r.repo.Remote(name); err == nil {
		urls := remote.Config().URLs
		if len(urls) > 0 && urls[0] == url {
			return nil
		}
		if err := r.repo.DeleteRemote(name); err != nil {
			return gitErr("remote", err)
		}
	}
	if _, err := r.repo.CreateRemote(&config.RemoteConfig{Name: name, URLs: []string{url}}); err != nil {
		return gitErr("remote", fmt.Errorf("add %s: %w", name, err))
	}
	return nil
}

// RemoteURLs returns the URLs configured for a remote
func (r *Repo) RemoteURLs(name string) ([]string, error) {
	remote, err := r.repo.Remote(name)
	if err != nil {
		return nil, gitErr("remote", fmt.Errorf("%s: %w", name, err))
	}
	return remote.Config().URLs, nil
}

// Fetch updates refs from a remote
func (r *Repo) Fetch(ctx context.Context, remote string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, err := authFor(ctx, r.config)
	if err != nil {
		return fmt.Errorf("failed to get auth: %w", err)
	}
	err = r.repo.FetchContext(ctx, &git.FetchOptions{RemoteName: remote, Auth: auth})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return gitErr("fetch", fmt.Errorf("%s: %w", remote, err))
	}
	return nil
}

// Push publishes a local branch to the same name on remote
func (r *Repo) Push(ctx context.Context, remote, branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	auth, err := authFor(ctx, r.config)
	if err != nil {
		return fmt.Errorf("failed to get auth: %w", err)
	}
	ref := plumbing.NewBranchReferenceName(branch)
	err = r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remote,
		RefSpecs:   []config.RefSpec{config.RefSpec(ref + ":" + ref)},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return gitErr("push", fmt.Errorf("%s to %s: %w", branch, remote, err))
	}
	return nil
}

// ReadFile reads a file relative to the working tree root
func (r *Repo) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(r.config.Path, filepath.FromSlash(path)))
}

func (r *Repo) rel(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(filepath.Clean(path)), nil
	}
	rel, err := filepath.Rel(r.config.Path, path)
	if err != nil {
		return "", err
	}
	if rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return "", fmt.Errorf("%s is outside %s", path, r.config.Path)
	}
	return filepath.ToSlash(rel), nil
}

func (r *Repo) signature() *object.Signature {
	a := r.config.Author
	if a.Name == "" {
		a.Name = "hubcap"
	}
	return &object.Signature{Name: a.Name, Email: a.Email, When: time.Now()}
}

func authFor(ctx context.Context, cfg Config) (transport.AuthMethod, error) {
	if cfg.Auth == nil {
		return nil, nil
	}
	token, err := cfg.Auth.Token(ctx)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}
	return &http.BasicAuth{
		Username: cfg.Username,
		Password: token,
	}, nil
}

func gitErr(op string, err error) error {
	return domain.E(domain.KindGitOperation, op, err)
}

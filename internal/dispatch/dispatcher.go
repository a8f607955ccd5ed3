// Package dispatch pushes hub branches and opens pull requests for them.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pkghub/hubcap/internal/domain"
	"github.com/pkghub/hubcap/internal/github"
	"github.com/pkghub/hubcap/internal/gitstore"
	"github.com/pkghub/hubcap/internal/naming"
)

// UpstreamRemote names the remote pointing at the hub repository that
// pull requests target
const UpstreamRemote = "hub"

var tracer = otel.Tracer("hubcap/dispatch")

// PullRequests lists and opens pull requests on the hub repository
type PullRequests interface {
	OpenTitles(ctx context.Context) ([]string, error)
	Create(ctx context.Context, pr github.PullRequest) (*github.Created, error)
}

// Hub is the hub working tree branches are pushed from
type Hub interface {
	DefaultBranch() string
	AddRemote(name, url string) error
	Checkout(branch string, force bool) error
	CheckoutDefault(force bool) error
	Fetch(ctx context.Context, remote string) error
	Push(ctx context.Context, remote, branch string) error
}

// Outcome of one branch
type Outcome int

const (
	Opened Outcome = iota
	SkippedEmpty
	SkippedDuplicate
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Opened:
		return "opened"
	case SkippedEmpty:
		return "skipped_empty"
	case SkippedDuplicate:
		return "skipped_duplicate"
	default:
		return "failed"
	}
}

// Result reports what happened to one branch
type Result struct {
	Branch  *domain.BranchInfo
	Outcome Outcome
	PR      *github.Created
	Err     error
}

// Dispatcher publishes branches as pull requests
type Dispatcher struct {
	hub      Hub
	pulls    PullRequests
	naming   naming.Strategy
	hubOwner string
	hubRepo  string
	hubURL   string
	logger   *slog.Logger
}

// Config holds dispatcher configuration
type Config struct {
	Hub    Hub
	Pulls  PullRequests
	Naming naming.Strategy
	// HubOwner and HubRepo identify the upstream hub repository
	HubOwner string
	HubRepo  string
	// HubURL is fetched from before pushing. Defaults to the GitHub clone URL.
	HubURL string
	Logger *slog.Logger
}

// New creates a dispatcher
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Hub == nil || cfg.Pulls == nil || cfg.Naming == nil {
		return nil, errors.New("hub, pull request client and naming strategy are required")
	}
	if cfg.HubURL == "" {
		cfg.HubURL = domain.CloneURL(cfg.HubOwner, cfg.HubRepo)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		hub:      cfg.Hub,
		pulls:    cfg.Pulls,
		naming:   cfg.Naming,
		hubOwner: cfg.HubOwner,
		hubRepo:  cfg.HubRepo,
		hubURL:   cfg.HubURL,
		logger:   cfg.Logger,
	}, nil
}

// Dispatch opens a pull request for every branch with commits unless one
// already appears to be open for the same package. A failing branch never
// stops the others. The hub is on its default branch afterwards.
func (d *Dispatcher) Dispatch(ctx context.Context, branches []*domain.BranchInfo) []*Result {
	results := make([]*Result, 0, len(branches))
	if len(branches) == 0 {
		return results
	}

	titles, err := d.pulls.OpenTitles(ctx)
	if err != nil {
		// without the open list duplicates cannot be detected, so nothing is opened
		d.logger.Error("failed to list open pull requests", "error", err)
		for _, b := range branches {
			results = append(results, &Result{Branch: b, Outcome: Failed, Err: err})
		}
		return results
	}

	if err := d.hub.AddRemote(UpstreamRemote, d.hubURL); err != nil {
		d.logger.Error("failed to configure hub remote", "error", err)
		for _, b := range branches {
			results = append(results, &Result{Branch: b, Outcome: Failed, Err: err})
		}
		return results
	}

	for _, b := range branches {
		res := d.dispatchOne(ctx, b, titles)
		results = append(results, res)
	}

	if err := d.hub.CheckoutDefault(true); err != nil {
		d.logger.Error("failed to restore default branch", "error", err)
	}
	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, b *domain.BranchInfo, openTitles []string) *Result {
	ctx, span := tracer.Start(ctx, "dispatch.branch", trace.WithAttributes(
		attribute.String("branch", b.Name),
		attribute.String("org", b.Org),
		attribute.String("repo", b.Repo),
	))
	defer span.End()

	logger := d.logger.With("branch", b.Name, "org", b.Org, "repo", b.Repo)
	res := &Result{Branch: b}

	if !b.HasCommits() {
		logger.Info("branch has no commits, skipping")
		res.Outcome = SkippedEmpty
		return res
	}
	if title, dup := HasOpenPR(openTitles, b.Org, b.Repo); dup {
		logger.Info("pull request already open, skipping", "existing_title", title)
		res.Outcome = SkippedDuplicate
		return res
	}

	fail := func(err error) *Result {
		logger.Error("failed to open pull request", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res.Outcome = Failed
		res.Err = err
		return res
	}

	if err := d.hub.Checkout(b.Name, true); err != nil {
		return fail(err)
	}
	if err := d.hub.Fetch(ctx, UpstreamRemote); err != nil {
		return fail(err)
	}
	if err := d.hub.Push(ctx, gitstore.DefaultRemote, b.Name); err != nil {
		return fail(err)
	}

	created, err := d.pulls.Create(ctx, github.PullRequest{
		Title: d.naming.Title(b.Org, b.Repo),
		Head:  b.Name,
		Base:  d.hub.DefaultBranch(),
		Body:  naming.ReleasesBody(b.Org, b.Repo),
	})
	if err != nil {
		return fail(err)
	}

	span.SetAttributes(attribute.Int("pr.number", created.Number))
	res.Outcome = Opened
	res.PR = created
	return res
}

// HasOpenPR reports whether any open title mentions org/repo. It returns
// the matching title.
func HasOpenPR(titles []string, org, repo string) (string, bool) {
	needle := org + "/" + repo
	for _, t := range titles {
		if strings.Contains(t, needle) {
			return t, true
		}
	}
	return "", false
}

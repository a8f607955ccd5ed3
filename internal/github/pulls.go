package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v62/github"

	"github.com/pkghub/hubcap/internal/domain"
)

// PullRequest is a pull request to open against the hub repository
type PullRequest struct {
	Title string
	Head  string
	Base  string
	Body  string
}

// Created describes an opened pull request
type Created struct {
	Number int
	URL    string
}

// Client opens and lists pull requests on one repository
type Client struct {
	gh      *gogithub.Client
	owner   string
	repo    string
	timeout time.Duration
	logger  *slog.Logger
}

// Config holds pull request client configuration
type Config struct {
	Owner       string
	Repo        string
	Credentials Credentials
	// Timeout bounds each API call
	Timeout time.Duration
	// BaseURL overrides the API endpoint, e.g. for GitHub Enterprise
	BaseURL string
	Logger  *slog.Logger
}

// NewClient creates a pull request client
func NewClient(cfg Config) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("owner and repo are required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := &http.Client{}
	if cfg.Credentials != nil {
		httpClient.Transport = cfg.Credentials.Transport(http.DefaultTransport)
	}
	gh := gogithub.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid API base URL: %w", err)
		}
		gh.BaseURL = u
	}

	return &Client{
		gh:      gh,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}, nil
}

// OpenTitles returns the titles of every open pull request
func (c *Client) OpenTitles(ctx context.Context) ([]string, error) {
	opts := &gogithub.PullRequestListOptions{
		State:       "open",
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}

	var titles []string
	for {
		page, resp, err := c.listPage(ctx, opts)
		if err != nil {
			return nil, carrierErr("list pull requests", fmt.Errorf("%s/%s: %w", c.owner, c.repo, err))
		}
		for _, pr := range page {
			titles = append(titles, pr.GetTitle())
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return titles, nil
}

func (c *Client) listPage(ctx context.Context, opts *gogithub.PullRequestListOptions) ([]*gogithub.PullRequest, *gogithub.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.gh.PullRequests.List(ctx, c.owner, c.repo, opts)
}

// Create opens a pull request. Maintainers may always modify it.
func (c *Client) Create(ctx context.Context, pr PullRequest) (*Created, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	created, resp, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &gogithub.NewPullRequest{
		Title:               gogithub.String(pr.Title),
		Head:                gogithub.String(pr.Head),
		Base:                gogithub.String(pr.Base),
		Body:                gogithub.String(pr.Body),
		MaintainerCanModify: gogithub.Bool(true),
	})
	if err != nil {
		return nil, carrierErr("create pull request", describe(pr.Title, resp, err))
	}

	c.logger.Info("pull request created", "title", pr.Title, "number", created.GetNumber(), "url", created.GetHTMLURL())
	return &Created{Number: created.GetNumber(), URL: created.GetHTMLURL()}, nil
}

func describe(title string, resp *gogithub.Response, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("timeout creating pull request %q: %w", title, err)
	}
	if resp == nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusUnprocessableEntity:
		return fmt.Errorf("pull request already exists or invalid %q: %w", title, err)
	case http.StatusForbidden:
		return fmt.Errorf("permission denied creating pull request %q: %w", title, err)
	case http.StatusNotFound:
		return fmt.Errorf("repository not found for pull request %q: %w", title, err)
	default:
		return fmt.Errorf("HTTP %d creating pull request %q: %w", resp.StatusCode, title, err)
	}
}

func carrierErr(op string, err error) error {
	return domain.E(domain.KindReleaseCarrier, op, err)
}

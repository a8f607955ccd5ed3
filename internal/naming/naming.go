// Package naming derives hub branch names and pull request titles.
package naming

import (
	"fmt"
	"strconv"
	"time"
)

// Strategy names branches and pull requests for a run. The timestamp is
// fixed when the strategy is created so names are stable within a run.
type Strategy interface {
	Branch(org, repo string) string
	Title(org, repo string) string
	// Shared reports whether every package lands on the same branch
	Shared() bool
}

// New returns the consolidated strategy when onePerRepo is false
func New(onePerRepo bool, startedAt time.Time) Strategy {
	ts := Timestamp(startedAt)
	if onePerRepo {
		return Individual{ts: ts}
	}
	return Consolidated{ts: ts}
}

// Timestamp renders the run start as unix seconds
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// Individual opens one branch per package
type Individual struct {
	ts string
}

func (s Individual) Branch(org, repo string) string {
	return fmt.Sprintf("bump-%s-%s-%s", org, repo, s.ts)
}

func (s Individual) Title(org, repo string) string {
	return fmt.Sprintf("hubcap: Bump %s/%s", org, repo)
}

func (Individual) Shared() bool { return false }

// Consolidated puts every package of the run on one branch
type Consolidated struct {
	ts string
}

func (s Consolidated) Branch(string, string) string {
	return "bump-package-versions-" + s.ts
}

func (Consolidated) Title(string, string) string {
	return "hubcap: Bump package versions"
}

func (Consolidated) Shared() bool { return true }

// ReleasesBody is the pull request description pointing at upstream releases
func ReleasesBody(org, repo string) string {
	return fmt.Sprintf("Auto-bumping from new release at https://github.com/%s/%s/releases", org, repo)
}

// CommitMessage describes a single version record commit
func CommitMessage(org, repo, tag string) string {
	return fmt.Sprintf("hubcap: Adding tag %s for %s/%s", tag, org, repo)
}

// IndexCommitMessage describes the index record commit
func IndexCommitMessage(org, repo string) string {
	return fmt.Sprintf("hubcap: Updating index for %s/%s", org, repo)
}

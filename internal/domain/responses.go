package domain

import "time"

// RunSummary aggregates one pipeline run. Failed counts are reported
// separately from attempted ones.
type RunSummary struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run"`

	ClonesAttempted int `json:"clones_attempted"`
	ClonesFailed    int `json:"clones_failed"`

	ManifestsChecked int `json:"manifests_checked"`
	ManifestsFailed  int `json:"manifests_failed"`
	// PackagesSkipped are packages without a working tree or manifest;
	// PackagesFailed could not be inspected for another reason
	PackagesSkipped int `json:"packages_skipped"`
	PackagesFailed  int `json:"packages_failed"`

	TasksBuilt  int `json:"tasks_built"`
	TasksFailed int `json:"tasks_failed"`

	TagsAttempted int `json:"tags_attempted"`
	TagsFailed    int `json:"tags_failed"`

	Branches []string `json:"branches"`

	PullRequestsOpened  int `json:"pull_requests_opened"`
	PullRequestsSkipped int `json:"pull_requests_skipped"`
	PullRequestsFailed  int `json:"pull_requests_failed"`

	Error string `json:"error,omitempty"`
}

// FailedUnits counts every unit of work that failed during the run
func (s *RunSummary) FailedUnits() int {
	return s.ClonesFailed + s.ManifestsFailed + s.PackagesFailed + s.TasksFailed + s.TagsFailed + s.PullRequestsFailed
}

// AttemptedUnits counts every unit of work the run tried
func (s *RunSummary) AttemptedUnits() int {
	return s.ClonesAttempted + s.ManifestsChecked + s.TasksBuilt + s.TagsAttempted +
		s.PullRequestsOpened + s.PullRequestsSkipped + s.PullRequestsFailed
}

// PackageSummary is one package entry in the catalog listing
type PackageSummary struct {
	Namespace string   `json:"namespace"`
	Name      string   `json:"name"`
	Versions  []string `json:"versions"`
}

// PackageListResponse lists packages known to the hub
type PackageListResponse struct {
	Packages []PackageSummary `json:"packages"`
	Metadata ListMetadata     `json:"metadata"`
}

// ListMetadata contains listing metadata
type ListMetadata struct {
	NextCursor string `json:"next_cursor,omitempty"`
	Count      int    `json:"count"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string      `json:"status"`
	HubRepo      string      `json:"hub_repo"`
	Branch       string      `json:"branch"`
	CommitSHA    string      `json:"commit_sha"`
	LastRunAt    string      `json:"last_run_at"`
	Running      bool        `json:"running"`
	PackageCount int         `json:"package_count"`
	CacheStats   *CacheStats `json:"cache_stats,omitempty"`
}

// CacheStats contains cache statistics
type CacheStats struct {
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	HitRate  float64 `json:"hit_rate"`
}

// PingResponse represents the ping response
type PingResponse struct {
	Pong bool `json:"pong"`
}

// VersionResponse represents the version info response
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

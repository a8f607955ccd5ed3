// Package metrics holds the pipeline's Prometheus collectors.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/pkghub/hubcap/internal/domain"
)

// Registry holds pipeline metrics only, so batch runs push no process
// metrics to the Pushgateway
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	ClonesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcap_clones_total",
			Help: "Package repository clones by result",
		},
		[]string{"result"},
	)

	TasksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcap_tasks_total",
			Help: "Update tasks by result",
		},
		[]string{"result"},
	)

	TagsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcap_tags_total",
			Help: "Release tags processed by result",
		},
		[]string{"result"},
	)

	BranchesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "hubcap_branches_total",
			Help: "Hub branches produced",
		},
	)

	PullRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcap_pull_requests_total",
			Help: "Pull requests by outcome",
		},
		[]string{"outcome"},
	)

	RunDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hubcap_run_duration_seconds",
			Help:    "Duration of pipeline runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	RunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcap_runs_total",
			Help: "Pipeline runs by result",
		},
		[]string{"result"},
	)

	LastRunTimestamp = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "hubcap_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		},
	)

	// Serve mode
	CatalogCacheHits = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "hubcap_catalog_cache_hits_total",
			Help: "Index record lookups served from cache",
		},
	)

	CatalogCacheMisses = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "hubcap_catalog_cache_misses_total",
			Help: "Index record lookups read from the hub tree",
		},
	)

	CatalogPackages = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "hubcap_catalog_packages",
			Help: "Packages in the last version index",
		},
	)

	WebhookEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hubcap_webhook_events_total",
			Help: "GitHub webhook deliveries by event and result",
		},
		[]string{"event", "result"},
	)

	SyncSkippedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "hubcap_sync_skipped_total",
			Help: "Triggers dropped because a run was already in progress",
		},
	)
)

// RecordRun adds a finished run to the collectors
func RecordRun(s *domain.RunSummary) {
	add(ClonesTotal.WithLabelValues("ok"), s.ClonesAttempted-s.ClonesFailed)
	add(ClonesTotal.WithLabelValues("failed"), s.ClonesFailed)
	add(TasksTotal.WithLabelValues("ok"), s.TasksBuilt-s.TasksFailed)
	add(TasksTotal.WithLabelValues("failed"), s.TasksFailed)
	add(TagsTotal.WithLabelValues("committed"), s.TagsAttempted-s.TagsFailed)
	add(TagsTotal.WithLabelValues("failed"), s.TagsFailed)
	add(BranchesTotal, len(s.Branches))
	add(PullRequestsTotal.WithLabelValues("opened"), s.PullRequestsOpened)
	add(PullRequestsTotal.WithLabelValues("skipped"), s.PullRequestsSkipped)
	add(PullRequestsTotal.WithLabelValues("failed"), s.PullRequestsFailed)

	result := "ok"
	if s.Error != "" {
		result = "fatal"
	}
	RunsTotal.WithLabelValues(result).Inc()
	if !s.FinishedAt.IsZero() {
		RunDuration.Observe(s.FinishedAt.Sub(s.StartedAt).Seconds())
		LastRunTimestamp.Set(float64(s.FinishedAt.Unix()))
	}
}

// add ignores non-positive deltas; counters panic on negative ones
func add(c prometheus.Counter, n int) {
	if n > 0 {
		c.Add(float64(n))
	}
}

// Push sends the pipeline metrics to a Pushgateway under job
func Push(ctx context.Context, url, job string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := push.New(url, job).Gatherer(Registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

// Handler exposes the default registry and the pipeline metrics
func Handler() http.Handler {
	return promhttp.HandlerFor(
		prometheus.Gatherers{prometheus.DefaultGatherer, Registry},
		promhttp.HandlerOpts{},
	)
}

// Package sync runs the pipeline on a schedule and on GitHub webhooks.
package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkghub/hubcap/internal/domain"
	"github.com/pkghub/hubcap/internal/metrics"
)

// Runner executes one pipeline run
type Runner interface {
	Run(ctx context.Context) (*domain.RunSummary, error)
}

// Refresher is told when a run has finished
type Refresher interface {
	Refresh()
}

// Manager schedules pipeline runs. At most one run is in flight.
type Manager struct {
	runner       Runner
	catalog      Refresher
	pollInterval time.Duration
	debounce     time.Duration
	runOnStart   bool
	pushURL      string
	logger       *slog.Logger

	triggerChan chan struct{}
	mu          sync.Mutex
	lastRun     time.Time
	running     bool
	last        *domain.RunSummary
}

// Config holds sync manager configuration
type Config struct {
	Runner Runner
	// Catalog is optional
	Catalog      Refresher
	PollInterval time.Duration
	Debounce     time.Duration
	// RunOnStart runs the pipeline once before the first tick
	RunOnStart bool
	// PushgatewayURL receives run metrics when set
	PushgatewayURL string
	Logger         *slog.Logger
}

// NewManager creates a new sync manager
func NewManager(cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Hour
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		runner:       cfg.Runner,
		catalog:      cfg.Catalog,
		pollInterval: cfg.PollInterval,
		debounce:     cfg.Debounce,
		runOnStart:   cfg.RunOnStart,
		pushURL:      cfg.PushgatewayURL,
		logger:       cfg.Logger,
		triggerChan:  make(chan struct{}, 1),
	}
}

// Start runs the scheduling loop until ctx is done
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.logger.Info("sync manager started",
		"poll_interval", m.pollInterval,
		"debounce", m.debounce,
	)

	if m.runOnStart {
		m.doRun(ctx, "startup")
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("sync manager stopped")
			return

		case <-ticker.C:
			m.doRun(ctx, "poll")

		case <-m.triggerChan:
			m.debounceRun(ctx)
		}
	}
}

// Trigger requests a run (called by the webhook handler). Triggers that
// arrive while one is pending collapse into it.
func (m *Manager) Trigger() {
	select {
	case m.triggerChan <- struct{}{}:
		m.logger.Debug("run triggered")
	default:
		m.logger.Debug("run already pending")
	}
}

// LastRunTime returns when the last run finished
func (m *Manager) LastRunTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun
}

// LastSummary returns the summary of the last finished run, or nil
func (m *Manager) LastSummary() *domain.RunSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// IsRunning returns whether a run is in progress
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) debounceRun(ctx context.Context) {
	m.mu.Lock()
	if time.Since(m.lastRun) < m.debounce {
		m.mu.Unlock()
		m.logger.Debug("run debounced", "last_run", m.lastRun)
		return
	}
	m.mu.Unlock()

	m.doRun(ctx, "webhook")
}

func (m *Manager) doRun(ctx context.Context, source string) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		metrics.SyncSkippedTotal.Inc()
		m.logger.Debug("run already in progress")
		return
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	start := time.Now()
	m.logger.Info("starting run", "source", source)

	summary, err := m.runner.Run(ctx)

	m.mu.Lock()
	m.lastRun = time.Now()
	m.last = summary
	m.mu.Unlock()

	if m.catalog != nil {
		m.catalog.Refresh()
	}
	if m.pushURL != "" {
		if perr := metrics.Push(ctx, m.pushURL, "hubcap"); perr != nil {
			m.logger.Warn("failed to push metrics", "error", perr)
		}
	}

	if err != nil {
		m.logger.Error("run failed",
			"source", source,
			"error", err,
			"duration", time.Since(start),
		)
		return
	}

	m.logger.Info("run completed",
		"source", source,
		"branches", len(summary.Branches),
		"failed_units", summary.FailedUnits(),
		"duration", time.Since(start),
	)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkghub/hubcap/internal/api"
	"github.com/pkghub/hubcap/internal/catalog"
	"github.com/pkghub/hubcap/internal/config"
	"github.com/pkghub/hubcap/internal/maintainers"
	"github.com/pkghub/hubcap/internal/middleware"
	"github.com/pkghub/hubcap/internal/sync"
)

// serve runs the pipeline on a schedule and on webhooks until ctx is done
func serve(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("starting hubcap server",
		"hub", cfg.Org+"/"+cfg.Repo,
		"poll_interval", cfg.PollInterval,
		"push_branches", cfg.PushBranches,
		"webhooks", cfg.WebhookSecret != "",
	)

	shutdownTracer := initTracer(cfg, logger)
	defer shutdownTracer()

	r, err := newRunner(cfg, logger)
	if err != nil {
		return err
	}

	cat, err := catalog.New(catalog.Config{
		Source:    r,
		CacheSize: cfg.CacheSize,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize catalog: %w", err)
	}

	syncMgr := sync.NewManager(sync.Config{
		Runner:         r,
		Catalog:        cat,
		PollInterval:   cfg.PollInterval,
		Debounce:       30 * time.Second,
		RunOnStart:     true,
		PushgatewayURL: cfg.PushgatewayURL,
		Logger:         logger,
	})

	router := api.NewRouter(api.Config{
		Catalog:       cat,
		Runs:          syncMgr,
		Hub:           r,
		HubRepo:       cfg.Org + "/" + cfg.Repo,
		Trigger:       syncMgr,
		WebhookSecret: cfg.WebhookSecret,
		Tracked:       tracked(cfg, logger),
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      middleware.Chain(router, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	syncCtx, syncCancel := context.WithCancel(context.Background())
	defer syncCancel()
	syncDone := make(chan struct{})
	go func() {
		syncMgr.Start(syncCtx)
		close(syncDone)
	}()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	// an in-flight run is cancelled and leaves its branches local
	syncCancel()
	select {
	case <-syncDone:
	case <-shutdownCtx.Done():
		logger.Warn("run did not stop before the shutdown deadline")
	}

	logger.Info("server stopped gracefully")
	return nil
}

// tracked reports whether a webhook repository is listed in hub.json and
// not excluded. The listing is reread per delivery so edits apply without
// a restart.
func tracked(cfg *config.Config, logger *slog.Logger) func(fullName string) bool {
	return func(fullName string) bool {
		org, repo, ok := strings.Cut(fullName, "/")
		if !ok {
			return false
		}
		pms, err := maintainers.Load(cfg.HubJSONPath, cfg.ExclusionsJSONPath)
		if err != nil {
			logger.Warn("failed to load package maintainers for webhook", "error", err)
			return false
		}
		for _, m := range pms {
			if m.Name() == org {
				return m.HasPackage(repo)
			}
		}
		return false
	}
}

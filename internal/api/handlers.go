package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pkghub/hubcap/internal/catalog"
	"github.com/pkghub/hubcap/internal/domain"
)

// Build information (set at compile time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Catalog serves package data from the hub tree
type Catalog interface {
	GetPackage(namespace, name string) (*domain.IndexRecord, error)
	ListPackages(query, cursor string, limit int) (*domain.PackageListResponse, error)
	PackageCount() int
	Loaded() bool
	CacheStats() *domain.CacheStats
}

// Runs reports on scheduled pipeline runs
type Runs interface {
	LastSummary() *domain.RunSummary
	LastRunTime() time.Time
	IsRunning() bool
}

// HubInfo describes the hub working tree
type HubInfo interface {
	HubHead() (branch, commit string)
}

// Handlers provides HTTP handlers for the API
type Handlers struct {
	catalog Catalog
	runs    Runs
	hub     HubInfo
	hubRepo string
	logger  *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(cat Catalog, runs Runs, hub HubInfo, hubRepo string, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		catalog: cat,
		runs:    runs,
		hub:     hub,
		hubRepo: hubRepo,
		logger:  logger,
	}
}

// Health returns health check information. The service is degraded until
// a run has produced an index, and while the last run ended in error.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if !h.catalog.Loaded() {
		status = "degraded"
	}
	if last := h.runs.LastSummary(); last != nil && last.Error != "" {
		status = "degraded"
	}

	resp := domain.HealthResponse{
		Status:       status,
		HubRepo:      h.hubRepo,
		Running:      h.runs.IsRunning(),
		PackageCount: h.catalog.PackageCount(),
		CacheStats:   h.catalog.CacheStats(),
	}
	if h.hub != nil {
		resp.Branch, resp.CommitSHA = h.hub.HubHead()
	}
	if t := h.runs.LastRunTime(); !t.IsZero() {
		resp.LastRunAt = t.Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Ping returns a simple pong response
func (h *Handlers) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, domain.PingResponse{Pong: true})
}

// Version returns build version information
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	version := Version
	commit := GitCommit
	buildTime := BuildTime

	// Try to get from build info if not set
	if info, ok := debug.ReadBuildInfo(); ok && version == "dev" {
		version = info.Main.Version
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				commit = setting.Value
			case "vcs.time":
				buildTime = setting.Value
			}
		}
	}

	writeJSON(w, http.StatusOK, domain.VersionResponse{
		Version:   version,
		GitCommit: commit,
		BuildTime: buildTime,
	})
}

// LastRun returns the summary of the most recent pipeline run
func (h *Handlers) LastRun(w http.ResponseWriter, r *http.Request) {
	last := h.runs.LastSummary()
	if last == nil {
		writeError(w, http.StatusNotFound, "Not Found", "No run has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, last)
}

// ListPackages returns a paginated list of packages
func (h *Handlers) ListPackages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 30
	if l, err := strconv.Atoi(q.Get("limit")); err == nil && l > 0 {
		limit = l
	}

	resp, err := h.catalog.ListPackages(q.Get("q"), q.Get("cursor"), limit)
	if err != nil {
		h.logger.Error("failed to list packages", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Service Unavailable",
			"Version index not available. Wait for the first run to finish.")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetPackage returns the index record of one package
func (h *Handlers) GetPackage(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	name := chi.URLParam(r, "name")

	rec, err := h.catalog.GetPackage(namespace, name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, catalog.ErrNotFound):
		h.logger.Debug("package not found", "namespace", namespace, "name", name)
		writeError(w, http.StatusNotFound, "Not Found", "Package not found: "+namespace+"/"+name)
	case errors.Is(err, catalog.ErrNotLoaded):
		writeError(w, http.StatusServiceUnavailable, "Service Unavailable",
			"Version index not available. Wait for the first run to finish.")
	default:
		h.logger.Error("failed to read package", "namespace", namespace, "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error", "Failed to read package")
	}
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, title, detail string) {
	resp := domain.ErrorResponse{
		Status: status,
		Title:  title,
		Detail: detail,
	}
	writeJSON(w, status, resp)
}

package sync

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v62/github"

	"github.com/pkghub/hubcap/internal/metrics"
)

// Trigger requests a pipeline run
type Trigger interface {
	Trigger()
}

// WebhookHandler handles GitHub webhook events announcing new releases
type WebhookHandler struct {
	secret  []byte
	trigger Trigger
	tracked func(fullName string) bool
	logger  *slog.Logger
}

// NewWebhookHandler creates a new webhook handler. tracked filters
// repositories by "org/repo"; nil accepts every repository.
func NewWebhookHandler(secret string, trigger Trigger, tracked func(fullName string) bool, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		secret:  []byte(secret),
		trigger: trigger,
		tracked: tracked,
		logger:  logger,
	}
}

// ServeHTTP handles incoming webhook requests
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10*1024*1024)) // 10MB limit
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	eventType := gogithub.WebHookType(r)

	signature := r.Header.Get("X-Hub-Signature-256")
	if !h.validateSignature(signature, body) {
		h.logger.Warn("invalid webhook signature",
			"remote_addr", r.RemoteAddr,
		)
		// the event header is unauthenticated here
		metrics.WebhookEventsTotal.WithLabelValues("unknown", "unauthorized").Inc()
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	h.logger.Info("webhook received",
		"event", eventType,
		"delivery_id", gogithub.DeliveryID(r),
	)

	event, err := gogithub.ParseWebHook(eventType, body)
	if err != nil {
		h.logger.Debug("ignoring unsupported event", "event", eventType, "error", err)
		h.respond(w, eventType, "ignored", "unsupported event")
		return
	}

	var repo, tag string
	switch e := event.(type) {
	case *gogithub.PingEvent:
		h.respond(w, eventType, "pong", "")
		return

	case *gogithub.ReleaseEvent:
		switch e.GetAction() {
		case "published", "released", "created":
		default:
			h.respond(w, eventType, "ignored", "release action "+e.GetAction())
			return
		}
		repo, tag = e.GetRepo().GetFullName(), e.GetRelease().GetTagName()

	case *gogithub.CreateEvent:
		if e.GetRefType() != "tag" {
			h.respond(w, eventType, "ignored", "not a tag")
			return
		}
		repo, tag = e.GetRepo().GetFullName(), e.GetRef()

	default:
		h.respond(w, eventType, "ignored", "not a release event")
		return
	}

	if h.tracked != nil && !h.tracked(repo) {
		h.logger.Debug("ignoring untracked repository", "repo", repo, "tag", tag)
		h.respond(w, eventType, "ignored", "untracked repository")
		return
	}

	h.logger.Info("release event for tracked repository", "repo", repo, "tag", tag)
	h.trigger.Trigger()
	h.respond(w, eventType, "accepted", "")
}

func (h *WebhookHandler) respond(w http.ResponseWriter, eventType, status, reason string) {
	metrics.WebhookEventsTotal.WithLabelValues(eventType, status).Inc()

	resp := map[string]string{"status": status}
	if reason != "" {
		resp["reason"] = reason
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// validateSignature accepts only the SHA-256 signature header
func (h *WebhookHandler) validateSignature(signature string, body []byte) bool {
	if len(h.secret) == 0 || !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	return gogithub.ValidateSignature(signature, body, h.secret) == nil
}

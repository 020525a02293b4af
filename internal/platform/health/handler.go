// Package health exposes liveness, readiness and status probes for the
// consent manager and the upstream dependencies it rides on.
package health

import (
	"maps"
	"net/http"
	"sync"
	"time"

	"covenant/pkg/httputil"

	"github.com/go-chi/chi/v5"
)

// Version is set at build time via ldflags.
var Version = "dev"

// CheckFunc probes one dependency. It returns nil when the dependency is
// reachable, or an error describing the outage.
type CheckFunc func() error

// Handler serves the probe endpoints.
type Handler struct {
	service     string
	environment string
	startTime   time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// New creates a health handler for the named service.
func New(service, environment string) *Handler {
	return &Handler{
		service:     service,
		environment: environment,
		startTime:   time.Now(),
		checks:      make(map[string]CheckFunc),
	}
}

// RegisterCheck adds a named dependency probe to the readiness endpoint.
// Typical checks are the postgres pool, the redis cache and the Kafka client.
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Register mounts the probe routes on the given router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

// LivenessResponse is the body of the liveness probe.
type LivenessResponse struct {
	Status string `json:"status"`
}

// HandleLiveness answers 200 whenever the process is up. It never consults
// dependency checks.
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

// ReadinessResponse is the body of the readiness probe.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleReadiness runs every registered dependency check and answers 503 as
// soon as one of them fails.
func (h *Handler) HandleReadiness(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	maps.Copy(checks, h.checks)
	h.mu.RUnlock()

	response := ReadinessResponse{
		Status: "ready",
		Checks: make(map[string]string, len(checks)),
	}

	for name, check := range checks {
		if err := check(); err != nil {
			response.Checks[name] = err.Error()
			response.Status = "not_ready"
		} else {
			response.Checks[name] = "ok"
		}
	}

	if response.Status != "ready" {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, response)
}

// StatusResponse is the body of the general status endpoint.
type StatusResponse struct {
	Service       string `json:"service"`
	Status        string `json:"status"`
	Version       string `json:"version"`
	Environment   string `json:"environment"`
	StartedAt     string `json:"started_at"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Timestamp     string `json:"timestamp"`
}

// HandleStatus reports the service identity, build version and uptime.
func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Service:       h.service,
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		StartedAt:     h.startTime.UTC().Format(time.RFC3339),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
}

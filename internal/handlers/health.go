package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/commerce/internal/domain"
	"github.com/fieldline/commerce/internal/platform/httpx"
	"github.com/fieldline/commerce/internal/services"
)

// HealthHandlers serves the liveness and readiness probes. Liveness never
// touches dependencies; readiness runs the full dependency sweep.
type HealthHandlers struct {
	system services.SystemService
	clock  func() time.Time
}

// HealthOption customises HealthHandlers construction.
type HealthOption func(*HealthHandlers)

// WithHealthClock overrides the time source used in probe payloads.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers wires the probe endpoints to the system service.
func NewHealthHandlers(system services.SystemService, opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		system: system,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the probe endpoints on the router root.
func (h *HealthHandlers) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	CheckedAt string `json:"checked_at,omitempty"`
}

type healthPayload struct {
	Status        string                        `json:"status"`
	Version       string                        `json:"version,omitempty"`
	CommitSHA     string                        `json:"commit_sha,omitempty"`
	Environment   string                        `json:"environment,omitempty"`
	UptimeSeconds int64                         `json:"uptime_seconds"`
	Checks        map[string]healthCheckPayload `json:"checks,omitempty"`
	GeneratedAt   string                        `json:"generated_at"`
}

// Healthz is the liveness probe. It answers as long as the process is up.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, healthPayload{
		Status:      string(domain.HealthStatusOK),
		GeneratedAt: formatTime(h.clock().UTC()),
	})
}

// Readyz is the readiness probe. Any dependency reporting an error takes the
// instance out of rotation.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_service_unavailable", "health service is not configured", http.StatusServiceUnavailable))
		return
	}

	report, err := h.system.Health(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("health_check_failed", "dependency health sweep failed", http.StatusServiceUnavailable))
		return
	}

	payload := healthPayload{
		Status:        string(report.Status),
		Version:       report.Version,
		CommitSHA:     report.CommitSHA,
		Environment:   report.Environment,
		UptimeSeconds: int64(report.Uptime / time.Second),
		GeneratedAt:   formatTime(report.GeneratedAt),
	}
	if len(report.Checks) > 0 {
		payload.Checks = make(map[string]healthCheckPayload, len(report.Checks))
		for name, check := range report.Checks {
			payload.Checks[name] = healthCheckPayload{
				Status:    string(check.Status),
				Detail:    check.Detail,
				Error:     check.Error,
				LatencyMS: check.Latency.Milliseconds(),
				CheckedAt: formatTime(check.CheckedAt),
			}
		}
	}

	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, payload)
}

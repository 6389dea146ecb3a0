package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/commerce/internal/platform/httpx"
	"github.com/fieldline/commerce/internal/services"
)

// JobHandlers exposes the hourly subscription batch jobs as internal POST
// endpoints so the scheduler and operators share one code path. An optional
// "now" query parameter pins the sweep reference time for replays.
type JobHandlers struct {
	subscriptions services.SubscriptionService
	clock         func() time.Time
}

// JobOption customises JobHandlers construction.
type JobOption func(*JobHandlers)

// WithJobClock overrides the sweep reference time source.
func WithJobClock(clock func() time.Time) JobOption {
	return func(h *JobHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewJobHandlers builds the internal batch-job endpoint group.
func NewJobHandlers(subscriptions services.SubscriptionService, opts ...JobOption) *JobHandlers {
	h := &JobHandlers{
		subscriptions: subscriptions,
		clock:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the batch-job endpoints.
func (h *JobHandlers) Routes(r chi.Router) {
	r.Post("/subscriptions/renew-due", h.RenewDue)
	r.Post("/subscriptions/retry-due", h.RetryDue)
	r.Post("/subscriptions/cancel-due", h.CancelDue)
	r.Post("/subscriptions/renewal-notices", h.SendRenewalNotices)
}

func (h *JobHandlers) RenewDue(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, func(ctx context.Context, now time.Time) (services.BatchSummary, error) {
		return h.subscriptions.RenewDue(ctx, now)
	})
}

func (h *JobHandlers) RetryDue(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, func(ctx context.Context, now time.Time) (services.BatchSummary, error) {
		return h.subscriptions.RetryDue(ctx, now)
	})
}

func (h *JobHandlers) CancelDue(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, func(ctx context.Context, now time.Time) (services.BatchSummary, error) {
		return h.subscriptions.CancelDue(ctx, now)
	})
}

func (h *JobHandlers) SendRenewalNotices(w http.ResponseWriter, r *http.Request) {
	h.runJob(w, r, func(ctx context.Context, now time.Time) (services.BatchSummary, error) {
		return h.subscriptions.SendRenewalNotices(ctx, now)
	})
}

func (h *JobHandlers) runJob(w http.ResponseWriter, r *http.Request, job func(context.Context, time.Time) (services.BatchSummary, error)) {
	ctx := r.Context()
	if h.subscriptions == nil {
		writeSubscriptionError(ctx, w, services.ErrSubscriptionUnavailable)
		return
	}

	now := h.clock().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("now")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "now must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		now = parsed.UTC()
	}

	summary, err := job(ctx, now)
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildBatchSummaryPayload(summary))
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/commerce/internal/platform/httpx"
	"github.com/fieldline/commerce/internal/services"
)

const maxSubscriptionBodySize = 16 * 1024

// SubscriptionHandlers exposes the recurring-order lifecycle endpoints.
type SubscriptionHandlers struct {
	subscriptions services.SubscriptionService
}

// NewSubscriptionHandlers builds the subscription endpoint group.
func NewSubscriptionHandlers(subscriptions services.SubscriptionService) *SubscriptionHandlers {
	return &SubscriptionHandlers{subscriptions: subscriptions}
}

// Routes registers the subscription endpoints.
func (h *SubscriptionHandlers) Routes(r chi.Router) {
	r.Post("/", h.CreateFromOrder)
	r.Route("/{subscriptionRef}", func(r chi.Router) {
		r.Get("/", h.GetSubscription)
		r.Patch("/", h.UpdateSubscription)
		r.Post("/items", h.AddItems)
		r.Delete("/items", h.RemoveItems)
		r.Post("/renew", h.Renew)
		r.Post("/activate", h.Activate)
		r.Post("/deactivate", h.Deactivate)
		r.Post("/cancel", h.Cancel)
	})
}

type createSubscriptionRequest struct {
	OrderID    string `json:"order_id"`
	OrderToken string `json:"order_token"`
}

func (h *SubscriptionHandlers) CreateFromOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.subscriptions == nil {
		writeSubscriptionError(ctx, w, services.ErrSubscriptionUnavailable)
		return
	}

	var req createSubscriptionRequest
	if err := decodeBody(r, maxSubscriptionBodySize, &req); err != nil {
		writeOrderBodyError(ctx, w, err)
		return
	}

	sub, err := h.subscriptions.CreateFromOrder(ctx, services.CreateSubscriptionCommand{
		Order: services.OrderRef{
			ID:    strings.TrimSpace(req.OrderID),
			Token: strings.TrimSpace(req.OrderToken),
		},
	})
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildSubscriptionPayload(sub))
}

func (h *SubscriptionHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	h.runLifecycle(w, r, http.StatusOK, func(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error) {
		return h.subscriptions.GetSubscription(ctx, ref)
	})
}

type updateSubscriptionRequest struct {
	Unit     string     `json:"unit"`
	Interval *int       `json:"interval"`
	RenewsOn *time.Time `json:"renews_on"`
}

func (h *SubscriptionHandlers) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.subscriptions == nil {
		writeSubscriptionError(ctx, w, services.ErrSubscriptionUnavailable)
		return
	}

	var req updateSubscriptionRequest
	if err := decodeBody(r, maxSubscriptionBodySize, &req); err != nil {
		writeOrderBodyError(ctx, w, err)
		return
	}

	cmd := services.UpdateSubscriptionCommand{
		Subscription: subscriptionRefFromPath(chi.URLParam(r, "subscriptionRef")),
		Interval:     req.Interval,
		RenewsOn:     req.RenewsOn,
	}
	if unit := strings.TrimSpace(req.Unit); unit != "" {
		intervalUnit := services.IntervalUnit(unit)
		cmd.Unit = &intervalUnit
	}

	sub, err := h.subscriptions.UpdateSubscription(ctx, cmd)
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSubscriptionPayload(sub))
}

type subscriptionItemsRequest struct {
	Items []itemRequest `json:"items"`
}

func (h *SubscriptionHandlers) AddItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.subscriptions == nil {
		writeSubscriptionError(ctx, w, services.ErrSubscriptionUnavailable)
		return
	}

	var req subscriptionItemsRequest
	if err := decodeBody(r, maxSubscriptionBodySize, &req); err != nil {
		writeOrderBodyError(ctx, w, err)
		return
	}

	sub, err := h.subscriptions.AddItems(ctx, services.AddSubscriptionItemsCommand{
		Subscription: subscriptionRefFromPath(chi.URLParam(r, "subscriptionRef")),
		Items:        toItemInputs(req.Items),
	})
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSubscriptionPayload(sub))
}

type removeSubscriptionItemsRequest struct {
	ProductIDs []string `json:"product_ids"`
}

func (h *SubscriptionHandlers) RemoveItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.subscriptions == nil {
		writeSubscriptionError(ctx, w, services.ErrSubscriptionUnavailable)
		return
	}

	var req removeSubscriptionItemsRequest
	if err := decodeBody(r, maxSubscriptionBodySize, &req); err != nil {
		writeOrderBodyError(ctx, w, err)
		return
	}

	sub, err := h.subscriptions.RemoveItems(ctx, services.RemoveSubscriptionItemsCommand{
		Subscription: subscriptionRefFromPath(chi.URLParam(r, "subscriptionRef")),
		ProductIDs:   req.ProductIDs,
	})
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSubscriptionPayload(sub))
}

func (h *SubscriptionHandlers) Renew(w http.ResponseWriter, r *http.Request) {
	h.runLifecycle(w, r, http.StatusOK, func(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error) {
		return h.subscriptions.Renew(ctx, ref)
	})
}

func (h *SubscriptionHandlers) Activate(w http.ResponseWriter, r *http.Request) {
	h.runLifecycle(w, r, http.StatusOK, func(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error) {
		return h.subscriptions.Activate(ctx, ref)
	})
}

func (h *SubscriptionHandlers) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.runLifecycle(w, r, http.StatusOK, func(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error) {
		return h.subscriptions.Deactivate(ctx, ref)
	})
}

func (h *SubscriptionHandlers) runLifecycle(w http.ResponseWriter, r *http.Request, status int, op func(context.Context, services.SubscriptionRef) (services.Subscription, error)) {
	ctx := r.Context()
	if h.subscriptions == nil {
		writeSubscriptionError(ctx, w, services.ErrSubscriptionUnavailable)
		return
	}

	sub, err := op(ctx, subscriptionRefFromPath(chi.URLParam(r, "subscriptionRef")))
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, status, buildSubscriptionPayload(sub))
}

type cancelSubscriptionRequest struct {
	Reason string `json:"reason"`
}

func (h *SubscriptionHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.subscriptions == nil {
		writeSubscriptionError(ctx, w, services.ErrSubscriptionUnavailable)
		return
	}

	cmd := services.CancelSubscriptionCommand{
		Subscription: subscriptionRefFromPath(chi.URLParam(r, "subscriptionRef")),
	}
	body, err := readLimitedBody(r, maxSubscriptionBodySize)
	switch {
	case err == nil:
		var req cancelSubscriptionRequest
		if unmarshalErr := json.Unmarshal(body, &req); unmarshalErr != nil {
			writeOrderBodyError(ctx, w, unmarshalErr)
			return
		}
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			cancelReason := services.CancelReason(reason)
			cmd.Reason = &cancelReason
		}
	case errors.Is(err, errEmptyBody):
		// cancel with defaults
	default:
		writeOrderBodyError(ctx, w, err)
		return
	}

	sub, err := h.subscriptions.Cancel(ctx, cmd)
	if err != nil {
		writeSubscriptionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildSubscriptionPayload(sub))
}

func writeSubscriptionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrSubscriptionInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("subscription_invalid_transition", firstErrorLine(err), http.StatusConflict))
	case errors.Is(err, services.ErrSubscriptionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", firstErrorLine(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrSubscriptionNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("subscription_not_found", "subscription not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrSubscriptionConflict):
		httpx.WriteError(ctx, w, httpx.NewError("subscription_conflict", "subscription was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrSubscriptionUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("subscription_service_unavailable", "subscription service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected subscription failure", http.StatusInternalServerError))
	}
}

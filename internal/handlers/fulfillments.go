package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/commerce/internal/platform/httpx"
	"github.com/fieldline/commerce/internal/services"
)

const maxFulfillmentBodySize = 16 * 1024

// FulfillmentHandlers moves order items through the shipping lifecycle.
type FulfillmentHandlers struct {
	fulfillments services.FulfillmentService
}

// NewFulfillmentHandlers builds the fulfillment endpoint group.
func NewFulfillmentHandlers(fulfillments services.FulfillmentService) *FulfillmentHandlers {
	return &FulfillmentHandlers{fulfillments: fulfillments}
}

// Routes registers the fulfillment endpoints under the order subtree. Flat
// registrations keep them composable with the order CRUD mount.
func (h *FulfillmentHandlers) Routes(r chi.Router) {
	r.Post("/{orderRef}/fulfillments", h.FulfillOrder)
	r.Post("/{orderRef}/fulfillments/send", h.SendFulfillments)
	r.Patch("/{orderRef}/fulfillments/{fulfillmentID}", h.UpdateFulfillment)
	r.Post("/{orderRef}/fulfillments/{fulfillmentID}/cancel", h.CancelFulfillment)
}

// FulfillOrder groups every unassigned shippable item into pending
// fulfillments, one per distinct fulfillment service.
func (h *FulfillmentHandlers) FulfillOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillments == nil {
		writeFulfillmentError(ctx, w, services.ErrFulfillmentUnavailable)
		return
	}

	order, err := h.fulfillments.FulfillOrder(ctx, orderRefFromPath(chi.URLParam(r, "orderRef")))
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type sendFulfillmentsRequest struct {
	FulfillmentIDs []string `json:"fulfillment_ids"`
}

// SendFulfillments dispatches the named groups, or every pending group when
// the body is empty.
func (h *FulfillmentHandlers) SendFulfillments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillments == nil {
		writeFulfillmentError(ctx, w, services.ErrFulfillmentUnavailable)
		return
	}

	cmd := services.SendFulfillmentsCommand{Order: orderRefFromPath(chi.URLParam(r, "orderRef"))}
	body, err := readLimitedBody(r, maxFulfillmentBodySize)
	switch {
	case err == nil:
		var req sendFulfillmentsRequest
		if unmarshalErr := json.Unmarshal(body, &req); unmarshalErr != nil {
			writeOrderBodyError(ctx, w, unmarshalErr)
			return
		}
		cmd.FulfillmentIDs = req.FulfillmentIDs
	case errors.Is(err, errEmptyBody):
		// empty body dispatches every pending group
	default:
		writeOrderBodyError(ctx, w, err)
		return
	}

	order, err := h.fulfillments.SendFulfillments(ctx, cmd)
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type updateFulfillmentRequest struct {
	Status         *string `json:"status"`
	TrackingNumber *string `json:"tracking_number"`
}

// UpdateFulfillment records a provider-side correction: a carrier-reported
// status move, a tracking number, or both.
func (h *FulfillmentHandlers) UpdateFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillments == nil {
		writeFulfillmentError(ctx, w, services.ErrFulfillmentUnavailable)
		return
	}

	var req updateFulfillmentRequest
	if err := decodeBody(r, maxFulfillmentBodySize, &req); err != nil {
		writeOrderBodyError(ctx, w, err)
		return
	}

	cmd := services.UpdateFulfillmentCommand{
		Order:          orderRefFromPath(chi.URLParam(r, "orderRef")),
		FulfillmentID:  strings.TrimSpace(chi.URLParam(r, "fulfillmentID")),
		TrackingNumber: req.TrackingNumber,
	}
	if req.Status != nil {
		status := services.FulfillmentStatus(strings.TrimSpace(*req.Status))
		cmd.Status = &status
	}

	order, err := h.fulfillments.UpdateFulfillment(ctx, cmd)
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *FulfillmentHandlers) CancelFulfillment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.fulfillments == nil {
		writeFulfillmentError(ctx, w, services.ErrFulfillmentUnavailable)
		return
	}

	order, err := h.fulfillments.CancelFulfillment(ctx,
		orderRefFromPath(chi.URLParam(r, "orderRef")),
		strings.TrimSpace(chi.URLParam(r, "fulfillmentID")))
	if err != nil {
		writeFulfillmentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func writeFulfillmentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrFulfillmentInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_invalid_transition", firstErrorLine(err), http.StatusConflict))
	case errors.Is(err, services.ErrFulfillmentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", firstErrorLine(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrFulfillmentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_not_found", "fulfillment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_transition", firstErrorLine(err), http.StatusConflict))
	case errors.Is(err, services.ErrFulfillmentConflict), errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_conflict", "order was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrFulfillmentUnavailable), errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("fulfillment_service_unavailable", "fulfillment service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected fulfillment failure", http.StatusInternalServerError))
	}
}

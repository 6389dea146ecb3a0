package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/commerce/internal/platform/httpx"
	"github.com/fieldline/commerce/internal/services"
)

const maxCheckoutBodySize = 16 * 1024

// CheckoutHandlers converts carts into orders. Checkout is the most abused
// endpoint on the surface, so it carries a per-client rate limit.
type CheckoutHandlers struct {
	checkout services.CheckoutService
	limiter  rateLimiter
}

// CheckoutOption customises CheckoutHandlers construction.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutRateLimit caps checkout attempts per client IP within the
// window. Non-positive values disable the limit.
func WithCheckoutRateLimit(limit int, window time.Duration) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.limiter = newSimpleRateLimiter(limit, window, nil)
	}
}

// NewCheckoutHandlers builds the checkout endpoint group.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the checkout endpoint under the cart subtree.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	r.Post("/{cartRef}/checkout", h.Checkout)
}

type checkoutRequest struct {
	CustomerID      string                 `json:"customer_id"`
	Email           string                 `json:"email"`
	ShippingAddress *addressRequest        `json:"shipping_address"`
	BillingAddress  *addressRequest        `json:"billing_address"`
	PaymentDetails  []paymentDetailRequest `json:"payment_details"`
	TransactionKind string                 `json:"transaction_kind"`
	Notes           string                 `json:"notes"`
}

type checkoutResponse struct {
	Order      orderPayload `json:"order"`
	ClosedCart cartPayload  `json:"closed_cart"`
	NextCart   cartPayload  `json:"next_cart"`
}

func (h *CheckoutHandlers) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeCheckoutError(ctx, w, services.ErrCheckoutUnavailable)
		return
	}
	if h.limiter != nil && !h.limiter.Allow(clientKey(r)) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts, slow down", http.StatusTooManyRequests))
		return
	}

	var req checkoutRequest
	if err := decodeBody(r, maxCheckoutBodySize, &req); err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	result, err := h.checkout.Checkout(ctx, services.CheckoutCommand{
		Cart:            cartRefFromPath(chi.URLParam(r, "cartRef")),
		CustomerID:      strings.TrimSpace(req.CustomerID),
		Email:           strings.TrimSpace(req.Email),
		ShippingAddress: req.ShippingAddress.toAddress(),
		BillingAddress:  req.BillingAddress.toAddress(),
		PaymentDetails:  toPaymentDetails(req.PaymentDetails),
		TransactionKind: services.TransactionKind(strings.TrimSpace(req.TransactionKind)),
		Notes:           strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutResponse{
		Order:      buildOrderPayload(result.Order),
		ClosedCart: buildCartPayload(result.ClosedCart),
		NextCart:   buildCartPayload(result.NextCart),
	})
}

// clientKey identifies the caller for rate limiting. RealIP middleware has
// already folded proxy headers into RemoteAddr.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCheckoutMissingAddress):
		httpx.WriteError(ctx, w, httpx.NewError("missing_shipping_address", "shippable items require a shipping address", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", firstErrorLine(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutNotFound), errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartFinalized):
		httpx.WriteError(ctx, w, httpx.NewError("cart_finalized", "cart has already been checked out", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutConflict), errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_conflict", "cart was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected checkout failure", http.StatusInternalServerError))
	}
}

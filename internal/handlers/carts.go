package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/commerce/internal/platform/httpx"
	"github.com/fieldline/commerce/internal/services"
	"github.com/fieldline/commerce/internal/shipping"
)

const maxCartBodySize = 16 * 1024

var errNoEditableFields = errors.New("request contained no editable fields")

// CartHandlers exposes cart CRUD and line mutation endpoints.
type CartHandlers struct {
	carts services.CartService
	rates shipping.Provider
}

// CartOption customises the cart endpoint group.
type CartOption func(*CartHandlers)

// WithCartShippingRates enables the shipping rate quote endpoint backed by the
// given provider.
func WithCartShippingRates(provider shipping.Provider) CartOption {
	return func(h *CartHandlers) {
		h.rates = provider
	}
}

// NewCartHandlers builds the cart endpoint group.
func NewCartHandlers(carts services.CartService, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{carts: carts}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Post("/", h.CreateCart)
	r.Route("/{cartRef}", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Patch("/", h.UpdateCart)
		r.Post("/items", h.AddItems)
		r.Delete("/items", h.ClearItems)
		r.Delete("/items/{itemID}", h.RemoveItem)
		r.Put("/shipping-lines", h.SetShippingLines)
		r.Delete("/shipping-lines", h.RemoveShippingLines)
		r.Put("/tax-lines", h.SetTaxLines)
		r.Delete("/tax-lines", h.RemoveTaxLines)
		r.Get("/shipping-rates", h.ShippingRates)
	})
}

type createCartRequest struct {
	CustomerID string        `json:"customer_id"`
	Email      string        `json:"email"`
	Currency   string        `json:"currency"`
	Items      []itemRequest `json:"items"`
	Notes      string        `json:"notes"`
}

func (h *CartHandlers) CreateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return
	}

	var req createCartRequest
	if err := decodeBody(r, maxCartBodySize, &req); err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	cart, err := h.carts.CreateCart(ctx, services.CreateCartCommand{
		CustomerID: strings.TrimSpace(req.CustomerID),
		Email:      strings.TrimSpace(req.Email),
		Currency:   strings.TrimSpace(req.Currency),
		Items:      toItemInputs(req.Items),
		Notes:      strings.TrimSpace(req.Notes),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusCreated, cart)
}

func (h *CartHandlers) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return
	}

	cart, err := h.carts.GetCart(ctx, cartRefFromPath(chi.URLParam(r, "cartRef")))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

func (h *CartHandlers) UpdateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	cmd, err := parseCartPatch(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.Cart = cartRefFromPath(chi.URLParam(r, "cartRef"))
	cmd.ExpectedVersion = expectedVersionFromHeader(r)

	cart, err := h.carts.UpdateCart(ctx, cmd)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

type cartItemsRequest struct {
	Items []itemRequest `json:"items"`
}

func (h *CartHandlers) AddItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return
	}

	var req cartItemsRequest
	if err := decodeBody(r, maxCartBodySize, &req); err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	cart, err := h.carts.AddItems(ctx, services.AddCartItemsCommand{
		Cart:  cartRefFromPath(chi.URLParam(r, "cartRef")),
		Items: toItemInputs(req.Items),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

func (h *CartHandlers) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return
	}

	cart, err := h.carts.RemoveItems(ctx, services.RemoveCartItemsCommand{
		Cart:    cartRefFromPath(chi.URLParam(r, "cartRef")),
		ItemIDs: []string{strings.TrimSpace(chi.URLParam(r, "itemID"))},
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

func (h *CartHandlers) ClearItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return
	}

	cart, err := h.carts.ClearItems(ctx, cartRefFromPath(chi.URLParam(r, "cartRef")))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

type cartLinesRequest struct {
	Lines []lineAmountRequest `json:"lines"`
}

func (h *CartHandlers) SetShippingLines(w http.ResponseWriter, r *http.Request) {
	h.setLines(w, r, func(ctx context.Context, cmd services.SetCartLinesCommand) (services.Cart, error) {
		return h.carts.AddShippingLines(ctx, cmd)
	})
}

func (h *CartHandlers) SetTaxLines(w http.ResponseWriter, r *http.Request) {
	h.setLines(w, r, func(ctx context.Context, cmd services.SetCartLinesCommand) (services.Cart, error) {
		return h.carts.AddTaxLines(ctx, cmd)
	})
}

func (h *CartHandlers) setLines(w http.ResponseWriter, r *http.Request, apply func(context.Context, services.SetCartLinesCommand) (services.Cart, error)) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return
	}

	var req cartLinesRequest
	if err := decodeBody(r, maxCartBodySize, &req); err != nil {
		writeCartBodyError(ctx, w, err)
		return
	}

	cart, err := apply(ctx, services.SetCartLinesCommand{
		Cart:  cartRefFromPath(chi.URLParam(r, "cartRef")),
		Lines: toLineAmounts(req.Lines),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

func (h *CartHandlers) RemoveShippingLines(w http.ResponseWriter, r *http.Request) {
	h.removeLines(w, r, func(ctx context.Context, ref services.CartRef) (services.Cart, error) {
		return h.carts.RemoveShippingLines(ctx, ref)
	})
}

func (h *CartHandlers) RemoveTaxLines(w http.ResponseWriter, r *http.Request) {
	h.removeLines(w, r, func(ctx context.Context, ref services.CartRef) (services.Cart, error) {
		return h.carts.RemoveTaxLines(ctx, ref)
	})
}

func (h *CartHandlers) removeLines(w http.ResponseWriter, r *http.Request, apply func(context.Context, services.CartRef) (services.Cart, error)) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return
	}

	cart, err := apply(ctx, cartRefFromPath(chi.URLParam(r, "cartRef")))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

type shippingRatePayload struct {
	Name     string `json:"name"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Service  string `json:"service"`
}

type shippingRatesResponse struct {
	Rates []shippingRatePayload `json:"rates"`
}

// ShippingRates quotes shipping options for the cart's current contents and
// destination.
func (h *CartHandlers) ShippingRates(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeCartError(ctx, w, services.ErrCartUnavailable)
		return
	}
	if h.rates == nil {
		httpx.WriteError(ctx, w, httpx.NewError("shipping_rates_unavailable", "shipping rate quoting is not configured", http.StatusServiceUnavailable))
		return
	}

	cart, err := h.carts.GetCart(ctx, cartRefFromPath(chi.URLParam(r, "cartRef")))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	shipment := shipping.Shipment{Currency: cart.Currency}
	if cart.ShippingAddress != nil {
		shipment.Destination = *cart.ShippingAddress
	}
	for _, item := range cart.Items {
		shipment.Items = append(shipment.Items, item.LineItem)
	}

	quotes, err := h.rates.Rates(ctx, shipment)
	if err != nil {
		if errors.Is(err, shipping.ErrNoRates) {
			httpx.WriteError(ctx, w, httpx.NewError("no_shipping_rates", "no shipping rates available for this cart", http.StatusUnprocessableEntity))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
		return
	}

	resp := shippingRatesResponse{Rates: make([]shippingRatePayload, 0, len(quotes))}
	for _, quote := range quotes {
		resp.Rates = append(resp.Rates, shippingRatePayload{
			Name:     quote.Name,
			Amount:   quote.Amount,
			Currency: quote.Currency,
			Service:  quote.Service,
		})
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// parseCartPatch accepts only the editable cart fields and rejects anything
// else so typos surface instead of silently doing nothing.
func parseCartPatch(body []byte) (services.UpdateCartCommand, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return services.UpdateCartCommand{}, errors.New("invalid JSON payload")
	}
	if len(raw) == 0 {
		return services.UpdateCartCommand{}, errNoEditableFields
	}

	var cmd services.UpdateCartCommand
	for field, value := range raw {
		switch field {
		case "email":
			email, err := decodeNullableString(value)
			if err != nil {
				return services.UpdateCartCommand{}, fmt.Errorf("field %q must be a string or null", field)
			}
			cmd.Email = email
		case "customer_id":
			id, err := decodeNullableString(value)
			if err != nil {
				return services.UpdateCartCommand{}, fmt.Errorf("field %q must be a string or null", field)
			}
			cmd.CustomerID = id
		case "notes":
			notes, err := decodeNullableString(value)
			if err != nil {
				return services.UpdateCartCommand{}, fmt.Errorf("field %q must be a string or null", field)
			}
			cmd.Notes = notes
		case "status":
			raw, err := decodeNullableString(value)
			if err != nil || raw == nil {
				return services.UpdateCartCommand{}, fmt.Errorf("field %q must be a string", field)
			}
			status := services.CartStatus(strings.TrimSpace(*raw))
			cmd.Status = &status
		case "shipping_address":
			addr, err := decodeNullableAddress(value)
			if err != nil {
				return services.UpdateCartCommand{}, fmt.Errorf("field %q must be an address object or null", field)
			}
			cmd.ShippingAddress = addr
		case "billing_address":
			addr, err := decodeNullableAddress(value)
			if err != nil {
				return services.UpdateCartCommand{}, fmt.Errorf("field %q must be an address object or null", field)
			}
			cmd.BillingAddress = addr
		default:
			return services.UpdateCartCommand{}, fmt.Errorf("field %q is not editable", field)
		}
	}
	return cmd, nil
}

func decodeNullableString(value json.RawMessage) (*string, error) {
	if isJSONNull(value) {
		empty := ""
		return &empty, nil
	}
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(s)
	return &trimmed, nil
}

func decodeNullableAddress(value json.RawMessage) (*services.Address, error) {
	if isJSONNull(value) {
		return &services.Address{}, nil
	}
	var req addressRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return nil, err
	}
	return req.toAddress(), nil
}

func expectedVersionFromHeader(r *http.Request) int64 {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" {
		return 0
	}
	raw = strings.Trim(raw, `"`)
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || version < 0 {
		return 0
	}
	return version
}

func writeCartResponse(w http.ResponseWriter, status int, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("ETag", fmt.Sprintf("%q", strconv.FormatInt(cart.Version, 10)))
	writeJSONResponse(w, status, buildCartPayload(cart))
}

func writeCartBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body too large", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must not be empty", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
	}
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", firstErrorLine(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartFinalized):
		httpx.WriteError(ctx, w, httpx.NewError("cart_finalized", "cart is closed and can no longer change", http.StatusConflict))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected cart failure", http.StatusInternalServerError))
	}
}

// firstErrorLine keeps the sentinel wrapping detail without leaking chained
// internals into the response.
func firstErrorLine(err error) string {
	msg := err.Error()
	if idx := strings.IndexByte(msg, '\n'); idx >= 0 {
		msg = msg[:idx]
	}
	return msg
}

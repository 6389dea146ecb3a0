package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/commerce/internal/platform/httpx"
	"github.com/fieldline/commerce/internal/platform/pagination"
	"github.com/fieldline/commerce/internal/services"
)

const (
	maxOrderBodySize = 16 * 1024

	defaultOrderPageSize = 50
	maxOrderPageSize     = 200
)

// OrderHandlers exposes order intake, listing, and mutation endpoints.
type OrderHandlers struct {
	orders services.OrderService
}

// NewOrderHandlers builds the order endpoint group.
func NewOrderHandlers(orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes registers the order endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Post("/", h.CreateOrder)
	r.Get("/", h.ListOrders)
	r.Route("/{orderRef}", func(r chi.Router) {
		r.Get("/", h.GetOrder)
		r.Patch("/", h.UpdateOrder)
		r.Post("/cancel", h.CancelOrder)
		r.Post("/items", h.AddItems)
		r.Patch("/items/{itemID}", h.UpdateItem)
		r.Delete("/items/{itemID}", h.RemoveItem)
	})
}

type createOrderRequest struct {
	CustomerID      string                 `json:"customer_id"`
	Email           string                 `json:"email"`
	Currency        string                 `json:"currency"`
	Items           []itemRequest          `json:"items"`
	ShippingAddress *addressRequest        `json:"shipping_address"`
	BillingAddress  *addressRequest        `json:"billing_address"`
	ShippingLines   []lineAmountRequest    `json:"shipping_lines"`
	TaxLines        []lineAmountRequest    `json:"tax_lines"`
	Overrides       []overrideRequest      `json:"overrides"`
	PaymentDetails  []paymentDetailRequest `json:"payment_details"`
	TransactionKind string                 `json:"transaction_kind"`
	Status          string                 `json:"status"`
}

type overrideRequest struct {
	Name    string `json:"name"`
	Price   int64  `json:"price"`
	AdminID string `json:"admin_id"`
}

func toOverrides(overrides []overrideRequest) []services.PricingOverride {
	if len(overrides) == 0 {
		return nil
	}
	out := make([]services.PricingOverride, 0, len(overrides))
	for _, override := range overrides {
		out = append(out, services.PricingOverride{
			Name:    strings.TrimSpace(override.Name),
			Price:   override.Price,
			AdminID: strings.TrimSpace(override.AdminID),
		})
	}
	return out
}

func (h *OrderHandlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}

	var req createOrderRequest
	if err := decodeBody(r, maxOrderBodySize, &req); err != nil {
		writeOrderBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		CustomerID:      strings.TrimSpace(req.CustomerID),
		Email:           strings.TrimSpace(req.Email),
		Currency:        strings.TrimSpace(req.Currency),
		Items:           toItemInputs(req.Items),
		ShippingAddress: req.ShippingAddress.toAddress(),
		BillingAddress:  req.BillingAddress.toAddress(),
		ShippingLines:   toLineAmounts(req.ShippingLines),
		TaxLines:        toLineAmounts(req.TaxLines),
		Overrides:       toOverrides(req.Overrides),
		PaymentDetails:  toPaymentDetails(req.PaymentDetails),
		TransactionKind: services.TransactionKind(strings.TrimSpace(req.TransactionKind)),
		Status:          services.OrderStatus(strings.TrimSpace(req.Status)),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(order))
}

func (h *OrderHandlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}

	order, err := h.orders.GetOrder(ctx, orderRefFromPath(chi.URLParam(r, "orderRef")))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type orderListResponse struct {
	Orders []orderPayload `json:"orders"`
}

func (h *OrderHandlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}

	filter := services.OrderListFilter{
		CustomerID:        strings.TrimSpace(r.URL.Query().Get("customer_id")),
		SubscriptionToken: strings.TrimSpace(r.URL.Query().Get("subscription_token")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("financial_status")); raw != "" {
		status := services.FinancialStatus(raw)
		filter.FinancialStatus = &status
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := services.OrderStatus(raw)
		filter.Status = &status
	}
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", firstErrorLine(err), http.StatusBadRequest))
		return
	}
	filter.Limit = params.PageSize

	orders, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	payloads := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		payloads = append(payloads, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Orders: payloads})
}

func (h *OrderHandlers) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeOrderBodyError(ctx, w, err)
		return
	}

	cmd, err := parseOrderPatch(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	cmd.Order = orderRefFromPath(chi.URLParam(r, "orderRef"))
	cmd.ExpectedVersion = expectedVersionFromHeader(r)

	order, err := h.orders.UpdateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type orderItemsRequest struct {
	Items []itemRequest `json:"items"`
}

func (h *OrderHandlers) AddItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}

	var req orderItemsRequest
	if err := decodeBody(r, maxOrderBodySize, &req); err != nil {
		writeOrderBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.AddItems(ctx, services.AddOrderItemsCommand{
		Order: orderRefFromPath(chi.URLParam(r, "orderRef")),
		Items: toItemInputs(req.Items),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type updateOrderItemRequest struct {
	Quantity   *int           `json:"quantity"`
	Properties map[string]any `json:"properties"`
}

func (h *OrderHandlers) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}

	var req updateOrderItemRequest
	if err := decodeBody(r, maxOrderBodySize, &req); err != nil {
		writeOrderBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.UpdateItem(ctx, services.UpdateOrderItemCommand{
		Order:      orderRefFromPath(chi.URLParam(r, "orderRef")),
		ItemID:     strings.TrimSpace(chi.URLParam(r, "itemID")),
		Quantity:   req.Quantity,
		Properties: req.Properties,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func (h *OrderHandlers) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}

	order, err := h.orders.RemoveItem(ctx, services.RemoveOrderItemCommand{
		Order:  orderRefFromPath(chi.URLParam(r, "orderRef")),
		ItemID: strings.TrimSpace(chi.URLParam(r, "itemID")),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
	Notify bool   `json:"notify"`
}

func (h *OrderHandlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeOrderError(ctx, w, services.ErrOrderUnavailable)
		return
	}

	cmd := services.CancelOrderCommand{Order: orderRefFromPath(chi.URLParam(r, "orderRef"))}
	body, err := readLimitedBody(r, maxOrderBodySize)
	switch {
	case err == nil:
		var req cancelOrderRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeOrderBodyError(ctx, w, err)
			return
		}
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			cancelReason := services.CancelReason(reason)
			cmd.Reason = &cancelReason
		}
		cmd.Notify = req.Notify
	case errors.Is(err, errEmptyBody):
		// cancel with defaults
	default:
		writeOrderBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.CancelOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

// parseOrderPatch accepts only the mutable order fields.
func parseOrderPatch(body []byte) (services.UpdateOrderCommand, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return services.UpdateOrderCommand{}, errors.New("invalid JSON payload")
	}
	if len(raw) == 0 {
		return services.UpdateOrderCommand{}, errNoEditableFields
	}

	var cmd services.UpdateOrderCommand
	for field, value := range raw {
		switch field {
		case "email":
			email, err := decodeNullableString(value)
			if err != nil {
				return services.UpdateOrderCommand{}, fmt.Errorf("field %q must be a string or null", field)
			}
			cmd.Email = email
		case "shipping_address":
			addr, err := decodeNullableAddress(value)
			if err != nil {
				return services.UpdateOrderCommand{}, fmt.Errorf("field %q must be an address object or null", field)
			}
			cmd.ShippingAddress = addr
		case "billing_address":
			addr, err := decodeNullableAddress(value)
			if err != nil {
				return services.UpdateOrderCommand{}, fmt.Errorf("field %q must be an address object or null", field)
			}
			cmd.BillingAddress = addr
		default:
			return services.UpdateOrderCommand{}, fmt.Errorf("field %q is not editable", field)
		}
	}
	return cmd, nil
}

func writeOrderBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body too large", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must not be empty", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_transition", firstErrorLine(err), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", firstErrorLine(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected order failure", http.StatusInternalServerError))
	}
}

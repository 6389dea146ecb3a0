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

const maxWebhookBodySize = 64 * 1024

// WebhookHandlers ingests gateway callback events and republishes them on the
// internal bus. Ingestion is deliberately thin: validation and side effects
// live with the consumers, not the intake endpoint.
type WebhookHandlers struct {
	publisher services.EventPublisher
	clock     func() time.Time
	logger    func(ctx context.Context, msg string, fields map[string]any)
}

// WebhookOption customises WebhookHandlers construction.
type WebhookOption func(*WebhookHandlers)

// WithWebhookClock overrides the receipt timestamp source.
func WithWebhookClock(clock func() time.Time) WebhookOption {
	return func(h *WebhookHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithWebhookLogger wires structured logging for publish failures.
func WithWebhookLogger(logger func(ctx context.Context, msg string, fields map[string]any)) WebhookOption {
	return func(h *WebhookHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewWebhookHandlers builds the webhook intake endpoint group.
func NewWebhookHandlers(publisher services.EventPublisher, opts ...WebhookOption) *WebhookHandlers {
	h := &WebhookHandlers{
		publisher: publisher,
		clock:     time.Now,
		logger:    func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the webhook intake endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	r.Post("/{gateway}", h.ReceiveGatewayEvent)
}

type gatewayEventRequest struct {
	Type     string         `json:"type"`
	ObjectID string         `json:"object_id"`
	Data     map[string]any `json:"data"`
}

type gatewayEventResponse struct {
	Received bool   `json:"received"`
	Type     string `json:"type"`
}

// ReceiveGatewayEvent accepts a gateway callback and republishes it as an
// internal event. The gateway gets a 200 as soon as the event is on the bus;
// retries on publish failure are the gateway's job.
func (h *WebhookHandlers) ReceiveGatewayEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.publisher == nil {
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "event intake is not configured", http.StatusServiceUnavailable))
		return
	}

	gateway := strings.TrimSpace(chi.URLParam(r, "gateway"))
	if gateway == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "gateway is required", http.StatusBadRequest))
		return
	}

	var req gatewayEventRequest
	if err := decodeBody(r, maxWebhookBodySize, &req); err != nil {
		writeOrderBodyError(ctx, w, err)
		return
	}
	eventType := strings.TrimSpace(req.Type)
	if eventType == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "event type is required", http.StatusBadRequest))
		return
	}

	data := cloneMap(req.Data)
	if data == nil {
		data = map[string]any{}
	}
	data["gateway"] = gateway

	event := services.Event{
		Type:       "gateway." + eventType,
		ObjectKind: "gateway_event",
		ObjectID:   strings.TrimSpace(req.ObjectID),
		Data:       data,
		OccurredAt: h.clock().UTC(),
	}
	if err := h.publisher.Publish(ctx, event); err != nil {
		h.logger(ctx, "webhook publish failed", map[string]any{
			"gateway": gateway,
			"type":    event.Type,
			"error":   err.Error(),
		})
		httpx.WriteError(ctx, w, httpx.NewError("webhook_publish_failed", "event could not be accepted", http.StatusServiceUnavailable))
		return
	}

	writeJSONResponse(w, http.StatusOK, gatewayEventResponse{Received: true, Type: event.Type})
}

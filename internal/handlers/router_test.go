package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fieldline/commerce/internal/domain"
	"github.com/fieldline/commerce/internal/services"
)

func TestRouterNotFoundEnvelope(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var envelope map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if envelope["error"] != "route_not_found" {
		t.Fatalf("expected route_not_found, got %v", envelope["error"])
	}
}

func TestRouterUnconfiguredGroupsReturnNotImplemented(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions/sub-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("expected status 501, got %d", rr.Code)
	}
}

func TestRouterHealthzAlwaysUp(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestRouterReadyzReflectsHealth(t *testing.T) {
	system := &stubSystemService{
		healthFunc: func(ctx context.Context) (services.SystemHealthReport, error) {
			return services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"database": {Status: domain.HealthStatusError, Error: "connection refused"},
				},
				GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			}, nil
		},
	}

	router := NewRouter(WithHealthRoutes(NewHealthHandlers(system)))

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}

	var resp healthPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "error" || resp.Checks["database"].Error == "" {
		t.Fatalf("unexpected payload %#v", resp)
	}
}

func TestRouterMountsConfiguredGroups(t *testing.T) {
	carts := &stubCartService{
		getFunc: func(ctx context.Context, ref services.CartRef) (services.Cart, error) {
			return services.Cart{ID: "crt-1"}, nil
		},
	}
	orders := &stubOrderService{
		getFunc: func(ctx context.Context, ref services.OrderRef) (services.Order, error) {
			return services.Order{ID: "ord-1"}, nil
		},
	}
	transactions := &stubTransactionService{
		payFunc: func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
			return services.Order{ID: "ord-1"}, nil
		},
	}
	fulfillments := &stubFulfillmentService{
		fulfillFunc: func(ctx context.Context, ref services.OrderRef) (services.Order, error) {
			return services.Order{ID: "ord-1"}, nil
		},
	}
	subscriptions := &stubSubscriptionService{
		getFunc: func(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error) {
			return services.Subscription{ID: "sub-1"}, nil
		},
	}

	router := NewRouter(
		WithCartRoutes(NewCartHandlers(carts).Routes),
		WithOrderRoutes(NewOrderHandlers(orders).Routes),
		WithTransactionRoutes(NewTransactionHandlers(transactions).Routes),
		WithFulfillmentRoutes(NewFulfillmentHandlers(fulfillments).Routes),
		WithSubscriptionRoutes(NewSubscriptionHandlers(subscriptions).Routes),
		WithInternalRoutes(NewJobHandlers(&stubSubscriptionService{
			renewDueFunc: func(ctx context.Context, now time.Time) (services.BatchSummary, error) {
				return services.BatchSummary{}, nil
			},
		}).Routes),
	)

	paths := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/v1/carts/crt-1", http.StatusOK},
		{http.MethodGet, "/api/v1/orders/ord-1", http.StatusOK},
		{http.MethodPost, "/api/v1/orders/ord-1/pay", http.StatusOK},
		{http.MethodPost, "/api/v1/orders/ord-1/fulfillments", http.StatusOK},
		{http.MethodGet, "/api/v1/subscriptions/sub-1", http.StatusOK},
		{http.MethodPost, "/api/v1/internal/subscriptions/renew-due", http.StatusOK},
	}
	for _, tc := range paths {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d: %s", tc.method, tc.path, tc.want, rr.Code, rr.Body.String())
		}
	}
}

func TestRouterCheckoutRateLimit(t *testing.T) {
	checkout := &stubCheckoutService{
		checkoutFunc: func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
			return services.CheckoutResult{
				Order:    services.Order{ID: "ord-1"},
				NextCart: services.Cart{ID: "crt-2"},
			}, nil
		},
	}

	handler := NewCheckoutHandlers(checkout, WithCheckoutRateLimit(1, time.Minute))
	router := NewRouter(WithCheckoutRoutes(handler.Routes))

	body := `{"payment_details":[{"gateway":"manual"}]}`
	for i, want := range []int{http.StatusCreated, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/carts/crt-1/checkout", strings.NewReader(body))
		req.RemoteAddr = "198.51.100.7:1234"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("attempt %d: expected %d, got %d: %s", i, want, rr.Code, rr.Body.String())
		}
	}
}

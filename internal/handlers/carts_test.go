package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/commerce/internal/services"
	"github.com/fieldline/commerce/internal/shipping"
)

func TestCartHandlersCreateCart(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	service := &stubCartService{
		createFunc: func(ctx context.Context, cmd services.CreateCartCommand) (services.Cart, error) {
			if cmd.Email != "buyer@example.com" {
				t.Fatalf("unexpected email %q", cmd.Email)
			}
			if len(cmd.Items) != 1 || cmd.Items[0].SKU != "SKU-1" || cmd.Items[0].Quantity != 2 {
				t.Fatalf("unexpected items %#v", cmd.Items)
			}
			return services.Cart{
				ID:        "crt-1",
				Token:     "cart_abc",
				Status:    services.CartStatus("open"),
				Email:     cmd.Email,
				Currency:  "USD",
				Totals:    services.Totals{Subtotal: 5000, TotalDue: 5000, TotalPrice: 5000},
				Version:   1,
				CreatedAt: now,
				UpdatedAt: now,
			}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(service).Routes)

	body := `{"email":"buyer@example.com","items":[{"sku":"SKU-1","product_id":"prod-1","quantity":2,"unit_price":2500}]}`
	req := httptest.NewRequest(http.MethodPost, "/carts", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("expected Cache-Control no-store, got %q", cc)
	}
	if etag := rr.Header().Get("ETag"); etag == "" {
		t.Fatalf("expected ETag header")
	}

	var resp cartPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "crt-1" || resp.Token != "cart_abc" {
		t.Fatalf("unexpected cart identity %q %q", resp.ID, resp.Token)
	}
	if resp.Totals.TotalDue != 5000 {
		t.Fatalf("expected total due 5000, got %d", resp.Totals.TotalDue)
	}
}

func TestCartHandlersGetCartResolvesTokenPrefix(t *testing.T) {
	service := &stubCartService{
		getFunc: func(ctx context.Context, ref services.CartRef) (services.Cart, error) {
			if ref.Token != "cart_abc" || ref.ID != "" {
				t.Fatalf("expected token ref, got %#v", ref)
			}
			return services.Cart{ID: "crt-1", Token: "cart_abc", Currency: "USD"}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodGet, "/carts/cart_abc", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersGetCartResolvesID(t *testing.T) {
	service := &stubCartService{
		getFunc: func(ctx context.Context, ref services.CartRef) (services.Cart, error) {
			if ref.ID != "crt-1" || ref.Token != "" {
				t.Fatalf("expected id ref, got %#v", ref)
			}
			return services.Cart{ID: "crt-1", Currency: "USD"}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodGet, "/carts/crt-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestCartHandlersGetCartNotFound(t *testing.T) {
	service := &stubCartService{
		getFunc: func(ctx context.Context, ref services.CartRef) (services.Cart, error) {
			return services.Cart{}, services.ErrCartNotFound
		},
	}

	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodGet, "/carts/crt-missing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	var envelope map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	if envelope["error"] != "cart_not_found" {
		t.Fatalf("expected cart_not_found, got %v", envelope["error"])
	}
}

func TestCartHandlersUpdateCartRejectsUnknownField(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(&stubCartService{}).Routes)

	req := httptest.NewRequest(http.MethodPatch, "/carts/crt-1", strings.NewReader(`{"currency":"EUR"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "not editable") {
		t.Fatalf("expected not editable message, got %s", rr.Body.String())
	}
}

func TestCartHandlersUpdateCartPassesVersionHeader(t *testing.T) {
	service := &stubCartService{
		updateFunc: func(ctx context.Context, cmd services.UpdateCartCommand) (services.Cart, error) {
			if cmd.ExpectedVersion != 4 {
				t.Fatalf("expected version 4, got %d", cmd.ExpectedVersion)
			}
			if cmd.Email == nil || *cmd.Email != "new@example.com" {
				t.Fatalf("expected email pointer, got %#v", cmd.Email)
			}
			return services.Cart{ID: "crt-1", Version: 5}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPatch, "/carts/crt-1", strings.NewReader(`{"email":"new@example.com"}`))
	req.Header.Set("If-Match", `"4"`)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersUpdateCartNullClearsAddress(t *testing.T) {
	service := &stubCartService{
		updateFunc: func(ctx context.Context, cmd services.UpdateCartCommand) (services.Cart, error) {
			if cmd.ShippingAddress == nil || cmd.ShippingAddress.Line1 != "" {
				t.Fatalf("expected zero address pointer, got %#v", cmd.ShippingAddress)
			}
			return services.Cart{ID: "crt-1"}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPatch, "/carts/crt-1", strings.NewReader(`{"shipping_address":null}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersRemoveItem(t *testing.T) {
	service := &stubCartService{
		removeFunc: func(ctx context.Context, cmd services.RemoveCartItemsCommand) (services.Cart, error) {
			if len(cmd.ItemIDs) != 1 || cmd.ItemIDs[0] != "item-9" {
				t.Fatalf("unexpected item ids %#v", cmd.ItemIDs)
			}
			return services.Cart{ID: "crt-1"}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodDelete, "/carts/crt-1/items/item-9", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestCartHandlersFinalizedConflict(t *testing.T) {
	service := &stubCartService{
		addItemsFunc: func(ctx context.Context, cmd services.AddCartItemsCommand) (services.Cart, error) {
			return services.Cart{}, services.ErrCartFinalized
		},
	}

	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/carts/crt-1/items", strings.NewReader(`{"items":[{"sku":"SKU-1","quantity":1}]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "cart_finalized") {
		t.Fatalf("expected cart_finalized code, got %s", rr.Body.String())
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(nil).Routes)

	req := httptest.NewRequest(http.MethodGet, "/carts/crt-1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCartHandlersSetShippingLines(t *testing.T) {
	service := &stubCartService{
		shipLinesFunc: func(ctx context.Context, cmd services.SetCartLinesCommand) (services.Cart, error) {
			if len(cmd.Lines) != 1 || cmd.Lines[0].Name != "Standard" || cmd.Lines[0].Amount != 700 {
				t.Fatalf("unexpected lines %#v", cmd.Lines)
			}
			return services.Cart{ID: "crt-1"}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPut, "/carts/crt-1/shipping-lines", strings.NewReader(`{"lines":[{"name":"Standard","amount":700}]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCartHandlersShippingRates(t *testing.T) {
	service := &stubCartService{
		getFunc: func(ctx context.Context, ref services.CartRef) (services.Cart, error) {
			return services.Cart{
				ID:       "crt-1",
				Currency: "usd",
				Items: []services.CartItem{
					{LineItem: services.LineItem{SKU: "SKU-1", Quantity: 2, RequiresShipping: true}},
					{LineItem: services.LineItem{SKU: "SKU-2", Quantity: 1, RequiresShipping: false}},
				},
			}, nil
		},
	}
	provider, err := shipping.NewFlatRateProvider(shipping.FlatRateConfig{Name: "Ground", BaseAmount: 500, PerItem: 100})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}

	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(service, WithCartShippingRates(provider)).Routes)

	req := httptest.NewRequest(http.MethodGet, "/carts/crt-1/shipping-rates", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp shippingRatesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Rates) != 1 {
		t.Fatalf("expected one rate, got %d", len(resp.Rates))
	}
	rate := resp.Rates[0]
	if rate.Name != "Ground" || rate.Amount != 700 || rate.Currency != "USD" || rate.Service != "flat_rate" {
		t.Fatalf("unexpected rate %#v", rate)
	}
}

func TestCartHandlersShippingRatesUnconfigured(t *testing.T) {
	service := &stubCartService{
		getFunc: func(ctx context.Context, ref services.CartRef) (services.Cart, error) {
			return services.Cart{ID: "crt-1"}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/carts", NewCartHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodGet, "/carts/crt-1/shipping-rates", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	var envelope map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope["error"] != "shipping_rates_unavailable" {
		t.Fatalf("unexpected error code %v", envelope["error"])
	}
}

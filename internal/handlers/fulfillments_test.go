package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/commerce/internal/services"
)

func TestFulfillmentHandlersFulfillOrder(t *testing.T) {
	service := &stubFulfillmentService{
		fulfillFunc: func(ctx context.Context, ref services.OrderRef) (services.Order, error) {
			if ref.ID != "ord-1" {
				t.Fatalf("unexpected ref %#v", ref)
			}
			return services.Order{
				ID:                "ord-1",
				FulfillmentStatus: services.FulfillmentStatus("pending"),
				Fulfillments: []services.Fulfillment{
					{ID: "ful-1", Service: "manual", Status: services.FulfillmentStatus("pending"), TotalItems: 1, TotalPending: 1},
				},
			}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/orders", NewFulfillmentHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/fulfillments", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"fulfillment_status":"pending"`) {
		t.Fatalf("expected pending fulfillment status, got %s", rr.Body.String())
	}
}

func TestFulfillmentHandlersSendSubset(t *testing.T) {
	service := &stubFulfillmentService{
		sendFunc: func(ctx context.Context, cmd services.SendFulfillmentsCommand) (services.Order, error) {
			if len(cmd.FulfillmentIDs) != 1 || cmd.FulfillmentIDs[0] != "ful-1" {
				t.Fatalf("unexpected ids %#v", cmd.FulfillmentIDs)
			}
			return services.Order{ID: "ord-1"}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/orders", NewFulfillmentHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/fulfillments/send", strings.NewReader(`{"fulfillment_ids":["ful-1"]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestFulfillmentHandlersCancelTerminalConflict(t *testing.T) {
	service := &stubFulfillmentService{
		cancelFunc: func(ctx context.Context, orderRef services.OrderRef, fulfillmentID string) (services.Order, error) {
			if fulfillmentID != "ful-1" {
				t.Fatalf("unexpected fulfillment id %q", fulfillmentID)
			}
			return services.Order{}, services.ErrFulfillmentInvalidTransition
		},
	}

	router := chi.NewRouter()
	router.Route("/orders", NewFulfillmentHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/fulfillments/ful-1/cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "fulfillment_invalid_transition") {
		t.Fatalf("expected fulfillment_invalid_transition code, got %s", rr.Body.String())
	}
}

func TestFulfillmentHandlersUnknownGroupNotFound(t *testing.T) {
	service := &stubFulfillmentService{
		cancelFunc: func(ctx context.Context, orderRef services.OrderRef, fulfillmentID string) (services.Order, error) {
			return services.Order{}, services.ErrFulfillmentNotFound
		},
	}

	router := chi.NewRouter()
	router.Route("/orders", NewFulfillmentHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/fulfillments/ful-missing/cancel", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestFulfillmentHandlersManualUpdate(t *testing.T) {
	service := &stubFulfillmentService{
		updateFunc: func(ctx context.Context, cmd services.UpdateFulfillmentCommand) (services.Order, error) {
			if cmd.FulfillmentID != "ful-1" {
				t.Fatalf("unexpected fulfillment id %q", cmd.FulfillmentID)
			}
			if cmd.Status == nil || *cmd.Status != services.FulfillmentStatus("sent") {
				t.Fatalf("expected sent status, got %#v", cmd.Status)
			}
			if cmd.TrackingNumber == nil || *cmd.TrackingNumber != "1Z-42" {
				t.Fatalf("expected tracking number, got %#v", cmd.TrackingNumber)
			}
			return services.Order{
				ID:                "ord-1",
				FulfillmentStatus: services.FulfillmentStatus("sent"),
				Fulfillments: []services.Fulfillment{
					{ID: "ful-1", Status: services.FulfillmentStatus("sent"), TrackingNumber: "1Z-42"},
				},
			}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/orders", NewFulfillmentHandlers(service).Routes)

	body := `{"status":"sent","tracking_number":"1Z-42"}`
	req := httptest.NewRequest(http.MethodPatch, "/orders/ord-1/fulfillments/ful-1", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"tracking_number":"1Z-42"`) {
		t.Fatalf("expected tracking number in payload, got %s", rr.Body.String())
	}
}

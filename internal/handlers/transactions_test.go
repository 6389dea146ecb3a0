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

func TestTransactionHandlersCaptureEmptyBodySelectsAll(t *testing.T) {
	service := &stubTransactionService{
		captureFunc: func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
			if len(cmd.TransactionIDs) != 0 {
				t.Fatalf("expected empty selection, got %#v", cmd.TransactionIDs)
			}
			if cmd.Order.ID != "ord-1" {
				t.Fatalf("unexpected order ref %#v", cmd.Order)
			}
			return services.Order{ID: "ord-1", FinancialStatus: services.FinancialStatus("paid")}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/orders", NewTransactionHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/capture", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"financial_status":"paid"`) {
		t.Fatalf("expected paid financial status, got %s", rr.Body.String())
	}
}

func TestTransactionHandlersAuthorizeExplicitSubset(t *testing.T) {
	service := &stubTransactionService{
		authorizeFunc: func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
			if len(cmd.TransactionIDs) != 2 || cmd.TransactionIDs[0] != "txn-1" {
				t.Fatalf("unexpected ids %#v", cmd.TransactionIDs)
			}
			return services.Order{ID: "ord-1"}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/orders", NewTransactionHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/authorize", strings.NewReader(`{"transaction_ids":["txn-1","txn-2"]}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestTransactionHandlersRefundInstructions(t *testing.T) {
	service := &stubTransactionService{
		refundFunc: func(ctx context.Context, cmd services.RefundOrderCommand) (services.Order, error) {
			if len(cmd.Instructions) != 1 {
				t.Fatalf("expected 1 instruction, got %d", len(cmd.Instructions))
			}
			if cmd.Instructions[0].TransactionID != "txn-1" || cmd.Instructions[0].Amount != 4000 {
				t.Fatalf("unexpected instruction %#v", cmd.Instructions[0])
			}
			if !cmd.Restock {
				t.Fatalf("expected restock true")
			}
			return services.Order{ID: "ord-1"}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/orders", NewTransactionHandlers(service).Routes)

	body := `{"instructions":[{"transaction_id":"txn-1","amount":4000}],"restock":true}`
	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/refund", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestTransactionHandlersRefundTooLargeMapsToBadRequest(t *testing.T) {
	service := &stubTransactionService{
		refundFunc: func(ctx context.Context, cmd services.RefundOrderCommand) (services.Order, error) {
			return services.Order{}, services.ErrTransactionInvalidInput
		},
	}

	router := chi.NewRouter()
	router.Route("/orders", NewTransactionHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/refund", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestTransactionHandlersUnavailableWithoutService(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/orders", NewTransactionHandlers(nil).Routes)

	req := httptest.NewRequest(http.MethodPost, "/orders/ord-1/pay", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

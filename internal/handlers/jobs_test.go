package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/commerce/internal/services"
)

func TestJobHandlersRenewDueUsesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	service := &stubSubscriptionService{
		renewDueFunc: func(ctx context.Context, now time.Time) (services.BatchSummary, error) {
			if !now.Equal(fixed) {
				t.Fatalf("expected sweep time %v, got %v", fixed, now)
			}
			return services.BatchSummary{Processed: 3}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/internal", NewJobHandlers(service, WithJobClock(func() time.Time { return fixed })).Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/subscriptions/renew-due", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp batchSummaryPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Processed != 3 || len(resp.Errors) != 0 {
		t.Fatalf("unexpected summary %#v", resp)
	}
}

func TestJobHandlersNowOverrideForReplay(t *testing.T) {
	pinned := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)

	service := &stubSubscriptionService{
		cancelDueFunc: func(ctx context.Context, now time.Time) (services.BatchSummary, error) {
			if !now.Equal(pinned) {
				t.Fatalf("expected pinned time %v, got %v", pinned, now)
			}
			return services.BatchSummary{Processed: 1, Errors: []string{"cancel sub-2: gone"}}, nil
		},
	}

	router := chi.NewRouter()
	router.Route("/internal", NewJobHandlers(service).Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/subscriptions/cancel-due?now=2026-02-28T00:00:00Z", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp batchSummaryPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Errors) != 1 {
		t.Fatalf("expected 1 error, got %#v", resp.Errors)
	}
}

func TestJobHandlersRejectsBadNow(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/internal", NewJobHandlers(&stubSubscriptionService{}).Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/subscriptions/retry-due?now=yesterday", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestJobHandlersUnavailableWithoutService(t *testing.T) {
	router := chi.NewRouter()
	router.Route("/internal", NewJobHandlers(nil).Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/subscriptions/renewal-notices", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

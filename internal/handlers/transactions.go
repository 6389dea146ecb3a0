package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldline/commerce/internal/platform/httpx"
	"github.com/fieldline/commerce/internal/services"
)

const maxTransactionBodySize = 16 * 1024

// TransactionHandlers drives gateway operations against an order's
// transactions. Every endpoint returns the refreshed order so callers see the
// re-derived financial status without a second round trip.
type TransactionHandlers struct {
	transactions services.TransactionService
}

// NewTransactionHandlers builds the transaction endpoint group.
func NewTransactionHandlers(transactions services.TransactionService) *TransactionHandlers {
	return &TransactionHandlers{transactions: transactions}
}

// Routes registers the transaction endpoints under the order subtree. Flat
// registrations keep them composable with the order CRUD mount.
func (h *TransactionHandlers) Routes(r chi.Router) {
	r.Post("/{orderRef}/authorize", h.Authorize)
	r.Post("/{orderRef}/capture", h.Capture)
	r.Post("/{orderRef}/pay", h.Pay)
	r.Post("/{orderRef}/void", h.Void)
	r.Post("/{orderRef}/refund", h.Refund)
	r.Post("/{orderRef}/retry", h.Retry)
}

type transactionBatchRequest struct {
	TransactionIDs []string `json:"transaction_ids"`
}

func (h *TransactionHandlers) Authorize(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
		return h.transactions.AuthorizeOrder(ctx, cmd)
	})
}

func (h *TransactionHandlers) Capture(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
		return h.transactions.CaptureOrder(ctx, cmd)
	})
}

func (h *TransactionHandlers) Pay(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
		return h.transactions.PayOrder(ctx, cmd)
	})
}

func (h *TransactionHandlers) Void(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
		return h.transactions.VoidOrder(ctx, cmd)
	})
}

func (h *TransactionHandlers) Retry(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
		return h.transactions.RetryOrder(ctx, cmd)
	})
}

func (h *TransactionHandlers) runBatch(w http.ResponseWriter, r *http.Request, op func(context.Context, services.TransactionBatchCommand) (services.Order, error)) {
	ctx := r.Context()
	if h.transactions == nil {
		writeTransactionError(ctx, w, services.ErrTransactionUnavailable)
		return
	}

	cmd := services.TransactionBatchCommand{Order: orderRefFromPath(chi.URLParam(r, "orderRef"))}
	body, err := readLimitedBody(r, maxTransactionBodySize)
	switch {
	case err == nil:
		var req transactionBatchRequest
		if unmarshalErr := json.Unmarshal(body, &req); unmarshalErr != nil {
			writeOrderBodyError(ctx, w, unmarshalErr)
			return
		}
		cmd.TransactionIDs = req.TransactionIDs
	case errors.Is(err, errEmptyBody):
		// empty body selects every matching transaction
	default:
		writeOrderBodyError(ctx, w, err)
		return
	}

	order, err := op(ctx, cmd)
	if err != nil {
		writeTransactionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

type refundOrderRequest struct {
	Instructions []refundInstructionRequest `json:"instructions"`
	Restock      bool                       `json:"restock"`
}

type refundInstructionRequest struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
}

func (h *TransactionHandlers) Refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.transactions == nil {
		writeTransactionError(ctx, w, services.ErrTransactionUnavailable)
		return
	}

	cmd := services.RefundOrderCommand{Order: orderRefFromPath(chi.URLParam(r, "orderRef"))}
	body, err := readLimitedBody(r, maxTransactionBodySize)
	switch {
	case err == nil:
		var req refundOrderRequest
		if unmarshalErr := json.Unmarshal(body, &req); unmarshalErr != nil {
			writeOrderBodyError(ctx, w, unmarshalErr)
			return
		}
		for _, instruction := range req.Instructions {
			cmd.Instructions = append(cmd.Instructions, services.RefundInstruction{
				TransactionID: instruction.TransactionID,
				Amount:        instruction.Amount,
			})
		}
		cmd.Restock = req.Restock
	case errors.Is(err, errEmptyBody):
		// empty body refunds everything refundable in full
	default:
		writeOrderBodyError(ctx, w, err)
		return
	}

	order, err := h.transactions.RefundOrder(ctx, cmd)
	if err != nil {
		writeTransactionError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func writeTransactionError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrTransactionInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", firstErrorLine(err), http.StatusBadRequest))
	case errors.Is(err, services.ErrTransactionNotFound), errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidTransition):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_transition", firstErrorLine(err), http.StatusConflict))
	case errors.Is(err, services.ErrTransactionConflict), errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("transaction_conflict", "order was modified concurrently", http.StatusConflict))
	case errors.Is(err, services.ErrTransactionUnavailable), errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("transaction_service_unavailable", "transaction service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected transaction failure", http.StatusInternalServerError))
	}
}

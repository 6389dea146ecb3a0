package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fieldline/commerce/internal/domain"
	"github.com/fieldline/commerce/internal/payments"
	"github.com/fieldline/commerce/internal/repositories"
)

var (
	errTxnRegistryRequired = errors.New("transaction service: repository registry is required")
	errTxnGatewayRequired  = errors.New("transaction service: payment gateway is required")
	errTxnClockRequired    = errors.New("transaction service: clock is required")
)

// ErrTransactionInvalidInput indicates the caller supplied invalid input.
var ErrTransactionInvalidInput = errors.New("transaction service: invalid input")

// ErrTransactionUnavailable indicates the transaction service cannot fulfil the request due to missing dependencies or backend issues.
var ErrTransactionUnavailable = errors.New("transaction service: unavailable")

// ErrTransactionNotFound indicates the requested order or transaction does not exist.
var ErrTransactionNotFound = errors.New("transaction service: not found")

// ErrTransactionConflict indicates a concurrent modification won.
var ErrTransactionConflict = errors.New("transaction service: conflict")

const gatewayTransportErrorCode = "gateway_error"

// PaymentGateway is the slice of the payments manager the transaction state
// machine drives. Declines come back as failed results; an error is a
// transport or configuration fault.
type PaymentGateway interface {
	Authorize(ctx context.Context, paymentCtx payments.PaymentContext, req payments.AuthorizeRequest) (payments.Result, error)
	Capture(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CaptureRequest) (payments.Result, error)
	Sale(ctx context.Context, paymentCtx payments.PaymentContext, req payments.SaleRequest) (payments.Result, error)
	Void(ctx context.Context, paymentCtx payments.PaymentContext, req payments.VoidRequest) (payments.Result, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.Result, error)
}

// TransactionServiceDeps wires persistence and the gateway boundary.
type TransactionServiceDeps struct {
	Registry    repositories.Registry
	Gateway     PaymentGateway
	Publisher   EventPublisher
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type transactionService struct {
	reg       repositories.Registry
	gateway   PaymentGateway
	publisher EventPublisher
	newID     func() string
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

// NewTransactionService constructs a TransactionService enforcing dependency validation.
func NewTransactionService(deps TransactionServiceDeps) (TransactionService, error) {
	if deps.Registry == nil {
		return nil, errTxnRegistryRequired
	}
	if deps.Gateway == nil {
		return nil, errTxnGatewayRequired
	}
	if deps.Clock == nil {
		return nil, errTxnClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &transactionService{
		reg:       deps.Registry,
		gateway:   deps.Gateway,
		publisher: deps.Publisher,
		newID:     idGen,
		now:       func() time.Time { return deps.Clock().UTC() },
		logger:    logger,
	}
	return service, nil
}

// AuthorizeOrder places holds for pending authorize transactions. A gateway
// decline marks the transaction failed and processing continues with the
// remaining selection.
func (s *transactionService) AuthorizeOrder(ctx context.Context, cmd TransactionBatchCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrTransactionUnavailable
	}

	return s.runBatch(ctx, cmd.Order, cmd.TransactionIDs,
		func(txn Transaction, _ Order) bool {
			return txn.Kind == domain.TransactionKindAuthorize && txn.Status == domain.TransactionStatusPending
		},
		func(ctx context.Context, order *Order, txn Transaction) error {
			result, err := s.gateway.Authorize(ctx, s.paymentContext(*order, txn), payments.AuthorizeRequest{
				Amount:         txn.Amount,
				Currency:       txn.Currency,
				CustomerID:     order.CustomerID,
				SourceToken:    sourceToken(*order, txn.Gateway),
				Description:    fmt.Sprintf("Order %s", order.Number),
				IdempotencyKey: txn.ID,
			})
			return s.applyResult(ctx, order, txn, result, err)
		})
}

// CaptureOrder settles successful authorizations, recording each settlement
// as a new capture transaction.
func (s *transactionService) CaptureOrder(ctx context.Context, cmd TransactionBatchCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrTransactionUnavailable
	}

	return s.runBatch(ctx, cmd.Order, cmd.TransactionIDs,
		func(txn Transaction, order Order) bool {
			return txn.Kind == domain.TransactionKindAuthorize &&
				txn.Status == domain.TransactionStatusSuccess &&
				!hasSettlement(order, txn.Reference)
		},
		func(ctx context.Context, order *Order, txn Transaction) error {
			result, err := s.gateway.Capture(ctx, s.paymentContext(*order, txn), payments.CaptureRequest{
				Reference:      txn.Reference,
				IdempotencyKey: txn.ID + ":capture",
			})
			return s.recordAttempt(ctx, order, txn, domain.TransactionKindCapture, txn.Amount, result, err)
		})
}

// PayOrder executes pending sale transactions.
func (s *transactionService) PayOrder(ctx context.Context, cmd TransactionBatchCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrTransactionUnavailable
	}

	return s.runBatch(ctx, cmd.Order, cmd.TransactionIDs,
		func(txn Transaction, _ Order) bool {
			return txn.Kind == domain.TransactionKindSale && txn.Status == domain.TransactionStatusPending
		},
		func(ctx context.Context, order *Order, txn Transaction) error {
			result, err := s.gateway.Sale(ctx, s.paymentContext(*order, txn), payments.SaleRequest{
				Amount:         txn.Amount,
				Currency:       txn.Currency,
				CustomerID:     order.CustomerID,
				SourceToken:    sourceToken(*order, txn.Gateway),
				Description:    fmt.Sprintf("Order %s", order.Number),
				IdempotencyKey: txn.ID,
			})
			return s.applyResult(ctx, order, txn, result, err)
		})
}

// VoidOrder releases successful authorizations that have not been settled or
// voided, recording each release as a void transaction.
func (s *transactionService) VoidOrder(ctx context.Context, cmd TransactionBatchCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrTransactionUnavailable
	}

	return s.runBatch(ctx, cmd.Order, cmd.TransactionIDs,
		func(txn Transaction, order Order) bool {
			return txn.Kind == domain.TransactionKindAuthorize &&
				txn.Status == domain.TransactionStatusSuccess &&
				!hasSettlement(order, txn.Reference)
		},
		func(ctx context.Context, order *Order, txn Transaction) error {
			result, err := s.gateway.Void(ctx, s.paymentContext(*order, txn), payments.VoidRequest{
				Reference:      txn.Reference,
				IdempotencyKey: txn.ID + ":void",
			})
			return s.recordAttempt(ctx, order, txn, domain.TransactionKindVoid, txn.Amount, result, err)
		})
}

// RefundOrder returns captured money. With explicit instructions each target
// transaction is refunded by the given amount, full when the amount matches;
// without instructions every successful sale and capture is refunded for its
// remaining balance after earlier refunds.
// Each successful refund yields exactly one refund record.
func (s *transactionService) RefundOrder(ctx context.Context, cmd RefundOrderCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrTransactionUnavailable
	}

	order, err := s.resolve(ctx, cmd.Order)
	if err != nil {
		return Order{}, err
	}

	amounts := make(map[string]int64, len(cmd.Instructions))
	var ids []string
	for _, instruction := range cmd.Instructions {
		id := strings.TrimSpace(instruction.TransactionID)
		if id == "" {
			return Order{}, fmt.Errorf("%w: refund instruction requires a transaction id", ErrTransactionInvalidInput)
		}
		if instruction.Amount <= 0 {
			return Order{}, fmt.Errorf("%w: refund amount must be positive", ErrTransactionInvalidInput)
		}
		amounts[id] = instruction.Amount
		ids = append(ids, id)
	}

	return s.runBatch(ctx, OrderRef{ID: order.ID}, ids,
		func(txn Transaction, order Order) bool {
			if txn.Status != domain.TransactionStatusSuccess {
				return false
			}
			if txn.Kind != domain.TransactionKindSale && txn.Kind != domain.TransactionKindCapture {
				return false
			}
			return refundedAgainst(order, txn.Reference) < txn.Amount
		},
		func(ctx context.Context, order *Order, txn Transaction) error {
			remaining := txn.Amount - refundedAgainst(*order, txn.Reference)
			amount := remaining
			if explicit, ok := amounts[txn.ID]; ok {
				amount = explicit
			}
			if amount <= 0 {
				return nil
			}
			if amount > remaining {
				return fmt.Errorf("%w: refund amount exceeds refundable balance", ErrTransactionInvalidInput)
			}

			refundAmount := amount
			result, err := s.gateway.Refund(ctx, s.paymentContext(*order, txn), payments.RefundRequest{
				Reference:      txn.Reference,
				Amount:         &refundAmount,
				IdempotencyKey: txn.ID + ":refund",
			})
			if err := s.recordAttempt(ctx, order, txn, domain.TransactionKindRefund, amount, result, err); err != nil {
				return err
			}

			// recordAttempt appended the refund transaction last.
			recorded := order.Transactions[len(order.Transactions)-1]
			if recorded.Status != domain.TransactionStatusSuccess {
				return nil
			}
			refund, err := s.reg.Refunds().Insert(ctx, Refund{
				ID:            s.newID(),
				OrderID:       order.ID,
				TransactionID: recorded.ID,
				Amount:        amount,
				Restock:       cmd.Restock,
				CreatedAt:     s.now(),
			})
			if err != nil {
				return s.translateRepoError(err)
			}
			order.Refunds = append(order.Refunds, refund)
			return nil
		})
}

// RetryOrder re-runs failed or still-pending payment attempts.
func (s *transactionService) RetryOrder(ctx context.Context, cmd TransactionBatchCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrTransactionUnavailable
	}

	return s.runBatch(ctx, cmd.Order, cmd.TransactionIDs,
		func(txn Transaction, _ Order) bool {
			if txn.Status != domain.TransactionStatusFailure && txn.Status != domain.TransactionStatusPending {
				return false
			}
			return txn.Kind == domain.TransactionKindAuthorize || txn.Kind == domain.TransactionKindSale
		},
		func(ctx context.Context, order *Order, txn Transaction) error {
			req := payments.AuthorizeRequest{
				Amount:         txn.Amount,
				Currency:       txn.Currency,
				CustomerID:     order.CustomerID,
				SourceToken:    sourceToken(*order, txn.Gateway),
				Description:    fmt.Sprintf("Order %s retry", order.Number),
				IdempotencyKey: txn.ID + ":retry",
			}
			var (
				result payments.Result
				err    error
			)
			if txn.Kind == domain.TransactionKindAuthorize {
				result, err = s.gateway.Authorize(ctx, s.paymentContext(*order, txn), req)
			} else {
				result, err = s.gateway.Sale(ctx, s.paymentContext(*order, txn), req)
			}
			return s.applyResult(ctx, order, txn, result, err)
		})
}

// CancelTransactions cancels pending transactions without touching the
// gateway.
func (s *transactionService) CancelTransactions(ctx context.Context, cmd TransactionBatchCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrTransactionUnavailable
	}

	return s.runBatch(ctx, cmd.Order, cmd.TransactionIDs,
		func(txn Transaction, _ Order) bool {
			return txn.Status == domain.TransactionStatusPending
		},
		func(ctx context.Context, order *Order, txn Transaction) error {
			txn.Status = domain.TransactionStatusCancelled
			txn.UpdatedAt = s.now()
			updated, err := s.reg.Transactions().Update(ctx, txn)
			if err != nil {
				return s.translateRepoError(err)
			}
			replaceTransaction(order, updated)
			return nil
		})
}

// runBatch resolves the order, applies fn to every transaction matching the
// selector, then recomputes and persists the derived financial status.
// Explicit ids outside the selection are silently skipped.
func (s *transactionService) runBatch(
	ctx context.Context,
	ref OrderRef,
	ids []string,
	selector func(Transaction, Order) bool,
	fn func(context.Context, *Order, Transaction) error,
) (Order, error) {
	order, err := s.resolve(ctx, ref)
	if err != nil {
		return Order{}, err
	}

	var subset map[string]struct{}
	if len(ids) > 0 {
		subset = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			subset[strings.TrimSpace(id)] = struct{}{}
		}
	}

	selected := make([]Transaction, 0, len(order.Transactions))
	for _, txn := range order.Transactions {
		if subset != nil {
			if _, ok := subset[txn.ID]; !ok {
				continue
			}
		}
		if selector(txn, order) {
			selected = append(selected, txn)
		}
	}

	for _, txn := range selected {
		if err := fn(ctx, &order, txn); err != nil {
			return Order{}, err
		}
	}

	return s.refreshOrder(ctx, order.ID)
}

// applyResult folds a gateway outcome into an existing transaction row. A
// transport error is recorded as a failure, never returned.
func (s *transactionService) applyResult(ctx context.Context, order *Order, txn Transaction, result payments.Result, gatewayErr error) error {
	now := s.now()
	txn.UpdatedAt = now

	switch {
	case gatewayErr != nil:
		s.logger(ctx, "transaction.gateway_failed", map[string]any{
			"transactionId": txn.ID,
			"gateway":       txn.Gateway,
			"error":         gatewayErr.Error(),
		})
		txn.Status = domain.TransactionStatusFailure
		txn.ErrorCode = gatewayTransportErrorCode
	case result.Status == payments.StatusSucceeded:
		txn.Status = domain.TransactionStatusSuccess
		txn.Reference = result.Reference
		txn.ErrorCode = ""
	case result.Status == payments.StatusFailed:
		txn.Status = domain.TransactionStatusFailure
		txn.Reference = result.Reference
		txn.ErrorCode = result.ErrorCode
	default:
		txn.Status = domain.TransactionStatusPending
		txn.Reference = result.Reference
	}

	updated, err := s.reg.Transactions().Update(ctx, txn)
	if err != nil {
		return s.translateRepoError(err)
	}
	replaceTransaction(order, updated)
	return nil
}

// recordAttempt persists a gateway outcome as a new transaction row of the
// given kind, leaving the originating row untouched.
func (s *transactionService) recordAttempt(ctx context.Context, order *Order, origin Transaction, kind TransactionKind, amount int64, result payments.Result, gatewayErr error) error {
	now := s.now()
	attempt := Transaction{
		ID:        s.newID(),
		OrderID:   order.ID,
		Kind:      kind,
		Amount:    amount,
		Currency:  origin.Currency,
		Gateway:   origin.Gateway,
		Reference: origin.Reference,
		CreatedAt: now,
		UpdatedAt: now,
	}

	switch {
	case gatewayErr != nil:
		s.logger(ctx, "transaction.gateway_failed", map[string]any{
			"transactionId": origin.ID,
			"gateway":       origin.Gateway,
			"kind":          string(kind),
			"error":         gatewayErr.Error(),
		})
		attempt.Status = domain.TransactionStatusFailure
		attempt.ErrorCode = gatewayTransportErrorCode
	case result.Status == payments.StatusSucceeded:
		// The row keeps the originating payment reference so settlements and
		// refunds stay tied to their authorization; the gateway's own id for
		// this attempt is kept as the description.
		attempt.Status = domain.TransactionStatusSuccess
		if result.Reference != "" && result.Reference != origin.Reference {
			attempt.Description = result.Reference
		}
	case result.Status == payments.StatusFailed:
		attempt.Status = domain.TransactionStatusFailure
		attempt.ErrorCode = result.ErrorCode
	default:
		attempt.Status = domain.TransactionStatusPending
	}

	inserted, err := s.reg.Transactions().Insert(ctx, attempt)
	if err != nil {
		return s.translateRepoError(err)
	}
	order.Transactions = append(order.Transactions, inserted)
	return nil
}

// refreshOrder reloads the order and persists freshly derived statuses.
func (s *transactionService) refreshOrder(ctx context.Context, orderID string) (Order, error) {
	order, err := s.reg.Orders().FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	financial := domain.ResolveFinancialStatus(order.Totals.TotalDue, order.Transactions, order.Refunds)
	fulfillment := domain.ResolveFulfillmentStatus(order.Fulfillments)
	if financial == order.FinancialStatus && fulfillment == order.FulfillmentStatus {
		return order, nil
	}

	previous := order.FinancialStatus
	order.FinancialStatus = financial
	order.FulfillmentStatus = fulfillment
	order.UpdatedAt = s.now()
	saved, err := s.reg.Orders().Update(ctx, order)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	saved.Items = order.Items
	saved.Transactions = order.Transactions
	saved.Fulfillments = order.Fulfillments
	saved.Refunds = order.Refunds

	s.publishStatusChange(ctx, saved, previous)
	return saved, nil
}

func (s *transactionService) publishStatusChange(ctx context.Context, order Order, previous FinancialStatus) {
	if s.publisher == nil || order.FinancialStatus == previous {
		return
	}
	event := Event{
		Type:       "order.financial_status.changed",
		ObjectKind: "order",
		ObjectID:   order.ID,
		Data: map[string]any{
			"from": string(previous),
			"to":   string(order.FinancialStatus),
		},
		OccurredAt: s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger(ctx, "transaction.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *transactionService) paymentContext(order Order, txn Transaction) payments.PaymentContext {
	return payments.PaymentContext{
		PreferredProvider: txn.Gateway,
		Currency:          txn.Currency,
	}
}

func (s *transactionService) resolve(ctx context.Context, ref OrderRef) (Order, error) {
	id := strings.TrimSpace(ref.ID)
	token := strings.TrimSpace(ref.Token)

	var (
		order Order
		err   error
	)
	switch {
	case id != "":
		order, err = s.reg.Orders().FindByID(ctx, id)
	case token != "":
		order, err = s.reg.Orders().FindByToken(ctx, token)
	default:
		return Order{}, fmt.Errorf("%w: order reference required", ErrTransactionInvalidInput)
	}
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	return order, nil
}

func (s *transactionService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrTransactionNotFound
		case repoErr.IsConflict():
			return ErrTransactionConflict
		}
	}
	return ErrTransactionUnavailable
}

// hasSettlement reports whether a successful capture or void already
// references the authorization.
func hasSettlement(order Order, reference string) bool {
	if reference == "" {
		return false
	}
	for _, txn := range order.Transactions {
		if txn.Status != domain.TransactionStatusSuccess {
			continue
		}
		if txn.Kind != domain.TransactionKindCapture && txn.Kind != domain.TransactionKindVoid {
			continue
		}
		if txn.Reference == reference {
			return true
		}
	}
	return false
}

// refundedAgainst sums successful refund transactions that reference the
// settled payment.
func refundedAgainst(order Order, reference string) int64 {
	if reference == "" {
		return 0
	}
	var total int64
	for _, txn := range order.Transactions {
		if txn.Kind == domain.TransactionKindRefund &&
			txn.Status == domain.TransactionStatusSuccess &&
			txn.Reference == reference {
			total += txn.Amount
		}
	}
	return total
}

func replaceTransaction(order *Order, txn Transaction) {
	for idx := range order.Transactions {
		if order.Transactions[idx].ID == txn.ID {
			order.Transactions[idx] = txn
			return
		}
	}
	order.Transactions = append(order.Transactions, txn)
}

// sourceToken pulls the stored source token for the gateway from the order's
// payment details.
func sourceToken(order Order, gateway string) string {
	for _, detail := range order.PaymentDetails {
		if !strings.EqualFold(strings.TrimSpace(detail.Gateway), gateway) {
			continue
		}
		if token, ok := detail.Source["token"].(string); ok {
			return token
		}
	}
	return ""
}

package domain

// cartStatusTransitions enumerates the legal cart lifecycle moves.
var cartStatusTransitions = map[CartStatus][]CartStatus{
	CartStatusOpen:   {CartStatusDraft, CartStatusClosed},
	CartStatusDraft:  {CartStatusOpen, CartStatusClosed},
	CartStatusClosed: {},
}

// orderStatusTransitions enumerates the legal order lifecycle moves. An order
// is cancelled at most once.
var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDraft:     {OrderStatusOpen, OrderStatusCancelled},
	OrderStatusOpen:      {OrderStatusCancelled},
	OrderStatusCancelled: {},
}

// transactionStatusTransitions enumerates per-attempt payment moves. A failed
// attempt may return to pending on retry; a new attempt row is preferred over
// rewriting history.
var transactionStatusTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending: {TransactionStatusSuccess, TransactionStatusFailure, TransactionStatusCancelled},
	TransactionStatusFailure: {TransactionStatusPending, TransactionStatusSuccess, TransactionStatusCancelled},
	TransactionStatusSuccess: {},
}

// fulfillmentStatusTransitions enumerates shipping group moves. Cancelled is
// reachable from every non-terminal state.
var fulfillmentStatusTransitions = map[FulfillmentStatus][]FulfillmentStatus{
	FulfillmentStatusNone:      {FulfillmentStatusPending, FulfillmentStatusSent, FulfillmentStatusCancelled},
	FulfillmentStatusPending:   {FulfillmentStatusSent, FulfillmentStatusCancelled},
	FulfillmentStatusSent:      {FulfillmentStatusCancelled},
	FulfillmentStatusCancelled: {},
}

// CanTransitionCart reports whether a cart may move between the two statuses.
func CanTransitionCart(from, to CartStatus) bool {
	for _, candidate := range cartStatusTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// CanTransitionOrder reports whether an order may move between the two statuses.
func CanTransitionOrder(from, to OrderStatus) bool {
	for _, candidate := range orderStatusTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// CanTransitionTransaction reports whether a transaction may move between the
// two statuses.
func CanTransitionTransaction(from, to TransactionStatus) bool {
	for _, candidate := range transactionStatusTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// CanTransitionFulfillment reports whether a fulfillment may move between the
// two statuses.
func CanTransitionFulfillment(from, to FulfillmentStatus) bool {
	for _, candidate := range fulfillmentStatusTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminalFulfillment reports whether the status permits no further moves.
func IsTerminalFulfillment(status FulfillmentStatus) bool {
	return len(fulfillmentStatusTransitions[status]) == 0
}

// ResolveFinancialStatus derives the payment summary for an order from its
// full transaction and refund history. totalDue is the amount owed before any
// payment was applied.
func ResolveFinancialStatus(totalDue int64, transactions []Transaction, refunds []Refund) FinancialStatus {
	var paid, authorized, voided int64
	for _, txn := range transactions {
		if txn.Status != TransactionStatusSuccess {
			continue
		}
		switch txn.Kind {
		case TransactionKindCapture, TransactionKindSale:
			paid += txn.Amount
		case TransactionKindAuthorize:
			authorized += txn.Amount
		case TransactionKindVoid:
			voided += txn.Amount
		}
	}
	authorized -= voided
	if authorized < 0 {
		authorized = 0
	}

	var refunded int64
	for _, refund := range refunds {
		refunded += refund.Amount
	}

	switch {
	case refunded > 0 && refunded >= paid && paid > 0:
		return FinancialStatusRefunded
	case refunded > 0:
		return FinancialStatusPartiallyRefunded
	case paid > 0 && paid >= totalDue:
		return FinancialStatusPaid
	case paid > 0:
		return FinancialStatusPartiallyPaid
	case authorized > 0:
		return FinancialStatusAuthorized
	default:
		return FinancialStatusPending
	}
}

// ResolveFulfillmentStatus derives the shipping summary for an order from its
// fulfillment groups.
func ResolveFulfillmentStatus(fulfillments []Fulfillment) FulfillmentStatus {
	if len(fulfillments) == 0 {
		return FulfillmentStatusNone
	}

	var pending, sent, cancelled, none int
	for _, f := range fulfillments {
		switch f.Status {
		case FulfillmentStatusPending:
			pending++
		case FulfillmentStatusSent:
			sent++
		case FulfillmentStatusCancelled:
			cancelled++
		default:
			none++
		}
	}

	total := len(fulfillments)
	switch {
	case cancelled == total:
		return FulfillmentStatusCancelled
	case sent > 0 && sent+cancelled == total:
		return FulfillmentStatusSent
	case pending > 0 || sent > 0:
		return FulfillmentStatusPending
	default:
		return FulfillmentStatusNone
	}
}

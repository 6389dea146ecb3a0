package domain

import (
	"testing"
	"time"
)

func TestResolveFinancialStatusBoundaries(t *testing.T) {
	const totalDue = int64(10000)

	capture := Transaction{Kind: TransactionKindCapture, Status: TransactionStatusSuccess, Amount: totalDue}

	if got := ResolveFinancialStatus(totalDue, nil, nil); got != FinancialStatusPending {
		t.Fatalf("expected pending with no transactions, got %s", got)
	}

	if got := ResolveFinancialStatus(totalDue, []Transaction{
		{Kind: TransactionKindAuthorize, Status: TransactionStatusSuccess, Amount: totalDue},
	}, nil); got != FinancialStatusAuthorized {
		t.Fatalf("expected authorized, got %s", got)
	}

	if got := ResolveFinancialStatus(totalDue, []Transaction{
		{Kind: TransactionKindAuthorize, Status: TransactionStatusSuccess, Amount: totalDue},
		{Kind: TransactionKindVoid, Status: TransactionStatusSuccess, Amount: totalDue},
	}, nil); got != FinancialStatusPending {
		t.Fatalf("expected pending after void, got %s", got)
	}

	if got := ResolveFinancialStatus(totalDue, []Transaction{
		{Kind: TransactionKindCapture, Status: TransactionStatusSuccess, Amount: 4000},
	}, nil); got != FinancialStatusPartiallyPaid {
		t.Fatalf("expected partially_paid, got %s", got)
	}

	if got := ResolveFinancialStatus(totalDue, []Transaction{capture}, nil); got != FinancialStatusPaid {
		t.Fatalf("expected paid after full capture, got %s", got)
	}

	if got := ResolveFinancialStatus(totalDue, []Transaction{capture}, []Refund{{Amount: 4000}}); got != FinancialStatusPartiallyRefunded {
		t.Fatalf("expected partially_refunded, got %s", got)
	}

	if got := ResolveFinancialStatus(totalDue, []Transaction{capture}, []Refund{{Amount: totalDue}}); got != FinancialStatusRefunded {
		t.Fatalf("expected refunded, got %s", got)
	}
}

func TestResolveFinancialStatusIgnoresFailedAttempts(t *testing.T) {
	transactions := []Transaction{
		{Kind: TransactionKindSale, Status: TransactionStatusFailure, Amount: 5000},
		{Kind: TransactionKindSale, Status: TransactionStatusPending, Amount: 5000},
	}
	if got := ResolveFinancialStatus(5000, transactions, nil); got != FinancialStatusPending {
		t.Fatalf("expected pending when no attempt succeeded, got %s", got)
	}
}

func TestResolveFulfillmentStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []FulfillmentStatus
		want     FulfillmentStatus
	}{
		{name: "no groups", statuses: nil, want: FulfillmentStatusNone},
		{name: "all none", statuses: []FulfillmentStatus{FulfillmentStatusNone}, want: FulfillmentStatusNone},
		{name: "one pending", statuses: []FulfillmentStatus{FulfillmentStatusPending, FulfillmentStatusNone}, want: FulfillmentStatusPending},
		{name: "partially sent", statuses: []FulfillmentStatus{FulfillmentStatusSent, FulfillmentStatusPending}, want: FulfillmentStatusPending},
		{name: "all sent", statuses: []FulfillmentStatus{FulfillmentStatusSent, FulfillmentStatusSent}, want: FulfillmentStatusSent},
		{name: "sent with cancelled remainder", statuses: []FulfillmentStatus{FulfillmentStatusSent, FulfillmentStatusCancelled}, want: FulfillmentStatusSent},
		{name: "all cancelled", statuses: []FulfillmentStatus{FulfillmentStatusCancelled, FulfillmentStatusCancelled}, want: FulfillmentStatusCancelled},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			groups := make([]Fulfillment, 0, len(tc.statuses))
			for _, status := range tc.statuses {
				groups = append(groups, Fulfillment{Status: status})
			}
			if got := ResolveFulfillmentStatus(groups); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestTransitionTables(t *testing.T) {
	if !CanTransitionCart(CartStatusOpen, CartStatusClosed) {
		t.Fatalf("open cart should close")
	}
	if CanTransitionCart(CartStatusClosed, CartStatusOpen) {
		t.Fatalf("closed cart must not reopen")
	}

	if !CanTransitionOrder(OrderStatusOpen, OrderStatusCancelled) {
		t.Fatalf("open order should cancel")
	}
	if CanTransitionOrder(OrderStatusCancelled, OrderStatusOpen) {
		t.Fatalf("cancelled order is terminal")
	}

	if !CanTransitionTransaction(TransactionStatusPending, TransactionStatusSuccess) {
		t.Fatalf("pending transaction should succeed")
	}
	if !CanTransitionTransaction(TransactionStatusFailure, TransactionStatusPending) {
		t.Fatalf("failed transaction should be retryable")
	}
	if CanTransitionTransaction(TransactionStatusSuccess, TransactionStatusPending) {
		t.Fatalf("successful transaction is immutable")
	}

	if !CanTransitionFulfillment(FulfillmentStatusPending, FulfillmentStatusSent) {
		t.Fatalf("pending fulfillment should send")
	}
	if CanTransitionFulfillment(FulfillmentStatusCancelled, FulfillmentStatusPending) {
		t.Fatalf("cancelled fulfillment is terminal")
	}
	if !IsTerminalFulfillment(FulfillmentStatusCancelled) {
		t.Fatalf("cancelled fulfillment should be terminal")
	}
}

func TestSubscriptionNextRenewal(t *testing.T) {
	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	monthly := Subscription{Unit: IntervalUnitMonth, Interval: 1}
	if got := monthly.NextRenewal(base); !got.Equal(time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected monthly renewal: %s", got)
	}

	weekly := Subscription{Unit: IntervalUnitWeek, Interval: 2}
	if got := weekly.NextRenewal(base); !got.Equal(time.Date(2024, 3, 24, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected biweekly renewal: %s", got)
	}

	zeroInterval := Subscription{Unit: IntervalUnitDay}
	if got := zeroInterval.NextRenewal(base); !got.Equal(base.AddDate(0, 0, 1)) {
		t.Fatalf("zero interval should default to one unit, got %s", got)
	}
}

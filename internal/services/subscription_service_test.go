package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
	"github.com/fieldline/commerce/internal/notify"
	"github.com/fieldline/commerce/internal/payments"
)

func createSubscription(t *testing.T, bundle *serviceBundle) Subscription {
	t.Helper()
	ctx := context.Background()

	order, err := bundle.orders.CreateOrder(ctx, CreateOrderCommand{
		Email:    "member@example.com",
		Currency: "USD",
		Items: []CartItemInput{
			{
				ProductID:            "prod-sub",
				SKU:                  "SKU-SUB",
				Quantity:             1,
				UnitPrice:            2500,
				RequiresSubscription: true,
				SubscriptionUnit:     domain.IntervalUnitMonth,
				SubscriptionInterval: 1,
			},
		},
		PaymentDetails:  []PaymentDetail{{Gateway: "manual"}},
		TransactionKind: domain.TransactionKindSale,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if _, err := bundle.transactions.PayOrder(ctx, TransactionBatchCommand{Order: OrderRef{ID: order.ID}}); err != nil {
		t.Fatalf("pay order: %v", err)
	}

	sub, err := bundle.subscriptions.CreateFromOrder(ctx, CreateSubscriptionCommand{Order: OrderRef{ID: order.ID}})
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func TestSubscriptionServiceCreateFromOrder(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)

	sub := createSubscription(t, bundle)

	if !sub.Active || sub.Cancelled {
		t.Fatalf("expected active subscription, got %+v", sub)
	}
	if sub.Unit != domain.IntervalUnitMonth || sub.Interval != 1 {
		t.Fatalf("expected monthly cadence, got %s/%d", sub.Unit, sub.Interval)
	}
	if !sub.RenewsOn.Equal(now.AddDate(0, 1, 0)) {
		t.Fatalf("expected renewal one month out, got %s", sub.RenewsOn)
	}
	if len(sub.Items) != 1 || sub.TotalPrice != 2500 {
		t.Fatalf("expected frozen snapshot of the recurring item, got %+v", sub)
	}
}

func TestSubscriptionServiceCreateFromOrderRequiresPaid(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	order := createOpenOrder(t, bundle, domain.TransactionKindSale)

	_, err := bundle.subscriptions.CreateFromOrder(ctx, CreateSubscriptionCommand{Order: OrderRef{ID: order.ID}})
	if !errors.Is(err, ErrSubscriptionInvalidTransition) {
		t.Fatalf("expected invalid transition for unpaid order, got %v", err)
	}
}

func TestSubscriptionServiceCreateFromOrderRequiresRecurringItems(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	order := createOpenOrder(t, bundle, domain.TransactionKindSale)
	if _, err := bundle.transactions.PayOrder(ctx, TransactionBatchCommand{Order: OrderRef{ID: order.ID}}); err != nil {
		t.Fatalf("pay: %v", err)
	}

	_, err := bundle.subscriptions.CreateFromOrder(ctx, CreateSubscriptionCommand{Order: OrderRef{ID: order.ID}})
	if !errors.Is(err, ErrSubscriptionInvalidInput) {
		t.Fatalf("expected invalid input without recurring items, got %v", err)
	}
}

func TestSubscriptionServiceRenewDueConverges(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	sub := createSubscription(t, bundle)
	renewTime := sub.RenewsOn

	summary, err := bundle.subscriptions.RenewDue(ctx, renewTime)
	if err != nil {
		t.Fatalf("renew due: %v", err)
	}
	if summary.Processed != 1 || len(summary.Errors) != 0 {
		t.Fatalf("expected one renewal, got %+v", summary)
	}

	renewed, err := bundle.subscriptions.GetSubscription(ctx, SubscriptionRef{ID: sub.ID})
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if !renewed.RenewsOn.Equal(sub.RenewsOn.AddDate(0, 1, 0)) {
		t.Fatalf("expected renewal advanced one cycle, got %s", renewed.RenewsOn)
	}
	if renewed.LastOrderID == sub.LastOrderID {
		t.Fatalf("expected a fresh renewal order")
	}

	renewalOrder, err := bundle.orders.GetOrder(ctx, OrderRef{ID: renewed.LastOrderID})
	if err != nil {
		t.Fatalf("get renewal order: %v", err)
	}
	if renewalOrder.FinancialStatus != domain.FinancialStatusPaid {
		t.Fatalf("expected paid renewal order, got %s", renewalOrder.FinancialStatus)
	}
	if renewalOrder.SubscriptionToken != sub.Token {
		t.Fatalf("expected renewal order tagged with the subscription token")
	}
	if renewalOrder.ProcessingMethod != domain.ProcessingMethodSubscription {
		t.Fatalf("expected subscription processing method, got %s", renewalOrder.ProcessingMethod)
	}

	// The renewed subscription left the window, so a second run is a no-op.
	again, err := bundle.subscriptions.RenewDue(ctx, renewTime)
	if err != nil {
		t.Fatalf("second renew due: %v", err)
	}
	if again.Processed != 0 {
		t.Fatalf("expected converged sweep, got %+v", again)
	}
}

func TestSubscriptionServiceFailedRenewalSchedulesRetry(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	sub := createSubscription(t, bundle)
	renewTime := sub.RenewsOn

	bundle.gateway.saleFunc = func(payments.SaleRequest) (payments.Result, error) {
		return payments.Result{Status: payments.StatusFailed, ErrorCode: "card_declined"}, nil
	}

	if _, err := bundle.subscriptions.RenewDue(ctx, renewTime); err != nil {
		t.Fatalf("renew due: %v", err)
	}

	failed, err := bundle.subscriptions.GetSubscription(ctx, SubscriptionRef{ID: sub.ID})
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if failed.TotalRenewalAttempts != 1 {
		t.Fatalf("expected one attempt recorded, got %d", failed.TotalRenewalAttempts)
	}
	if failed.RenewRetryAt == nil || !failed.RenewRetryAt.Equal(renewTime.Add(24*time.Hour)) {
		t.Fatalf("expected retry scheduled a day out, got %v", failed.RenewRetryAt)
	}
	if !failed.RenewsOn.Equal(sub.RenewsOn) {
		t.Fatalf("expected renewal date unchanged after failure, got %s", failed.RenewsOn)
	}
	if countMail(bundle.mailer, notify.TemplateRenewalFailed) != 1 {
		t.Fatalf("expected one failure notice")
	}

	// A second failed attempt does not repeat the notice.
	if _, err := bundle.subscriptions.RetryDue(ctx, renewTime.Add(25*time.Hour)); err != nil {
		t.Fatalf("retry due: %v", err)
	}
	twice, err := bundle.subscriptions.GetSubscription(ctx, SubscriptionRef{ID: sub.ID})
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if twice.TotalRenewalAttempts != 2 {
		t.Fatalf("expected two attempts, got %d", twice.TotalRenewalAttempts)
	}
	if countMail(bundle.mailer, notify.TemplateRenewalFailed) != 1 {
		t.Fatalf("expected the failure notice only once")
	}
}

func TestSubscriptionServiceRetryDueRecovers(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	sub := createSubscription(t, bundle)
	renewTime := sub.RenewsOn

	bundle.gateway.saleFunc = func(payments.SaleRequest) (payments.Result, error) {
		return payments.Result{Status: payments.StatusFailed, ErrorCode: "card_declined"}, nil
	}
	if _, err := bundle.subscriptions.RenewDue(ctx, renewTime); err != nil {
		t.Fatalf("renew due: %v", err)
	}

	bundle.gateway.saleFunc = nil
	summary, err := bundle.subscriptions.RetryDue(ctx, renewTime.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("retry due: %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("expected one retry, got %+v", summary)
	}

	recovered, err := bundle.subscriptions.GetSubscription(ctx, SubscriptionRef{ID: sub.ID})
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if recovered.TotalRenewalAttempts != 0 || recovered.RenewRetryAt != nil {
		t.Fatalf("expected attempt counter reset, got %+v", recovered)
	}
	if !recovered.RenewsOn.Equal(sub.RenewsOn.AddDate(0, 1, 0)) {
		t.Fatalf("expected renewal advanced after recovery, got %s", recovered.RenewsOn)
	}
}

func TestSubscriptionServiceCancelDue(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	exhausted := createSubscription(t, bundle)
	deactivated := createSubscription(t, bundle)
	if _, err := bundle.subscriptions.Deactivate(ctx, SubscriptionRef{ID: deactivated.ID}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	stale := now.AddDate(0, 0, -10)
	row := bundle.reg.subscriptions[exhausted.ID]
	row.TotalRenewalAttempts = 3
	row.RenewsOn = stale
	bundle.reg.subscriptions[exhausted.ID] = row
	row = bundle.reg.subscriptions[deactivated.ID]
	row.RenewsOn = stale
	bundle.reg.subscriptions[deactivated.ID] = row

	summary, err := bundle.subscriptions.CancelDue(ctx, now)
	if err != nil {
		t.Fatalf("cancel due: %v", err)
	}
	if summary.Processed != 2 {
		t.Fatalf("expected both subscriptions cancelled, got %+v", summary)
	}

	funded, err := bundle.subscriptions.GetSubscription(ctx, SubscriptionRef{ID: exhausted.ID})
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if !funded.Cancelled || funded.CancelReason == nil || *funded.CancelReason != domain.CancelReasonFunding {
		t.Fatalf("expected funding cancellation, got %+v", funded)
	}

	customerCancel, err := bundle.subscriptions.GetSubscription(ctx, SubscriptionRef{ID: deactivated.ID})
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if !customerCancel.Cancelled || *customerCancel.CancelReason != domain.CancelReasonCustomer {
		t.Fatalf("expected customer cancellation, got %+v", customerCancel)
	}

	if countMail(bundle.mailer, notify.TemplateSubscriptionEnded) != 2 {
		t.Fatalf("expected an ended notice per subscription")
	}
}

func TestSubscriptionServiceCancelCancelsPendingOrders(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	sub := createSubscription(t, bundle)

	// A declined renewal leaves an unpaid order carrying the token.
	bundle.gateway.saleFunc = func(payments.SaleRequest) (payments.Result, error) {
		return payments.Result{Status: payments.StatusFailed, ErrorCode: "card_declined"}, nil
	}
	if _, err := bundle.subscriptions.Renew(ctx, SubscriptionRef{ID: sub.ID}); err != nil {
		t.Fatalf("renew: %v", err)
	}
	bundle.gateway.saleFunc = nil

	cancelled, err := bundle.subscriptions.Cancel(ctx, CancelSubscriptionCommand{Subscription: SubscriptionRef{Token: sub.Token}})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !cancelled.Cancelled || cancelled.Active {
		t.Fatalf("expected ended subscription, got %+v", cancelled)
	}

	orders, err := bundle.orders.ListOrders(ctx, OrderListFilter{SubscriptionToken: sub.Token})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("expected one renewal order, got %d", len(orders))
	}
	if orders[0].Status != domain.OrderStatusCancelled {
		t.Fatalf("expected pending renewal order cancelled, got %s", orders[0].Status)
	}

	_, err = bundle.subscriptions.Cancel(ctx, CancelSubscriptionCommand{Subscription: SubscriptionRef{ID: sub.ID}})
	if !errors.Is(err, ErrSubscriptionInvalidTransition) {
		t.Fatalf("expected invalid transition on second cancel, got %v", err)
	}
}

func TestSubscriptionServiceSendRenewalNoticesOncePerCycle(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	sub := createSubscription(t, bundle)
	row := bundle.reg.subscriptions[sub.ID]
	row.RenewsOn = now.AddDate(0, 0, 3)
	bundle.reg.subscriptions[sub.ID] = row

	summary, err := bundle.subscriptions.SendRenewalNotices(ctx, now)
	if err != nil {
		t.Fatalf("send notices: %v", err)
	}
	if summary.Processed != 1 {
		t.Fatalf("expected one notice, got %+v", summary)
	}
	if countMail(bundle.mailer, notify.TemplateRenewalNotice) != 1 {
		t.Fatalf("expected renewal notice mail")
	}

	noticed, err := bundle.subscriptions.GetSubscription(ctx, SubscriptionRef{ID: sub.ID})
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if !noticed.NoticeSent {
		t.Fatalf("expected notice flag set")
	}

	again, err := bundle.subscriptions.SendRenewalNotices(ctx, now)
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if again.Processed != 0 || countMail(bundle.mailer, notify.TemplateRenewalNotice) != 1 {
		t.Fatalf("expected notice once per cycle, got %+v", again)
	}
}

func TestSubscriptionServiceRenewRejectsInactive(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	sub := createSubscription(t, bundle)
	if _, err := bundle.subscriptions.Deactivate(ctx, SubscriptionRef{ID: sub.ID}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	_, err := bundle.subscriptions.Renew(ctx, SubscriptionRef{ID: sub.ID})
	if !errors.Is(err, ErrSubscriptionInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func countMail(m *fakeMailer, template string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, mail := range m.sent {
		if mail.Template == template {
			n++
		}
	}
	return n
}

func TestSubscriptionServiceUpdateCadence(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	sub := createSubscription(t, bundle)

	unit := domain.IntervalUnitWeek
	interval := 2
	updated, err := bundle.subscriptions.UpdateSubscription(ctx, UpdateSubscriptionCommand{
		Subscription: SubscriptionRef{ID: sub.ID},
		Unit:         &unit,
		Interval:     &interval,
	})
	if err != nil {
		t.Fatalf("update subscription: %v", err)
	}
	if updated.Unit != domain.IntervalUnitWeek || updated.Interval != 2 {
		t.Fatalf("expected biweekly cadence, got %s/%d", updated.Unit, updated.Interval)
	}
	if !updated.RenewsOn.Equal(now.AddDate(0, 0, 14)) {
		t.Fatalf("expected renewal re-anchored two weeks out, got %s", updated.RenewsOn)
	}
	if updated.NoticeSent {
		t.Fatalf("expected notice flag reset after the renewal moved")
	}
}

func TestSubscriptionServiceUpdateExplicitRenewalDate(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	sub := createSubscription(t, bundle)

	renewsOn := now.AddDate(0, 2, 0)
	updated, err := bundle.subscriptions.UpdateSubscription(ctx, UpdateSubscriptionCommand{
		Subscription: SubscriptionRef{ID: sub.ID},
		RenewsOn:     &renewsOn,
	})
	if err != nil {
		t.Fatalf("update subscription: %v", err)
	}
	if !updated.RenewsOn.Equal(renewsOn) {
		t.Fatalf("expected renewal at %s, got %s", renewsOn, updated.RenewsOn)
	}

	past := now.AddDate(0, 0, -1)
	_, err = bundle.subscriptions.UpdateSubscription(ctx, UpdateSubscriptionCommand{
		Subscription: SubscriptionRef{ID: sub.ID},
		RenewsOn:     &past,
	})
	if !errors.Is(err, ErrSubscriptionInvalidInput) {
		t.Fatalf("expected invalid input for a past renewal date, got %v", err)
	}
}

func TestSubscriptionServiceUpdateRejectsCancelled(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	sub := createSubscription(t, bundle)
	if _, err := bundle.subscriptions.Cancel(ctx, CancelSubscriptionCommand{Subscription: SubscriptionRef{ID: sub.ID}}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	interval := 3
	_, err := bundle.subscriptions.UpdateSubscription(ctx, UpdateSubscriptionCommand{
		Subscription: SubscriptionRef{ID: sub.ID},
		Interval:     &interval,
	})
	if !errors.Is(err, ErrSubscriptionInvalidTransition) {
		t.Fatalf("expected invalid transition on cancelled subscription, got %v", err)
	}
}

func TestSubscriptionServiceAddAndRemoveItems(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	sub := createSubscription(t, bundle)

	grown, err := bundle.subscriptions.AddItems(ctx, AddSubscriptionItemsCommand{
		Subscription: SubscriptionRef{ID: sub.ID},
		Items: []CartItemInput{
			{ProductID: "prod-extra", SKU: "SKU-EXTRA", Quantity: 2, UnitPrice: 1000},
		},
	})
	if err != nil {
		t.Fatalf("add items: %v", err)
	}
	if len(grown.Items) != 2 {
		t.Fatalf("expected two snapshot lines, got %d", len(grown.Items))
	}
	if grown.TotalPrice != 4500 {
		t.Fatalf("expected total 4500, got %d", grown.TotalPrice)
	}
	added := grown.Items[1]
	if !added.RequiresSubscription || added.SubscriptionUnit != grown.Unit || added.Currency != grown.Currency {
		t.Fatalf("expected added line to inherit the subscription cadence, got %+v", added)
	}

	shrunk, err := bundle.subscriptions.RemoveItems(ctx, RemoveSubscriptionItemsCommand{
		Subscription: SubscriptionRef{ID: sub.ID},
		ProductIDs:   []string{"prod-extra"},
	})
	if err != nil {
		t.Fatalf("remove items: %v", err)
	}
	if len(shrunk.Items) != 1 || shrunk.TotalPrice != 2500 {
		t.Fatalf("expected snapshot back to one line at 2500, got %+v", shrunk)
	}
}

func TestSubscriptionServiceRemoveItemsGuards(t *testing.T) {
	now := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	sub := createSubscription(t, bundle)

	_, err := bundle.subscriptions.RemoveItems(ctx, RemoveSubscriptionItemsCommand{
		Subscription: SubscriptionRef{ID: sub.ID},
		ProductIDs:   []string{"prod-missing"},
	})
	if !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("expected not found for unknown product, got %v", err)
	}

	productID := sub.Items[0].ProductID
	_, err = bundle.subscriptions.RemoveItems(ctx, RemoveSubscriptionItemsCommand{
		Subscription: SubscriptionRef{ID: sub.ID},
		ProductIDs:   []string{productID},
	})
	if !errors.Is(err, ErrSubscriptionInvalidInput) {
		t.Fatalf("expected invalid input when removing the last item, got %v", err)
	}
}

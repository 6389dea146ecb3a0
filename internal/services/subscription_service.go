package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fieldline/commerce/internal/domain"
	"github.com/fieldline/commerce/internal/notify"
	"github.com/fieldline/commerce/internal/repositories"
)

var (
	errSubscriptionRegistryRequired     = errors.New("subscription service: repository registry is required")
	errSubscriptionOrdersRequired       = errors.New("subscription service: order service is required")
	errSubscriptionTransactionsRequired = errors.New("subscription service: transaction service is required")
	errSubscriptionClockRequired        = errors.New("subscription service: clock is required")
)

// ErrSubscriptionInvalidInput indicates the caller supplied invalid input.
var ErrSubscriptionInvalidInput = errors.New("subscription service: invalid input")

// ErrSubscriptionUnavailable indicates the subscription service cannot fulfil the request due to missing dependencies or backend issues.
var ErrSubscriptionUnavailable = errors.New("subscription service: unavailable")

// ErrSubscriptionNotFound indicates the requested subscription does not exist.
var ErrSubscriptionNotFound = errors.New("subscription service: not found")

// ErrSubscriptionConflict indicates a concurrent modification won.
var ErrSubscriptionConflict = errors.New("subscription service: conflict")

// ErrSubscriptionInvalidTransition indicates the subscription's current state
// forbids the requested operation.
var ErrSubscriptionInvalidTransition = errors.New("subscription service: invalid transition")

// SubscriptionConfig bounds the renewal lifecycle.
type SubscriptionConfig struct {
	MaxAttempts      int
	RetryDelay       time.Duration
	GracePeriodDays  int
	NoticeWindowDays int
	BatchSize        int
}

// SubscriptionServiceDeps wires persistence, the order pipeline, and the
// payment boundary for the recurring lifecycle.
type SubscriptionServiceDeps struct {
	Registry     repositories.Registry
	Orders       OrderService
	Transactions TransactionService
	Mailer       notify.Mailer
	Publisher    EventPublisher
	Clock        func() time.Time
	Config       SubscriptionConfig
	Logger       func(context.Context, string, map[string]any)
	IDGenerator  func() string
}

type subscriptionService struct {
	reg          repositories.Registry
	orders       OrderService
	transactions TransactionService
	mailer       notify.Mailer
	publisher    EventPublisher
	newID        func() string
	now          func() time.Time
	cfg          SubscriptionConfig
	logger       func(context.Context, string, map[string]any)
}

// NewSubscriptionService constructs a SubscriptionService enforcing dependency validation.
func NewSubscriptionService(deps SubscriptionServiceDeps) (SubscriptionService, error) {
	if deps.Registry == nil {
		return nil, errSubscriptionRegistryRequired
	}
	if deps.Orders == nil {
		return nil, errSubscriptionOrdersRequired
	}
	if deps.Transactions == nil {
		return nil, errSubscriptionTransactionsRequired
	}
	if deps.Clock == nil {
		return nil, errSubscriptionClockRequired
	}

	cfg := deps.Config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 24 * time.Hour
	}
	if cfg.GracePeriodDays <= 0 {
		cfg.GracePeriodDays = 7
	}
	if cfg.NoticeWindowDays <= 0 {
		cfg.NoticeWindowDays = 7
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &subscriptionService{
		reg:          deps.Registry,
		orders:       deps.Orders,
		transactions: deps.Transactions,
		mailer:       deps.Mailer,
		publisher:    deps.Publisher,
		newID:        idGen,
		now:          func() time.Time { return deps.Clock().UTC() },
		cfg:          cfg,
		logger:       logger,
	}
	return service, nil
}

// CreateFromOrder snapshots the paid order's recurring line items into a new
// active subscription.
func (s *subscriptionService) CreateFromOrder(ctx context.Context, cmd CreateSubscriptionCommand) (Subscription, error) {
	if s == nil || s.reg == nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}

	order, err := s.orders.GetOrder(ctx, cmd.Order)
	if err != nil {
		return Subscription{}, err
	}
	if order.FinancialStatus != domain.FinancialStatusPaid {
		return Subscription{}, fmt.Errorf("%w: order financial status is %s", ErrSubscriptionInvalidTransition, order.FinancialStatus)
	}

	var (
		items      []LineItem
		unit       IntervalUnit
		interval   int
		totalPrice int64
	)
	for _, item := range order.Items {
		if !item.RequiresSubscription {
			continue
		}
		line := item.LineItem
		line.Properties = cloneProperties(line.Properties)
		items = append(items, line)
		totalPrice += lineTotal(line)
		if unit == "" {
			unit = line.SubscriptionUnit
			interval = line.SubscriptionInterval
		}
	}
	if len(items) == 0 {
		return Subscription{}, fmt.Errorf("%w: order has no recurring items", ErrSubscriptionInvalidInput)
	}
	if unit == "" {
		unit = domain.IntervalUnitMonth
	}
	if interval <= 0 {
		interval = 1
	}

	now := s.now()
	sub := Subscription{
		ID:              s.newID(),
		Token:           "sub_" + strings.ToLower(s.newID()),
		CustomerID:      order.CustomerID,
		Email:           order.Email,
		Currency:        order.Currency,
		OriginalOrderID: order.ID,
		LastOrderID:     order.ID,
		Items:           items,
		Unit:            unit,
		Interval:        interval,
		Active:          true,
		TotalPrice:      totalPrice,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	sub.RenewsOn = sub.NextRenewal(now)

	saved, err := s.reg.Subscriptions().Insert(ctx, sub)
	if err != nil {
		return Subscription{}, s.translateRepoError(err)
	}

	s.publish(ctx, "customer.subscription.created", saved.ID, map[string]any{
		"token":    saved.Token,
		"renewsOn": saved.RenewsOn,
	})
	return saved, nil
}

func (s *subscriptionService) GetSubscription(ctx context.Context, ref SubscriptionRef) (Subscription, error) {
	if s == nil || s.reg == nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}
	return s.resolve(ctx, ref)
}

// UpdateSubscription changes the renewal cadence of a live subscription.
// Changing the unit or interval without an explicit date re-anchors the next
// renewal from now; any moved renewal date re-arms the notice email.
func (s *subscriptionService) UpdateSubscription(ctx context.Context, cmd UpdateSubscriptionCommand) (Subscription, error) {
	if s == nil || s.reg == nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}

	sub, err := s.resolve(ctx, cmd.Subscription)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Cancelled {
		return Subscription{}, fmt.Errorf("%w: subscription is cancelled", ErrSubscriptionInvalidTransition)
	}

	cadenceChanged := false
	if cmd.Unit != nil && *cmd.Unit != sub.Unit {
		switch *cmd.Unit {
		case domain.IntervalUnitDay, domain.IntervalUnitWeek, domain.IntervalUnitMonth, domain.IntervalUnitYear:
		default:
			return Subscription{}, fmt.Errorf("%w: unknown interval unit %q", ErrSubscriptionInvalidInput, *cmd.Unit)
		}
		sub.Unit = *cmd.Unit
		cadenceChanged = true
	}
	if cmd.Interval != nil && *cmd.Interval != sub.Interval {
		if *cmd.Interval < 1 {
			return Subscription{}, fmt.Errorf("%w: interval must be positive", ErrSubscriptionInvalidInput)
		}
		sub.Interval = *cmd.Interval
		cadenceChanged = true
	}

	now := s.now()
	switch {
	case cmd.RenewsOn != nil:
		renewsOn := cmd.RenewsOn.UTC()
		if !renewsOn.After(now) {
			return Subscription{}, fmt.Errorf("%w: renewal date must be in the future", ErrSubscriptionInvalidInput)
		}
		sub.RenewsOn = renewsOn
		sub.NoticeSent = false
	case cadenceChanged:
		sub.RenewsOn = sub.NextRenewal(now)
		sub.NoticeSent = false
	default:
		return sub, nil
	}
	sub.UpdatedAt = now

	saved, err := s.reg.Subscriptions().Update(ctx, sub)
	if err != nil {
		return Subscription{}, s.translateRepoError(err)
	}

	s.publish(ctx, "customer.subscription.updated", saved.ID, map[string]any{
		"unit":     string(saved.Unit),
		"interval": saved.Interval,
		"renewsOn": saved.RenewsOn,
	})
	return saved, nil
}

// AddItems appends lines to the frozen snapshot used by future renewals.
// Renewals already in flight are unaffected.
func (s *subscriptionService) AddItems(ctx context.Context, cmd AddSubscriptionItemsCommand) (Subscription, error) {
	if s == nil || s.reg == nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}
	if len(cmd.Items) == 0 {
		return Subscription{}, fmt.Errorf("%w: at least one item is required", ErrSubscriptionInvalidInput)
	}

	sub, err := s.resolve(ctx, cmd.Subscription)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Cancelled {
		return Subscription{}, fmt.Errorf("%w: subscription is cancelled", ErrSubscriptionInvalidTransition)
	}

	for _, input := range cmd.Items {
		line, err := buildSubscriptionLine(input, sub.Currency, sub.Unit, sub.Interval)
		if err != nil {
			return Subscription{}, err
		}
		sub.Items = append(sub.Items, line)
	}
	sub.TotalPrice = snapshotTotal(sub.Items)
	sub.UpdatedAt = s.now()

	saved, err := s.reg.Subscriptions().Update(ctx, sub)
	if err != nil {
		return Subscription{}, s.translateRepoError(err)
	}

	s.publish(ctx, "customer.subscription.items_added", saved.ID, map[string]any{
		"itemCount":  len(saved.Items),
		"totalPrice": saved.TotalPrice,
	})
	return saved, nil
}

// RemoveItems drops snapshot lines by product id. A subscription always keeps
// at least one line; cancel it instead of emptying it.
func (s *subscriptionService) RemoveItems(ctx context.Context, cmd RemoveSubscriptionItemsCommand) (Subscription, error) {
	if s == nil || s.reg == nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}
	if len(cmd.ProductIDs) == 0 {
		return Subscription{}, fmt.Errorf("%w: at least one product id is required", ErrSubscriptionInvalidInput)
	}

	sub, err := s.resolve(ctx, cmd.Subscription)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Cancelled {
		return Subscription{}, fmt.Errorf("%w: subscription is cancelled", ErrSubscriptionInvalidTransition)
	}

	drop := make(map[string]struct{}, len(cmd.ProductIDs))
	for _, id := range cmd.ProductIDs {
		if id = strings.TrimSpace(id); id != "" {
			drop[id] = struct{}{}
		}
	}

	kept := sub.Items[:0]
	removed := 0
	for _, line := range sub.Items {
		if _, ok := drop[line.ProductID]; ok {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	if removed == 0 {
		return Subscription{}, fmt.Errorf("%w: no matching items", ErrSubscriptionNotFound)
	}
	if len(kept) == 0 {
		return Subscription{}, fmt.Errorf("%w: cannot remove the last item", ErrSubscriptionInvalidInput)
	}

	sub.Items = kept
	sub.TotalPrice = snapshotTotal(sub.Items)
	sub.UpdatedAt = s.now()

	saved, err := s.reg.Subscriptions().Update(ctx, sub)
	if err != nil {
		return Subscription{}, s.translateRepoError(err)
	}

	s.publish(ctx, "customer.subscription.items_removed", saved.ID, map[string]any{
		"itemCount":  len(saved.Items),
		"totalPrice": saved.TotalPrice,
	})
	return saved, nil
}

// Renew runs one renewal attempt: build an order from the frozen snapshot,
// collect payment, and either advance the renewal date or schedule a retry.
func (s *subscriptionService) Renew(ctx context.Context, ref SubscriptionRef) (Subscription, error) {
	if s == nil || s.reg == nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}

	sub, err := s.resolve(ctx, ref)
	if err != nil {
		return Subscription{}, err
	}
	return s.renew(ctx, sub, s.now())
}

func (s *subscriptionService) Activate(ctx context.Context, ref SubscriptionRef) (Subscription, error) {
	if s == nil || s.reg == nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}
	return s.setActive(ctx, ref, true)
}

func (s *subscriptionService) Deactivate(ctx context.Context, ref SubscriptionRef) (Subscription, error) {
	if s == nil || s.reg == nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}
	return s.setActive(ctx, ref, false)
}

// Cancel ends the subscription and cancels any of its orders still awaiting
// payment.
func (s *subscriptionService) Cancel(ctx context.Context, cmd CancelSubscriptionCommand) (Subscription, error) {
	if s == nil || s.reg == nil {
		return Subscription{}, ErrSubscriptionUnavailable
	}

	sub, err := s.resolve(ctx, cmd.Subscription)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Cancelled {
		return Subscription{}, fmt.Errorf("%w: subscription already cancelled", ErrSubscriptionInvalidTransition)
	}

	reason := domain.CancelReasonCustomer
	if cmd.Reason != nil {
		reason = *cmd.Reason
	}

	if err := s.cancelPendingOrders(ctx, sub); err != nil {
		return Subscription{}, err
	}

	now := s.now()
	sub.Cancelled = true
	sub.Active = false
	sub.CancelReason = &reason
	sub.CancelledAt = &now
	sub.UpdatedAt = now

	saved, err := s.reg.Subscriptions().Update(ctx, sub)
	if err != nil {
		return Subscription{}, s.translateRepoError(err)
	}

	s.publish(ctx, "customer.subscription.cancelled", saved.ID, map[string]any{"reason": string(reason)})
	s.sendMail(ctx, saved.Email, notify.TemplateSubscriptionEnded, "Your subscription has ended", map[string]any{
		"token":  saved.Token,
		"reason": string(reason),
	})
	return saved, nil
}

// RenewDue renews every active subscription whose renewal lands in the hour
// containing now, first attempt only. Row failures are accumulated and never
// abort the sweep; processed rows fall out of the selection, so re-issuing
// the bounded query pages through the whole set.
func (s *subscriptionService) RenewDue(ctx context.Context, now time.Time) (BatchSummary, error) {
	if s == nil || s.reg == nil {
		return BatchSummary{}, ErrSubscriptionUnavailable
	}

	hour := now.UTC().Truncate(time.Hour)
	window := repositories.RenewalWindow{Start: hour, End: hour.Add(time.Hour - time.Nanosecond)}

	summary, err := s.sweep(ctx, "renew",
		func(ctx context.Context) ([]Subscription, error) {
			return s.reg.Subscriptions().ListDueForRenewal(ctx, window, s.cfg.BatchSize)
		},
		func(ctx context.Context, sub Subscription) error {
			_, err := s.renew(ctx, sub, now)
			return err
		})
	if err != nil {
		return summary, err
	}

	s.publishJobComplete(ctx, "subscriptions.renew.complete", summary)
	return summary, nil
}

// RetryDue re-attempts renewals that failed fewer than the configured
// maximum number of times, once their retry time arrives.
func (s *subscriptionService) RetryDue(ctx context.Context, now time.Time) (BatchSummary, error) {
	if s == nil || s.reg == nil {
		return BatchSummary{}, ErrSubscriptionUnavailable
	}

	summary, err := s.sweep(ctx, "retry",
		func(ctx context.Context) ([]Subscription, error) {
			return s.reg.Subscriptions().ListDueForRetry(ctx, now.UTC(), s.cfg.MaxAttempts, s.cfg.BatchSize)
		},
		func(ctx context.Context, sub Subscription) error {
			_, err := s.renew(ctx, sub, now)
			return err
		})
	if err != nil {
		return summary, err
	}

	s.publishJobComplete(ctx, "subscriptions.retry.complete", summary)
	return summary, nil
}

// CancelDue cancels subscriptions that are deactivated or out of attempts
// once the grace period has elapsed. Exhausted attempts cancel with reason
// funding; deactivation cancels with reason customer.
func (s *subscriptionService) CancelDue(ctx context.Context, now time.Time) (BatchSummary, error) {
	if s == nil || s.reg == nil {
		return BatchSummary{}, ErrSubscriptionUnavailable
	}

	cutoff := now.UTC().AddDate(0, 0, -s.cfg.GracePeriodDays)

	summary, err := s.sweep(ctx, "cancel",
		func(ctx context.Context) ([]Subscription, error) {
			return s.reg.Subscriptions().ListDueForCancel(ctx, cutoff, s.cfg.MaxAttempts, s.cfg.BatchSize)
		},
		func(ctx context.Context, sub Subscription) error {
			reason := domain.CancelReasonCustomer
			if sub.TotalRenewalAttempts >= s.cfg.MaxAttempts {
				reason = domain.CancelReasonFunding
			}
			_, err := s.Cancel(ctx, CancelSubscriptionCommand{
				Subscription: SubscriptionRef{ID: sub.ID},
				Reason:       &reason,
			})
			return err
		})
	if err != nil {
		return summary, err
	}

	s.publishJobComplete(ctx, "subscriptions.cancel.complete", summary)
	return summary, nil
}

// SendRenewalNotices emails customers whose subscriptions renew inside the
// notice window, once per cycle.
func (s *subscriptionService) SendRenewalNotices(ctx context.Context, now time.Time) (BatchSummary, error) {
	if s == nil || s.reg == nil {
		return BatchSummary{}, ErrSubscriptionUnavailable
	}

	window := repositories.RenewalWindow{
		Start: now.UTC(),
		End:   now.UTC().AddDate(0, 0, s.cfg.NoticeWindowDays),
	}

	summary, err := s.sweep(ctx, "notice",
		func(ctx context.Context) ([]Subscription, error) {
			return s.reg.Subscriptions().ListDueForNotice(ctx, window, s.cfg.BatchSize)
		},
		func(ctx context.Context, sub Subscription) error {
			s.sendMail(ctx, sub.Email, notify.TemplateRenewalNotice, "Your subscription renews soon", map[string]any{
				"token":    sub.Token,
				"renewsOn": sub.RenewsOn,
			})
			sub.NoticeSent = true
			sub.UpdatedAt = s.now()
			if _, err := s.reg.Subscriptions().Update(ctx, sub); err != nil {
				return s.translateRepoError(err)
			}
			return nil
		})
	if err != nil {
		return summary, err
	}

	s.publishJobComplete(ctx, "subscriptions.notice.complete", summary)
	return summary, nil
}

// sweep pages through a regressive selection until it drains, isolating row
// failures into the summary. A page that fails wholesale stops the sweep to
// avoid spinning on a broken query.
func (s *subscriptionService) sweep(
	ctx context.Context,
	job string,
	list func(context.Context) ([]Subscription, error),
	process func(context.Context, Subscription) error,
) (BatchSummary, error) {
	var summary BatchSummary
	failed := make(map[string]struct{})

	for {
		page, err := list(ctx)
		if err != nil {
			return summary, s.translateRepoError(err)
		}

		// Failed rows still match the predicate; drop them so the sweep
		// terminates instead of reprocessing the same page forever.
		remaining := page[:0]
		for _, sub := range page {
			if _, ok := failed[sub.ID]; !ok {
				remaining = append(remaining, sub)
			}
		}
		if len(remaining) == 0 {
			return summary, nil
		}

		for _, sub := range remaining {
			if err := process(ctx, sub); err != nil {
				failed[sub.ID] = struct{}{}
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s %s: %v", job, sub.ID, err))
				s.logger(ctx, "subscription.job_row_failed", map[string]any{
					"job":            job,
					"subscriptionId": sub.ID,
					"error":          err.Error(),
				})
				continue
			}
			summary.Processed++
		}
	}
}

// renew performs one renewal attempt and records the outcome on the
// subscription.
func (s *subscriptionService) renew(ctx context.Context, sub Subscription, now time.Time) (Subscription, error) {
	if sub.Cancelled || !sub.Active {
		return Subscription{}, fmt.Errorf("%w: subscription is not active", ErrSubscriptionInvalidTransition)
	}

	customer, err := s.reg.Customers().FindByID(ctx, sub.CustomerID)
	if err != nil {
		return Subscription{}, s.translateRepoError(err)
	}

	var paymentDetails []PaymentDetail
	if customer.DefaultSource != nil {
		paymentDetails = []PaymentDetail{{
			Gateway: customer.DefaultSource.Gateway,
			Source:  map[string]any{"token": customer.DefaultSource.Token},
		}}
	} else {
		paymentDetails = []PaymentDetail{{Gateway: "manual"}}
	}

	order, err := s.orders.CreateOrder(ctx, CreateOrderCommand{
		CustomerID:        customer.ID,
		Email:             firstNonEmpty(sub.Email, customer.Email),
		Currency:          sub.Currency,
		SubscriptionToken: sub.Token,
		Items:             lineItemInputs(sub.Items),
		ShippingAddress:   customer.ShippingAddress,
		BillingAddress:    customer.BillingAddress,
		PaymentDetails:    paymentDetails,
		TransactionKind:   domain.TransactionKindSale,
		ProcessingMethod:  domain.ProcessingMethodSubscription,
	})
	if err != nil {
		return s.recordFailedAttempt(ctx, sub, now, err.Error())
	}

	order, err = s.transactions.PayOrder(ctx, TransactionBatchCommand{Order: OrderRef{ID: order.ID}})
	if err != nil {
		return s.recordFailedAttempt(ctx, sub, now, err.Error())
	}

	if order.FinancialStatus != domain.FinancialStatusPaid {
		return s.recordFailedAttempt(ctx, sub, now, fmt.Sprintf("order %s is %s", order.ID, order.FinancialStatus))
	}

	sub.LastOrderID = order.ID
	sub.RenewsOn = sub.NextRenewal(sub.RenewsOn)
	sub.TotalRenewalAttempts = 0
	sub.RenewRetryAt = nil
	sub.NoticeSent = false
	sub.UpdatedAt = s.now()

	saved, err := s.reg.Subscriptions().Update(ctx, sub)
	if err != nil {
		return Subscription{}, s.translateRepoError(err)
	}

	s.publish(ctx, "customer.subscription.renewed.success", saved.ID, map[string]any{
		"orderId":  order.ID,
		"renewsOn": saved.RenewsOn,
	})
	return saved, nil
}

// recordFailedAttempt increments the attempt counter, schedules a retry, and
// notifies the customer on the first failure of the cycle.
func (s *subscriptionService) recordFailedAttempt(ctx context.Context, sub Subscription, now time.Time, cause string) (Subscription, error) {
	firstFailure := sub.TotalRenewalAttempts == 0

	retryAt := now.UTC().Add(s.cfg.RetryDelay)
	sub.TotalRenewalAttempts++
	sub.RenewRetryAt = &retryAt
	sub.UpdatedAt = s.now()

	saved, err := s.reg.Subscriptions().Update(ctx, sub)
	if err != nil {
		return Subscription{}, s.translateRepoError(err)
	}

	s.publish(ctx, "customer.subscription.renewed.failure", saved.ID, map[string]any{
		"attempts": saved.TotalRenewalAttempts,
		"cause":    cause,
	})
	if firstFailure {
		s.sendMail(ctx, saved.Email, notify.TemplateRenewalFailed, "We could not renew your subscription", map[string]any{
			"token":   saved.Token,
			"retryAt": retryAt,
		})
	}
	return saved, nil
}

func (s *subscriptionService) setActive(ctx context.Context, ref SubscriptionRef, active bool) (Subscription, error) {
	sub, err := s.resolve(ctx, ref)
	if err != nil {
		return Subscription{}, err
	}
	if sub.Cancelled {
		return Subscription{}, fmt.Errorf("%w: subscription is cancelled", ErrSubscriptionInvalidTransition)
	}
	if sub.Active == active {
		return sub, nil
	}

	sub.Active = active
	sub.UpdatedAt = s.now()
	saved, err := s.reg.Subscriptions().Update(ctx, sub)
	if err != nil {
		return Subscription{}, s.translateRepoError(err)
	}

	eventType := "customer.subscription.deactivated"
	if active {
		eventType = "customer.subscription.activated"
	}
	s.publish(ctx, eventType, saved.ID, nil)
	return saved, nil
}

// cancelPendingOrders cancels orders carrying the subscription's token that
// are still open and unpaid.
func (s *subscriptionService) cancelPendingOrders(ctx context.Context, sub Subscription) error {
	pending := domain.FinancialStatusPending
	open := domain.OrderStatusOpen
	orders, err := s.orders.ListOrders(ctx, OrderListFilter{
		SubscriptionToken: sub.Token,
		FinancialStatus:   &pending,
		Status:            &open,
	})
	if err != nil {
		return err
	}

	reason := domain.CancelReasonOther
	for _, order := range orders {
		if _, err := s.orders.CancelOrder(ctx, CancelOrderCommand{
			Order:  OrderRef{ID: order.ID},
			Reason: &reason,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *subscriptionService) resolve(ctx context.Context, ref SubscriptionRef) (Subscription, error) {
	id := strings.TrimSpace(ref.ID)
	token := strings.TrimSpace(ref.Token)

	var (
		sub Subscription
		err error
	)
	switch {
	case id != "":
		sub, err = s.reg.Subscriptions().FindByID(ctx, id)
	case token != "":
		sub, err = s.reg.Subscriptions().FindByToken(ctx, token)
	default:
		return Subscription{}, fmt.Errorf("%w: subscription reference required", ErrSubscriptionInvalidInput)
	}
	if err != nil {
		return Subscription{}, s.translateRepoError(err)
	}
	return sub, nil
}

func (s *subscriptionService) publish(ctx context.Context, eventType, subscriptionID string, data map[string]any) {
	if s.publisher == nil {
		return
	}
	event := Event{
		Type:       eventType,
		ObjectKind: "subscription",
		ObjectID:   subscriptionID,
		Data:       data,
		OccurredAt: s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger(ctx, "subscription.event_publish_failed", map[string]any{
			"subscriptionId": subscriptionID,
			"error":          err.Error(),
		})
	}
}

func (s *subscriptionService) publishJobComplete(ctx context.Context, eventType string, summary BatchSummary) {
	if s.publisher == nil {
		return
	}
	event := Event{
		Type:       eventType,
		ObjectKind: "subscription_job",
		ObjectID:   s.newID(),
		Data: map[string]any{
			"processed": summary.Processed,
			"errors":    len(summary.Errors),
		},
		OccurredAt: s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger(ctx, "subscription.event_publish_failed", map[string]any{
			"type":  eventType,
			"error": err.Error(),
		})
	}
}

func (s *subscriptionService) sendMail(ctx context.Context, to, template, subject string, data map[string]any) {
	if s.mailer == nil || strings.TrimSpace(to) == "" {
		return
	}
	msg := notify.Message{To: to, Template: template, Subject: subject, Data: data}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger(ctx, "subscription.mail_failed", map[string]any{
			"template": template,
			"error":    err.Error(),
		})
	}
}

func (s *subscriptionService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrSubscriptionNotFound
		case repoErr.IsConflict():
			return ErrSubscriptionConflict
		}
	}
	return ErrSubscriptionUnavailable
}

// buildSubscriptionLine normalises an item input into a snapshot line carrying
// the subscription's currency and cadence.
func buildSubscriptionLine(input CartItemInput, currency string, unit IntervalUnit, interval int) (LineItem, error) {
	sku := strings.TrimSpace(input.SKU)
	productID := strings.TrimSpace(input.ProductID)
	if productID == "" && sku == "" {
		return LineItem{}, fmt.Errorf("%w: item requires a product id or sku", ErrSubscriptionInvalidInput)
	}
	if input.Quantity < 1 {
		return LineItem{}, fmt.Errorf("%w: item quantity must be positive", ErrSubscriptionInvalidInput)
	}
	if input.UnitPrice < 0 {
		return LineItem{}, fmt.Errorf("%w: item price cannot be negative", ErrSubscriptionInvalidInput)
	}

	return LineItem{
		ProductID:            productID,
		VariantID:            strings.TrimSpace(input.VariantID),
		SKU:                  sku,
		Title:                strings.TrimSpace(input.Title),
		Quantity:             input.Quantity,
		UnitPrice:            input.UnitPrice,
		Currency:             currency,
		Properties:           cloneProperties(input.Properties),
		FulfillmentService:   strings.TrimSpace(input.FulfillmentService),
		RequiresShipping:     input.RequiresShipping,
		RequiresSubscription: true,
		SubscriptionUnit:     unit,
		SubscriptionInterval: interval,
		ExcludePaymentTypes:  append([]string(nil), input.ExcludePaymentTypes...),
	}, nil
}

func snapshotTotal(items []LineItem) int64 {
	var total int64
	for _, line := range items {
		total += lineTotal(line)
	}
	return total
}

func lineItemInputs(items []LineItem) []CartItemInput {
	out := make([]CartItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, CartItemInput{
			ProductID:            item.ProductID,
			VariantID:            item.VariantID,
			SKU:                  item.SKU,
			Title:                item.Title,
			Quantity:             item.Quantity,
			UnitPrice:            item.UnitPrice,
			Properties:           item.Properties,
			FulfillmentService:   item.FulfillmentService,
			RequiresShipping:     item.RequiresShipping,
			RequiresSubscription: item.RequiresSubscription,
			SubscriptionUnit:     item.SubscriptionUnit,
			SubscriptionInterval: item.SubscriptionInterval,
			ExcludePaymentTypes:  item.ExcludePaymentTypes,
		})
	}
	return out
}

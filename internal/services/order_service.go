package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fieldline/commerce/internal/domain"
	"github.com/fieldline/commerce/internal/geo"
	"github.com/fieldline/commerce/internal/notify"
	"github.com/fieldline/commerce/internal/repositories"
)

var (
	errOrderRegistryRequired     = errors.New("order service: repository registry is required")
	errOrderPricerRequired       = errors.New("order service: pricer is required")
	errOrderClockRequired        = errors.New("order service: clock is required")
	errOrderTransactionsRequired = errors.New("order service: transaction service is required")
	errOrderFulfillmentsRequired = errors.New("order service: fulfillment service is required")
)

// ErrOrderInvalidInput indicates the caller supplied invalid input.
var ErrOrderInvalidInput = errors.New("order service: invalid input")

// ErrOrderUnavailable indicates the order service cannot fulfil the request due to missing dependencies or backend issues.
var ErrOrderUnavailable = errors.New("order service: unavailable")

// ErrOrderNotFound indicates the requested order does not exist.
var ErrOrderNotFound = errors.New("order service: not found")

// ErrOrderConflict indicates the order could not be updated due to concurrent modifications.
var ErrOrderConflict = errors.New("order service: conflict")

// ErrOrderInvalidTransition indicates the order's current status forbids the
// requested operation.
var ErrOrderInvalidTransition = errors.New("order service: invalid transition")

// OrderServiceDeps wires persistence, pricing, and the downstream state
// machines the order pipeline drives.
type OrderServiceDeps struct {
	Registry     repositories.Registry
	Pricer       Pricer
	Transactions TransactionService
	Fulfillments FulfillmentService
	Geocoder     geo.Geocoder
	Mailer       notify.Mailer
	Publisher    EventPublisher
	Clock        func() time.Time
	ShopID       string
	Currency     string
	Logger       func(context.Context, string, map[string]any)
	IDGenerator  func() string
}

type orderService struct {
	reg          repositories.Registry
	pricer       Pricer
	transactions TransactionService
	fulfillments FulfillmentService
	geocoder     geo.Geocoder
	mailer       notify.Mailer
	publisher    EventPublisher
	newID        func() string
	now          func() time.Time
	shopID       string
	currency     string
	logger       func(context.Context, string, map[string]any)
}

// NewOrderService constructs an OrderService enforcing dependency validation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Registry == nil {
		return nil, errOrderRegistryRequired
	}
	if deps.Pricer == nil {
		return nil, errOrderPricerRequired
	}
	if deps.Transactions == nil {
		return nil, errOrderTransactionsRequired
	}
	if deps.Fulfillments == nil {
		return nil, errOrderFulfillmentsRequired
	}
	if deps.Clock == nil {
		return nil, errOrderClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "USD"
	}

	shopID := strings.TrimSpace(deps.ShopID)
	if shopID == "" {
		shopID = "1"
	}

	service := &orderService{
		reg:          deps.Registry,
		pricer:       deps.Pricer,
		transactions: deps.Transactions,
		fulfillments: deps.Fulfillments,
		geocoder:     deps.Geocoder,
		mailer:       deps.Mailer,
		publisher:    deps.Publisher,
		newID:        idGen,
		now:          func() time.Time { return deps.Clock().UTC() },
		shopID:       shopID,
		currency:     currency,
		logger:       logger,
	}
	return service, nil
}

// CreateOrder runs the full intake pipeline inside one transaction: persist
// the order and its items, group items into fulfillments, group payment
// details into pending transactions, debit the account-balance ledger when
// the override was applied, update customer purchase statistics, then reload
// and derive the financial and fulfillment statuses.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrOrderUnavailable
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order requires at least one item", ErrOrderInvalidInput)
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}

	var created Order
	err := s.reg.RunInTx(ctx, func(ctx context.Context) error {
		customer, err := s.resolveOrCreateCustomer(ctx, cmd.CustomerID, cmd.Email)
		if err != nil {
			return err
		}

		now := s.now()
		order := Order{
			ID:                s.newID(),
			Number:            fmt.Sprintf("%s-%s", s.shopID, strings.ToLower(s.newID())),
			Token:             "ord_" + strings.ToLower(s.newID()),
			Status:            cmd.Status,
			FinancialStatus:   domain.FinancialStatusPending,
			FulfillmentStatus: domain.FulfillmentStatusNone,
			CustomerID:        customer.ID,
			Email:             firstNonEmpty(strings.TrimSpace(cmd.Email), customer.Email),
			CartToken:         strings.TrimSpace(cmd.CartToken),
			SubscriptionToken: strings.TrimSpace(cmd.SubscriptionToken),
			Currency:          currency,
			ShippingAddress:   cloneAddress(cmd.ShippingAddress),
			BillingAddress:    cloneAddress(cmd.BillingAddress),
			ShippingLines:     append([]LineAmount(nil), cmd.ShippingLines...),
			TaxLines:          append([]LineAmount(nil), cmd.TaxLines...),
			Overrides:         append([]PricingOverride(nil), cmd.Overrides...),
			PaymentDetails:    append([]PaymentDetail(nil), cmd.PaymentDetails...),
			TransactionKind:   cmd.TransactionKind,
			ProcessingMethod:  cmd.ProcessingMethod,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if order.Status == "" {
			order.Status = domain.OrderStatusOpen
		}
		if order.TransactionKind == "" {
			order.TransactionKind = domain.TransactionKindSale
		}
		if order.ProcessingMethod == "" {
			order.ProcessingMethod = domain.ProcessingMethodCheckout
		}

		for _, input := range cmd.Items {
			item, err := s.buildOrderItem(order.ID, input, currency, now)
			if err != nil {
				return err
			}
			order.Items = append(order.Items, item)
		}

		s.geocodeAddresses(ctx, &order)
		s.applyPricing(&order, customer.AccountBalance)

		saved, err := s.reg.Orders().Insert(ctx, order)
		if err != nil {
			return s.translateRepoError(err)
		}

		if err := s.buildFulfillmentGroups(ctx, &saved, now); err != nil {
			return err
		}
		if err := s.buildPendingTransactions(ctx, saved, now); err != nil {
			return err
		}

		deducted := AccountBalanceApplied(saved.Overrides)
		if deducted > 0 {
			customer, err = s.reg.Customers().DebitBalance(ctx, customer.ID, deducted, saved.ID)
			if err != nil {
				return s.translateRepoError(err)
			}
		}

		if err := s.recordPurchase(ctx, customer, saved); err != nil {
			return err
		}

		reloaded, err := s.refresh(ctx, saved.ID)
		if err != nil {
			return err
		}
		created = reloaded
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, "order.created", "order", created.ID, map[string]any{
		"number":   created.Number,
		"totalDue": created.Totals.TotalDue,
	})
	return created, nil
}

func (s *orderService) GetOrder(ctx context.Context, ref OrderRef) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrOrderUnavailable
	}
	return s.resolve(ctx, ref)
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error) {
	if s == nil || s.reg == nil {
		return nil, ErrOrderUnavailable
	}
	orders, err := s.reg.Orders().List(ctx, repositories.OrderListFilter{
		CustomerID:        strings.TrimSpace(filter.CustomerID),
		SubscriptionToken: strings.TrimSpace(filter.SubscriptionToken),
		FinancialStatus:   filter.FinancialStatus,
		Status:            filter.Status,
		Limit:             filter.Limit,
	})
	if err != nil {
		return nil, s.translateRepoError(err)
	}
	return orders, nil
}

// UpdateOrder corrects contact and address fields. Permitted only while the
// order is live and nothing has shipped past recall. Address changes are
// re-geocoded best effort; a geocoder failure never blocks the update.
func (s *orderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrOrderUnavailable
	}
	if cmd.Email == nil && cmd.ShippingAddress == nil && cmd.BillingAddress == nil {
		return Order{}, ErrOrderInvalidInput
	}

	order, err := s.resolve(ctx, cmd.Order)
	if err != nil {
		return Order{}, err
	}
	if err := guardOrderMutable(order); err != nil {
		return Order{}, err
	}
	if cmd.ExpectedVersion > 0 && order.Version != cmd.ExpectedVersion {
		return Order{}, ErrOrderConflict
	}

	if cmd.Email != nil {
		order.Email = strings.TrimSpace(*cmd.Email)
	}
	if cmd.ShippingAddress != nil {
		order.ShippingAddress = cloneAddress(cmd.ShippingAddress)
	}
	if cmd.BillingAddress != nil {
		order.BillingAddress = cloneAddress(cmd.BillingAddress)
	}
	s.geocodeAddresses(ctx, &order)

	balance, err := s.customerBalance(ctx, order.CustomerID)
	if err != nil {
		return Order{}, err
	}
	s.applyPricing(&order, balance)
	order.UpdatedAt = s.now()

	saved, err := s.reg.Orders().Update(ctx, order)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	s.sendUpdateNotice(ctx, saved)
	s.publish(ctx, "order.updated", "order", saved.ID, nil)
	return saved, nil
}

func (s *orderService) AddItems(ctx context.Context, cmd AddOrderItemsCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrOrderUnavailable
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: no items supplied", ErrOrderInvalidInput)
	}

	var result Order
	err := s.reg.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.resolve(ctx, cmd.Order)
		if err != nil {
			return err
		}
		if err := guardOrderItemsMutable(order); err != nil {
			return err
		}

		now := s.now()
		for _, input := range cmd.Items {
			item, err := s.buildOrderItem(order.ID, input, order.Currency, now)
			if err != nil {
				return err
			}
			inserted, err := s.reg.Orders().InsertItem(ctx, item)
			if err != nil {
				return s.translateRepoError(err)
			}
			order.Items = append(order.Items, inserted)
		}

		result, err = s.repriceAndSave(ctx, order)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, "order.items.added", "order", result.ID, map[string]any{"count": len(cmd.Items)})
	return result, nil
}

func (s *orderService) UpdateItem(ctx context.Context, cmd UpdateOrderItemCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrOrderUnavailable
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Order{}, fmt.Errorf("%w: item id required", ErrOrderInvalidInput)
	}
	if cmd.Quantity == nil && cmd.Properties == nil {
		return Order{}, ErrOrderInvalidInput
	}

	var result Order
	err := s.reg.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.resolve(ctx, cmd.Order)
		if err != nil {
			return err
		}
		if err := guardOrderItemsMutable(order); err != nil {
			return err
		}

		idx := indexOfItem(order.Items, itemID)
		if idx < 0 {
			return fmt.Errorf("%w: unknown item id", ErrOrderInvalidInput)
		}

		item := order.Items[idx]
		if cmd.Quantity != nil {
			if *cmd.Quantity < 1 {
				return fmt.Errorf("%w: item quantity must be positive", ErrOrderInvalidInput)
			}
			item.Quantity = *cmd.Quantity
		}
		if cmd.Properties != nil {
			item.Properties = cloneProperties(cmd.Properties)
		}
		item.TotalPrice = lineTotal(item.LineItem)
		item.UpdatedAt = s.now()

		updated, err := s.reg.Orders().UpdateItem(ctx, item)
		if err != nil {
			return s.translateRepoError(err)
		}
		order.Items[idx] = updated

		result, err = s.repriceAndSave(ctx, order)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, "order.item.updated", "order", result.ID, map[string]any{"itemId": itemID})
	return result, nil
}

func (s *orderService) RemoveItem(ctx context.Context, cmd RemoveOrderItemCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrOrderUnavailable
	}
	itemID := strings.TrimSpace(cmd.ItemID)
	if itemID == "" {
		return Order{}, fmt.Errorf("%w: item id required", ErrOrderInvalidInput)
	}

	var result Order
	err := s.reg.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.resolve(ctx, cmd.Order)
		if err != nil {
			return err
		}
		if err := guardOrderItemsMutable(order); err != nil {
			return err
		}

		idx := indexOfItem(order.Items, itemID)
		if idx < 0 {
			return fmt.Errorf("%w: unknown item id", ErrOrderInvalidInput)
		}
		if len(order.Items) == 1 {
			return fmt.Errorf("%w: cannot remove the last item", ErrOrderInvalidInput)
		}

		if err := s.reg.Orders().DeleteItem(ctx, order.ID, itemID); err != nil {
			return s.translateRepoError(err)
		}
		order.Items = append(order.Items[:idx], order.Items[idx+1:]...)

		result, err = s.repriceAndSave(ctx, order)
		return err
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, "order.item.removed", "order", result.ID, map[string]any{"itemId": itemID})
	return result, nil
}

// CancelOrder cascades before marking the order cancelled: refund captured
// money, void open authorizations, cancel pending transactions, cancel every
// non-terminal fulfillment. A gateway decline during the cascade is recorded
// on the transaction and does not abort the cancellation.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	if s == nil || s.reg == nil {
		return Order{}, ErrOrderUnavailable
	}

	order, err := s.resolve(ctx, cmd.Order)
	if err != nil {
		return Order{}, err
	}

	if order.Cancelled {
		return Order{}, fmt.Errorf("%w: order already cancelled", ErrOrderInvalidTransition)
	}
	switch order.FulfillmentStatus {
	case domain.FulfillmentStatusNone, domain.FulfillmentStatusPending, domain.FulfillmentStatusSent:
	default:
		return Order{}, fmt.Errorf("%w: fulfillment status is %s", ErrOrderInvalidTransition, order.FulfillmentStatus)
	}

	ref := OrderRef{ID: order.ID}

	// Gateway calls happen outside the final transaction; each operation
	// records its own outcome, so a partial cascade is resumable by calling
	// cancel again.
	if _, err := s.transactions.RefundOrder(ctx, RefundOrderCommand{Order: ref}); err != nil {
		return Order{}, err
	}
	if _, err := s.transactions.VoidOrder(ctx, TransactionBatchCommand{Order: ref}); err != nil {
		return Order{}, err
	}
	if _, err := s.transactions.CancelTransactions(ctx, TransactionBatchCommand{Order: ref}); err != nil {
		return Order{}, err
	}

	order, err = s.refresh(ctx, order.ID)
	if err != nil {
		return Order{}, err
	}
	for _, fulfillment := range order.Fulfillments {
		if domain.IsTerminalFulfillment(fulfillment.Status) {
			continue
		}
		if _, err := s.fulfillments.CancelFulfillment(ctx, ref, fulfillment.ID); err != nil {
			return Order{}, err
		}
	}

	reason := domain.CancelReasonOther
	if cmd.Reason != nil {
		reason = *cmd.Reason
	}

	var result Order
	err = s.reg.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.refresh(ctx, order.ID)
		if err != nil {
			return err
		}
		now := s.now()
		order.Status = domain.OrderStatusCancelled
		order.Cancelled = true
		order.CancelReason = &reason
		order.CancelledAt = &now
		order.FinancialStatus = domain.ResolveFinancialStatus(order.Totals.TotalDue, order.Transactions, order.Refunds)
		order.FulfillmentStatus = domain.ResolveFulfillmentStatus(order.Fulfillments)
		order.UpdatedAt = now

		result, err = s.reg.Orders().Update(ctx, order)
		if err != nil {
			return s.translateRepoError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publish(ctx, "order.cancelled", "order", result.ID, map[string]any{"reason": string(reason)})
	if cmd.Notify {
		s.sendMail(ctx, notify.Message{
			To:       result.Email,
			Template: notify.TemplateOrderCancelled,
			Subject:  fmt.Sprintf("Order %s cancelled", result.Number),
			Data:     map[string]any{"orderNumber": result.Number, "reason": string(reason)},
		})
	}
	return result, nil
}

func (s *orderService) resolve(ctx context.Context, ref OrderRef) (Order, error) {
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
		return Order{}, fmt.Errorf("%w: order reference required", ErrOrderInvalidInput)
	}
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	return order, nil
}

// refresh reloads the hydrated order and re-derives both summary statuses.
func (s *orderService) refresh(ctx context.Context, orderID string) (Order, error) {
	order, err := s.reg.Orders().FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}

	financial := domain.ResolveFinancialStatus(order.Totals.TotalDue, order.Transactions, order.Refunds)
	fulfillment := domain.ResolveFulfillmentStatus(order.Fulfillments)
	if financial == order.FinancialStatus && fulfillment == order.FulfillmentStatus {
		return order, nil
	}

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
	return saved, nil
}

func (s *orderService) repriceAndSave(ctx context.Context, order Order) (Order, error) {
	balance, err := s.customerBalance(ctx, order.CustomerID)
	if err != nil {
		return Order{}, err
	}
	s.applyPricing(&order, balance)
	order.FinancialStatus = domain.ResolveFinancialStatus(order.Totals.TotalDue, order.Transactions, order.Refunds)
	order.UpdatedAt = s.now()

	saved, err := s.reg.Orders().Update(ctx, order)
	if err != nil {
		return Order{}, s.translateRepoError(err)
	}
	saved.Items = order.Items
	saved.Transactions = order.Transactions
	saved.Fulfillments = order.Fulfillments
	saved.Refunds = order.Refunds
	return saved, nil
}

func (s *orderService) applyPricing(order *Order, balance int64) {
	items := make([]LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, item.LineItem)
	}
	result := s.pricer.Price(PriceCommand{
		Items:          items,
		ShippingLines:  order.ShippingLines,
		TaxLines:       order.TaxLines,
		Overrides:      order.Overrides,
		AccountBalance: balance,
	})
	order.Overrides = result.Overrides
	order.Totals = result.Totals
}

func (s *orderService) customerBalance(ctx context.Context, customerID string) (int64, error) {
	if strings.TrimSpace(customerID) == "" {
		return 0, nil
	}
	customer, err := s.reg.Customers().FindByID(ctx, customerID)
	switch {
	case err == nil:
		return customer.AccountBalance, nil
	case isRepoNotFound(err):
		return 0, nil
	default:
		return 0, s.translateRepoError(err)
	}
}

func (s *orderService) resolveOrCreateCustomer(ctx context.Context, customerID, email string) (Customer, error) {
	id := strings.TrimSpace(customerID)
	address := strings.TrimSpace(strings.ToLower(email))

	if id != "" {
		customer, err := s.reg.Customers().FindByID(ctx, id)
		if err != nil {
			return Customer{}, s.translateRepoError(err)
		}
		return customer, nil
	}
	if address == "" {
		return Customer{}, fmt.Errorf("%w: customer id or email required", ErrOrderInvalidInput)
	}

	customer, err := s.reg.Customers().FindByEmail(ctx, address)
	if err == nil {
		return customer, nil
	}
	if !isRepoNotFound(err) {
		return Customer{}, s.translateRepoError(err)
	}

	now := s.now()
	created, err := s.reg.Customers().Insert(ctx, Customer{
		ID:        s.newID(),
		Email:     address,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Customer{}, s.translateRepoError(err)
	}
	return created, nil
}

func (s *orderService) buildOrderItem(orderID string, input CartItemInput, currency string, now time.Time) (OrderItem, error) {
	sku := strings.TrimSpace(input.SKU)
	productID := strings.TrimSpace(input.ProductID)
	if productID == "" && sku == "" {
		return OrderItem{}, fmt.Errorf("%w: item requires a product id or sku", ErrOrderInvalidInput)
	}
	if input.Quantity < 1 {
		return OrderItem{}, fmt.Errorf("%w: item quantity must be positive", ErrOrderInvalidInput)
	}
	if input.UnitPrice < 0 {
		return OrderItem{}, fmt.Errorf("%w: item price cannot be negative", ErrOrderInvalidInput)
	}

	line := LineItem{
		ProductID:            productID,
		VariantID:            strings.TrimSpace(input.VariantID),
		SKU:                  sku,
		Title:                strings.TrimSpace(input.Title),
		Quantity:             input.Quantity,
		UnitPrice:            input.UnitPrice,
		Currency:             currency,
		Properties:           cloneProperties(input.Properties),
		FulfillmentService:   firstNonEmpty(strings.TrimSpace(input.FulfillmentService), "manual"),
		RequiresShipping:     input.RequiresShipping,
		RequiresSubscription: input.RequiresSubscription,
		SubscriptionUnit:     input.SubscriptionUnit,
		SubscriptionInterval: input.SubscriptionInterval,
		ExcludePaymentTypes:  append([]string(nil), input.ExcludePaymentTypes...),
	}
	return OrderItem{
		ID:                s.newID(),
		OrderID:           orderID,
		LineItem:          line,
		TotalPrice:        lineTotal(line),
		FulfillmentStatus: domain.FulfillmentStatusNone,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// buildFulfillmentGroups creates one pending fulfillment per distinct
// fulfillment service and links each item to its group.
func (s *orderService) buildFulfillmentGroups(ctx context.Context, order *Order, now time.Time) error {
	groups := make(map[string][]int)
	for idx, item := range order.Items {
		service := item.FulfillmentService
		groups[service] = append(groups[service], idx)
	}

	services := make([]string, 0, len(groups))
	for service := range groups {
		services = append(services, service)
	}
	sort.Strings(services)

	for _, service := range services {
		indexes := groups[service]
		fulfillment, err := s.reg.Fulfillments().Insert(ctx, Fulfillment{
			ID:           s.newID(),
			OrderID:      order.ID,
			Service:      service,
			Status:       domain.FulfillmentStatusPending,
			TotalItems:   len(indexes),
			TotalPending: len(indexes),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return s.translateRepoError(err)
		}
		order.Fulfillments = append(order.Fulfillments, fulfillment)

		for _, idx := range indexes {
			item := order.Items[idx]
			item.FulfillmentID = fulfillment.ID
			item.FulfillmentStatus = domain.FulfillmentStatusPending
			item.UpdatedAt = now
			updated, err := s.reg.Orders().UpdateItem(ctx, item)
			if err != nil {
				return s.translateRepoError(err)
			}
			order.Items[idx] = updated
		}
	}
	return nil
}

// buildPendingTransactions groups payment details by gateway into pending
// transactions of the order's kind. Details without an explicit amount share
// the remaining balance due, assigned to the first such gateway.
func (s *orderService) buildPendingTransactions(ctx context.Context, order Order, now time.Time) error {
	if len(order.PaymentDetails) == 0 {
		return nil
	}

	type gatewayGroup struct {
		amount   int64
		explicit bool
	}
	groups := make(map[string]*gatewayGroup)
	ordered := make([]string, 0, len(order.PaymentDetails))
	var explicitTotal int64
	for _, detail := range order.PaymentDetails {
		gateway := strings.TrimSpace(detail.Gateway)
		if gateway == "" {
			return fmt.Errorf("%w: payment detail requires a gateway", ErrOrderInvalidInput)
		}
		group, ok := groups[gateway]
		if !ok {
			group = &gatewayGroup{}
			groups[gateway] = group
			ordered = append(ordered, gateway)
		}
		if detail.Amount > 0 {
			group.amount += detail.Amount
			group.explicit = true
			explicitTotal += detail.Amount
		}
	}

	remainder := order.Totals.TotalDue - explicitTotal
	if remainder < 0 {
		remainder = 0
	}
	for _, gateway := range ordered {
		group := groups[gateway]
		if !group.explicit {
			group.amount = remainder
			remainder = 0
		}
	}

	for _, gateway := range ordered {
		group := groups[gateway]
		_, err := s.reg.Transactions().Insert(ctx, Transaction{
			ID:        s.newID(),
			OrderID:   order.ID,
			Kind:      order.TransactionKind,
			Status:    domain.TransactionStatusPending,
			Amount:    group.amount,
			Currency:  order.Currency,
			Gateway:   gateway,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return s.translateRepoError(err)
		}
	}
	return nil
}

// recordPurchase folds the order into the customer's aggregate statistics.
func (s *orderService) recordPurchase(ctx context.Context, customer Customer, order Order) error {
	customer.TotalSpent += order.Totals.TotalDue
	customer.TotalOrders++
	customer.AvgSpent = customer.TotalSpent / customer.TotalOrders
	customer.LastOrderID = order.ID
	customer.UpdatedAt = s.now()

	if _, err := s.reg.Customers().Update(ctx, customer); err != nil {
		return s.translateRepoError(err)
	}
	return nil
}

// geocodeAddresses fills missing coordinates best effort. Failures are
// logged and never block the caller.
func (s *orderService) geocodeAddresses(ctx context.Context, order *Order) {
	if s.geocoder == nil {
		return
	}
	for _, addr := range []*Address{order.ShippingAddress, order.BillingAddress} {
		if addr == nil || (addr.Latitude != nil && addr.Longitude != nil) {
			continue
		}
		coords, err := s.geocoder.Geocode(ctx, *addr)
		if err != nil {
			s.logger(ctx, "order.geocode_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			continue
		}
		lat, lng := coords.Latitude, coords.Longitude
		addr.Latitude = &lat
		addr.Longitude = &lng
	}
}

// sendUpdateNotice emails the customer after an order edit, keyed to the
// current financial status. Delivery failures are logged, never returned.
func (s *orderService) sendUpdateNotice(ctx context.Context, order Order) {
	template := notify.TemplateOrderConfirmation
	if order.FinancialStatus == domain.FinancialStatusRefunded ||
		order.FinancialStatus == domain.FinancialStatusPartiallyRefunded {
		template = notify.TemplateOrderRefunded
	}
	s.sendMail(ctx, notify.Message{
		To:       order.Email,
		Template: template,
		Subject:  fmt.Sprintf("Order %s updated", order.Number),
		Data:     map[string]any{"orderNumber": order.Number, "financialStatus": string(order.FinancialStatus)},
	})
}

func (s *orderService) sendMail(ctx context.Context, msg notify.Message) {
	if s.mailer == nil || strings.TrimSpace(msg.To) == "" {
		return
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger(ctx, "order.mail_failed", map[string]any{
			"template": msg.Template,
			"error":    err.Error(),
		})
	}
}

func (s *orderService) publish(ctx context.Context, eventType, kind, id string, data map[string]any) {
	if s.publisher == nil {
		return
	}
	event := Event{
		Type:       eventType,
		ObjectKind: kind,
		ObjectID:   id,
		Data:       data,
		OccurredAt: s.now(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"type":  eventType,
			"error": err.Error(),
		})
	}
}

func (s *orderService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		}
	}
	return ErrOrderUnavailable
}

// guardOrderMutable gates contact and address edits.
func guardOrderMutable(order Order) error {
	if order.Cancelled {
		return fmt.Errorf("%w: order is cancelled", ErrOrderInvalidTransition)
	}
	switch order.FulfillmentStatus {
	case domain.FulfillmentStatusNone, domain.FulfillmentStatusPending, domain.FulfillmentStatusSent:
		return nil
	default:
		return fmt.Errorf("%w: fulfillment status is %s", ErrOrderInvalidTransition, order.FulfillmentStatus)
	}
}

// guardOrderItemsMutable gates line-item edits, which are stricter than
// contact edits: only open orders accept them.
func guardOrderItemsMutable(order Order) error {
	if order.Cancelled {
		return fmt.Errorf("%w: order is cancelled", ErrOrderInvalidTransition)
	}
	if order.Status != domain.OrderStatusOpen {
		return fmt.Errorf("%w: order status is %s", ErrOrderInvalidTransition, order.Status)
	}
	return nil
}

func indexOfItem(items []OrderItem, itemID string) int {
	for idx, item := range items {
		if item.ID == itemID {
			return idx
		}
	}
	return -1
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

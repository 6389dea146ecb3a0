package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/fieldline/commerce/internal/services"
)

var errStubNotConfigured = errors.New("stub call not configured")

type stubCartService struct {
	createFunc     func(ctx context.Context, cmd services.CreateCartCommand) (services.Cart, error)
	getFunc        func(ctx context.Context, ref services.CartRef) (services.Cart, error)
	updateFunc     func(ctx context.Context, cmd services.UpdateCartCommand) (services.Cart, error)
	addItemsFunc   func(ctx context.Context, cmd services.AddCartItemsCommand) (services.Cart, error)
	removeFunc     func(ctx context.Context, cmd services.RemoveCartItemsCommand) (services.Cart, error)
	clearFunc      func(ctx context.Context, ref services.CartRef) (services.Cart, error)
	shipLinesFunc  func(ctx context.Context, cmd services.SetCartLinesCommand) (services.Cart, error)
	taxLinesFunc   func(ctx context.Context, cmd services.SetCartLinesCommand) (services.Cart, error)
	dropShipFunc   func(ctx context.Context, ref services.CartRef) (services.Cart, error)
	dropTaxesFunc  func(ctx context.Context, ref services.CartRef) (services.Cart, error)
}

func (s *stubCartService) CreateCart(ctx context.Context, cmd services.CreateCartCommand) (services.Cart, error) {
	if s.createFunc == nil {
		return services.Cart{}, errStubNotConfigured
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubCartService) GetCart(ctx context.Context, ref services.CartRef) (services.Cart, error) {
	if s.getFunc == nil {
		return services.Cart{}, errStubNotConfigured
	}
	return s.getFunc(ctx, ref)
}

func (s *stubCartService) UpdateCart(ctx context.Context, cmd services.UpdateCartCommand) (services.Cart, error) {
	if s.updateFunc == nil {
		return services.Cart{}, errStubNotConfigured
	}
	return s.updateFunc(ctx, cmd)
}

func (s *stubCartService) AddItems(ctx context.Context, cmd services.AddCartItemsCommand) (services.Cart, error) {
	if s.addItemsFunc == nil {
		return services.Cart{}, errStubNotConfigured
	}
	return s.addItemsFunc(ctx, cmd)
}

func (s *stubCartService) RemoveItems(ctx context.Context, cmd services.RemoveCartItemsCommand) (services.Cart, error) {
	if s.removeFunc == nil {
		return services.Cart{}, errStubNotConfigured
	}
	return s.removeFunc(ctx, cmd)
}

func (s *stubCartService) ClearItems(ctx context.Context, ref services.CartRef) (services.Cart, error) {
	if s.clearFunc == nil {
		return services.Cart{}, errStubNotConfigured
	}
	return s.clearFunc(ctx, ref)
}

func (s *stubCartService) AddShippingLines(ctx context.Context, cmd services.SetCartLinesCommand) (services.Cart, error) {
	if s.shipLinesFunc == nil {
		return services.Cart{}, errStubNotConfigured
	}
	return s.shipLinesFunc(ctx, cmd)
}

func (s *stubCartService) RemoveShippingLines(ctx context.Context, ref services.CartRef) (services.Cart, error) {
	if s.dropShipFunc == nil {
		return services.Cart{}, errStubNotConfigured
	}
	return s.dropShipFunc(ctx, ref)
}

func (s *stubCartService) AddTaxLines(ctx context.Context, cmd services.SetCartLinesCommand) (services.Cart, error) {
	if s.taxLinesFunc == nil {
		return services.Cart{}, errStubNotConfigured
	}
	return s.taxLinesFunc(ctx, cmd)
}

func (s *stubCartService) RemoveTaxLines(ctx context.Context, ref services.CartRef) (services.Cart, error) {
	if s.dropTaxesFunc == nil {
		return services.Cart{}, errStubNotConfigured
	}
	return s.dropTaxesFunc(ctx, ref)
}

type stubCheckoutService struct {
	checkoutFunc func(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error)
}

func (s *stubCheckoutService) Checkout(ctx context.Context, cmd services.CheckoutCommand) (services.CheckoutResult, error) {
	if s.checkoutFunc == nil {
		return services.CheckoutResult{}, errStubNotConfigured
	}
	return s.checkoutFunc(ctx, cmd)
}

type stubOrderService struct {
	createFunc     func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	getFunc        func(ctx context.Context, ref services.OrderRef) (services.Order, error)
	listFunc       func(ctx context.Context, filter services.OrderListFilter) ([]services.Order, error)
	updateFunc     func(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error)
	addItemsFunc   func(ctx context.Context, cmd services.AddOrderItemsCommand) (services.Order, error)
	updateItemFunc func(ctx context.Context, cmd services.UpdateOrderItemCommand) (services.Order, error)
	removeItemFunc func(ctx context.Context, cmd services.RemoveOrderItemCommand) (services.Order, error)
	cancelFunc     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, ref services.OrderRef) (services.Order, error) {
	if s.getFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.getFunc(ctx, ref)
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) ([]services.Order, error) {
	if s.listFunc == nil {
		return nil, errStubNotConfigured
	}
	return s.listFunc(ctx, filter)
}

func (s *stubOrderService) UpdateOrder(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
	if s.updateFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.updateFunc(ctx, cmd)
}

func (s *stubOrderService) AddItems(ctx context.Context, cmd services.AddOrderItemsCommand) (services.Order, error) {
	if s.addItemsFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.addItemsFunc(ctx, cmd)
}

func (s *stubOrderService) UpdateItem(ctx context.Context, cmd services.UpdateOrderItemCommand) (services.Order, error) {
	if s.updateItemFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.updateItemFunc(ctx, cmd)
}

func (s *stubOrderService) RemoveItem(ctx context.Context, cmd services.RemoveOrderItemCommand) (services.Order, error) {
	if s.removeItemFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.removeItemFunc(ctx, cmd)
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.cancelFunc(ctx, cmd)
}

type stubTransactionService struct {
	authorizeFunc func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error)
	captureFunc   func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error)
	payFunc       func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error)
	voidFunc      func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error)
	refundFunc    func(ctx context.Context, cmd services.RefundOrderCommand) (services.Order, error)
	retryFunc     func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error)
	cancelFunc    func(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error)
}

func (s *stubTransactionService) AuthorizeOrder(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
	if s.authorizeFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.authorizeFunc(ctx, cmd)
}

func (s *stubTransactionService) CaptureOrder(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
	if s.captureFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.captureFunc(ctx, cmd)
}

func (s *stubTransactionService) PayOrder(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
	if s.payFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.payFunc(ctx, cmd)
}

func (s *stubTransactionService) VoidOrder(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
	if s.voidFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.voidFunc(ctx, cmd)
}

func (s *stubTransactionService) RefundOrder(ctx context.Context, cmd services.RefundOrderCommand) (services.Order, error) {
	if s.refundFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.refundFunc(ctx, cmd)
}

func (s *stubTransactionService) RetryOrder(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
	if s.retryFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.retryFunc(ctx, cmd)
}

func (s *stubTransactionService) CancelTransactions(ctx context.Context, cmd services.TransactionBatchCommand) (services.Order, error) {
	if s.cancelFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.cancelFunc(ctx, cmd)
}

type stubFulfillmentService struct {
	fulfillFunc func(ctx context.Context, ref services.OrderRef) (services.Order, error)
	sendFunc    func(ctx context.Context, cmd services.SendFulfillmentsCommand) (services.Order, error)
	updateFunc  func(ctx context.Context, cmd services.UpdateFulfillmentCommand) (services.Order, error)
	cancelFunc  func(ctx context.Context, orderRef services.OrderRef, fulfillmentID string) (services.Order, error)
}

func (s *stubFulfillmentService) FulfillOrder(ctx context.Context, ref services.OrderRef) (services.Order, error) {
	if s.fulfillFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.fulfillFunc(ctx, ref)
}

func (s *stubFulfillmentService) SendFulfillments(ctx context.Context, cmd services.SendFulfillmentsCommand) (services.Order, error) {
	if s.sendFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.sendFunc(ctx, cmd)
}

func (s *stubFulfillmentService) UpdateFulfillment(ctx context.Context, cmd services.UpdateFulfillmentCommand) (services.Order, error) {
	if s.updateFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.updateFunc(ctx, cmd)
}

func (s *stubFulfillmentService) CancelFulfillment(ctx context.Context, orderRef services.OrderRef, fulfillmentID string) (services.Order, error) {
	if s.cancelFunc == nil {
		return services.Order{}, errStubNotConfigured
	}
	return s.cancelFunc(ctx, orderRef, fulfillmentID)
}

type stubSubscriptionService struct {
	createFunc     func(ctx context.Context, cmd services.CreateSubscriptionCommand) (services.Subscription, error)
	getFunc        func(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error)
	updateFunc     func(ctx context.Context, cmd services.UpdateSubscriptionCommand) (services.Subscription, error)
	addItemsFunc   func(ctx context.Context, cmd services.AddSubscriptionItemsCommand) (services.Subscription, error)
	removeFunc     func(ctx context.Context, cmd services.RemoveSubscriptionItemsCommand) (services.Subscription, error)
	renewFunc      func(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error)
	activateFunc   func(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error)
	deactivateFunc func(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error)
	cancelFunc     func(ctx context.Context, cmd services.CancelSubscriptionCommand) (services.Subscription, error)
	renewDueFunc   func(ctx context.Context, now time.Time) (services.BatchSummary, error)
	retryDueFunc   func(ctx context.Context, now time.Time) (services.BatchSummary, error)
	cancelDueFunc  func(ctx context.Context, now time.Time) (services.BatchSummary, error)
	noticesFunc    func(ctx context.Context, now time.Time) (services.BatchSummary, error)
}

func (s *stubSubscriptionService) CreateFromOrder(ctx context.Context, cmd services.CreateSubscriptionCommand) (services.Subscription, error) {
	if s.createFunc == nil {
		return services.Subscription{}, errStubNotConfigured
	}
	return s.createFunc(ctx, cmd)
}

func (s *stubSubscriptionService) GetSubscription(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error) {
	if s.getFunc == nil {
		return services.Subscription{}, errStubNotConfigured
	}
	return s.getFunc(ctx, ref)
}

func (s *stubSubscriptionService) UpdateSubscription(ctx context.Context, cmd services.UpdateSubscriptionCommand) (services.Subscription, error) {
	if s.updateFunc == nil {
		return services.Subscription{}, errStubNotConfigured
	}
	return s.updateFunc(ctx, cmd)
}

func (s *stubSubscriptionService) AddItems(ctx context.Context, cmd services.AddSubscriptionItemsCommand) (services.Subscription, error) {
	if s.addItemsFunc == nil {
		return services.Subscription{}, errStubNotConfigured
	}
	return s.addItemsFunc(ctx, cmd)
}

func (s *stubSubscriptionService) RemoveItems(ctx context.Context, cmd services.RemoveSubscriptionItemsCommand) (services.Subscription, error) {
	if s.removeFunc == nil {
		return services.Subscription{}, errStubNotConfigured
	}
	return s.removeFunc(ctx, cmd)
}

func (s *stubSubscriptionService) Renew(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error) {
	if s.renewFunc == nil {
		return services.Subscription{}, errStubNotConfigured
	}
	return s.renewFunc(ctx, ref)
}

func (s *stubSubscriptionService) Activate(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error) {
	if s.activateFunc == nil {
		return services.Subscription{}, errStubNotConfigured
	}
	return s.activateFunc(ctx, ref)
}

func (s *stubSubscriptionService) Deactivate(ctx context.Context, ref services.SubscriptionRef) (services.Subscription, error) {
	if s.deactivateFunc == nil {
		return services.Subscription{}, errStubNotConfigured
	}
	return s.deactivateFunc(ctx, ref)
}

func (s *stubSubscriptionService) Cancel(ctx context.Context, cmd services.CancelSubscriptionCommand) (services.Subscription, error) {
	if s.cancelFunc == nil {
		return services.Subscription{}, errStubNotConfigured
	}
	return s.cancelFunc(ctx, cmd)
}

func (s *stubSubscriptionService) RenewDue(ctx context.Context, now time.Time) (services.BatchSummary, error) {
	if s.renewDueFunc == nil {
		return services.BatchSummary{}, errStubNotConfigured
	}
	return s.renewDueFunc(ctx, now)
}

func (s *stubSubscriptionService) RetryDue(ctx context.Context, now time.Time) (services.BatchSummary, error) {
	if s.retryDueFunc == nil {
		return services.BatchSummary{}, errStubNotConfigured
	}
	return s.retryDueFunc(ctx, now)
}

func (s *stubSubscriptionService) CancelDue(ctx context.Context, now time.Time) (services.BatchSummary, error) {
	if s.cancelDueFunc == nil {
		return services.BatchSummary{}, errStubNotConfigured
	}
	return s.cancelDueFunc(ctx, now)
}

func (s *stubSubscriptionService) SendRenewalNotices(ctx context.Context, now time.Time) (services.BatchSummary, error) {
	if s.noticesFunc == nil {
		return services.BatchSummary{}, errStubNotConfigured
	}
	return s.noticesFunc(ctx, now)
}

type stubSystemService struct {
	healthFunc func(ctx context.Context) (services.SystemHealthReport, error)
}

func (s *stubSystemService) Health(ctx context.Context) (services.SystemHealthReport, error) {
	if s.healthFunc == nil {
		return services.SystemHealthReport{}, errStubNotConfigured
	}
	return s.healthFunc(ctx)
}

type stubPublisher struct {
	publishFunc func(ctx context.Context, event services.Event) error
	events      []services.Event
}

func (s *stubPublisher) Publish(ctx context.Context, event services.Event) error {
	if s.publishFunc != nil {
		if err := s.publishFunc(ctx, event); err != nil {
			return err
		}
	}
	s.events = append(s.events, event)
	return nil
}

package services

import (
	"context"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart               = domain.Cart
	CartItem           = domain.CartItem
	CartStatus         = domain.CartStatus
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	FinancialStatus    = domain.FinancialStatus
	FulfillmentStatus  = domain.FulfillmentStatus
	Transaction        = domain.Transaction
	TransactionKind    = domain.TransactionKind
	TransactionStatus  = domain.TransactionStatus
	Fulfillment        = domain.Fulfillment
	Refund             = domain.Refund
	Customer           = domain.Customer
	Subscription       = domain.Subscription
	Address            = domain.Address
	LineItem           = domain.LineItem
	LineAmount         = domain.LineAmount
	PricingOverride    = domain.PricingOverride
	PaymentDetail      = domain.PaymentDetail
	PaymentSource      = domain.PaymentSource
	Totals             = domain.Totals
	CancelReason       = domain.CancelReason
	IntervalUnit       = domain.IntervalUnit
	ProcessingMethod   = domain.ProcessingMethod
	Event              = domain.Event
	SystemHealthReport = domain.SystemHealthReport
)

// EventPublisher delivers domain events to the bus. Publishing failures are
// logged by callers and never abort the triggering operation.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// CartRef resolves a cart by internal ID or public token; exactly one field
// should be set, ID winning when both are.
type CartRef struct {
	ID    string
	Token string
}

// OrderRef resolves an order by internal ID or public token.
type OrderRef struct {
	ID    string
	Token string
}

// SubscriptionRef resolves a subscription by internal ID or public token.
type SubscriptionRef struct {
	ID    string
	Token string
}

// CartItemInput is the caller-supplied shape of a new cart or order line.
type CartItemInput struct {
	ProductID            string
	VariantID            string
	SKU                  string
	Title                string
	Quantity             int
	UnitPrice            int64
	Properties           map[string]any
	FulfillmentService   string
	RequiresShipping     bool
	RequiresSubscription bool
	SubscriptionUnit     IntervalUnit
	SubscriptionInterval int
	ExcludePaymentTypes  []string
}

// CreateCartCommand seeds a new open cart.
type CreateCartCommand struct {
	CustomerID string
	Email      string
	Currency   string
	Items      []CartItemInput
	Notes      string
}

// UpdateCartCommand mutates cart-level fields. Nil pointers leave the field
// untouched; pointers to the zero value clear it.
type UpdateCartCommand struct {
	Cart            CartRef
	Email           *string
	CustomerID      *string
	ShippingAddress *Address
	BillingAddress  *Address
	Notes           *string
	Status          *CartStatus
	ExpectedVersion int64
}

// AddCartItemsCommand appends lines to an open cart.
type AddCartItemsCommand struct {
	Cart  CartRef
	Items []CartItemInput
}

// RemoveCartItemsCommand deletes the identified lines from an open cart.
type RemoveCartItemsCommand struct {
	Cart    CartRef
	ItemIDs []string
}

// SetCartLinesCommand replaces the cart's shipping or tax lines.
type SetCartLinesCommand struct {
	Cart  CartRef
	Lines []LineAmount
}

// CartService manages mutable cart state, recalculating totals on every write.
type CartService interface {
	CreateCart(ctx context.Context, cmd CreateCartCommand) (Cart, error)
	GetCart(ctx context.Context, ref CartRef) (Cart, error)
	UpdateCart(ctx context.Context, cmd UpdateCartCommand) (Cart, error)
	AddItems(ctx context.Context, cmd AddCartItemsCommand) (Cart, error)
	RemoveItems(ctx context.Context, cmd RemoveCartItemsCommand) (Cart, error)
	ClearItems(ctx context.Context, ref CartRef) (Cart, error)
	AddShippingLines(ctx context.Context, cmd SetCartLinesCommand) (Cart, error)
	RemoveShippingLines(ctx context.Context, ref CartRef) (Cart, error)
	AddTaxLines(ctx context.Context, cmd SetCartLinesCommand) (Cart, error)
	RemoveTaxLines(ctx context.Context, ref CartRef) (Cart, error)
}

// CheckoutCommand converts a cart into an order. Explicit fields win over
// values stored on the cart or the customer record.
type CheckoutCommand struct {
	Cart            CartRef
	CustomerID      string
	Email           string
	ShippingAddress *Address
	BillingAddress  *Address
	PaymentDetails  []PaymentDetail
	TransactionKind TransactionKind
	Notes           string
}

// CheckoutResult carries the created order, the closed source cart, and the
// replacement cart provisioned in the same transaction.
type CheckoutResult struct {
	Order      Order
	ClosedCart Cart
	NextCart   Cart
}

// CheckoutService atomically converts carts into orders.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error)
}

// CreateOrderCommand is the full order intake payload. Checkout and
// subscription renewal both funnel through it.
type CreateOrderCommand struct {
	CustomerID        string
	Email             string
	Currency          string
	CartToken         string
	SubscriptionToken string
	Items             []CartItemInput
	ShippingAddress   *Address
	BillingAddress    *Address
	ShippingLines     []LineAmount
	TaxLines          []LineAmount
	Overrides         []PricingOverride
	PaymentDetails    []PaymentDetail
	TransactionKind   TransactionKind
	ProcessingMethod  ProcessingMethod
	Status            OrderStatus
}

// UpdateOrderCommand mutates contact and address fields on a live order.
type UpdateOrderCommand struct {
	Order           OrderRef
	Email           *string
	ShippingAddress *Address
	BillingAddress  *Address
	ExpectedVersion int64
}

// AddOrderItemsCommand appends lines to an open order.
type AddOrderItemsCommand struct {
	Order OrderRef
	Items []CartItemInput
}

// UpdateOrderItemCommand mutates a single order line.
type UpdateOrderItemCommand struct {
	Order      OrderRef
	ItemID     string
	Quantity   *int
	Properties map[string]any
}

// RemoveOrderItemCommand deletes a line from an open order.
type RemoveOrderItemCommand struct {
	Order  OrderRef
	ItemID string
}

// CancelOrderCommand cancels an order, cascading to its transactions and
// fulfillments. Reason defaults to other when nil.
type CancelOrderCommand struct {
	Order  OrderRef
	Reason *CancelReason
	Notify bool
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID        string
	SubscriptionToken string
	FinancialStatus   *FinancialStatus
	Status            *OrderStatus
	Limit             int
}

// OrderService owns the order intake pipeline and post-creation mutations.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, ref OrderRef) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]Order, error)
	UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
	AddItems(ctx context.Context, cmd AddOrderItemsCommand) (Order, error)
	UpdateItem(ctx context.Context, cmd UpdateOrderItemCommand) (Order, error)
	RemoveItem(ctx context.Context, cmd RemoveOrderItemCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// RefundInstruction targets a specific transaction for a partial refund.
// Amount equal to the transaction amount produces a full refund.
type RefundInstruction struct {
	TransactionID string
	Amount        int64
}

// TransactionBatchCommand selects transactions on an order for a batch
// gateway operation. An empty TransactionIDs slice selects every transaction
// matching the operation's predicate; explicit IDs silently skip rows that
// do not match.
type TransactionBatchCommand struct {
	Order          OrderRef
	TransactionIDs []string
}

// RefundOrderCommand drives order-level refunds. When Instructions is empty
// every successful sale and capture is refunded in full.
type RefundOrderCommand struct {
	Order        OrderRef
	Instructions []RefundInstruction
	Restock      bool
}

// TransactionService executes gateway operations against an order's
// transactions and keeps the derived financial status current. Gateway
// declines mark the transaction failed and never surface as errors.
type TransactionService interface {
	AuthorizeOrder(ctx context.Context, cmd TransactionBatchCommand) (Order, error)
	CaptureOrder(ctx context.Context, cmd TransactionBatchCommand) (Order, error)
	PayOrder(ctx context.Context, cmd TransactionBatchCommand) (Order, error)
	VoidOrder(ctx context.Context, cmd TransactionBatchCommand) (Order, error)
	RefundOrder(ctx context.Context, cmd RefundOrderCommand) (Order, error)
	RetryOrder(ctx context.Context, cmd TransactionBatchCommand) (Order, error)
	CancelTransactions(ctx context.Context, cmd TransactionBatchCommand) (Order, error)
}

// SendFulfillmentsCommand dispatches the identified fulfillment groups, or
// every dispatchable group when FulfillmentIDs is empty.
type SendFulfillmentsCommand struct {
	Order          OrderRef
	FulfillmentIDs []string
}

// UpdateFulfillmentCommand applies a provider-side correction to one group:
// a tracking number, a status move, or both. Nil fields are left untouched.
type UpdateFulfillmentCommand struct {
	Order          OrderRef
	FulfillmentID  string
	Status         *FulfillmentStatus
	TrackingNumber *string
}

// FulfillmentService groups order items into shipping units and moves them
// through the dispatch lifecycle.
type FulfillmentService interface {
	FulfillOrder(ctx context.Context, ref OrderRef) (Order, error)
	SendFulfillments(ctx context.Context, cmd SendFulfillmentsCommand) (Order, error)
	UpdateFulfillment(ctx context.Context, cmd UpdateFulfillmentCommand) (Order, error)
	CancelFulfillment(ctx context.Context, orderRef OrderRef, fulfillmentID string) (Order, error)
}

// CreateSubscriptionCommand snapshots recurring lines from a paid order.
type CreateSubscriptionCommand struct {
	Order OrderRef
}

// UpdateSubscriptionCommand adjusts a live subscription's renewal cadence.
// Nil fields keep their current values.
type UpdateSubscriptionCommand struct {
	Subscription SubscriptionRef
	Unit         *IntervalUnit
	Interval     *int
	RenewsOn     *time.Time
}

// AddSubscriptionItemsCommand appends lines to the frozen item snapshot.
type AddSubscriptionItemsCommand struct {
	Subscription SubscriptionRef
	Items        []CartItemInput
}

// RemoveSubscriptionItemsCommand drops snapshot lines by product id.
type RemoveSubscriptionItemsCommand struct {
	Subscription SubscriptionRef
	ProductIDs   []string
}

// CancelSubscriptionCommand ends a subscription. Reason defaults to customer
// when nil.
type CancelSubscriptionCommand struct {
	Subscription SubscriptionRef
	Reason       *CancelReason
}

// BatchSummary reports the outcome of an hourly batch run. Errors holds one
// message per failed row; failures never abort the sweep.
type BatchSummary struct {
	Processed int
	Errors    []string
}

// SubscriptionService owns the recurring-order lifecycle and the hourly
// batch jobs that drive it.
type SubscriptionService interface {
	CreateFromOrder(ctx context.Context, cmd CreateSubscriptionCommand) (Subscription, error)
	GetSubscription(ctx context.Context, ref SubscriptionRef) (Subscription, error)
	UpdateSubscription(ctx context.Context, cmd UpdateSubscriptionCommand) (Subscription, error)
	AddItems(ctx context.Context, cmd AddSubscriptionItemsCommand) (Subscription, error)
	RemoveItems(ctx context.Context, cmd RemoveSubscriptionItemsCommand) (Subscription, error)
	Renew(ctx context.Context, ref SubscriptionRef) (Subscription, error)
	Activate(ctx context.Context, ref SubscriptionRef) (Subscription, error)
	Deactivate(ctx context.Context, ref SubscriptionRef) (Subscription, error)
	Cancel(ctx context.Context, cmd CancelSubscriptionCommand) (Subscription, error)

	RenewDue(ctx context.Context, now time.Time) (BatchSummary, error)
	RetryDue(ctx context.Context, now time.Time) (BatchSummary, error)
	CancelDue(ctx context.Context, now time.Time) (BatchSummary, error)
	SendRenewalNotices(ctx context.Context, now time.Time) (BatchSummary, error)
}

// SystemService aggregates dependency health for readiness probes.
type SystemService interface {
	Health(ctx context.Context) (SystemHealthReport, error)
}

package domain

import (
	"time"
)

// CartStatus captures the lifecycle of a cart. Carts are mutable while open or
// draft and become immutable once closed by a checkout.
type CartStatus string

const (
	CartStatusOpen   CartStatus = "open"
	CartStatusDraft  CartStatus = "draft"
	CartStatusClosed CartStatus = "closed"
)

// OrderStatus is the top-level order lifecycle. Financial and fulfillment
// progress are tracked separately as derived statuses.
type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusDraft     OrderStatus = "draft"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// FinancialStatus summarises an order's payment progress. It is derived from
// the order's transactions and refunds, never set directly.
type FinancialStatus string

const (
	FinancialStatusPending           FinancialStatus = "pending"
	FinancialStatusAuthorized        FinancialStatus = "authorized"
	FinancialStatusPartiallyPaid     FinancialStatus = "partially_paid"
	FinancialStatusPaid              FinancialStatus = "paid"
	FinancialStatusPartiallyRefunded FinancialStatus = "partially_refunded"
	FinancialStatusRefunded          FinancialStatus = "refunded"
)

// FulfillmentStatus summarises shipping progress for an order or a single
// fulfillment group.
type FulfillmentStatus string

const (
	FulfillmentStatusNone      FulfillmentStatus = "none"
	FulfillmentStatusPending   FulfillmentStatus = "pending"
	FulfillmentStatusSent      FulfillmentStatus = "sent"
	FulfillmentStatusCancelled FulfillmentStatus = "cancelled"
)

// TransactionKind identifies the gateway operation a transaction represents.
type TransactionKind string

const (
	TransactionKindAuthorize TransactionKind = "authorize"
	TransactionKindCapture   TransactionKind = "capture"
	TransactionKindSale      TransactionKind = "sale"
	TransactionKindRefund    TransactionKind = "refund"
	TransactionKindVoid      TransactionKind = "void"
)

// TransactionStatus is the per-attempt payment state.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusSuccess   TransactionStatus = "success"
	TransactionStatusFailure   TransactionStatus = "failure"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// CancelReason records why an order or subscription was cancelled.
type CancelReason string

const (
	CancelReasonCustomer  CancelReason = "customer"
	CancelReasonFunding   CancelReason = "funding"
	CancelReasonInventory CancelReason = "inventory"
	CancelReasonFraud     CancelReason = "fraud"
	CancelReasonOther     CancelReason = "other"
)

// IntervalUnit is the unit of a subscription's renewal interval.
type IntervalUnit string

const (
	IntervalUnitDay   IntervalUnit = "day"
	IntervalUnitWeek  IntervalUnit = "week"
	IntervalUnitMonth IntervalUnit = "month"
	IntervalUnitYear  IntervalUnit = "year"
)

// ProcessingMethod marks how an order entered the pipeline.
type ProcessingMethod string

const (
	ProcessingMethodCheckout     ProcessingMethod = "checkout"
	ProcessingMethodSubscription ProcessingMethod = "subscription"
)

// AccountBalanceOverrideName identifies the singleton account-balance pricing
// override attached to a cart or order. It is matched by name and replaced,
// never accumulated.
const AccountBalanceOverrideName = "Account Balance"

// Address is a postal address snapshot. Coordinates are filled best-effort by
// the geocoder and may be nil.
type Address struct {
	Name       string   `json:"name,omitempty"`
	Line1      string   `json:"line1"`
	Line2      string   `json:"line2,omitempty"`
	City       string   `json:"city"`
	State      *string  `json:"state,omitempty"`
	PostalCode string   `json:"postalCode"`
	Country    string   `json:"country"`
	Phone      string   `json:"phone,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// PricingOverride is an administrative price adjustment. Price is the amount
// deducted from the total, in minor currency units.
type PricingOverride struct {
	Name    string `json:"name"`
	Price   int64  `json:"price"`
	AdminID string `json:"adminId,omitempty"`
}

// LineAmount is a named shipping or tax line attached to a cart or order.
type LineAmount struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// LineItem is a priced unit shared by carts, orders, and subscription
// snapshots. Order-specific linkage lives on OrderItem.
type LineItem struct {
	ProductID            string         `json:"productId"`
	VariantID            string         `json:"variantId,omitempty"`
	SKU                  string         `json:"sku"`
	Title                string         `json:"title,omitempty"`
	Quantity             int            `json:"quantity"`
	UnitPrice            int64          `json:"unitPrice"`
	Currency             string         `json:"currency,omitempty"`
	Properties           map[string]any `json:"properties,omitempty"`
	FulfillmentService   string         `json:"fulfillmentService"`
	RequiresShipping     bool           `json:"requiresShipping"`
	RequiresSubscription bool           `json:"requiresSubscription,omitempty"`
	SubscriptionUnit     IntervalUnit   `json:"subscriptionUnit,omitempty"`
	SubscriptionInterval int            `json:"subscriptionInterval,omitempty"`
	ExcludePaymentTypes  []string       `json:"excludePaymentTypes,omitempty"`
}

// CartItem is a line item held by a mutable cart.
type CartItem struct {
	ID string `json:"id"`
	LineItem
	AddedAt   time.Time  `json:"addedAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Totals groups the computed money fields shared by carts and orders. All
// amounts are minor currency units.
type Totals struct {
	Subtotal       int64 `json:"subtotal"`
	ShippingTotal  int64 `json:"shippingTotal"`
	TaxTotal       int64 `json:"taxTotal"`
	DiscountTotal  int64 `json:"discountTotal"`
	OverridesTotal int64 `json:"overridesTotal"`
	TotalDue       int64 `json:"totalDue"`
	TotalPrice     int64 `json:"totalPrice"`
}

// Cart is the mutable pre-order aggregate.
type Cart struct {
	ID              string
	Token           string
	Status          CartStatus
	CustomerID      string
	Email           string
	Currency        string
	Items           []CartItem
	ShippingAddress *Address
	BillingAddress  *Address
	ShippingLines   []LineAmount
	TaxLines        []LineAmount
	Overrides       []PricingOverride
	Totals          Totals
	OrderedOrderID  string
	Notes           string
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is an immutable order line. Fulfillment linkage and status are the
// only fields mutated after creation.
type OrderItem struct {
	ID      string `json:"id"`
	OrderID string `json:"orderId"`
	LineItem
	TotalPrice        int64             `json:"totalPrice"`
	FulfillmentID     string            `json:"fulfillmentId,omitempty"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillmentStatus"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// Transaction is a single payment attempt against a gateway. Rows are never
// deleted; retries produce new rows or status transitions.
type Transaction struct {
	ID          string
	OrderID     string
	Kind        TransactionKind
	Status      TransactionStatus
	Amount      int64
	Currency    string
	Gateway     string
	Reference   string
	ErrorCode   string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Fulfillment is a shipping group, one per distinct fulfillment service among
// an order's items.
type Fulfillment struct {
	ID             string
	OrderID        string
	Service        string
	Status         FulfillmentStatus
	TotalItems     int
	TotalPending   int
	TotalSent      int
	TotalCancelled int
	TrackingNumber string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Refund records money returned to the customer. Exactly one row per
// successful refund transaction.
type Refund struct {
	ID            string
	OrderID       string
	TransactionID string
	Amount        int64
	Restock       bool
	CreatedAt     time.Time
}

// PaymentDetail is a gateway routing instruction supplied at checkout.
type PaymentDetail struct {
	Gateway string         `json:"gateway"`
	Amount  int64          `json:"amount,omitempty"`
	Source  map[string]any `json:"source,omitempty"`
}

// Order is the immutable-once-created transactional aggregate.
type Order struct {
	ID                string
	Number            string
	Token             string
	Status            OrderStatus
	FinancialStatus   FinancialStatus
	FulfillmentStatus FulfillmentStatus
	CustomerID        string
	Email             string
	CartToken         string
	SubscriptionToken string
	Currency          string
	ShippingAddress   *Address
	BillingAddress    *Address
	Items             []OrderItem
	Transactions      []Transaction
	Fulfillments      []Fulfillment
	Refunds           []Refund
	ShippingLines     []LineAmount
	TaxLines          []LineAmount
	Overrides         []PricingOverride
	Totals            Totals
	PaymentDetails    []PaymentDetail
	TransactionKind   TransactionKind
	ProcessingMethod  ProcessingMethod
	Cancelled         bool
	CancelReason      *CancelReason
	CancelledAt       *time.Time
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaymentSource is a stored customer payment instrument.
type PaymentSource struct {
	ID      string
	Gateway string
	Token   string
}

// Customer is the minimal customer projection the engine needs: identity,
// stored addresses and source, the account-balance ledger, and aggregate
// purchase statistics.
type Customer struct {
	ID              string
	Email           string
	Name            string
	AccountBalance  int64
	TotalSpent      int64
	TotalOrders     int64
	AvgSpent        int64
	LastOrderID     string
	ShippingAddress *Address
	BillingAddress  *Address
	DefaultSource   *PaymentSource
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Subscription is a recurring-order entity. Line items are frozen snapshots
// copied from the originating order, stripped of order-specific fields.
type Subscription struct {
	ID                   string
	Token                string
	CustomerID           string
	Email                string
	Currency             string
	OriginalOrderID      string
	LastOrderID          string
	Items                []LineItem
	Unit                 IntervalUnit
	Interval             int
	RenewsOn             time.Time
	RenewRetryAt         *time.Time
	TotalRenewalAttempts int
	NoticeSent           bool
	Active               bool
	Cancelled            bool
	CancelReason         *CancelReason
	CancelledAt          *time.Time
	TotalPrice           int64
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// NextRenewal advances a renewal timestamp by the subscription's interval.
func (s Subscription) NextRenewal(from time.Time) time.Time {
	interval := s.Interval
	if interval <= 0 {
		interval = 1
	}
	switch s.Unit {
	case IntervalUnitDay:
		return from.AddDate(0, 0, interval)
	case IntervalUnitWeek:
		return from.AddDate(0, 0, 7*interval)
	case IntervalUnitYear:
		return from.AddDate(interval, 0, 0)
	default:
		return from.AddDate(0, interval, 0)
	}
}

// Event is the payload published to the event bus after a state transition.
type Event struct {
	Type       string         `json:"type"`
	ObjectKind string         `json:"objectKind"`
	ObjectID   string         `json:"objectId"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

package repositories

import (
	"context"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Carts() CartRepository
	Orders() OrderRepository
	Transactions() TransactionRepository
	Fulfillments() FulfillmentRepository
	Refunds() RefundRepository
	Customers() CustomerRepository
	Subscriptions() SubscriptionRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CartRepository persists mutable carts. Update is conditional on the cart's
// version and returns a conflict error when a concurrent writer won.
type CartRepository interface {
	Insert(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	FindByID(ctx context.Context, cartID string) (domain.Cart, error)
	FindByToken(ctx context.Context, token string) (domain.Cart, error)
	FindOpenByCustomer(ctx context.Context, customerID string) (domain.Cart, error)
	Update(ctx context.Context, cart domain.Cart) (domain.Cart, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	CustomerID        string
	SubscriptionToken string
	FinancialStatus   *domain.FinancialStatus
	Status            *domain.OrderStatus
	Limit             int
}

// OrderRepository persists orders and their line items. FindByID returns the
// order hydrated with items, transactions, fulfillments, and refunds.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByToken(ctx context.Context, token string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	InsertItem(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error)
	UpdateItem(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error)
	DeleteItem(ctx context.Context, orderID string, itemID string) error
}

// TransactionRepository persists payment attempts. Rows are append-mostly;
// Update only moves status and gateway metadata.
type TransactionRepository interface {
	Insert(ctx context.Context, txn domain.Transaction) (domain.Transaction, error)
	FindByID(ctx context.Context, txnID string) (domain.Transaction, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error)
	Update(ctx context.Context, txn domain.Transaction) (domain.Transaction, error)
}

// FulfillmentRepository persists shipping groups.
type FulfillmentRepository interface {
	Insert(ctx context.Context, fulfillment domain.Fulfillment) (domain.Fulfillment, error)
	FindByID(ctx context.Context, fulfillmentID string) (domain.Fulfillment, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Fulfillment, error)
	Update(ctx context.Context, fulfillment domain.Fulfillment) (domain.Fulfillment, error)
}

// RefundRepository persists refund records.
type RefundRepository interface {
	Insert(ctx context.Context, refund domain.Refund) (domain.Refund, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error)
}

// CustomerRepository persists the customer projection the engine needs:
// identity, default addresses and source, balance ledger, purchase stats.
type CustomerRepository interface {
	Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
	FindByEmail(ctx context.Context, email string) (domain.Customer, error)
	Update(ctx context.Context, customer domain.Customer) (domain.Customer, error)
	// DebitBalance atomically reduces the customer's account balance by amount,
	// recording the order that consumed it.
	DebitBalance(ctx context.Context, customerID string, amount int64, orderID string) (domain.Customer, error)
}

// RenewalWindow bounds a time-window selection, inclusive on both ends.
type RenewalWindow struct {
	Start time.Time
	End   time.Time
}

// SubscriptionRepository persists subscriptions and serves the hourly batch
// selection predicates. Every List* method returns at most limit rows; callers
// re-issue the identical query until it returns empty, relying on processed
// rows no longer matching the predicate.
type SubscriptionRepository interface {
	Insert(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)
	FindByID(ctx context.Context, subID string) (domain.Subscription, error)
	FindByToken(ctx context.Context, token string) (domain.Subscription, error)
	Update(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)

	// ListDueForRenewal selects active subscriptions with renews_on inside the
	// window and zero renewal attempts.
	ListDueForRenewal(ctx context.Context, window RenewalWindow, limit int) ([]domain.Subscription, error)
	// ListDueForRetry selects active subscriptions with 0 < attempts < maxAttempts
	// whose retry time has arrived or is unset.
	ListDueForRetry(ctx context.Context, before time.Time, maxAttempts int, limit int) ([]domain.Subscription, error)
	// ListDueForCancel selects non-cancelled subscriptions that are deactivated
	// or have exhausted maxAttempts, with renews_on at or before the grace cutoff.
	ListDueForCancel(ctx context.Context, cutoff time.Time, maxAttempts int, limit int) ([]domain.Subscription, error)
	// ListDueForNotice selects active, unnotified subscriptions renewing inside
	// the notice window.
	ListDueForNotice(ctx context.Context, window RenewalWindow, limit int) ([]domain.Subscription, error)
}

// HealthRepository aggregates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

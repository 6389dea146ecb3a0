package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
	"github.com/fieldline/commerce/internal/notify"
	"github.com/fieldline/commerce/internal/payments"
	"github.com/fieldline/commerce/internal/repositories"
	"github.com/fieldline/commerce/internal/shipping"
)

func shippingDispatcher() shipping.Dispatcher {
	return shipping.NewManualDispatcher(nil)
}

type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoError) Error() string {
	switch {
	case e.notFound:
		return "repo: not found"
	case e.conflict:
		return "repo: conflict"
	default:
		return "repo: unavailable"
	}
}

func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

var (
	errStubNotFound = repoError{notFound: true}
	errStubConflict = repoError{conflict: true}
)

// fakeRegistry is an in-memory repositories.Registry for exercising service
// flows end to end without a database.
type fakeRegistry struct {
	mu sync.Mutex

	carts         map[string]domain.Cart
	orders        map[string]domain.Order
	items         map[string][]domain.OrderItem
	transactions  map[string][]domain.Transaction
	fulfillments  map[string][]domain.Fulfillment
	refunds       map[string][]domain.Refund
	customers     map[string]domain.Customer
	subscriptions map[string]domain.Subscription
	ledger        []ledgerEntry

	failOrderInsert error
}

type ledgerEntry struct {
	customerID string
	orderID    string
	amount     int64
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		carts:         map[string]domain.Cart{},
		orders:        map[string]domain.Order{},
		items:         map[string][]domain.OrderItem{},
		transactions:  map[string][]domain.Transaction{},
		fulfillments:  map[string][]domain.Fulfillment{},
		refunds:       map[string][]domain.Refund{},
		customers:     map[string]domain.Customer{},
		subscriptions: map[string]domain.Subscription{},
	}
}

func (r *fakeRegistry) Close(context.Context) error { return nil }

// RunInTx snapshots the stores and restores them when fn fails, mirroring a
// rolled-back database transaction.
func (r *fakeRegistry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := r.snapshot()
	if err := fn(ctx); err != nil {
		r.restore(snap)
		return err
	}
	return nil
}

type registrySnapshot struct {
	carts         map[string]domain.Cart
	orders        map[string]domain.Order
	items         map[string][]domain.OrderItem
	transactions  map[string][]domain.Transaction
	fulfillments  map[string][]domain.Fulfillment
	refunds       map[string][]domain.Refund
	customers     map[string]domain.Customer
	subscriptions map[string]domain.Subscription
	ledger        []ledgerEntry
}

func copyMap[V any](src map[string]V) map[string]V {
	dst := make(map[string]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copySliceMap[V any](src map[string][]V) map[string][]V {
	dst := make(map[string][]V, len(src))
	for k, v := range src {
		dst[k] = append([]V(nil), v...)
	}
	return dst
}

func (r *fakeRegistry) snapshot() registrySnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return registrySnapshot{
		carts:         copyMap(r.carts),
		orders:        copyMap(r.orders),
		items:         copySliceMap(r.items),
		transactions:  copySliceMap(r.transactions),
		fulfillments:  copySliceMap(r.fulfillments),
		refunds:       copySliceMap(r.refunds),
		customers:     copyMap(r.customers),
		subscriptions: copyMap(r.subscriptions),
		ledger:        append([]ledgerEntry(nil), r.ledger...),
	}
}

func (r *fakeRegistry) restore(snap registrySnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.carts = snap.carts
	r.orders = snap.orders
	r.items = snap.items
	r.transactions = snap.transactions
	r.fulfillments = snap.fulfillments
	r.refunds = snap.refunds
	r.customers = snap.customers
	r.subscriptions = snap.subscriptions
	r.ledger = snap.ledger
}

func (r *fakeRegistry) Carts() repositories.CartRepository                 { return &fakeCartRepo{reg: r} }
func (r *fakeRegistry) Orders() repositories.OrderRepository               { return &fakeOrderRepo{reg: r} }
func (r *fakeRegistry) Transactions() repositories.TransactionRepository   { return &fakeTxnRepo{reg: r} }
func (r *fakeRegistry) Fulfillments() repositories.FulfillmentRepository   { return &fakeFulfillmentRepo{reg: r} }
func (r *fakeRegistry) Refunds() repositories.RefundRepository             { return &fakeRefundRepo{reg: r} }
func (r *fakeRegistry) Customers() repositories.CustomerRepository         { return &fakeCustomerRepo{reg: r} }
func (r *fakeRegistry) Subscriptions() repositories.SubscriptionRepository { return &fakeSubRepo{reg: r} }

func (r *fakeRegistry) Health() repositories.HealthRepository { return nil }

type fakeCartRepo struct{ reg *fakeRegistry }

func (f *fakeCartRepo) Insert(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	if cart.Version == 0 {
		cart.Version = 1
	}
	f.reg.carts[cart.ID] = cart
	return cart, nil
}

func (f *fakeCartRepo) FindByID(_ context.Context, cartID string) (domain.Cart, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	cart, ok := f.reg.carts[cartID]
	if !ok {
		return domain.Cart{}, errStubNotFound
	}
	return cart, nil
}

func (f *fakeCartRepo) FindByToken(_ context.Context, token string) (domain.Cart, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	for _, cart := range f.reg.carts {
		if cart.Token == token {
			return cart, nil
		}
	}
	return domain.Cart{}, errStubNotFound
}

func (f *fakeCartRepo) FindOpenByCustomer(_ context.Context, customerID string) (domain.Cart, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	for _, cart := range f.reg.carts {
		if cart.CustomerID == customerID && cart.Status == domain.CartStatusOpen {
			return cart, nil
		}
	}
	return domain.Cart{}, errStubNotFound
}

func (f *fakeCartRepo) Update(_ context.Context, cart domain.Cart) (domain.Cart, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	current, ok := f.reg.carts[cart.ID]
	if !ok {
		return domain.Cart{}, errStubNotFound
	}
	if cart.Version != 0 && cart.Version != current.Version {
		return domain.Cart{}, errStubConflict
	}
	cart.Version = current.Version + 1
	f.reg.carts[cart.ID] = cart
	return cart, nil
}

type fakeOrderRepo struct{ reg *fakeRegistry }

func (f *fakeOrderRepo) Insert(_ context.Context, order domain.Order) (domain.Order, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	if f.reg.failOrderInsert != nil {
		return domain.Order{}, f.reg.failOrderInsert
	}
	if order.Version == 0 {
		order.Version = 1
	}
	items := order.Items
	order.Items = nil
	f.reg.orders[order.ID] = order
	f.reg.items[order.ID] = append([]domain.OrderItem(nil), items...)
	order.Items = items
	return order, nil
}

func (f *fakeOrderRepo) hydrate(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), f.reg.items[order.ID]...)
	order.Transactions = append([]domain.Transaction(nil), f.reg.transactions[order.ID]...)
	order.Fulfillments = append([]domain.Fulfillment(nil), f.reg.fulfillments[order.ID]...)
	order.Refunds = append([]domain.Refund(nil), f.reg.refunds[order.ID]...)
	return order
}

func (f *fakeOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	order, ok := f.reg.orders[orderID]
	if !ok {
		return domain.Order{}, errStubNotFound
	}
	return f.hydrate(order), nil
}

func (f *fakeOrderRepo) FindByToken(_ context.Context, token string) (domain.Order, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	for _, order := range f.reg.orders {
		if order.Token == token {
			return f.hydrate(order), nil
		}
	}
	return domain.Order{}, errStubNotFound
}

func (f *fakeOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	var out []domain.Order
	for _, order := range f.reg.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.SubscriptionToken != "" && order.SubscriptionToken != filter.SubscriptionToken {
			continue
		}
		if filter.FinancialStatus != nil && order.FinancialStatus != *filter.FinancialStatus {
			continue
		}
		if filter.Status != nil && order.Status != *filter.Status {
			continue
		}
		out = append(out, f.hydrate(order))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOrderRepo) Update(_ context.Context, order domain.Order) (domain.Order, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	current, ok := f.reg.orders[order.ID]
	if !ok {
		return domain.Order{}, errStubNotFound
	}
	if order.Version != 0 && order.Version != current.Version {
		return domain.Order{}, errStubConflict
	}
	order.Version = current.Version + 1
	stored := order
	stored.Items = nil
	stored.Transactions = nil
	stored.Fulfillments = nil
	stored.Refunds = nil
	f.reg.orders[order.ID] = stored
	return order, nil
}

func (f *fakeOrderRepo) InsertItem(_ context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	f.reg.items[item.OrderID] = append(f.reg.items[item.OrderID], item)
	return item, nil
}

func (f *fakeOrderRepo) UpdateItem(_ context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	items := f.reg.items[item.OrderID]
	for idx := range items {
		if items[idx].ID == item.ID {
			items[idx] = item
			return item, nil
		}
	}
	return domain.OrderItem{}, errStubNotFound
}

func (f *fakeOrderRepo) DeleteItem(_ context.Context, orderID, itemID string) error {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	items := f.reg.items[orderID]
	for idx := range items {
		if items[idx].ID == itemID {
			f.reg.items[orderID] = append(items[:idx], items[idx+1:]...)
			return nil
		}
	}
	return errStubNotFound
}

type fakeTxnRepo struct{ reg *fakeRegistry }

func (f *fakeTxnRepo) Insert(_ context.Context, txn domain.Transaction) (domain.Transaction, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	f.reg.transactions[txn.OrderID] = append(f.reg.transactions[txn.OrderID], txn)
	return txn, nil
}

func (f *fakeTxnRepo) FindByID(_ context.Context, txnID string) (domain.Transaction, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	for _, txns := range f.reg.transactions {
		for _, txn := range txns {
			if txn.ID == txnID {
				return txn, nil
			}
		}
	}
	return domain.Transaction{}, errStubNotFound
}

func (f *fakeTxnRepo) ListByOrder(_ context.Context, orderID string) ([]domain.Transaction, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	return append([]domain.Transaction(nil), f.reg.transactions[orderID]...), nil
}

func (f *fakeTxnRepo) Update(_ context.Context, txn domain.Transaction) (domain.Transaction, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	txns := f.reg.transactions[txn.OrderID]
	for idx := range txns {
		if txns[idx].ID == txn.ID {
			txns[idx] = txn
			return txn, nil
		}
	}
	return domain.Transaction{}, errStubNotFound
}

type fakeFulfillmentRepo struct{ reg *fakeRegistry }

func (f *fakeFulfillmentRepo) Insert(_ context.Context, fulfillment domain.Fulfillment) (domain.Fulfillment, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	f.reg.fulfillments[fulfillment.OrderID] = append(f.reg.fulfillments[fulfillment.OrderID], fulfillment)
	return fulfillment, nil
}

func (f *fakeFulfillmentRepo) FindByID(_ context.Context, fulfillmentID string) (domain.Fulfillment, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	for _, groups := range f.reg.fulfillments {
		for _, group := range groups {
			if group.ID == fulfillmentID {
				return group, nil
			}
		}
	}
	return domain.Fulfillment{}, errStubNotFound
}

func (f *fakeFulfillmentRepo) ListByOrder(_ context.Context, orderID string) ([]domain.Fulfillment, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	return append([]domain.Fulfillment(nil), f.reg.fulfillments[orderID]...), nil
}

func (f *fakeFulfillmentRepo) Update(_ context.Context, fulfillment domain.Fulfillment) (domain.Fulfillment, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	groups := f.reg.fulfillments[fulfillment.OrderID]
	for idx := range groups {
		if groups[idx].ID == fulfillment.ID {
			groups[idx] = fulfillment
			return fulfillment, nil
		}
	}
	return domain.Fulfillment{}, errStubNotFound
}

type fakeRefundRepo struct{ reg *fakeRegistry }

func (f *fakeRefundRepo) Insert(_ context.Context, refund domain.Refund) (domain.Refund, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	f.reg.refunds[refund.OrderID] = append(f.reg.refunds[refund.OrderID], refund)
	return refund, nil
}

func (f *fakeRefundRepo) ListByOrder(_ context.Context, orderID string) ([]domain.Refund, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	return append([]domain.Refund(nil), f.reg.refunds[orderID]...), nil
}

type fakeCustomerRepo struct{ reg *fakeRegistry }

func (f *fakeCustomerRepo) Insert(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	if customer.Version == 0 {
		customer.Version = 1
	}
	f.reg.customers[customer.ID] = customer
	return customer, nil
}

func (f *fakeCustomerRepo) FindByID(_ context.Context, customerID string) (domain.Customer, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	customer, ok := f.reg.customers[customerID]
	if !ok {
		return domain.Customer{}, errStubNotFound
	}
	return customer, nil
}

func (f *fakeCustomerRepo) FindByEmail(_ context.Context, email string) (domain.Customer, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	for _, customer := range f.reg.customers {
		if customer.Email == email {
			return customer, nil
		}
	}
	return domain.Customer{}, errStubNotFound
}

func (f *fakeCustomerRepo) Update(_ context.Context, customer domain.Customer) (domain.Customer, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	current, ok := f.reg.customers[customer.ID]
	if !ok {
		return domain.Customer{}, errStubNotFound
	}
	customer.Version = current.Version + 1
	f.reg.customers[customer.ID] = customer
	return customer, nil
}

func (f *fakeCustomerRepo) DebitBalance(_ context.Context, customerID string, amount int64, orderID string) (domain.Customer, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	customer, ok := f.reg.customers[customerID]
	if !ok {
		return domain.Customer{}, errStubNotFound
	}
	if customer.AccountBalance < amount {
		return domain.Customer{}, errStubConflict
	}
	customer.AccountBalance -= amount
	customer.Version++
	f.reg.customers[customerID] = customer
	f.reg.ledger = append(f.reg.ledger, ledgerEntry{customerID: customerID, orderID: orderID, amount: -amount})
	return customer, nil
}

type fakeSubRepo struct{ reg *fakeRegistry }

func (f *fakeSubRepo) Insert(_ context.Context, sub domain.Subscription) (domain.Subscription, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	if sub.Version == 0 {
		sub.Version = 1
	}
	f.reg.subscriptions[sub.ID] = sub
	return sub, nil
}

func (f *fakeSubRepo) FindByID(_ context.Context, subID string) (domain.Subscription, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	sub, ok := f.reg.subscriptions[subID]
	if !ok {
		return domain.Subscription{}, errStubNotFound
	}
	return sub, nil
}

func (f *fakeSubRepo) FindByToken(_ context.Context, token string) (domain.Subscription, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	for _, sub := range f.reg.subscriptions {
		if sub.Token == token {
			return sub, nil
		}
	}
	return domain.Subscription{}, errStubNotFound
}

func (f *fakeSubRepo) Update(_ context.Context, sub domain.Subscription) (domain.Subscription, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	current, ok := f.reg.subscriptions[sub.ID]
	if !ok {
		return domain.Subscription{}, errStubNotFound
	}
	sub.Version = current.Version + 1
	f.reg.subscriptions[sub.ID] = sub
	return sub, nil
}

func (f *fakeSubRepo) ListDueForRenewal(_ context.Context, window repositories.RenewalWindow, limit int) ([]domain.Subscription, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range f.reg.subscriptions {
		if !sub.Active || sub.Cancelled || sub.TotalRenewalAttempts != 0 {
			continue
		}
		if sub.RenewsOn.Before(window.Start) || sub.RenewsOn.After(window.End) {
			continue
		}
		out = append(out, sub)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSubRepo) ListDueForRetry(_ context.Context, before time.Time, maxAttempts int, limit int) ([]domain.Subscription, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range f.reg.subscriptions {
		if !sub.Active || sub.Cancelled {
			continue
		}
		if sub.TotalRenewalAttempts <= 0 || sub.TotalRenewalAttempts >= maxAttempts {
			continue
		}
		if sub.RenewRetryAt != nil && sub.RenewRetryAt.After(before) {
			continue
		}
		out = append(out, sub)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSubRepo) ListDueForCancel(_ context.Context, cutoff time.Time, maxAttempts int, limit int) ([]domain.Subscription, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range f.reg.subscriptions {
		if sub.Cancelled {
			continue
		}
		if sub.TotalRenewalAttempts < maxAttempts && sub.Active {
			continue
		}
		if sub.RenewsOn.After(cutoff) {
			continue
		}
		out = append(out, sub)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSubRepo) ListDueForNotice(_ context.Context, window repositories.RenewalWindow, limit int) ([]domain.Subscription, error) {
	f.reg.mu.Lock()
	defer f.reg.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range f.reg.subscriptions {
		if !sub.Active || sub.Cancelled || sub.NoticeSent {
			continue
		}
		if sub.RenewsOn.Before(window.Start) || sub.RenewsOn.After(window.End) {
			continue
		}
		out = append(out, sub)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakeGateway approves everything unless a behaviour override is supplied.
type fakeGateway struct {
	mu         sync.Mutex
	calls      []string
	seq        int
	saleFunc   func(req payments.SaleRequest) (payments.Result, error)
	refundFunc func(req payments.RefundRequest) (payments.Result, error)
}

func (g *fakeGateway) next(op string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.calls = append(g.calls, op)
	return fmt.Sprintf("%s_%d", op, g.seq)
}

func (g *fakeGateway) Authorize(_ context.Context, _ payments.PaymentContext, req payments.AuthorizeRequest) (payments.Result, error) {
	return payments.Result{Reference: g.next("auth"), Status: payments.StatusSucceeded, Amount: req.Amount, Currency: req.Currency}, nil
}

func (g *fakeGateway) Capture(_ context.Context, _ payments.PaymentContext, req payments.CaptureRequest) (payments.Result, error) {
	return payments.Result{Reference: req.Reference, Status: payments.StatusSucceeded}, nil
}

func (g *fakeGateway) Sale(_ context.Context, _ payments.PaymentContext, req payments.SaleRequest) (payments.Result, error) {
	if g.saleFunc != nil {
		g.next("sale")
		return g.saleFunc(req)
	}
	return payments.Result{Reference: g.next("sale"), Status: payments.StatusSucceeded, Amount: req.Amount, Currency: req.Currency}, nil
}

func (g *fakeGateway) Void(_ context.Context, _ payments.PaymentContext, req payments.VoidRequest) (payments.Result, error) {
	g.next("void")
	return payments.Result{Reference: req.Reference, Status: payments.StatusSucceeded}, nil
}

func (g *fakeGateway) Refund(_ context.Context, _ payments.PaymentContext, req payments.RefundRequest) (payments.Result, error) {
	if g.refundFunc != nil {
		g.next("refund")
		return g.refundFunc(req)
	}
	var amount int64
	if req.Amount != nil {
		amount = *req.Amount
	}
	return payments.Result{Reference: g.next("refund"), Status: payments.StatusSucceeded, Amount: amount}, nil
}

type capturedMail struct {
	To       string
	Template string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []capturedMail
}

func (m *fakeMailer) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, capturedMail{To: msg.To, Template: msg.Template})
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *fakePublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

// serviceBundle wires every service over the shared fake registry so tests
// can drive full flows.
type serviceBundle struct {
	reg           *fakeRegistry
	gateway       *fakeGateway
	mailer        *fakeMailer
	publisher     *fakePublisher
	carts         CartService
	checkout      CheckoutService
	orders        OrderService
	transactions  TransactionService
	fulfillments  FulfillmentService
	subscriptions SubscriptionService
}

func buildServices(t testingT, now time.Time) *serviceBundle {
	reg := newFakeRegistry()
	gateway := &fakeGateway{}
	mailer := &fakeMailer{}
	publisher := &fakePublisher{}
	clock := func() time.Time { return now }
	pricer := NewPricingEngine()

	transactions, err := NewTransactionService(TransactionServiceDeps{
		Registry:    reg,
		Gateway:     gateway,
		Publisher:   publisher,
		Clock:       clock,
		IDGenerator: sequenceIDs("txn"),
	})
	if err != nil {
		t.Fatalf("build transaction service: %v", err)
	}

	fulfillments, err := NewFulfillmentService(FulfillmentServiceDeps{
		Registry:    reg,
		Dispatcher:  shippingDispatcher(),
		Mailer:      mailer,
		Publisher:   publisher,
		Clock:       clock,
		IDGenerator: sequenceIDs("ful"),
	})
	if err != nil {
		t.Fatalf("build fulfillment service: %v", err)
	}

	orders, err := NewOrderService(OrderServiceDeps{
		Registry:     reg,
		Pricer:       pricer,
		Transactions: transactions,
		Fulfillments: fulfillments,
		Mailer:       mailer,
		Publisher:    publisher,
		Clock:        clock,
		ShopID:       "1",
		Currency:     "USD",
		IDGenerator:  sequenceIDs("ord"),
	})
	if err != nil {
		t.Fatalf("build order service: %v", err)
	}

	carts, err := NewCartService(CartServiceDeps{
		Repository:      reg.Carts(),
		Customers:       reg.Customers(),
		Pricer:          pricer,
		Clock:           clock,
		DefaultCurrency: "USD",
		IDGenerator:     sequenceIDs("crt"),
	})
	if err != nil {
		t.Fatalf("build cart service: %v", err)
	}

	checkout, err := NewCheckoutService(CheckoutServiceDeps{
		Registry:       reg,
		Orders:         orders,
		Clock:          clock,
		DefaultGateway: "manual",
		IDGenerator:    sequenceIDs("chk"),
	})
	if err != nil {
		t.Fatalf("build checkout service: %v", err)
	}

	subscriptions, err := NewSubscriptionService(SubscriptionServiceDeps{
		Registry:     reg,
		Orders:       orders,
		Transactions: transactions,
		Mailer:       mailer,
		Publisher:    publisher,
		Clock:        clock,
		Config: SubscriptionConfig{
			MaxAttempts:      3,
			RetryDelay:       24 * time.Hour,
			GracePeriodDays:  7,
			NoticeWindowDays: 7,
			BatchSize:        10,
		},
		IDGenerator: sequenceIDs("sub"),
	})
	if err != nil {
		t.Fatalf("build subscription service: %v", err)
	}

	return &serviceBundle{
		reg:           reg,
		gateway:       gateway,
		mailer:        mailer,
		publisher:     publisher,
		carts:         carts,
		checkout:      checkout,
		orders:        orders,
		transactions:  transactions,
		fulfillments:  fulfillments,
		subscriptions: subscriptions,
	}
}

type testingT interface {
	Fatalf(format string, args ...any)
	Helper()
}

// sequenceIDs yields deterministic ids for assertions.
func sequenceIDs(prefix string) func() string {
	var n int
	var mu sync.Mutex
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

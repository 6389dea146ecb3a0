package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/fieldline/commerce/internal/domain"
	"github.com/fieldline/commerce/internal/repositories"
)

var (
	errCheckoutRegistryRequired = errors.New("checkout service: repository registry is required")
	errCheckoutOrdersRequired   = errors.New("checkout service: order service is required")
	errCheckoutClockRequired    = errors.New("checkout service: clock is required")
)

// ErrCheckoutInvalidInput indicates the caller supplied invalid input.
var ErrCheckoutInvalidInput = errors.New("checkout service: invalid input")

// ErrCheckoutUnavailable indicates the checkout service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCheckoutUnavailable = errors.New("checkout service: unavailable")

// ErrCheckoutNotFound indicates the cart being checked out does not exist.
var ErrCheckoutNotFound = errors.New("checkout service: not found")

// ErrCheckoutConflict indicates a concurrent writer finalized the cart first.
var ErrCheckoutConflict = errors.New("checkout service: conflict")

// ErrCheckoutMissingAddress indicates the cart contains shippable items but
// no shipping address could be resolved from the request, the cart, or the
// customer record.
var ErrCheckoutMissingAddress = errors.New("checkout service: shipping address required")

// CheckoutServiceDeps wires the cart, customer, and order pipeline
// dependencies for checkout.
type CheckoutServiceDeps struct {
	Registry       repositories.Registry
	Orders         OrderService
	Clock          func() time.Time
	DefaultGateway string
	Logger         func(context.Context, string, map[string]any)
	IDGenerator    func() string
}

type checkoutService struct {
	reg            repositories.Registry
	orders         OrderService
	newID          func() string
	now            func() time.Time
	defaultGateway string
	logger         func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs a CheckoutService enforcing dependency validation.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Registry == nil {
		return nil, errCheckoutRegistryRequired
	}
	if deps.Orders == nil {
		return nil, errCheckoutOrdersRequired
	}
	if deps.Clock == nil {
		return nil, errCheckoutClockRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &checkoutService{
		reg:            deps.Registry,
		orders:         deps.Orders,
		newID:          idGen,
		now:            func() time.Time { return deps.Clock().UTC() },
		defaultGateway: strings.TrimSpace(deps.DefaultGateway),
		logger:         logger,
	}
	return service, nil
}

// Checkout converts an open cart into an order inside one transaction:
// resolve the customer, reconcile addresses and payment sources, run the
// order intake pipeline, close the cart, and provision its replacement.
// Any failure rolls the whole unit back.
func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (CheckoutResult, error) {
	if s == nil || s.reg == nil {
		return CheckoutResult{}, ErrCheckoutUnavailable
	}

	var result CheckoutResult
	err := s.reg.RunInTx(ctx, func(ctx context.Context) error {
		cart, err := s.resolveCart(ctx, cmd.Cart)
		if err != nil {
			return err
		}
		if cart.Status != domain.CartStatusOpen && cart.Status != domain.CartStatusDraft {
			return fmt.Errorf("%w: cart is %s", ErrCheckoutConflict, cart.Status)
		}
		if len(cart.Items) == 0 {
			return fmt.Errorf("%w: cart is empty", ErrCheckoutInvalidInput)
		}

		customer, err := s.resolveCustomer(ctx, cmd, cart)
		if err != nil {
			return err
		}

		shipping, billing, err := resolveAddresses(cmd, cart, customer)
		if err != nil {
			return err
		}

		paymentDetails := s.resolvePaymentDetails(cmd, customer)

		order, err := s.orders.CreateOrder(ctx, CreateOrderCommand{
			CustomerID:       customer.ID,
			Email:            firstNonEmpty(strings.TrimSpace(cmd.Email), cart.Email, customer.Email),
			Currency:         cart.Currency,
			CartToken:        cart.Token,
			Items:            cartItemInputs(cart.Items),
			ShippingAddress:  shipping,
			BillingAddress:   billing,
			ShippingLines:    cart.ShippingLines,
			TaxLines:         cart.TaxLines,
			Overrides:        cart.Overrides,
			PaymentDetails:   paymentDetails,
			TransactionKind:  cmd.TransactionKind,
			ProcessingMethod: domain.ProcessingMethodCheckout,
		})
		if err != nil {
			return err
		}

		now := s.now()
		cart.Status = domain.CartStatusClosed
		cart.OrderedOrderID = order.ID
		cart.CustomerID = customer.ID
		cart.UpdatedAt = now
		closed, err := s.reg.Carts().Update(ctx, cart)
		if err != nil {
			return s.translateRepoError(err)
		}

		next, err := s.reg.Carts().Insert(ctx, Cart{
			ID:         s.newID(),
			Token:      "cart_" + strings.ToLower(s.newID()),
			Status:     domain.CartStatusOpen,
			CustomerID: customer.ID,
			Email:      closed.Email,
			Currency:   closed.Currency,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return s.translateRepoError(err)
		}

		result = CheckoutResult{
			Order:      order,
			ClosedCart: closed,
			NextCart:   next,
		}
		return nil
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	s.logger(ctx, "checkout.completed", map[string]any{
		"cartId":  result.ClosedCart.ID,
		"orderId": result.Order.ID,
	})
	return result, nil
}

func (s *checkoutService) resolveCart(ctx context.Context, ref CartRef) (Cart, error) {
	id := strings.TrimSpace(ref.ID)
	token := strings.TrimSpace(ref.Token)

	var (
		cart Cart
		err  error
	)
	switch {
	case id != "":
		cart, err = s.reg.Carts().FindByID(ctx, id)
	case token != "":
		cart, err = s.reg.Carts().FindByToken(ctx, token)
	default:
		return Cart{}, fmt.Errorf("%w: cart reference required", ErrCheckoutInvalidInput)
	}
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return cart, nil
}

// resolveCustomer attaches a customer: an explicit id wins, then the cart's
// customer, then lookup by email, creating a minimal record for first-time
// email-only checkouts.
func (s *checkoutService) resolveCustomer(ctx context.Context, cmd CheckoutCommand, cart Cart) (Customer, error) {
	if id := firstNonEmpty(strings.TrimSpace(cmd.CustomerID), cart.CustomerID); id != "" {
		customer, err := s.reg.Customers().FindByID(ctx, id)
		if err != nil {
			return Customer{}, s.translateRepoError(err)
		}
		return customer, nil
	}

	email := strings.ToLower(firstNonEmpty(strings.TrimSpace(cmd.Email), cart.Email))
	if email == "" {
		return Customer{}, fmt.Errorf("%w: customer id or email required", ErrCheckoutInvalidInput)
	}

	customer, err := s.reg.Customers().FindByEmail(ctx, email)
	if err == nil {
		return customer, nil
	}
	if !isRepoNotFound(err) {
		return Customer{}, s.translateRepoError(err)
	}

	now := s.now()
	created, err := s.reg.Customers().Insert(ctx, Customer{
		ID:        s.newID(),
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Customer{}, s.translateRepoError(err)
	}
	return created, nil
}

// resolvePaymentDetails honours explicit details, then the customer's stored
// default source, then the configured default gateway with no source.
func (s *checkoutService) resolvePaymentDetails(cmd CheckoutCommand, customer Customer) []PaymentDetail {
	if len(cmd.PaymentDetails) > 0 {
		return append([]PaymentDetail(nil), cmd.PaymentDetails...)
	}
	if customer.DefaultSource != nil {
		return []PaymentDetail{{
			Gateway: customer.DefaultSource.Gateway,
			Source:  map[string]any{"token": customer.DefaultSource.Token},
		}}
	}
	if s.defaultGateway != "" {
		return []PaymentDetail{{Gateway: s.defaultGateway}}
	}
	return nil
}

func (s *checkoutService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCheckoutNotFound
		case repoErr.IsConflict():
			return ErrCheckoutConflict
		}
	}
	return ErrCheckoutUnavailable
}

// resolveAddresses reconciles addresses: the request wins, then the cart
// snapshot, then the customer's stored address. A cart with shippable items
// must end up with a shipping address.
func resolveAddresses(cmd CheckoutCommand, cart Cart, customer Customer) (*Address, *Address, error) {
	shipping := firstAddress(cmd.ShippingAddress, cart.ShippingAddress, customer.ShippingAddress)
	billing := firstAddress(cmd.BillingAddress, cart.BillingAddress, customer.BillingAddress, shipping)

	if shipping == nil && cartRequiresShipping(cart) {
		return nil, nil, ErrCheckoutMissingAddress
	}
	return shipping, billing, nil
}

func cartRequiresShipping(cart Cart) bool {
	for _, item := range cart.Items {
		if item.RequiresShipping {
			return true
		}
	}
	return false
}

func firstAddress(candidates ...*Address) *Address {
	for _, addr := range candidates {
		if addr != nil {
			return cloneAddress(addr)
		}
	}
	return nil
}

func cartItemInputs(items []CartItem) []CartItemInput {
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

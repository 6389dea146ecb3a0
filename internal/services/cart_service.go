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
	errCartRepositoryRequired = errors.New("cart service: repository is required")
	errCartCustomersRequired  = errors.New("cart service: customer repository is required")
	errCartPricerRequired     = errors.New("cart service: pricer is required")
	errCartClockRequired      = errors.New("cart service: clock is required")
)

// ErrCartInvalidInput indicates the caller supplied invalid input.
var ErrCartInvalidInput = errors.New("cart service: invalid input")

// ErrCartUnavailable indicates the cart service cannot fulfil the request due to missing dependencies or backend issues.
var ErrCartUnavailable = errors.New("cart service: unavailable")

// ErrCartNotFound indicates the requested cart does not exist.
var ErrCartNotFound = errors.New("cart service: not found")

// ErrCartConflict indicates the cart could not be updated due to concurrent modifications.
var ErrCartConflict = errors.New("cart service: conflict")

// ErrCartFinalized indicates a mutation was attempted against a cart that has
// already been closed by a checkout.
var ErrCartFinalized = errors.New("cart service: cart finalized")

const maxCartNotesLength = 2000

// CartServiceDeps wires the repository and pricing dependencies for cart operations.
type CartServiceDeps struct {
	Repository      repositories.CartRepository
	Customers       repositories.CustomerRepository
	Pricer          Pricer
	Clock           func() time.Time
	DefaultCurrency string
	Logger          func(context.Context, string, map[string]any)
	IDGenerator     func() string
}

type cartService struct {
	repo      repositories.CartRepository
	customers repositories.CustomerRepository
	pricer    Pricer
	newID     func() string
	now       func() time.Time
	currency  string
	logger    func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Repository == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Customers == nil {
		return nil, errCartCustomersRequired
	}
	if deps.Pricer == nil {
		return nil, errCartPricerRequired
	}
	if deps.Clock == nil {
		return nil, errCartClockRequired
	}

	defaultCurrency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = "USD"
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	service := &cartService{
		repo:      deps.Repository,
		customers: deps.Customers,
		pricer:    deps.Pricer,
		newID:     idGen,
		now:       func() time.Time { return deps.Clock().UTC() },
		currency:  defaultCurrency,
		logger:    logger,
	}
	return service, nil
}

func (s *cartService) CreateCart(ctx context.Context, cmd CreateCartCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	if err := validateCurrencyCode(currency); err != nil {
		return Cart{}, err
	}
	if len(cmd.Notes) > maxCartNotesLength {
		return Cart{}, fmt.Errorf("%w: notes exceed %d characters", ErrCartInvalidInput, maxCartNotesLength)
	}

	now := s.now()
	cart := Cart{
		ID:         s.newID(),
		Token:      "cart_" + strings.ToLower(s.newID()),
		Status:     domain.CartStatusOpen,
		CustomerID: strings.TrimSpace(cmd.CustomerID),
		Email:      strings.TrimSpace(cmd.Email),
		Currency:   currency,
		Notes:      strings.TrimSpace(cmd.Notes),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for _, input := range cmd.Items {
		item, err := s.buildItem(input, currency, now)
		if err != nil {
			return Cart{}, err
		}
		cart.Items = append(cart.Items, item)
	}

	if err := s.reprice(ctx, &cart); err != nil {
		return Cart{}, err
	}

	saved, err := s.repo.Insert(ctx, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}

	s.logger(ctx, "cart.created", map[string]any{
		"cartId": saved.ID,
		"items":  len(saved.Items),
	})
	return saved, nil
}

func (s *cartService) GetCart(ctx context.Context, ref CartRef) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	return s.resolve(ctx, ref)
}

func (s *cartService) UpdateCart(ctx context.Context, cmd UpdateCartCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}

	if cmd.Email == nil && cmd.CustomerID == nil && cmd.ShippingAddress == nil &&
		cmd.BillingAddress == nil && cmd.Notes == nil && cmd.Status == nil {
		return Cart{}, ErrCartInvalidInput
	}

	return s.mutate(ctx, cmd.Cart, func(cart *Cart) error {
		if cmd.ExpectedVersion > 0 && cart.Version != cmd.ExpectedVersion {
			return ErrCartConflict
		}
		if cmd.Email != nil {
			cart.Email = strings.TrimSpace(*cmd.Email)
		}
		if cmd.CustomerID != nil {
			cart.CustomerID = strings.TrimSpace(*cmd.CustomerID)
		}
		if cmd.ShippingAddress != nil {
			cart.ShippingAddress = cloneAddress(cmd.ShippingAddress)
		}
		if cmd.BillingAddress != nil {
			cart.BillingAddress = cloneAddress(cmd.BillingAddress)
		}
		if cmd.Notes != nil {
			notes := strings.TrimSpace(*cmd.Notes)
			if len(notes) > maxCartNotesLength {
				return fmt.Errorf("%w: notes exceed %d characters", ErrCartInvalidInput, maxCartNotesLength)
			}
			cart.Notes = notes
		}
		if cmd.Status != nil {
			next := *cmd.Status
			if !domain.CanTransitionCart(cart.Status, next) {
				return fmt.Errorf("%w: cannot move cart from %s to %s", ErrCartInvalidInput, cart.Status, next)
			}
			cart.Status = next
		}
		return nil
	})
}

func (s *cartService) AddItems(ctx context.Context, cmd AddCartItemsCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	if len(cmd.Items) == 0 {
		return Cart{}, fmt.Errorf("%w: no items supplied", ErrCartInvalidInput)
	}

	return s.mutate(ctx, cmd.Cart, func(cart *Cart) error {
		now := s.now()
		for _, input := range cmd.Items {
			item, err := s.buildItem(input, cart.Currency, now)
			if err != nil {
				return err
			}
			cart.Items = append(cart.Items, item)
		}
		return nil
	})
}

func (s *cartService) RemoveItems(ctx context.Context, cmd RemoveCartItemsCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	if len(cmd.ItemIDs) == 0 {
		return Cart{}, fmt.Errorf("%w: no item ids supplied", ErrCartInvalidInput)
	}

	remove := make(map[string]struct{}, len(cmd.ItemIDs))
	for _, id := range cmd.ItemIDs {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			return Cart{}, fmt.Errorf("%w: empty item id", ErrCartInvalidInput)
		}
		remove[trimmed] = struct{}{}
	}

	return s.mutate(ctx, cmd.Cart, func(cart *Cart) error {
		kept := cart.Items[:0]
		removed := 0
		for _, item := range cart.Items {
			if _, ok := remove[item.ID]; ok {
				removed++
				continue
			}
			kept = append(kept, item)
		}
		if removed != len(remove) {
			return fmt.Errorf("%w: unknown item id", ErrCartInvalidInput)
		}
		cart.Items = kept
		return nil
	})
}

func (s *cartService) ClearItems(ctx context.Context, ref CartRef) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	return s.mutate(ctx, ref, func(cart *Cart) error {
		cart.Items = nil
		return nil
	})
}

func (s *cartService) AddShippingLines(ctx context.Context, cmd SetCartLinesCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	lines, err := normaliseLines(cmd.Lines)
	if err != nil {
		return Cart{}, err
	}
	return s.mutate(ctx, cmd.Cart, func(cart *Cart) error {
		cart.ShippingLines = lines
		return nil
	})
}

func (s *cartService) RemoveShippingLines(ctx context.Context, ref CartRef) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	return s.mutate(ctx, ref, func(cart *Cart) error {
		cart.ShippingLines = nil
		return nil
	})
}

func (s *cartService) AddTaxLines(ctx context.Context, cmd SetCartLinesCommand) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	lines, err := normaliseLines(cmd.Lines)
	if err != nil {
		return Cart{}, err
	}
	return s.mutate(ctx, cmd.Cart, func(cart *Cart) error {
		cart.TaxLines = lines
		return nil
	})
}

func (s *cartService) RemoveTaxLines(ctx context.Context, ref CartRef) (Cart, error) {
	if s == nil || s.repo == nil {
		return Cart{}, ErrCartUnavailable
	}
	return s.mutate(ctx, ref, func(cart *Cart) error {
		cart.TaxLines = nil
		return nil
	})
}

// mutate loads the cart, guards mutability, applies fn, reprices, and
// persists with the repository's version check.
func (s *cartService) mutate(ctx context.Context, ref CartRef, fn func(*Cart) error) (Cart, error) {
	cart, err := s.resolve(ctx, ref)
	if err != nil {
		return Cart{}, err
	}

	if err := guardCartMutable(cart); err != nil {
		return Cart{}, err
	}

	if err := fn(&cart); err != nil {
		return Cart{}, err
	}

	if err := s.reprice(ctx, &cart); err != nil {
		return Cart{}, err
	}
	cart.UpdatedAt = s.now()

	saved, err := s.repo.Update(ctx, cart)
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return saved, nil
}

func (s *cartService) resolve(ctx context.Context, ref CartRef) (Cart, error) {
	id := strings.TrimSpace(ref.ID)
	token := strings.TrimSpace(ref.Token)

	var (
		cart Cart
		err  error
	)
	switch {
	case id != "":
		cart, err = s.repo.FindByID(ctx, id)
	case token != "":
		cart, err = s.repo.FindByToken(ctx, token)
	default:
		return Cart{}, fmt.Errorf("%w: cart reference required", ErrCartInvalidInput)
	}
	if err != nil {
		return Cart{}, s.translateRepoError(err)
	}
	return cart, nil
}

// reprice recomputes overrides and totals from the cart's current lines and
// the customer's account balance. A missing customer prices with zero balance.
func (s *cartService) reprice(ctx context.Context, cart *Cart) error {
	var balance int64
	if cart.CustomerID != "" {
		customer, err := s.customers.FindByID(ctx, cart.CustomerID)
		switch {
		case err == nil:
			balance = customer.AccountBalance
		case isRepoNotFound(err):
			balance = 0
		default:
			return s.translateRepoError(err)
		}
	}

	items := make([]LineItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, item.LineItem)
	}

	result := s.pricer.Price(PriceCommand{
		Items:          items,
		ShippingLines:  cart.ShippingLines,
		TaxLines:       cart.TaxLines,
		Overrides:      cart.Overrides,
		AccountBalance: balance,
	})
	cart.Overrides = result.Overrides
	cart.Totals = result.Totals
	return nil
}

func (s *cartService) buildItem(input CartItemInput, currency string, now time.Time) (CartItem, error) {
	sku := strings.TrimSpace(input.SKU)
	productID := strings.TrimSpace(input.ProductID)
	if productID == "" && sku == "" {
		return CartItem{}, fmt.Errorf("%w: item requires a product id or sku", ErrCartInvalidInput)
	}
	if input.Quantity < 1 {
		return CartItem{}, fmt.Errorf("%w: item quantity must be positive", ErrCartInvalidInput)
	}
	if input.UnitPrice < 0 {
		return CartItem{}, fmt.Errorf("%w: item price cannot be negative", ErrCartInvalidInput)
	}

	return CartItem{
		ID: s.newID(),
		LineItem: LineItem{
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
			RequiresSubscription: input.RequiresSubscription,
			SubscriptionUnit:     input.SubscriptionUnit,
			SubscriptionInterval: input.SubscriptionInterval,
			ExcludePaymentTypes:  append([]string(nil), input.ExcludePaymentTypes...),
		},
		AddedAt: now,
	}, nil
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		}
	}
	return ErrCartUnavailable
}

// guardCartMutable rejects writes against carts a checkout has finalized,
// reporting the cart's current status.
func guardCartMutable(cart Cart) error {
	switch cart.Status {
	case domain.CartStatusOpen, domain.CartStatusDraft:
		return nil
	default:
		return fmt.Errorf("%w: cart is %s", ErrCartFinalized, cart.Status)
	}
}

func normaliseLines(lines []LineAmount) ([]LineAmount, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no lines supplied", ErrCartInvalidInput)
	}
	out := make([]LineAmount, 0, len(lines))
	for _, line := range lines {
		name := strings.TrimSpace(line.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: line name required", ErrCartInvalidInput)
		}
		if line.Amount < 0 {
			return nil, fmt.Errorf("%w: line amount cannot be negative", ErrCartInvalidInput)
		}
		out = append(out, LineAmount{Name: name, Amount: line.Amount})
	}
	return out, nil
}

func validateCurrencyCode(code string) error {
	if len(code) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter ISO code", ErrCartInvalidInput)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: currency must be a 3-letter ISO code", ErrCartInvalidInput)
		}
	}
	return nil
}

func cloneAddress(addr *Address) *Address {
	if addr == nil {
		return nil
	}
	dup := *addr
	return &dup
}

func cloneProperties(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

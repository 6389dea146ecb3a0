package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
)

func strPtr(v string) *string {
	return &v
}

func TestCartServiceCreateCartRecalculatesTotals(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	cart, err := bundle.carts.CreateCart(ctx, CreateCartCommand{
		Email: "shopper@example.com",
		Items: []CartItemInput{
			{SKU: "SKU-1", Quantity: 2, UnitPrice: 3000, FulfillmentService: "manual", RequiresShipping: true},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cart.Status != domain.CartStatusOpen {
		t.Fatalf("expected open cart, got %s", cart.Status)
	}
	if !strings.HasPrefix(cart.Token, "cart_") {
		t.Fatalf("expected cart token prefix, got %q", cart.Token)
	}
	if cart.Currency != "USD" {
		t.Fatalf("expected default currency USD, got %q", cart.Currency)
	}
	if cart.Totals.Subtotal != 6000 || cart.Totals.TotalDue != 6000 {
		t.Fatalf("expected totals 6000/6000, got %+v", cart.Totals)
	}
}

func TestCartServiceAddItemsRepricesWithBalance(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	if _, err := bundle.reg.Customers().Insert(ctx, Customer{ID: "cus-1", Email: "b@example.com", AccountBalance: 1000}); err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	cart, err := bundle.carts.CreateCart(ctx, CreateCartCommand{CustomerID: "cus-1"})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}

	cart, err = bundle.carts.AddItems(ctx, AddCartItemsCommand{
		Cart:  CartRef{ID: cart.ID},
		Items: []CartItemInput{{SKU: "SKU-1", Quantity: 1, UnitPrice: 4000}},
	})
	if err != nil {
		t.Fatalf("add items: %v", err)
	}

	if got := AccountBalanceApplied(cart.Overrides); got != 1000 {
		t.Fatalf("expected balance override 1000, got %d", got)
	}
	if cart.Totals.TotalDue != 3000 {
		t.Fatalf("expected total due 3000, got %d", cart.Totals.TotalDue)
	}
}

func TestCartServiceRemoveItemsAndClear(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	cart, err := bundle.carts.CreateCart(ctx, CreateCartCommand{
		Items: []CartItemInput{
			{SKU: "SKU-1", Quantity: 1, UnitPrice: 1000},
			{SKU: "SKU-2", Quantity: 1, UnitPrice: 2000},
		},
	})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}

	cart, err = bundle.carts.RemoveItems(ctx, RemoveCartItemsCommand{
		Cart:    CartRef{ID: cart.ID},
		ItemIDs: []string{cart.Items[0].ID},
	})
	if err != nil {
		t.Fatalf("remove items: %v", err)
	}
	if len(cart.Items) != 1 || cart.Totals.TotalDue != 2000 {
		t.Fatalf("expected one item totalling 2000, got %d items total %d", len(cart.Items), cart.Totals.TotalDue)
	}

	cart, err = bundle.carts.ClearItems(ctx, CartRef{ID: cart.ID})
	if err != nil {
		t.Fatalf("clear items: %v", err)
	}
	if len(cart.Items) != 0 || cart.Totals.TotalDue != 0 {
		t.Fatalf("expected empty cart, got %d items total %d", len(cart.Items), cart.Totals.TotalDue)
	}
}

func TestCartServiceRemoveUnknownItemFails(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	cart, err := bundle.carts.CreateCart(ctx, CreateCartCommand{
		Items: []CartItemInput{{SKU: "SKU-1", Quantity: 1, UnitPrice: 1000}},
	})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}

	if _, err := bundle.carts.RemoveItems(ctx, RemoveCartItemsCommand{
		Cart:    CartRef{ID: cart.ID},
		ItemIDs: []string{"missing"},
	}); !errors.Is(err, ErrCartInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCartServiceShippingAndTaxLines(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	cart, err := bundle.carts.CreateCart(ctx, CreateCartCommand{
		Items: []CartItemInput{{SKU: "SKU-1", Quantity: 1, UnitPrice: 1000}},
	})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}

	cart, err = bundle.carts.AddShippingLines(ctx, SetCartLinesCommand{
		Cart:  CartRef{ID: cart.ID},
		Lines: []LineAmount{{Name: "Express", Amount: 900}},
	})
	if err != nil {
		t.Fatalf("add shipping: %v", err)
	}
	cart, err = bundle.carts.AddTaxLines(ctx, SetCartLinesCommand{
		Cart:  CartRef{ID: cart.ID},
		Lines: []LineAmount{{Name: "VAT", Amount: 100}},
	})
	if err != nil {
		t.Fatalf("add taxes: %v", err)
	}
	if cart.Totals.TotalDue != 2000 {
		t.Fatalf("expected total due 2000, got %d", cart.Totals.TotalDue)
	}

	cart, err = bundle.carts.RemoveShippingLines(ctx, CartRef{ID: cart.ID})
	if err != nil {
		t.Fatalf("remove shipping: %v", err)
	}
	if cart.Totals.TotalDue != 1100 {
		t.Fatalf("expected total due 1100, got %d", cart.Totals.TotalDue)
	}
}

func TestCartServiceRejectsMutationOfFinalizedCart(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	cart, err := bundle.carts.CreateCart(ctx, CreateCartCommand{
		Items: []CartItemInput{{SKU: "SKU-1", Quantity: 1, UnitPrice: 1000}},
	})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}

	stored := bundle.reg.carts[cart.ID]
	stored.Status = domain.CartStatusClosed
	bundle.reg.carts[cart.ID] = stored

	_, err = bundle.carts.AddItems(ctx, AddCartItemsCommand{
		Cart:  CartRef{ID: cart.ID},
		Items: []CartItemInput{{SKU: "SKU-2", Quantity: 1, UnitPrice: 500}},
	})
	if !errors.Is(err, ErrCartFinalized) {
		t.Fatalf("expected finalized error, got %v", err)
	}
	if !strings.Contains(err.Error(), string(domain.CartStatusClosed)) {
		t.Fatalf("expected error to carry current status, got %q", err.Error())
	}
}

func TestCartServiceUpdateCartFields(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	cart, err := bundle.carts.CreateCart(ctx, CreateCartCommand{
		Items: []CartItemInput{{SKU: "SKU-1", Quantity: 1, UnitPrice: 1000}},
	})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}

	updated, err := bundle.carts.UpdateCart(ctx, UpdateCartCommand{
		Cart:  CartRef{Token: cart.Token},
		Email: strPtr("new@example.com"),
		ShippingAddress: &Address{
			Line1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US",
		},
	})
	if err != nil {
		t.Fatalf("update cart: %v", err)
	}
	if updated.Email != "new@example.com" {
		t.Fatalf("expected email updated, got %q", updated.Email)
	}
	if updated.ShippingAddress == nil || updated.ShippingAddress.City != "Springfield" {
		t.Fatalf("expected shipping address set, got %+v", updated.ShippingAddress)
	}
}

func TestCartServiceUpdateConflictOnStaleVersion(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	bundle := buildServices(t, now)
	ctx := context.Background()

	cart, err := bundle.carts.CreateCart(ctx, CreateCartCommand{
		Items: []CartItemInput{{SKU: "SKU-1", Quantity: 1, UnitPrice: 1000}},
	})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}

	if _, err := bundle.carts.UpdateCart(ctx, UpdateCartCommand{
		Cart:            CartRef{ID: cart.ID},
		Email:           strPtr("a@example.com"),
		ExpectedVersion: cart.Version + 5,
	}); !errors.Is(err, ErrCartConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

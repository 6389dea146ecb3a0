package services

import (
	"testing"

	domain "github.com/fieldline/commerce/internal/domain"
)

func TestPricingEngineComputesTotals(t *testing.T) {
	engine := NewPricingEngine()

	result := engine.Price(PriceCommand{
		Items: []LineItem{
			{SKU: "SKU-1", Quantity: 2, UnitPrice: 3000},
			{SKU: "SKU-2", Quantity: 1, UnitPrice: 4000},
		},
		ShippingLines: []LineAmount{{Name: "Standard", Amount: 500}},
		TaxLines:      []LineAmount{{Name: "VAT", Amount: 1000}},
	})

	if result.Totals.Subtotal != 10000 {
		t.Fatalf("expected subtotal 10000, got %d", result.Totals.Subtotal)
	}
	if result.Totals.ShippingTotal != 500 {
		t.Fatalf("expected shipping 500, got %d", result.Totals.ShippingTotal)
	}
	if result.Totals.TaxTotal != 1000 {
		t.Fatalf("expected tax 1000, got %d", result.Totals.TaxTotal)
	}
	if result.Totals.TotalDue != 11500 {
		t.Fatalf("expected total due 11500, got %d", result.Totals.TotalDue)
	}
	if len(result.Overrides) != 0 {
		t.Fatalf("expected no overrides, got %d", len(result.Overrides))
	}
}

func TestPricingEngineAppliesAccountBalance(t *testing.T) {
	engine := NewPricingEngine()

	result := engine.Price(PriceCommand{
		Items: []LineItem{
			{SKU: "SKU-1", Quantity: 2, UnitPrice: 3000},
			{SKU: "SKU-2", Quantity: 1, UnitPrice: 4000},
		},
		AccountBalance: 2000,
	})

	if got := AccountBalanceApplied(result.Overrides); got != 2000 {
		t.Fatalf("expected account balance override 2000, got %d", got)
	}
	if result.Totals.TotalDue != 8000 {
		t.Fatalf("expected total due 8000, got %d", result.Totals.TotalDue)
	}
	if result.Totals.OverridesTotal != 2000 {
		t.Fatalf("expected overrides total 2000, got %d", result.Totals.OverridesTotal)
	}
}

func TestPricingEngineIsIdempotent(t *testing.T) {
	engine := NewPricingEngine()

	cmd := PriceCommand{
		Items:          []LineItem{{SKU: "SKU-1", Quantity: 1, UnitPrice: 5000}},
		AccountBalance: 1500,
	}

	first := engine.Price(cmd)
	cmd.Overrides = first.Overrides
	second := engine.Price(cmd)

	if AccountBalanceApplied(second.Overrides) != AccountBalanceApplied(first.Overrides) {
		t.Fatalf("override changed between passes: %d vs %d",
			AccountBalanceApplied(first.Overrides), AccountBalanceApplied(second.Overrides))
	}
	if second.Totals != first.Totals {
		t.Fatalf("totals changed between passes: %+v vs %+v", first.Totals, second.Totals)
	}
	if len(second.Overrides) != 1 {
		t.Fatalf("expected the override replaced, not accumulated; got %d overrides", len(second.Overrides))
	}
}

func TestPricingEngineReplacesOverrideWhenBalanceChanges(t *testing.T) {
	engine := NewPricingEngine()

	cmd := PriceCommand{
		Items:          []LineItem{{SKU: "SKU-1", Quantity: 1, UnitPrice: 5000}},
		AccountBalance: 1500,
	}
	first := engine.Price(cmd)

	cmd.Overrides = first.Overrides
	cmd.AccountBalance = 700
	second := engine.Price(cmd)

	if got := AccountBalanceApplied(second.Overrides); got != 700 {
		t.Fatalf("expected override replaced with 700, got %d", got)
	}
	if second.Totals.TotalDue != 4300 {
		t.Fatalf("expected total due 4300, got %d", second.Totals.TotalDue)
	}
}

func TestPricingEngineRemovesOverrideWhenBalanceExhausted(t *testing.T) {
	engine := NewPricingEngine()

	cmd := PriceCommand{
		Items:          []LineItem{{SKU: "SKU-1", Quantity: 1, UnitPrice: 5000}},
		AccountBalance: 1500,
	}
	first := engine.Price(cmd)

	cmd.Overrides = first.Overrides
	cmd.AccountBalance = 0
	second := engine.Price(cmd)

	if len(second.Overrides) != 0 {
		t.Fatalf("expected override removed, got %d overrides", len(second.Overrides))
	}
	if second.Totals.TotalDue != 5000 {
		t.Fatalf("expected total due restored to 5000, got %d", second.Totals.TotalDue)
	}
}

func TestPricingEngineRespectsExcludedItems(t *testing.T) {
	engine := NewPricingEngine()

	result := engine.Price(PriceCommand{
		Items: []LineItem{
			{SKU: "SKU-1", Quantity: 1, UnitPrice: 6000, ExcludePaymentTypes: []string{domain.AccountBalanceOverrideName}},
			{SKU: "SKU-2", Quantity: 1, UnitPrice: 1000},
		},
		AccountBalance: 5000,
	})

	// Only the non-excluded 1000 can be covered by balance.
	if got := AccountBalanceApplied(result.Overrides); got != 1000 {
		t.Fatalf("expected deduction capped at 1000, got %d", got)
	}
	if result.Totals.TotalDue != 6000 {
		t.Fatalf("expected total due 6000, got %d", result.Totals.TotalDue)
	}
}

func TestPricingEngineKeepsAdministrativeOverrides(t *testing.T) {
	engine := NewPricingEngine()

	result := engine.Price(PriceCommand{
		Items:          []LineItem{{SKU: "SKU-1", Quantity: 1, UnitPrice: 5000}},
		Overrides:      []PricingOverride{{Name: "Manager Discount", Price: 500, AdminID: "adm-1"}},
		AccountBalance: 1000,
	})

	if len(result.Overrides) != 2 {
		t.Fatalf("expected 2 overrides, got %d", len(result.Overrides))
	}
	if result.Overrides[0].Name != "Manager Discount" {
		t.Fatalf("expected administrative override preserved first, got %q", result.Overrides[0].Name)
	}
	if result.Totals.TotalDue != 3500 {
		t.Fatalf("expected total due 3500, got %d", result.Totals.TotalDue)
	}
}

package shipping

import (
	"context"
	"testing"

	domain "github.com/fieldline/commerce/internal/domain"
)

func TestFlatRateProviderQuotesShippableUnits(t *testing.T) {
	provider, err := NewFlatRateProvider(FlatRateConfig{
		Name:       "Ground",
		BaseAmount: 500,
		PerItem:    100,
	})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	quotes, err := provider.Rates(context.Background(), Shipment{
		Currency: "usd",
		Items: []domain.LineItem{
			{ProductID: "p1", Quantity: 2, RequiresShipping: true},
			{ProductID: "p2", Quantity: 1, RequiresShipping: false},
			{ProductID: "p3", Quantity: 1, RequiresShipping: true},
		},
	})
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if len(quotes) != 1 {
		t.Fatalf("expected 1 quote, got %d", len(quotes))
	}
	if quotes[0].Amount != 800 {
		t.Fatalf("expected 800, got %d", quotes[0].Amount)
	}
	if quotes[0].Currency != "USD" {
		t.Fatalf("expected USD, got %q", quotes[0].Currency)
	}
}

func TestFlatRateProviderNoShippableItems(t *testing.T) {
	provider, err := NewFlatRateProvider(FlatRateConfig{BaseAmount: 500})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	quotes, err := provider.Rates(context.Background(), Shipment{
		Items: []domain.LineItem{
			{ProductID: "digital", Quantity: 3, RequiresShipping: false},
		},
	})
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if len(quotes) != 0 {
		t.Fatalf("expected no quotes, got %d", len(quotes))
	}
}

package shipping

import (
	"context"
	"errors"
	"strings"

	domain "github.com/fieldline/commerce/internal/domain"
)

// ErrNoRates is returned when a provider cannot quote the given shipment.
var ErrNoRates = errors.New("shipping: no rates available")

// Quote is a named shipping rate offered for a shipment.
type Quote struct {
	Name     string
	Amount   int64
	Currency string
	Service  string
}

// Shipment describes the items and destination being quoted.
type Shipment struct {
	Destination domain.Address
	Currency    string
	Items       []domain.LineItem
}

// Provider quotes shipping rates for a shipment.
type Provider interface {
	Rates(ctx context.Context, shipment Shipment) ([]Quote, error)
}

// FlatRateConfig configures the flat-rate provider.
type FlatRateConfig struct {
	Name       string
	BaseAmount int64
	PerItem    int64
}

// FlatRateProvider quotes a single rate computed from a base amount plus a
// per-item surcharge. Items that do not require shipping are excluded.
type FlatRateProvider struct {
	name    string
	base    int64
	perItem int64
}

// NewFlatRateProvider constructs a FlatRateProvider.
func NewFlatRateProvider(cfg FlatRateConfig) (*FlatRateProvider, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "Standard Shipping"
	}
	if cfg.BaseAmount < 0 || cfg.PerItem < 0 {
		return nil, errors.New("shipping: negative rate configuration")
	}
	return &FlatRateProvider{
		name:    name,
		base:    cfg.BaseAmount,
		perItem: cfg.PerItem,
	}, nil
}

// Rates returns the flat rate for the shipment, or no rates when nothing in
// the shipment requires shipping.
func (p *FlatRateProvider) Rates(ctx context.Context, shipment Shipment) ([]Quote, error) {
	if p == nil {
		return nil, errors.New("shipping: provider is nil")
	}

	units := 0
	for _, item := range shipment.Items {
		if !item.RequiresShipping {
			continue
		}
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		units += qty
	}
	if units == 0 {
		return nil, nil
	}

	return []Quote{{
		Name:     p.name,
		Amount:   p.base + p.perItem*int64(units),
		Currency: strings.ToUpper(shipment.Currency),
		Service:  "flat_rate",
	}}, nil
}

package services

import (
	domain "github.com/fieldline/commerce/internal/domain"
)

// PriceCommand is the snapshot the pricing engine works on: line items, the
// adjustment lines already attached, the current override set, and the
// customer's account balance.
type PriceCommand struct {
	Items          []LineItem
	ShippingLines  []LineAmount
	TaxLines       []LineAmount
	Overrides      []PricingOverride
	AccountBalance int64
}

// PriceResult carries the recomputed override set and totals. Overrides is a
// fresh slice; the input is never mutated.
type PriceResult struct {
	Overrides []PricingOverride
	Totals    Totals
}

// Pricer recomputes overrides and totals. Implementations must be pure and
// idempotent: pricing the same snapshot twice yields identical results.
type Pricer interface {
	Price(cmd PriceCommand) PriceResult
}

type pricingEngine struct{}

// NewPricingEngine constructs the deterministic pricing engine.
func NewPricingEngine() Pricer {
	return pricingEngine{}
}

// Price recomputes totals from scratch and maintains the account-balance
// override. The override is replaced with the exact deduction on every pass,
// so repeated pricing never accumulates. A zero balance removes a previously
// applied override and restores the deducted amount.
func (pricingEngine) Price(cmd PriceCommand) PriceResult {
	var subtotal int64
	for _, item := range cmd.Items {
		subtotal += lineTotal(item)
	}

	var shippingTotal int64
	for _, line := range cmd.ShippingLines {
		shippingTotal += line.Amount
	}

	var taxTotal int64
	for _, line := range cmd.TaxLines {
		taxTotal += line.Amount
	}

	gross := subtotal + shippingTotal + taxTotal

	overrides := make([]PricingOverride, 0, len(cmd.Overrides)+1)
	var otherOverrides int64
	for _, override := range cmd.Overrides {
		if override.Name == domain.AccountBalanceOverrideName {
			continue
		}
		overrides = append(overrides, override)
		otherOverrides += override.Price
	}

	dueBeforeBalance := gross - otherOverrides
	if dueBeforeBalance < 0 {
		dueBeforeBalance = 0
	}

	deduction := accountBalanceDeduction(cmd.Items, dueBeforeBalance, cmd.AccountBalance)
	if deduction > 0 {
		overrides = append(overrides, PricingOverride{
			Name:  domain.AccountBalanceOverrideName,
			Price: deduction,
		})
	}

	overridesTotal := otherOverrides + deduction
	totalDue := gross - overridesTotal
	if totalDue < 0 {
		totalDue = 0
	}

	return PriceResult{
		Overrides: overrides,
		Totals: Totals{
			Subtotal:       subtotal,
			ShippingTotal:  shippingTotal,
			TaxTotal:       taxTotal,
			OverridesTotal: overridesTotal,
			TotalDue:       totalDue,
			TotalPrice:     totalDue,
		},
	}
}

// accountBalanceDeduction computes how much of the customer's balance can be
// applied. Items that exclude the account-balance payment type shield their
// price from the deductible amount.
func accountBalanceDeduction(items []LineItem, totalDue int64, balance int64) int64 {
	if balance <= 0 || totalDue <= 0 {
		return 0
	}

	var excluded int64
	for _, item := range items {
		if excludesAccountBalance(item) {
			excluded += lineTotal(item)
		}
	}

	deductible := totalDue - excluded
	if deductible < 0 {
		deductible = 0
	}
	if balance < deductible {
		return balance
	}
	return deductible
}

func excludesAccountBalance(item LineItem) bool {
	for _, payment := range item.ExcludePaymentTypes {
		if payment == domain.AccountBalanceOverrideName {
			return true
		}
	}
	return false
}

func lineTotal(item LineItem) int64 {
	quantity := item.Quantity
	if quantity < 1 {
		quantity = 1
	}
	return item.UnitPrice * int64(quantity)
}

// AccountBalanceApplied returns the value of the account-balance override on
// the given set, zero when absent.
func AccountBalanceApplied(overrides []PricingOverride) int64 {
	for _, override := range overrides {
		if override.Name == domain.AccountBalanceOverrideName {
			return override.Price
		}
	}
	return 0
}

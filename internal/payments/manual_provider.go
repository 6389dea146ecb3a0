package payments

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ManualProviderConfig configures the ManualProvider.
type ManualProviderConfig struct {
	IDGenerator func() string
	Clock       func() time.Time
}

// ManualProvider approves every operation without contacting an external
// gateway. It backs offline payment flows such as invoicing and bank
// transfers, where settlement is recorded by an operator.
type ManualProvider struct {
	generateID func() string
	clock      func() time.Time
}

// NewManualProvider constructs a ManualProvider.
func NewManualProvider(cfg ManualProviderConfig) (*ManualProvider, error) {
	if cfg.IDGenerator == nil {
		return nil, errors.New("manual: id generator is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ManualProvider{
		generateID: cfg.IDGenerator,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// Authorize records an approved hold.
func (p *ManualProvider) Authorize(ctx context.Context, req AuthorizeRequest) (Result, error) {
	return p.approve("man_auth_", req.Amount, req.Currency), nil
}

// Sale records an approved sale.
func (p *ManualProvider) Sale(ctx context.Context, req SaleRequest) (Result, error) {
	return p.approve("man_sale_", req.Amount, req.Currency), nil
}

// Capture settles a previously recorded authorisation.
func (p *ManualProvider) Capture(ctx context.Context, req CaptureRequest) (Result, error) {
	amount := int64(0)
	if req.Amount != nil {
		amount = *req.Amount
	}
	result := p.approve("man_cap_", amount, "")
	if strings.TrimSpace(req.Reference) != "" {
		result.Reference = req.Reference
	}
	return result, nil
}

// Void releases a recorded authorisation.
func (p *ManualProvider) Void(ctx context.Context, req VoidRequest) (Result, error) {
	result := p.approve("man_void_", 0, "")
	if strings.TrimSpace(req.Reference) != "" {
		result.Reference = req.Reference
	}
	return result, nil
}

// Refund records an approved refund.
func (p *ManualProvider) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	amount := int64(0)
	if req.Amount != nil {
		amount = *req.Amount
	}
	return p.approve("man_ref_", amount, ""), nil
}

func (p *ManualProvider) approve(prefix string, amount int64, currency string) Result {
	return Result{
		Provider:  "manual",
		Reference: prefix + p.generateID(),
		Status:    StatusSucceeded,
		Amount:    amount,
		Currency:  strings.ToUpper(currency),
		Raw: map[string]any{
			"approvedAt": p.clock().Format(time.RFC3339),
		},
	}
}

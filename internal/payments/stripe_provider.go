package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/fieldline/commerce/internal/platform/textutil"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Payment Intents.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}

	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Authorize creates and confirms a manual-capture Payment Intent.
func (p *StripeProvider) Authorize(ctx context.Context, req AuthorizeRequest) (Result, error) {
	return p.createIntent(ctx, req, false)
}

// Sale creates and confirms an automatic-capture Payment Intent.
func (p *StripeProvider) Sale(ctx context.Context, req SaleRequest) (Result, error) {
	return p.createIntent(ctx, req, true)
}

func (p *StripeProvider) createIntent(ctx context.Context, req AuthorizeRequest, capture bool) (Result, error) {
	if p == nil {
		return Result{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		Confirm:  stripe.Bool(true),
	}
	params.Context = ctx
	if capture {
		params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodAutomatic))
	} else {
		params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.SourceToken != "" {
		params.PaymentMethod = stripe.String(req.SourceToken)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if md := textutil.NormalizeStringMap(req.Metadata); len(md) > 0 {
		params.Metadata = md
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		if result, ok := declineResult(err); ok {
			p.logger(ctx, "payments.stripe.intent.declined", map[string]any{
				"errorCode": result.ErrorCode,
			})
			return result, nil
		}
		return Result{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
		"capture":       capture,
	})
	return stripeResult(intent), nil
}

// Capture captures a previously authorised Payment Intent.
func (p *StripeProvider) Capture(ctx context.Context, req CaptureRequest) (Result, error) {
	if p == nil {
		return Result{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		params.AmountToCapture = stripe.Int64(*req.Amount)
	}
	intent, err := p.api.intents.Capture(req.Reference, params)
	if err != nil {
		if result, ok := declineResult(err); ok {
			return result, nil
		}
		return Result{}, fmt.Errorf("stripe: capture payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.captured", map[string]any{
		"paymentIntent":  intent.ID,
		"amountReceived": intent.AmountReceived,
	})
	return stripeResult(intent), nil
}

// Void cancels an uncaptured Payment Intent.
func (p *StripeProvider) Void(ctx context.Context, req VoidRequest) (Result, error) {
	if p == nil {
		return Result{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Cancel(req.Reference, params)
	if err != nil {
		if result, ok := declineResult(err); ok {
			return result, nil
		}
		return Result{}, fmt.Errorf("stripe: cancel payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.voided", map[string]any{
		"paymentIntent": intent.ID,
	})
	result := stripeResult(intent)
	if intent.Status == stripe.PaymentIntentStatusCanceled {
		result.Status = StatusSucceeded
	}
	return result, nil
}

// Refund creates a refund against the provided Payment Intent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	if p == nil {
		return Result{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.Reference),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		params.Amount = stripe.Int64(*req.Amount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if md := textutil.NormalizeStringMap(req.Metadata); len(md) > 0 {
		params.Metadata = md
	}
	refund, err := p.api.refunds.New(params)
	if err != nil {
		if result, ok := declineResult(err); ok {
			return result, nil
		}
		return Result{}, fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": req.Reference,
		"refund":        refund.ID,
	})

	status := StatusSucceeded
	if refund.Status == stripe.RefundStatusFailed || refund.Status == stripe.RefundStatusCanceled {
		status = StatusFailed
	}
	return Result{
		Provider:  "stripe",
		Reference: refund.ID,
		Status:    status,
		Amount:    refund.Amount,
		Currency:  strings.ToUpper(string(refund.Currency)),
		Raw:       rawJSON(refund),
	}, nil
}

func stripeResult(intent *stripe.PaymentIntent) Result {
	if intent == nil {
		return Result{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusRequiresCapture:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	currency := strings.ToUpper(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToUpper(string(intent.LatestCharge.Currency))
	}

	errorCode := ""
	if intent.LastPaymentError != nil {
		errorCode = string(intent.LastPaymentError.Code)
		status = StatusFailed
	}

	return Result{
		Provider:  "stripe",
		Reference: intent.ID,
		Status:    status,
		Amount:    intent.Amount,
		Currency:  currency,
		ErrorCode: errorCode,
		Raw:       rawJSON(intent),
	}
}

// declineResult converts a Stripe card error into a failed result. Transport
// and configuration failures stay errors.
func declineResult(err error) (Result, bool) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return Result{}, false
	}
	if stripeErr.Type != stripe.ErrorTypeCard {
		return Result{}, false
	}
	code := string(stripeErr.DeclineCode)
	if code == "" {
		code = string(stripeErr.Code)
	}
	reference := ""
	if stripeErr.PaymentIntent != nil {
		reference = stripeErr.PaymentIntent.ID
	}
	return Result{
		Provider:  "stripe",
		Reference: reference,
		Status:    StatusFailed,
		ErrorCode: code,
	}, true
}

func rawJSON(v any) map[string]any {
	raw := map[string]any{}
	if data, err := json.Marshal(v); err == nil {
		_ = json.Unmarshal(data, &raw)
	}
	return raw
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}

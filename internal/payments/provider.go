package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status enumerates the normalised gateway outcomes shared across providers.
type Status string

const (
	// StatusPending indicates the gateway is awaiting confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway accepted the operation.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway declined; the attempt can be retried
	// with a new transaction.
	StatusFailed Status = "failed"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// AuthorizeRequest places a hold on funds without capturing them.
type AuthorizeRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	SourceToken    string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// SaleRequest authorises and captures in a single gateway call.
type SaleRequest = AuthorizeRequest

// CaptureRequest settles a previously authorised payment, optionally for a
// partial amount.
type CaptureRequest struct {
	Reference      string
	Amount         *int64
	IdempotencyKey string
	Metadata       map[string]string
}

// VoidRequest releases an uncaptured authorisation.
type VoidRequest struct {
	Reference      string
	IdempotencyKey string
}

// RefundRequest returns captured funds to the customer.
type RefundRequest struct {
	Reference      string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// Result normalises a gateway response. A failed attempt is reported through
// Status and ErrorCode rather than an error; errors are reserved for transport
// and configuration faults.
type Result struct {
	Provider  string
	Reference string
	Status    Status
	Amount    int64
	Currency  string
	ErrorCode string
	Raw       map[string]any
}

// Provider defines the contract gateway adapters implement.
type Provider interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Result, error)
	Capture(ctx context.Context, req CaptureRequest) (Result, error)
	Sale(ctx context.Context, req SaleRequest) (Result, error)
	Void(ctx context.Context, req VoidRequest) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Metadata          map[string]string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Authorize delegates to the resolved provider.
func (m *Manager) Authorize(ctx context.Context, paymentCtx PaymentContext, req AuthorizeRequest) (Result, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Result{}, err
	}
	result, err := provider.Authorize(ctx, req)
	if err != nil {
		return Result{}, err
	}
	result.Provider = key
	return result, nil
}

// Capture delegates to the resolved provider.
func (m *Manager) Capture(ctx context.Context, paymentCtx PaymentContext, req CaptureRequest) (Result, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Result{}, err
	}
	result, err := provider.Capture(ctx, req)
	if err != nil {
		return Result{}, err
	}
	result.Provider = key
	return result, nil
}

// Sale delegates to the resolved provider.
func (m *Manager) Sale(ctx context.Context, paymentCtx PaymentContext, req SaleRequest) (Result, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Result{}, err
	}
	result, err := provider.Sale(ctx, req)
	if err != nil {
		return Result{}, err
	}
	result.Provider = key
	return result, nil
}

// Void delegates to the resolved provider.
func (m *Manager) Void(ctx context.Context, paymentCtx PaymentContext, req VoidRequest) (Result, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Result{}, err
	}
	result, err := provider.Void(ctx, req)
	if err != nil {
		return Result{}, err
	}
	result.Provider = key
	return result, nil
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (Result, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return Result{}, err
	}
	result, err := provider.Refund(ctx, req)
	if err != nil {
		return Result{}, err
	}
	result.Provider = key
	return result, nil
}

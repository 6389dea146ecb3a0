package di

import (
	"context"
	"testing"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
	"github.com/fieldline/commerce/internal/platform/config"
	"github.com/fieldline/commerce/internal/repositories"
	"github.com/fieldline/commerce/internal/services"
)

// Embedded-interface stubs: non-nil values satisfying the repository
// contracts, enough for constructor wiring checks.
type (
	stubCartRepo        struct{ repositories.CartRepository }
	stubOrderRepo       struct{ repositories.OrderRepository }
	stubTxnRepo         struct{ repositories.TransactionRepository }
	stubFulfillmentRepo struct{ repositories.FulfillmentRepository }
	stubRefundRepo      struct{ repositories.RefundRepository }
	stubCustomerRepo    struct{ repositories.CustomerRepository }
	stubSubRepo         struct{ repositories.SubscriptionRepository }
)

type stubRegistry struct{}

func (stubRegistry) Close(context.Context) error                        { return nil }
func (stubRegistry) Carts() repositories.CartRepository                 { return stubCartRepo{} }
func (stubRegistry) Orders() repositories.OrderRepository               { return stubOrderRepo{} }
func (stubRegistry) Transactions() repositories.TransactionRepository   { return stubTxnRepo{} }
func (stubRegistry) Fulfillments() repositories.FulfillmentRepository   { return stubFulfillmentRepo{} }
func (stubRegistry) Refunds() repositories.RefundRepository             { return stubRefundRepo{} }
func (stubRegistry) Customers() repositories.CustomerRepository         { return stubCustomerRepo{} }
func (stubRegistry) Subscriptions() repositories.SubscriptionRepository { return stubSubRepo{} }
func (stubRegistry) Health() repositories.HealthRepository              { return stubHealthRepo{} }
func (stubRegistry) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type stubHealthRepo struct{}

func (stubHealthRepo) Collect(context.Context) (domain.SystemHealthReport, error) {
	return domain.SystemHealthReport{}, nil
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), config.Config{}, nil)
	if err == nil {
		t.Fatalf("expected error for nil registry")
	}
}

func TestNewContainerBuildsAllServices(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	container, err := NewContainer(context.Background(), config.Config{}, stubRegistry{},
		WithClock(func() time.Time { return now }),
		WithBuildInfo(services.BuildInfo{Version: "test"}),
	)
	if err != nil {
		t.Fatalf("new container: %v", err)
	}

	svcs := container.Services
	if svcs.Cart == nil || svcs.Checkout == nil || svcs.Orders == nil ||
		svcs.Transactions == nil || svcs.Fulfillments == nil ||
		svcs.Subscriptions == nil || svcs.System == nil {
		t.Fatalf("expected every service wired, got %+v", svcs)
	}

	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}

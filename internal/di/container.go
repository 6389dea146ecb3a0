package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fieldline/commerce/internal/geo"
	"github.com/fieldline/commerce/internal/notify"
	"github.com/fieldline/commerce/internal/payments"
	"github.com/fieldline/commerce/internal/platform/config"
	"github.com/fieldline/commerce/internal/repositories"
	"github.com/fieldline/commerce/internal/services"
	"github.com/fieldline/commerce/internal/shipping"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart          services.CartService
	Checkout      services.CheckoutService
	Orders        services.OrderService
	Transactions  services.TransactionService
	Fulfillments  services.FulfillmentService
	Subscriptions services.SubscriptionService
	System        services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

type containerConfig struct {
	gateway    services.PaymentGateway
	publisher  services.EventPublisher
	mailer     notify.Mailer
	geocoder   geo.Geocoder
	dispatcher shipping.Dispatcher
	logger     func(context.Context, string, map[string]any)
	clock      func() time.Time
	build      services.BuildInfo
}

// Option customises container assembly. Production wiring supplies the Pub/Sub
// publisher and real mailer here; tests swap in fakes.
type Option func(*containerConfig)

// WithPaymentGateway overrides the gateway built from configuration.
func WithPaymentGateway(gateway services.PaymentGateway) Option {
	return func(cc *containerConfig) { cc.gateway = gateway }
}

// WithEventPublisher supplies the event bus used by the transactional services.
func WithEventPublisher(publisher services.EventPublisher) Option {
	return func(cc *containerConfig) { cc.publisher = publisher }
}

// WithMailer supplies the notification backend.
func WithMailer(mailer notify.Mailer) Option {
	return func(cc *containerConfig) { cc.mailer = mailer }
}

// WithGeocoder supplies the address geocoder consumed by the order pipeline.
func WithGeocoder(geocoder geo.Geocoder) Option {
	return func(cc *containerConfig) { cc.geocoder = geocoder }
}

// WithDispatcher supplies the shipping dispatcher backing fulfillment sends.
func WithDispatcher(dispatcher shipping.Dispatcher) Option {
	return func(cc *containerConfig) { cc.dispatcher = dispatcher }
}

// WithServiceLogger supplies the structured logging callback passed to every service.
func WithServiceLogger(logger func(context.Context, string, map[string]any)) Option {
	return func(cc *containerConfig) { cc.logger = logger }
}

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(cc *containerConfig) { cc.clock = clock }
}

// WithBuildInfo records release metadata surfaced by the system service.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(cc *containerConfig) { cc.build = build }
}

// NewContainer constructs the runtime dependencies. Production wiring provides a
// Postgres-backed registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("di: repository registry is required")
	}

	cc := containerConfig{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&cc)
		}
	}
	if cc.clock == nil {
		cc.clock = time.Now
	}
	if cc.geocoder == nil {
		cc.geocoder = geo.Noop()
	}
	if cc.mailer == nil {
		cc.mailer = notify.NewLogMailer(nil)
	}
	if cc.dispatcher == nil {
		cc.dispatcher = shipping.NewManualDispatcher(cc.clock)
	}
	if cc.gateway == nil {
		gateway, err := buildGateway(cfg, cc.clock)
		if err != nil {
			return nil, fmt.Errorf("build payment gateway: %w", err)
		}
		cc.gateway = gateway
	}

	svcs, err := buildServices(ctx, cfg, reg, cc)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svcs,
	}, nil
}

// Close releases resources owned by the container.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, cc containerConfig) (Services, error) {
	var svcs Services

	transactions, err := services.NewTransactionService(services.TransactionServiceDeps{
		Registry:  reg,
		Gateway:   cc.gateway,
		Publisher: cc.publisher,
		Clock:     cc.clock,
		Logger:    cc.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build transaction service: %w", err)
	}
	svcs.Transactions = transactions

	fulfillments, err := services.NewFulfillmentService(services.FulfillmentServiceDeps{
		Registry:   reg,
		Dispatcher: cc.dispatcher,
		Mailer:     cc.mailer,
		Publisher:  cc.publisher,
		Clock:      cc.clock,
		Logger:     cc.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build fulfillment service: %w", err)
	}
	svcs.Fulfillments = fulfillments

	pricer := services.NewPricingEngine()

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Registry:     reg,
		Pricer:       pricer,
		Transactions: transactions,
		Fulfillments: fulfillments,
		Geocoder:     cc.geocoder,
		Mailer:       cc.mailer,
		Publisher:    cc.publisher,
		Clock:        cc.clock,
		ShopID:       cfg.Shop.ID,
		Currency:     cfg.Shop.Currency,
		Logger:       cc.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svcs.Orders = orders

	carts, err := services.NewCartService(services.CartServiceDeps{
		Repository:      reg.Carts(),
		Customers:       reg.Customers(),
		Pricer:          pricer,
		Clock:           cc.clock,
		DefaultCurrency: cfg.Shop.Currency,
		Logger:          cc.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svcs.Cart = carts

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Registry:       reg,
		Orders:         orders,
		Clock:          cc.clock,
		DefaultGateway: cfg.Payments.DefaultGateway,
		Logger:         cc.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svcs.Checkout = checkout

	subscriptions, err := services.NewSubscriptionService(services.SubscriptionServiceDeps{
		Registry:     reg,
		Orders:       orders,
		Transactions: transactions,
		Mailer:       cc.mailer,
		Publisher:    cc.publisher,
		Clock:        cc.clock,
		Config: services.SubscriptionConfig{
			MaxAttempts:      cfg.Subscriptions.RetryAttempts,
			RetryDelay:       cfg.Subscriptions.RetryDelay,
			GracePeriodDays:  cfg.Subscriptions.GracePeriodDays,
			NoticeWindowDays: cfg.Subscriptions.RenewalNoticeDays,
			BatchSize:        cfg.Subscriptions.BatchSize,
		},
		Logger: cc.logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build subscription service: %w", err)
	}
	svcs.Subscriptions = subscriptions

	system, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            cc.clock,
		Build:            cc.build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svcs.System = system

	return svcs, nil
}

// buildGateway assembles the provider manager from configuration. The manual
// provider is always registered so offline settlement keeps working when no
// gateway credentials are configured.
func buildGateway(cfg config.Config, clock func() time.Time) (services.PaymentGateway, error) {
	manual, err := payments.NewManualProvider(payments.ManualProviderConfig{
		IDGenerator: func() string { return ulid.Make().String() },
		Clock:       clock,
	})
	if err != nil {
		return nil, err
	}

	providers := map[string]payments.Provider{"manual": manual}
	if cfg.Payments.StripeAPIKey != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Payments.StripeAPIKey,
			Clock:  clock,
		})
		if err != nil {
			return nil, err
		}
		providers["stripe"] = stripeProvider
	}

	return payments.NewManager(providers)
}

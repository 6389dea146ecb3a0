package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Shop          ShopConfig
	Payments      PaymentsConfig
	Subscriptions SubscriptionsConfig
	Events        EventsConfig
	Security      SecurityConfig
	Webhooks      WebhooksConfig
	Idempotency   IdempotencyConfig
	Checkout      CheckoutConfig
	Shipping      ShippingConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string        `env:"COMMERCE_SERVER_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"COMMERCE_SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"COMMERCE_SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"COMMERCE_SERVER_IDLE_TIMEOUT" envDefault:"120s"`
}

// DatabaseConfig stores Postgres connection parameters.
type DatabaseConfig struct {
	DSN             string        `env:"COMMERCE_DATABASE_DSN"`
	MigrationsPath  string        `env:"COMMERCE_DATABASE_MIGRATIONS" envDefault:"migrations"`
	MaxOpenConns    int           `env:"COMMERCE_DATABASE_MAX_OPEN_CONNS" envDefault:"100"`
	MaxIdleConns    int           `env:"COMMERCE_DATABASE_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"COMMERCE_DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// ShopConfig identifies the shop the engine serves. The shop ID prefixes order
// numbers.
type ShopConfig struct {
	ID       string `env:"COMMERCE_SHOP_ID" envDefault:"1"`
	Currency string `env:"COMMERCE_SHOP_CURRENCY" envDefault:"USD"`
}

// PaymentsConfig collects gateway credentials and routing defaults.
type PaymentsConfig struct {
	StripeAPIKey   string `env:"COMMERCE_PAYMENTS_STRIPE_API_KEY"`
	DefaultGateway string `env:"COMMERCE_PAYMENTS_DEFAULT_GATEWAY" envDefault:"manual"`
}

// SubscriptionsConfig controls the renewal lifecycle.
type SubscriptionsConfig struct {
	RetryAttempts     int           `env:"COMMERCE_SUBSCRIPTIONS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelay        time.Duration `env:"COMMERCE_SUBSCRIPTIONS_RETRY_DELAY" envDefault:"24h"`
	GracePeriodDays   int           `env:"COMMERCE_SUBSCRIPTIONS_GRACE_PERIOD_DAYS" envDefault:"7"`
	RenewalNoticeDays int           `env:"COMMERCE_SUBSCRIPTIONS_RENEWAL_NOTICE_DAYS" envDefault:"7"`
	BatchSize         int           `env:"COMMERCE_SUBSCRIPTIONS_BATCH_SIZE" envDefault:"200"`
}

// EventsConfig configures the Pub/Sub event bus.
type EventsConfig struct {
	ProjectID string `env:"COMMERCE_EVENTS_PROJECT_ID"`
	Topic     string `env:"COMMERCE_EVENTS_TOPIC" envDefault:"commerce-events"`
}

// SecurityConfig groups authentication settings for the machine-facing route
// groups. OIDC guards /internal, HMAC signatures guard /webhooks.
type SecurityConfig struct {
	Environment string `env:"COMMERCE_ENVIRONMENT" envDefault:"local"`
	OIDC        OIDCConfig
	HMAC        HMACConfig
}

// OIDCConfig configures service-to-service token validation.
type OIDCConfig struct {
	JWKSURL  string   `env:"COMMERCE_SECURITY_OIDC_JWKS_URL"`
	Audience string   `env:"COMMERCE_SECURITY_OIDC_AUDIENCE"`
	Issuers  []string `env:"COMMERCE_SECURITY_OIDC_ISSUERS" envSeparator:","`
}

// HMACConfig configures webhook request signing. Secrets maps a gateway name
// to its signing secret; entries may be Secret Manager references.
type HMACConfig struct {
	Secrets         map[string]string `env:"COMMERCE_SECURITY_HMAC_SECRETS" envSeparator:"," envKeyValSeparator:"="`
	SignatureHeader string            `env:"COMMERCE_SECURITY_HMAC_SIGNATURE_HEADER"`
	TimestampHeader string            `env:"COMMERCE_SECURITY_HMAC_TIMESTAMP_HEADER"`
	NonceHeader     string            `env:"COMMERCE_SECURITY_HMAC_NONCE_HEADER"`
	ClockSkew       time.Duration     `env:"COMMERCE_SECURITY_HMAC_CLOCK_SKEW" envDefault:"5m"`
	NonceTTL        time.Duration     `env:"COMMERCE_SECURITY_HMAC_NONCE_TTL" envDefault:"10m"`
}

// WebhooksConfig carries the fallback signing secret applied when a gateway
// has no dedicated HMAC entry.
type WebhooksConfig struct {
	SigningSecret string `env:"COMMERCE_WEBHOOKS_SIGNING_SECRET"`
}

// IdempotencyConfig tunes replay protection on the mutating checkout and
// order intake routes.
type IdempotencyConfig struct {
	ProjectID        string        `env:"COMMERCE_IDEMPOTENCY_PROJECT_ID"`
	Header           string        `env:"COMMERCE_IDEMPOTENCY_HEADER" envDefault:"Idempotency-Key"`
	TTL              time.Duration `env:"COMMERCE_IDEMPOTENCY_TTL" envDefault:"24h"`
	CleanupInterval  time.Duration `env:"COMMERCE_IDEMPOTENCY_CLEANUP_INTERVAL" envDefault:"1h"`
	CleanupBatchSize int           `env:"COMMERCE_IDEMPOTENCY_CLEANUP_BATCH_SIZE" envDefault:"200"`
}

// CheckoutConfig throttles cart conversion. A non-positive limit disables the
// throttle.
type CheckoutConfig struct {
	RateLimit  int           `env:"COMMERCE_CHECKOUT_RATE_LIMIT" envDefault:"0"`
	RateWindow time.Duration `env:"COMMERCE_CHECKOUT_RATE_WINDOW" envDefault:"1m"`
}

// ShippingConfig configures the flat-rate quote provider. Amounts are minor
// units in the shop currency.
type ShippingConfig struct {
	FlatRateName    string `env:"COMMERCE_SHIPPING_FLAT_RATE_NAME" envDefault:"Standard Shipping"`
	FlatRateBase    int64  `env:"COMMERCE_SHIPPING_FLAT_RATE_BASE" envDefault:"500"`
	FlatRatePerItem int64  `env:"COMMERCE_SHIPPING_FLAT_RATE_PER_ITEM" envDefault:"100"`
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envMap map[string]string
	secret SecretResolver
}

// WithEnvMap injects an explicit key/value map for environment lookups,
// bypassing the process environment. Intended for tests.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration from environment variables and
// optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	var cfg Config
	parseOpts := env.Options{Environment: options.envMap}
	if err := env.ParseWithOptions(&cfg, parseOpts); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}

	// Resolve values that reference Secret Manager.
	secretFields := []*string{
		&cfg.Database.DSN,
		&cfg.Payments.StripeAPIKey,
		&cfg.Webhooks.SigningSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}
	for name, value := range cfg.Security.HMAC.Secrets {
		resolved, err := resolveSecret(ctx, value, options.secret)
		if err != nil {
			return Config{}, err
		}
		cfg.Security.HMAC.Secrets[name] = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Database.DSN == "" {
		missing = append(missing, "Database.DSN")
	}
	if cfg.Shop.ID == "" {
		missing = append(missing, "Shop.ID")
	}
	if cfg.Shop.Currency == "" {
		missing = append(missing, "Shop.Currency")
	}
	if cfg.Subscriptions.RetryAttempts <= 0 {
		missing = append(missing, "Subscriptions.RetryAttempts")
	}
	if cfg.Subscriptions.GracePeriodDays < 0 {
		missing = append(missing, "Subscriptions.GracePeriodDays")
	}
	if cfg.Subscriptions.RenewalNoticeDays <= 0 {
		missing = append(missing, "Subscriptions.RenewalNoticeDays")
	}
	if cfg.Subscriptions.BatchSize <= 0 {
		missing = append(missing, "Subscriptions.BatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

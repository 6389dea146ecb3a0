package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fieldline/commerce/internal/repositories"
)

// Registry wires the Postgres-backed repositories behind the repositories.Registry contract.
type Registry struct {
	db            *sql.DB
	carts         *cartRepository
	orders        *orderRepository
	transactions  *transactionRepository
	fulfillments  *fulfillmentRepository
	refunds       *refundRepository
	customers     *customerRepository
	subscriptions *subscriptionRepository
	health        repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repository registry over an open database handle.
func NewRegistry(db *sql.DB) (*Registry, error) {
	if db == nil {
		return nil, errors.New("postgres: database handle is required")
	}

	reg := &Registry{db: db}
	reg.carts = &cartRepository{reg: reg}
	reg.orders = &orderRepository{reg: reg}
	reg.transactions = &transactionRepository{reg: reg}
	reg.fulfillments = &fulfillmentRepository{reg: reg}
	reg.refunds = &refundRepository{reg: reg}
	reg.customers = &customerRepository{reg: reg}
	reg.subscriptions = &subscriptionRepository{reg: reg}

	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				return db.PingContext(ctx)
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: health repository: %w", err)
	}
	reg.health = health

	return reg, nil
}

// Close releases the underlying connection pool.
func (r *Registry) Close(context.Context) error {
	return r.db.Close()
}

func (r *Registry) Carts() repositories.CartRepository                 { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository               { return r.orders }
func (r *Registry) Transactions() repositories.TransactionRepository   { return r.transactions }
func (r *Registry) Fulfillments() repositories.FulfillmentRepository   { return r.fulfillments }
func (r *Registry) Refunds() repositories.RefundRepository             { return r.refunds }
func (r *Registry) Customers() repositories.CustomerRepository         { return r.customers }
func (r *Registry) Subscriptions() repositories.SubscriptionRepository { return r.subscriptions }
func (r *Registry) Health() repositories.HealthRepository              { return r.health }

// encodeJSON marshals a value for a jsonb column, storing SQL NULL for empty values.
func encodeJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" || string(data) == "[]" || string(data) == "{}" {
		return nil, nil
	}
	return data, nil
}

// decodeJSON unmarshals a jsonb column, leaving dst untouched on NULL.
func decodeJSON(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

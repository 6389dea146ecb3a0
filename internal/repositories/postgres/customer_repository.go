package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
)

type customerRepository struct {
	reg *Registry
}

const customerColumns = `id, email, name, account_balance, total_spent, total_orders,
avg_spent, last_order_id, shipping_address, billing_address, default_source,
version, created_at, updated_at`

func (r *customerRepository) Insert(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	args, err := customerArgs(customer)
	if err != nil {
		return domain.Customer{}, mapError("insert customer", err)
	}

	customer.Version = 1
	insertArgs := append([]any{customer.ID}, args...)
	insertArgs = append(insertArgs, customer.Version, customer.CreatedAt, customer.UpdatedAt)

	_, err = r.reg.runner(ctx).ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13, $14)`,
		insertArgs...,
	)
	if err != nil {
		return domain.Customer{}, mapError("insert customer", err)
	}
	return customer, nil
}

func customerArgs(customer domain.Customer) ([]any, error) {
	shipAddr, err := encodeJSON(customer.ShippingAddress)
	if err != nil {
		return nil, err
	}
	billAddr, err := encodeJSON(customer.BillingAddress)
	if err != nil {
		return nil, err
	}
	defaultSource, err := encodeJSON(customer.DefaultSource)
	if err != nil {
		return nil, err
	}
	return []any{
		customer.Email, customer.Name, customer.AccountBalance, customer.TotalSpent,
		customer.TotalOrders, customer.AvgSpent, customer.LastOrderID,
		shipAddr, billAddr, defaultSource,
	}, nil
}

func (r *customerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	row := r.reg.runner(ctx).QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, customerID)
	return scanCustomer(row, "find customer")
}

func (r *customerRepository) FindByEmail(ctx context.Context, email string) (domain.Customer, error) {
	row := r.reg.runner(ctx).QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE email = $1`, email)
	return scanCustomer(row, "find customer by email")
}

func (r *customerRepository) Update(ctx context.Context, customer domain.Customer) (domain.Customer, error) {
	args, err := customerArgs(customer)
	if err != nil {
		return domain.Customer{}, mapError("update customer", err)
	}
	updateArgs := append(args, customer.UpdatedAt, customer.ID, customer.Version)

	res, err := r.reg.runner(ctx).ExecContext(ctx, `
		UPDATE customers SET
			email = $1, name = NULLIF($2, ''), account_balance = $3, total_spent = $4,
			total_orders = $5, avg_spent = $6, last_order_id = NULLIF($7, ''),
			shipping_address = $8, billing_address = $9, default_source = $10,
			version = version + 1, updated_at = $11
		WHERE id = $12 AND version = $13`,
		updateArgs...,
	)
	if err != nil {
		return domain.Customer{}, mapError("update customer", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Customer{}, mapError("update customer", err)
	}
	if affected == 0 {
		row := r.reg.runner(ctx).QueryRowContext(ctx, `SELECT id FROM customers WHERE id = $1`, customer.ID)
		var id string
		if scanErr := row.Scan(&id); scanErr != nil {
			return domain.Customer{}, mapError("update customer", scanErr)
		}
		return domain.Customer{}, conflictError("customer", customer.ID)
	}
	customer.Version++
	return customer, nil
}

// DebitBalance atomically decrements a customer's account balance and records
// the movement in the ledger. The decrement is conditional on sufficient funds
// so two concurrent checkouts cannot spend the same balance twice.
func (r *customerRepository) DebitBalance(ctx context.Context, customerID string, amount int64, orderID string) (domain.Customer, error) {
	row := r.reg.runner(ctx).QueryRowContext(ctx, `
		UPDATE customers SET account_balance = account_balance - $1, updated_at = now()
		WHERE id = $2 AND account_balance >= $1
		RETURNING `+customerColumns,
		amount, customerID,
	)
	customer, err := scanCustomer(row, "debit balance")
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, err
		}
		// No row updated: either the customer is gone or the balance is short.
		lookup := r.reg.runner(ctx).QueryRowContext(ctx, `SELECT id FROM customers WHERE id = $1`, customerID)
		var id string
		if scanErr := lookup.Scan(&id); scanErr != nil {
			return domain.Customer{}, mapError("debit balance", scanErr)
		}
		return domain.Customer{}, conflictError("customer balance", customerID)
	}

	_, err = r.reg.runner(ctx).ExecContext(ctx, `
		INSERT INTO account_ledger (customer_id, order_id, amount, created_at)
		VALUES ($1, NULLIF($2, ''), $3, now())`,
		customerID, orderID, -amount,
	)
	if err != nil {
		return domain.Customer{}, mapError("debit balance", err)
	}
	return customer, nil
}

func scanCustomer(scanner rowScanner, op string) (domain.Customer, error) {
	var (
		customer                       domain.Customer
		name, lastOrderID              sql.NullString
		shipAddr, billAddr, defaultSrc []byte
		createdAt, updatedAt           time.Time
	)
	err := scanner.Scan(
		&customer.ID, &customer.Email, &name, &customer.AccountBalance, &customer.TotalSpent,
		&customer.TotalOrders, &customer.AvgSpent, &lastOrderID,
		&shipAddr, &billAddr, &defaultSrc, &customer.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Customer{}, mapError(op, err)
	}
	customer.Name = name.String
	customer.LastOrderID = lastOrderID.String
	customer.CreatedAt = createdAt.UTC()
	customer.UpdatedAt = updatedAt.UTC()
	if err := decodeJSON(shipAddr, &customer.ShippingAddress); err != nil {
		return domain.Customer{}, mapError(op, err)
	}
	if err := decodeJSON(billAddr, &customer.BillingAddress); err != nil {
		return domain.Customer{}, mapError(op, err)
	}
	if err := decodeJSON(defaultSrc, &customer.DefaultSource); err != nil {
		return domain.Customer{}, mapError(op, err)
	}
	return customer, nil
}

package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
)

type cartRepository struct {
	reg *Registry
}

const cartColumns = `id, token, status, customer_id, email, currency, items,
shipping_address, billing_address, shipping_lines, tax_lines, overrides, totals,
ordered_order_id, notes, version, created_at, updated_at`

func (r *cartRepository) Insert(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	items, err := encodeJSON(cart.Items)
	if err != nil {
		return domain.Cart{}, mapError("insert cart", err)
	}
	shipAddr, err := encodeJSON(cart.ShippingAddress)
	if err != nil {
		return domain.Cart{}, mapError("insert cart", err)
	}
	billAddr, err := encodeJSON(cart.BillingAddress)
	if err != nil {
		return domain.Cart{}, mapError("insert cart", err)
	}
	shipLines, err := encodeJSON(cart.ShippingLines)
	if err != nil {
		return domain.Cart{}, mapError("insert cart", err)
	}
	taxLines, err := encodeJSON(cart.TaxLines)
	if err != nil {
		return domain.Cart{}, mapError("insert cart", err)
	}
	overrides, err := encodeJSON(cart.Overrides)
	if err != nil {
		return domain.Cart{}, mapError("insert cart", err)
	}
	totals, err := encodeJSON(cart.Totals)
	if err != nil {
		return domain.Cart{}, mapError("insert cart", err)
	}

	cart.Version = 1
	_, err = r.reg.runner(ctx).ExecContext(ctx, `
		INSERT INTO carts (`+cartColumns+`)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15, $16, $17, $18)`,
		cart.ID, cart.Token, string(cart.Status), cart.CustomerID, cart.Email, cart.Currency,
		items, shipAddr, billAddr, shipLines, taxLines, overrides, totals,
		cart.OrderedOrderID, cart.Notes, cart.Version, cart.CreatedAt, cart.UpdatedAt,
	)
	if err != nil {
		return domain.Cart{}, mapError("insert cart", err)
	}
	return cart, nil
}

func (r *cartRepository) FindByID(ctx context.Context, cartID string) (domain.Cart, error) {
	row := r.reg.runner(ctx).QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE id = $1`, cartID)
	return scanCart(row, "find cart")
}

func (r *cartRepository) FindByToken(ctx context.Context, token string) (domain.Cart, error) {
	row := r.reg.runner(ctx).QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM carts WHERE token = $1`, token)
	return scanCart(row, "find cart by token")
}

func (r *cartRepository) FindOpenByCustomer(ctx context.Context, customerID string) (domain.Cart, error) {
	row := r.reg.runner(ctx).QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM carts
		 WHERE customer_id = $1 AND status IN ($2, $3)
		 ORDER BY created_at DESC LIMIT 1`,
		customerID, string(domain.CartStatusOpen), string(domain.CartStatusDraft))
	return scanCart(row, "find open cart")
}

// Update performs an optimistic conditional write: the row must still carry
// the version the caller loaded, and the stored version is bumped.
func (r *cartRepository) Update(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	items, err := encodeJSON(cart.Items)
	if err != nil {
		return domain.Cart{}, mapError("update cart", err)
	}
	shipAddr, err := encodeJSON(cart.ShippingAddress)
	if err != nil {
		return domain.Cart{}, mapError("update cart", err)
	}
	billAddr, err := encodeJSON(cart.BillingAddress)
	if err != nil {
		return domain.Cart{}, mapError("update cart", err)
	}
	shipLines, err := encodeJSON(cart.ShippingLines)
	if err != nil {
		return domain.Cart{}, mapError("update cart", err)
	}
	taxLines, err := encodeJSON(cart.TaxLines)
	if err != nil {
		return domain.Cart{}, mapError("update cart", err)
	}
	overrides, err := encodeJSON(cart.Overrides)
	if err != nil {
		return domain.Cart{}, mapError("update cart", err)
	}
	totals, err := encodeJSON(cart.Totals)
	if err != nil {
		return domain.Cart{}, mapError("update cart", err)
	}

	res, err := r.reg.runner(ctx).ExecContext(ctx, `
		UPDATE carts SET
			status = $1, customer_id = NULLIF($2, ''), email = NULLIF($3, ''), currency = $4,
			items = $5, shipping_address = $6, billing_address = $7,
			shipping_lines = $8, tax_lines = $9, overrides = $10, totals = $11,
			ordered_order_id = NULLIF($12, ''), notes = $13,
			version = version + 1, updated_at = $14
		WHERE id = $15 AND version = $16`,
		string(cart.Status), cart.CustomerID, cart.Email, cart.Currency,
		items, shipAddr, billAddr, shipLines, taxLines, overrides, totals,
		cart.OrderedOrderID, cart.Notes, cart.UpdatedAt,
		cart.ID, cart.Version,
	)
	if err != nil {
		return domain.Cart{}, mapError("update cart", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Cart{}, mapError("update cart", err)
	}
	if affected == 0 {
		if _, findErr := r.FindByID(ctx, cart.ID); findErr != nil {
			return domain.Cart{}, findErr
		}
		return domain.Cart{}, conflictError("cart", cart.ID)
	}
	cart.Version++
	return cart, nil
}

func scanCart(row *sql.Row, op string) (domain.Cart, error) {
	var (
		cart                                              domain.Cart
		status                                            string
		customerID, email, orderedOrderID                 sql.NullString
		items, shipAddr, billAddr                         []byte
		shipLines, taxLines, overrides, totals            []byte
		createdAt, updatedAt                              time.Time
	)
	err := row.Scan(
		&cart.ID, &cart.Token, &status, &customerID, &email, &cart.Currency, &items,
		&shipAddr, &billAddr, &shipLines, &taxLines, &overrides, &totals,
		&orderedOrderID, &cart.Notes, &cart.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Cart{}, mapError(op, err)
	}

	cart.Status = domain.CartStatus(status)
	cart.CustomerID = customerID.String
	cart.Email = email.String
	cart.OrderedOrderID = orderedOrderID.String
	cart.CreatedAt = createdAt.UTC()
	cart.UpdatedAt = updatedAt.UTC()

	if err := decodeJSON(items, &cart.Items); err != nil {
		return domain.Cart{}, mapError(op, err)
	}
	if err := decodeJSON(shipAddr, &cart.ShippingAddress); err != nil {
		return domain.Cart{}, mapError(op, err)
	}
	if err := decodeJSON(billAddr, &cart.BillingAddress); err != nil {
		return domain.Cart{}, mapError(op, err)
	}
	if err := decodeJSON(shipLines, &cart.ShippingLines); err != nil {
		return domain.Cart{}, mapError(op, err)
	}
	if err := decodeJSON(taxLines, &cart.TaxLines); err != nil {
		return domain.Cart{}, mapError(op, err)
	}
	if err := decodeJSON(overrides, &cart.Overrides); err != nil {
		return domain.Cart{}, mapError(op, err)
	}
	if err := decodeJSON(totals, &cart.Totals); err != nil {
		return domain.Cart{}, mapError(op, err)
	}
	return cart, nil
}

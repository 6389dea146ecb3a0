package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
	"github.com/fieldline/commerce/internal/repositories"
)

type orderRepository struct {
	reg *Registry
}

const orderColumns = `id, number, token, status, financial_status, fulfillment_status,
customer_id, email, cart_token, subscription_token, currency,
shipping_address, billing_address, shipping_lines, tax_lines, overrides, totals,
payment_details, transaction_kind, processing_method,
cancelled, cancel_reason, cancelled_at, version, created_at, updated_at`

const orderItemColumns = `id, order_id, product_id, variant_id, sku, title, quantity, unit_price,
currency, properties, fulfillment_service, requires_shipping, requires_subscription,
subscription_unit, subscription_interval, exclude_payment_types, total_price,
fulfillment_id, fulfillment_status, created_at, updated_at`

// Insert persists the order row together with its line items.
func (r *orderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	args, err := orderArgs(order)
	if err != nil {
		return domain.Order{}, mapError("insert order", err)
	}

	order.Version = 1
	placeholders := make([]string, 0, 26)
	for i := 1; i <= 26; i++ {
		placeholders = append(placeholders, "$"+strconv.Itoa(i))
	}
	insertArgs := append([]any{order.ID, order.Number, order.Token, string(order.Status),
		string(order.FinancialStatus), string(order.FulfillmentStatus)}, args...)
	insertArgs = append(insertArgs, order.Version, order.CreatedAt, order.UpdatedAt)

	_, err = r.reg.runner(ctx).ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`) VALUES (`+strings.Join(placeholders, ", ")+`)`,
		insertArgs...,
	)
	if err != nil {
		return domain.Order{}, mapError("insert order", err)
	}

	for i := range order.Items {
		item := order.Items[i]
		item.OrderID = order.ID
		inserted, err := r.InsertItem(ctx, item)
		if err != nil {
			return domain.Order{}, err
		}
		order.Items[i] = inserted
	}
	return order, nil
}

// orderArgs builds the shared argument slice for the mutable order columns
// ($7 through $23 on insert).
func orderArgs(order domain.Order) ([]any, error) {
	shipAddr, err := encodeJSON(order.ShippingAddress)
	if err != nil {
		return nil, err
	}
	billAddr, err := encodeJSON(order.BillingAddress)
	if err != nil {
		return nil, err
	}
	shipLines, err := encodeJSON(order.ShippingLines)
	if err != nil {
		return nil, err
	}
	taxLines, err := encodeJSON(order.TaxLines)
	if err != nil {
		return nil, err
	}
	overrides, err := encodeJSON(order.Overrides)
	if err != nil {
		return nil, err
	}
	totals, err := encodeJSON(order.Totals)
	if err != nil {
		return nil, err
	}
	paymentDetails, err := encodeJSON(order.PaymentDetails)
	if err != nil {
		return nil, err
	}

	var cancelReason any
	if order.CancelReason != nil {
		cancelReason = string(*order.CancelReason)
	}
	var cancelledAt any
	if order.CancelledAt != nil {
		cancelledAt = order.CancelledAt.UTC()
	}

	return []any{
		order.CustomerID, order.Email, order.CartToken, order.SubscriptionToken, order.Currency,
		shipAddr, billAddr, shipLines, taxLines, overrides, totals,
		paymentDetails, string(order.TransactionKind), string(order.ProcessingMethod),
		order.Cancelled, cancelReason, cancelledAt,
	}, nil
}

func (r *orderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	row := r.reg.runner(ctx).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row, "find order")
	if err != nil {
		return domain.Order{}, err
	}
	return r.hydrate(ctx, order)
}

func (r *orderRepository) FindByToken(ctx context.Context, token string) (domain.Order, error) {
	row := r.reg.runner(ctx).QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE token = $1`, token)
	order, err := scanOrder(row, "find order by token")
	if err != nil {
		return domain.Order{}, err
	}
	return r.hydrate(ctx, order)
}

func (r *orderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.CustomerID != "" {
		where = append(where, "customer_id = "+arg(filter.CustomerID))
	}
	if filter.SubscriptionToken != "" {
		where = append(where, "subscription_token = "+arg(filter.SubscriptionToken))
	}
	if filter.FinancialStatus != nil {
		where = append(where, "financial_status = "+arg(string(*filter.FinancialStatus)))
	}
	if filter.Status != nil {
		where = append(where, "status = "+arg(string(*filter.Status)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	rows, err := r.reg.runner(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError("list orders", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrderRows(rows, "list orders")
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list orders", err)
	}

	for i := range orders {
		hydrated, err := r.hydrate(ctx, orders[i])
		if err != nil {
			return nil, err
		}
		orders[i] = hydrated
	}
	return orders, nil
}

func (r *orderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	args, err := orderArgs(order)
	if err != nil {
		return domain.Order{}, mapError("update order", err)
	}

	set := []string{
		"status = $1", "financial_status = $2", "fulfillment_status = $3",
		"customer_id = $4", "email = $5", "cart_token = $6", "subscription_token = $7", "currency = $8",
		"shipping_address = $9", "billing_address = $10", "shipping_lines = $11", "tax_lines = $12",
		"overrides = $13", "totals = $14", "payment_details = $15", "transaction_kind = $16",
		"processing_method = $17", "cancelled = $18", "cancel_reason = $19", "cancelled_at = $20",
		"version = version + 1", "updated_at = $21",
	}
	updateArgs := append([]any{string(order.Status), string(order.FinancialStatus), string(order.FulfillmentStatus)}, args...)
	updateArgs = append(updateArgs, order.UpdatedAt, order.ID, order.Version)

	res, err := r.reg.runner(ctx).ExecContext(ctx,
		`UPDATE orders SET `+strings.Join(set, ", ")+` WHERE id = $22 AND version = $23`,
		updateArgs...,
	)
	if err != nil {
		return domain.Order{}, mapError("update order", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, mapError("update order", err)
	}
	if affected == 0 {
		row := r.reg.runner(ctx).QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, order.ID)
		var id string
		if scanErr := row.Scan(&id); scanErr != nil {
			return domain.Order{}, mapError("update order", scanErr)
		}
		return domain.Order{}, conflictError("order", order.ID)
	}
	order.Version++
	return order, nil
}

func (r *orderRepository) InsertItem(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	properties, err := encodeJSON(item.Properties)
	if err != nil {
		return domain.OrderItem{}, mapError("insert order item", err)
	}
	excludes, err := encodeJSON(item.ExcludePaymentTypes)
	if err != nil {
		return domain.OrderItem{}, mapError("insert order item", err)
	}

	_, err = r.reg.runner(ctx).ExecContext(ctx, `
		INSERT INTO order_items (`+orderItemColumns+`)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15, $16, $17, NULLIF($18, ''), $19, $20, $21)`,
		item.ID, item.OrderID, item.ProductID, item.VariantID, item.SKU, item.Title,
		item.Quantity, item.UnitPrice, item.Currency, properties, item.FulfillmentService,
		item.RequiresShipping, item.RequiresSubscription, string(item.SubscriptionUnit),
		item.SubscriptionInterval, excludes, item.TotalPrice,
		item.FulfillmentID, string(item.FulfillmentStatus), item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return domain.OrderItem{}, mapError("insert order item", err)
	}
	return item, nil
}

func (r *orderRepository) UpdateItem(ctx context.Context, item domain.OrderItem) (domain.OrderItem, error) {
	properties, err := encodeJSON(item.Properties)
	if err != nil {
		return domain.OrderItem{}, mapError("update order item", err)
	}
	res, err := r.reg.runner(ctx).ExecContext(ctx, `
		UPDATE order_items SET
			quantity = $1, unit_price = $2, properties = $3, total_price = $4,
			fulfillment_id = NULLIF($5, ''), fulfillment_status = $6, updated_at = $7
		WHERE id = $8 AND order_id = $9`,
		item.Quantity, item.UnitPrice, properties, item.TotalPrice,
		item.FulfillmentID, string(item.FulfillmentStatus), item.UpdatedAt,
		item.ID, item.OrderID,
	)
	if err != nil {
		return domain.OrderItem{}, mapError("update order item", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.OrderItem{}, mapError("update order item", err)
	}
	if affected == 0 {
		return domain.OrderItem{}, notFoundError("order item", item.ID)
	}
	return item, nil
}

func (r *orderRepository) DeleteItem(ctx context.Context, orderID string, itemID string) error {
	res, err := r.reg.runner(ctx).ExecContext(ctx,
		`DELETE FROM order_items WHERE id = $1 AND order_id = $2`, itemID, orderID)
	if err != nil {
		return mapError("delete order item", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError("delete order item", err)
	}
	if affected == 0 {
		return notFoundError("order item", itemID)
	}
	return nil
}

// hydrate loads an order's children.
func (r *orderRepository) hydrate(ctx context.Context, order domain.Order) (domain.Order, error) {
	items, err := r.listItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	transactions, err := r.reg.transactions.ListByOrder(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Transactions = transactions

	fulfillments, err := r.reg.fulfillments.ListByOrder(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Fulfillments = fulfillments

	refunds, err := r.reg.refunds.ListByOrder(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Refunds = refunds

	return order, nil
}

func (r *orderRepository) listItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.reg.runner(ctx).QueryContext(ctx,
		`SELECT `+orderItemColumns+` FROM order_items WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, mapError("list order items", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var (
			item                        domain.OrderItem
			variantID, title            sql.NullString
			subscriptionUnit            sql.NullString
			fulfillmentID               sql.NullString
			fulfillmentStatus           string
			properties, excludes        []byte
			createdAt, updatedAt        time.Time
		)
		err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID, &variantID, &item.SKU, &title,
			&item.Quantity, &item.UnitPrice, &item.Currency, &properties, &item.FulfillmentService,
			&item.RequiresShipping, &item.RequiresSubscription, &subscriptionUnit,
			&item.SubscriptionInterval, &excludes, &item.TotalPrice,
			&fulfillmentID, &fulfillmentStatus, &createdAt, &updatedAt,
		)
		if err != nil {
			return nil, mapError("list order items", err)
		}
		item.VariantID = variantID.String
		item.Title = title.String
		item.SubscriptionUnit = domain.IntervalUnit(subscriptionUnit.String)
		item.FulfillmentID = fulfillmentID.String
		item.FulfillmentStatus = domain.FulfillmentStatus(fulfillmentStatus)
		item.CreatedAt = createdAt.UTC()
		item.UpdatedAt = updatedAt.UTC()
		if err := decodeJSON(properties, &item.Properties); err != nil {
			return nil, mapError("list order items", err)
		}
		if err := decodeJSON(excludes, &item.ExcludePaymentTypes); err != nil {
			return nil, mapError("list order items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list order items", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row *sql.Row, op string) (domain.Order, error) {
	return scanOrderFrom(row, op)
}

func scanOrderRows(rows *sql.Rows, op string) (domain.Order, error) {
	return scanOrderFrom(rows, op)
}

func scanOrderFrom(scanner rowScanner, op string) (domain.Order, error) {
	var (
		order                                  domain.Order
		status, financial, fulfillment         string
		customerID, email                      sql.NullString
		cartToken, subscriptionToken           sql.NullString
		transactionKind, processingMethod      sql.NullString
		cancelReason                           sql.NullString
		cancelledAt                            sql.NullTime
		shipAddr, billAddr                     []byte
		shipLines, taxLines, overrides, totals []byte
		paymentDetails                         []byte
		createdAt, updatedAt                   time.Time
	)
	err := scanner.Scan(
		&order.ID, &order.Number, &order.Token, &status, &financial, &fulfillment,
		&customerID, &email, &cartToken, &subscriptionToken, &order.Currency,
		&shipAddr, &billAddr, &shipLines, &taxLines, &overrides, &totals,
		&paymentDetails, &transactionKind, &processingMethod,
		&order.Cancelled, &cancelReason, &cancelledAt, &order.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Order{}, mapError(op, err)
	}

	order.Status = domain.OrderStatus(status)
	order.FinancialStatus = domain.FinancialStatus(financial)
	order.FulfillmentStatus = domain.FulfillmentStatus(fulfillment)
	order.CustomerID = customerID.String
	order.Email = email.String
	order.CartToken = cartToken.String
	order.SubscriptionToken = subscriptionToken.String
	order.TransactionKind = domain.TransactionKind(transactionKind.String)
	order.ProcessingMethod = domain.ProcessingMethod(processingMethod.String)
	order.CreatedAt = createdAt.UTC()
	order.UpdatedAt = updatedAt.UTC()

	if cancelReason.Valid {
		reason := domain.CancelReason(cancelReason.String)
		order.CancelReason = &reason
	}
	if cancelledAt.Valid {
		ts := cancelledAt.Time.UTC()
		order.CancelledAt = &ts
	}

	if err := decodeJSON(shipAddr, &order.ShippingAddress); err != nil {
		return domain.Order{}, mapError(op, err)
	}
	if err := decodeJSON(billAddr, &order.BillingAddress); err != nil {
		return domain.Order{}, mapError(op, err)
	}
	if err := decodeJSON(shipLines, &order.ShippingLines); err != nil {
		return domain.Order{}, mapError(op, err)
	}
	if err := decodeJSON(taxLines, &order.TaxLines); err != nil {
		return domain.Order{}, mapError(op, err)
	}
	if err := decodeJSON(overrides, &order.Overrides); err != nil {
		return domain.Order{}, mapError(op, err)
	}
	if err := decodeJSON(totals, &order.Totals); err != nil {
		return domain.Order{}, mapError(op, err)
	}
	if err := decodeJSON(paymentDetails, &order.PaymentDetails); err != nil {
		return domain.Order{}, mapError(op, err)
	}
	return order, nil
}

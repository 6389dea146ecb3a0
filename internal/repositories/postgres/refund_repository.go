package postgres

import (
	"context"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
)

type refundRepository struct {
	reg *Registry
}

func (r *refundRepository) Insert(ctx context.Context, refund domain.Refund) (domain.Refund, error) {
	_, err := r.reg.runner(ctx).ExecContext(ctx, `
		INSERT INTO refunds (id, order_id, transaction_id, amount, restock, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		refund.ID, refund.OrderID, refund.TransactionID, refund.Amount, refund.Restock, refund.CreatedAt,
	)
	if err != nil {
		return domain.Refund{}, mapError("insert refund", err)
	}
	return refund, nil
}

func (r *refundRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Refund, error) {
	rows, err := r.reg.runner(ctx).QueryContext(ctx, `
		SELECT id, order_id, transaction_id, amount, restock, created_at
		FROM refunds WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, mapError("list refunds", err)
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		var (
			refund    domain.Refund
			createdAt time.Time
		)
		err := rows.Scan(&refund.ID, &refund.OrderID, &refund.TransactionID,
			&refund.Amount, &refund.Restock, &createdAt)
		if err != nil {
			return nil, mapError("list refunds", err)
		}
		refund.CreatedAt = createdAt.UTC()
		refunds = append(refunds, refund)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list refunds", err)
	}
	return refunds, nil
}

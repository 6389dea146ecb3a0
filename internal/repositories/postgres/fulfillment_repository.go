package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
)

type fulfillmentRepository struct {
	reg *Registry
}

const fulfillmentColumns = `id, order_id, service, status, total_items, total_pending,
total_sent, total_cancelled, tracking_number, created_at, updated_at`

func (r *fulfillmentRepository) Insert(ctx context.Context, fulfillment domain.Fulfillment) (domain.Fulfillment, error) {
	_, err := r.reg.runner(ctx).ExecContext(ctx, `
		INSERT INTO fulfillments (`+fulfillmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)`,
		fulfillment.ID, fulfillment.OrderID, fulfillment.Service, string(fulfillment.Status),
		fulfillment.TotalItems, fulfillment.TotalPending, fulfillment.TotalSent,
		fulfillment.TotalCancelled, fulfillment.TrackingNumber,
		fulfillment.CreatedAt, fulfillment.UpdatedAt,
	)
	if err != nil {
		return domain.Fulfillment{}, mapError("insert fulfillment", err)
	}
	return fulfillment, nil
}

func (r *fulfillmentRepository) FindByID(ctx context.Context, fulfillmentID string) (domain.Fulfillment, error) {
	row := r.reg.runner(ctx).QueryRowContext(ctx,
		`SELECT `+fulfillmentColumns+` FROM fulfillments WHERE id = $1`, fulfillmentID)
	return scanFulfillment(row, "find fulfillment")
}

func (r *fulfillmentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Fulfillment, error) {
	rows, err := r.reg.runner(ctx).QueryContext(ctx,
		`SELECT `+fulfillmentColumns+` FROM fulfillments WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, mapError("list fulfillments", err)
	}
	defer rows.Close()

	var fulfillments []domain.Fulfillment
	for rows.Next() {
		fulfillment, err := scanFulfillment(rows, "list fulfillments")
		if err != nil {
			return nil, err
		}
		fulfillments = append(fulfillments, fulfillment)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list fulfillments", err)
	}
	return fulfillments, nil
}

func (r *fulfillmentRepository) Update(ctx context.Context, fulfillment domain.Fulfillment) (domain.Fulfillment, error) {
	res, err := r.reg.runner(ctx).ExecContext(ctx, `
		UPDATE fulfillments SET
			status = $1, total_items = $2, total_pending = $3, total_sent = $4,
			total_cancelled = $5, tracking_number = NULLIF($6, ''), updated_at = $7
		WHERE id = $8`,
		string(fulfillment.Status), fulfillment.TotalItems, fulfillment.TotalPending,
		fulfillment.TotalSent, fulfillment.TotalCancelled, fulfillment.TrackingNumber,
		fulfillment.UpdatedAt, fulfillment.ID,
	)
	if err != nil {
		return domain.Fulfillment{}, mapError("update fulfillment", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Fulfillment{}, mapError("update fulfillment", err)
	}
	if affected == 0 {
		return domain.Fulfillment{}, notFoundError("fulfillment", fulfillment.ID)
	}
	return fulfillment, nil
}

func scanFulfillment(scanner rowScanner, op string) (domain.Fulfillment, error) {
	var (
		fulfillment          domain.Fulfillment
		status               string
		trackingNumber       sql.NullString
		createdAt, updatedAt time.Time
	)
	err := scanner.Scan(
		&fulfillment.ID, &fulfillment.OrderID, &fulfillment.Service, &status,
		&fulfillment.TotalItems, &fulfillment.TotalPending, &fulfillment.TotalSent,
		&fulfillment.TotalCancelled, &trackingNumber, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Fulfillment{}, mapError(op, err)
	}
	fulfillment.Status = domain.FulfillmentStatus(status)
	fulfillment.TrackingNumber = trackingNumber.String
	fulfillment.CreatedAt = createdAt.UTC()
	fulfillment.UpdatedAt = updatedAt.UTC()
	return fulfillment, nil
}

package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
	"github.com/fieldline/commerce/internal/repositories"
)

type subscriptionRepository struct {
	reg *Registry
}

const subscriptionColumns = `id, token, customer_id, email, currency, original_order_id,
last_order_id, line_items, renew_unit, renew_interval, renews_on, renew_retry_at,
total_renewal_attempts, notice_sent, active, cancelled, cancel_reason, cancelled_at,
total_price, version, created_at, updated_at`

func (r *subscriptionRepository) Insert(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	args, err := subscriptionArgs(sub)
	if err != nil {
		return domain.Subscription{}, mapError("insert subscription", err)
	}

	sub.Version = 1
	insertArgs := append([]any{sub.ID, sub.Token, sub.CustomerID, sub.Email, sub.Currency,
		sub.OriginalOrderID}, args...)
	insertArgs = append(insertArgs, sub.Version, sub.CreatedAt, sub.UpdatedAt)

	_, err = r.reg.runner(ctx).ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`,
		insertArgs...,
	)
	if err != nil {
		return domain.Subscription{}, mapError("insert subscription", err)
	}
	return sub, nil
}

// subscriptionArgs builds the mutable column values ($7 through $19 on insert).
func subscriptionArgs(sub domain.Subscription) ([]any, error) {
	lineItems, err := encodeJSON(sub.Items)
	if err != nil {
		return nil, err
	}
	var retryAt any
	if sub.RenewRetryAt != nil {
		retryAt = sub.RenewRetryAt.UTC()
	}
	var cancelReason any
	if sub.CancelReason != nil {
		cancelReason = string(*sub.CancelReason)
	}
	var cancelledAt any
	if sub.CancelledAt != nil {
		cancelledAt = sub.CancelledAt.UTC()
	}
	return []any{
		sub.LastOrderID, lineItems, string(sub.Unit), sub.Interval, sub.RenewsOn.UTC(), retryAt,
		sub.TotalRenewalAttempts, sub.NoticeSent, sub.Active, sub.Cancelled, cancelReason, cancelledAt,
		sub.TotalPrice,
	}, nil
}

func (r *subscriptionRepository) FindByID(ctx context.Context, subID string) (domain.Subscription, error) {
	row := r.reg.runner(ctx).QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, subID)
	return scanSubscription(row, "find subscription")
}

func (r *subscriptionRepository) FindByToken(ctx context.Context, token string) (domain.Subscription, error) {
	row := r.reg.runner(ctx).QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE token = $1`, token)
	return scanSubscription(row, "find subscription by token")
}

func (r *subscriptionRepository) Update(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	args, err := subscriptionArgs(sub)
	if err != nil {
		return domain.Subscription{}, mapError("update subscription", err)
	}
	updateArgs := append(args, sub.UpdatedAt, sub.ID, sub.Version)

	res, err := r.reg.runner(ctx).ExecContext(ctx, `
		UPDATE subscriptions SET
			last_order_id = NULLIF($1, ''), line_items = $2, renew_unit = $3, renew_interval = $4,
			renews_on = $5, renew_retry_at = $6, total_renewal_attempts = $7, notice_sent = $8,
			active = $9, cancelled = $10, cancel_reason = $11, cancelled_at = $12, total_price = $13,
			version = version + 1, updated_at = $14
		WHERE id = $15 AND version = $16`,
		updateArgs...,
	)
	if err != nil {
		return domain.Subscription{}, mapError("update subscription", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Subscription{}, mapError("update subscription", err)
	}
	if affected == 0 {
		row := r.reg.runner(ctx).QueryRowContext(ctx, `SELECT id FROM subscriptions WHERE id = $1`, sub.ID)
		var id string
		if scanErr := row.Scan(&id); scanErr != nil {
			return domain.Subscription{}, mapError("update subscription", scanErr)
		}
		return domain.Subscription{}, conflictError("subscription", sub.ID)
	}
	sub.Version++
	return sub, nil
}

func (r *subscriptionRepository) ListDueForRenewal(ctx context.Context, window repositories.RenewalWindow, limit int) ([]domain.Subscription, error) {
	return r.list(ctx, "list renewals due", `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE active AND NOT cancelled
		  AND total_renewal_attempts = 0
		  AND renews_on >= $1 AND renews_on <= $2
		ORDER BY renews_on, id LIMIT $3`,
		window.Start.UTC(), window.End.UTC(), limit)
}

func (r *subscriptionRepository) ListDueForRetry(ctx context.Context, before time.Time, maxAttempts int, limit int) ([]domain.Subscription, error) {
	return r.list(ctx, "list retries due", `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE active AND NOT cancelled
		  AND total_renewal_attempts > 0 AND total_renewal_attempts < $1
		  AND (renew_retry_at IS NULL OR renew_retry_at <= $2)
		ORDER BY renews_on, id LIMIT $3`,
		maxAttempts, before.UTC(), limit)
}

func (r *subscriptionRepository) ListDueForCancel(ctx context.Context, cutoff time.Time, maxAttempts int, limit int) ([]domain.Subscription, error) {
	return r.list(ctx, "list cancellations due", `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE NOT cancelled
		  AND (total_renewal_attempts >= $1 OR NOT active)
		  AND renews_on <= $2
		ORDER BY renews_on, id LIMIT $3`,
		maxAttempts, cutoff.UTC(), limit)
}

func (r *subscriptionRepository) ListDueForNotice(ctx context.Context, window repositories.RenewalWindow, limit int) ([]domain.Subscription, error) {
	return r.list(ctx, "list notices due", `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE active AND NOT cancelled AND NOT notice_sent
		  AND renews_on >= $1 AND renews_on <= $2
		ORDER BY renews_on, id LIMIT $3`,
		window.Start.UTC(), window.End.UTC(), limit)
}

func (r *subscriptionRepository) list(ctx context.Context, op string, query string, args ...any) ([]domain.Subscription, error) {
	rows, err := r.reg.runner(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows, op)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return subs, nil
}

func scanSubscription(scanner rowScanner, op string) (domain.Subscription, error) {
	var (
		sub                    domain.Subscription
		lastOrderID            sql.NullString
		lineItems              []byte
		unit                   string
		renewsOn               time.Time
		retryAt, cancelledAt   sql.NullTime
		cancelReason           sql.NullString
		createdAt, updatedAt   time.Time
	)
	err := scanner.Scan(
		&sub.ID, &sub.Token, &sub.CustomerID, &sub.Email, &sub.Currency, &sub.OriginalOrderID,
		&lastOrderID, &lineItems, &unit, &sub.Interval, &renewsOn, &retryAt,
		&sub.TotalRenewalAttempts, &sub.NoticeSent, &sub.Active, &sub.Cancelled,
		&cancelReason, &cancelledAt, &sub.TotalPrice, &sub.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Subscription{}, mapError(op, err)
	}
	sub.LastOrderID = lastOrderID.String
	sub.Unit = domain.IntervalUnit(unit)
	sub.RenewsOn = renewsOn.UTC()
	sub.CreatedAt = createdAt.UTC()
	sub.UpdatedAt = updatedAt.UTC()
	if retryAt.Valid {
		ts := retryAt.Time.UTC()
		sub.RenewRetryAt = &ts
	}
	if cancelReason.Valid {
		reason := domain.CancelReason(cancelReason.String)
		sub.CancelReason = &reason
	}
	if cancelledAt.Valid {
		ts := cancelledAt.Time.UTC()
		sub.CancelledAt = &ts
	}
	if err := decodeJSON(lineItems, &sub.Items); err != nil {
		return domain.Subscription{}, mapError(op, err)
	}
	return sub, nil
}

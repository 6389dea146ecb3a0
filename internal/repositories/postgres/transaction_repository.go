package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/fieldline/commerce/internal/domain"
)

type transactionRepository struct {
	reg *Registry
}

const transactionColumns = `id, order_id, kind, status, amount, currency, gateway,
reference, error_code, description, created_at, updated_at`

func (r *transactionRepository) Insert(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	_, err := r.reg.runner(ctx).ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12)`,
		txn.ID, txn.OrderID, string(txn.Kind), string(txn.Status), txn.Amount, txn.Currency,
		txn.Gateway, txn.Reference, txn.ErrorCode, txn.Description, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		return domain.Transaction{}, mapError("insert transaction", err)
	}
	return txn, nil
}

func (r *transactionRepository) FindByID(ctx context.Context, transactionID string) (domain.Transaction, error) {
	row := r.reg.runner(ctx).QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, transactionID)
	return scanTransaction(row, "find transaction")
}

func (r *transactionRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	rows, err := r.reg.runner(ctx).QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, mapError("list transactions", err)
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows, "list transactions")
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list transactions", err)
	}
	return transactions, nil
}

func (r *transactionRepository) Update(ctx context.Context, txn domain.Transaction) (domain.Transaction, error) {
	res, err := r.reg.runner(ctx).ExecContext(ctx, `
		UPDATE transactions SET
			status = $1, amount = $2, reference = NULLIF($3, ''), error_code = NULLIF($4, ''),
			description = NULLIF($5, ''), updated_at = $6
		WHERE id = $7`,
		string(txn.Status), txn.Amount, txn.Reference, txn.ErrorCode, txn.Description,
		txn.UpdatedAt, txn.ID,
	)
	if err != nil {
		return domain.Transaction{}, mapError("update transaction", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Transaction{}, mapError("update transaction", err)
	}
	if affected == 0 {
		return domain.Transaction{}, notFoundError("transaction", txn.ID)
	}
	return txn, nil
}

func scanTransaction(scanner rowScanner, op string) (domain.Transaction, error) {
	var (
		txn                              domain.Transaction
		kind, status                     string
		reference, errorCode, description sql.NullString
		createdAt, updatedAt             time.Time
	)
	err := scanner.Scan(
		&txn.ID, &txn.OrderID, &kind, &status, &txn.Amount, &txn.Currency, &txn.Gateway,
		&reference, &errorCode, &description, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Transaction{}, mapError(op, err)
	}
	txn.Kind = domain.TransactionKind(kind)
	txn.Status = domain.TransactionStatus(status)
	txn.Reference = reference.String
	txn.ErrorCode = errorCode.String
	txn.Description = description.String
	txn.CreatedAt = createdAt.UTC()
	txn.UpdatedAt = updatedAt.UTC()
	return txn, nil
}

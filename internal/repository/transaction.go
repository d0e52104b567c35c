package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"uticoins/internal/model"
)

// TransactionRepository appends to and reads the per-user ledger. Rows are
// never updated or deleted.
type TransactionRepository struct {
	db DBTX
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, user_id, amount, type, description, created_at`

// Append records one balance change.
func (r *TransactionRepository) Append(ctx context.Context, userID, amount int64, txType, description string) (*model.Transaction, error) {
	var desc *string
	if description != "" {
		desc = &description
	}
	rows, _ := r.db.Query(ctx, `
		INSERT INTO transactions (user_id, amount, type, description)
		VALUES ($1, $2, $3, $4)
		RETURNING `+transactionColumns, userID, amount, txType, desc)

	entry, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.Transaction])
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return entry, nil
}

// Recent returns up to limit entries for userID, newest first.
func (r *TransactionRepository) Recent(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	rows, _ := r.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)

	entries, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Transaction])
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

// Sum totals userID's ledger. It always equals the stored balance.
func (r *TransactionRepository) Sum(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = $1`, userID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum ledger: %w", err)
	}
	return sum, nil
}

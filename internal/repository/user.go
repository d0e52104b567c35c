package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"uticoins/internal/model"
)

// UserRepository owns the users table and its balance column.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository instance.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, balance, created_at, updated_at`

func collectUser(rows pgx.Rows) (*model.User, error) {
	return pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[model.User])
}

// Ensure creates the user with a zero balance if it does not exist yet. A
// non-empty username replaces the stored one.
func (r *UserRepository) Ensure(ctx context.Context, userID int64, username string) (*model.User, error) {
	rows, _ := r.db.Query(ctx, `
		INSERT INTO users (id, username)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET username = COALESCE(NULLIF(EXCLUDED.username, ''), users.username),
		    updated_at = CASE
		        WHEN EXCLUDED.username NOT IN ('', users.username) THEN NOW()
		        ELSE users.updated_at
		    END
		RETURNING `+userColumns, userID, username)

	user, err := collectUser(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user %d: %w", userID, err)
	}
	return user, nil
}

// Get returns ErrUserNotFound for unknown users.
func (r *UserRepository) Get(ctx context.Context, userID int64) (*model.User, error) {
	rows, _ := r.db.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)

	user, err := collectUser(rows)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return user, nil
}

// AddBalance applies delta and returns the new balance. The schema rejects
// a negative result.
func (r *UserRepository) AddBalance(ctx context.Context, userID, delta int64) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `
		UPDATE users SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING balance`, userID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update balance of user %d: %w", userID, err)
	}
	return balance, nil
}

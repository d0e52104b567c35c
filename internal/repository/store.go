// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"uticoins/internal/model"
)

// Common errors for repository operations.
var (
	ErrUserNotFound   = errors.New("user not found")
	ErrCodeNotFound   = errors.New("daily code not found")
	ErrClaimNotFound  = errors.New("claim not found")
	ErrDuplicateClaim = errors.New("claim already recorded for this date")
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, so repositories can run
// inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the ledger persistence used by the reward service.
type Store interface {
	CodeForDate(ctx context.Context, date time.Time) (*model.DailyCode, error)
	// CreateCode stores code unless one already exists for its date, and
	// returns whichever code is stored.
	CreateCode(ctx context.Context, code *model.DailyCode) (*model.DailyCode, error)

	EnsureUser(ctx context.Context, userID int64, username string) (*model.User, error)
	User(ctx context.Context, userID int64) (*model.User, error)
	Transactions(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error)

	StreakState(ctx context.Context, userID int64) (*model.UserStreakState, error)
	ClaimForDate(ctx context.Context, userID int64, date time.Time) (*model.ClaimRecord, error)
	ClaimsSince(ctx context.Context, userID int64, since time.Time) ([]model.ClaimRecord, error)

	// ResetBrokenStreaks zeroes every streak whose last claimed date is
	// before lastIntact.
	ResetBrokenStreaks(ctx context.Context, lastIntact time.Time) (int64, error)
	// PruneClaims deletes claims dated before cutoff that are not part of
	// their user's current streak.
	PruneClaims(ctx context.Context, cutoff time.Time) (int64, error)

	// WithUserTx runs fn with exclusive access to userID's ledger rows. All
	// writes made through the Tx are committed together when fn returns nil
	// and discarded otherwise.
	WithUserTx(ctx context.Context, userID int64, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
}

// Tx is a unit of work bound to one user.
type Tx interface {
	ClaimForDate(ctx context.Context, date time.Time) (*model.ClaimRecord, error)
	ClaimsSince(ctx context.Context, since time.Time) ([]model.ClaimRecord, error)
	StreakState(ctx context.Context) (*model.UserStreakState, error)
	InsertClaim(ctx context.Context, rec *model.ClaimRecord) error
	Credit(ctx context.Context, amount int64, txType, description string) (int64, error)
	SaveStreakState(ctx context.Context, st *model.UserStreakState) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"uticoins/internal/model"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool    *pgxpool.Pool
	users   *UserRepository
	txs     *TransactionRepository
	codes   *CodeRepository
	claims  *ClaimRepository
	streaks *StreakRepository
}

// NewPostgresStore creates a Store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		users:   NewUserRepository(pool),
		txs:     NewTransactionRepository(pool),
		codes:   NewCodeRepository(pool),
		claims:  NewClaimRepository(pool),
		streaks: NewStreakRepository(pool),
	}
}

func (s *PostgresStore) CodeForDate(ctx context.Context, date time.Time) (*model.DailyCode, error) {
	return s.codes.GetByDate(ctx, date)
}

func (s *PostgresStore) CreateCode(ctx context.Context, code *model.DailyCode) (*model.DailyCode, error) {
	return s.codes.Create(ctx, code)
}

func (s *PostgresStore) EnsureUser(ctx context.Context, userID int64, username string) (*model.User, error) {
	return s.users.Ensure(ctx, userID, username)
}

func (s *PostgresStore) User(ctx context.Context, userID int64) (*model.User, error) {
	return s.users.Get(ctx, userID)
}

func (s *PostgresStore) Transactions(ctx context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	return s.txs.Recent(ctx, userID, limit)
}

func (s *PostgresStore) StreakState(ctx context.Context, userID int64) (*model.UserStreakState, error) {
	return s.streaks.Get(ctx, userID)
}

func (s *PostgresStore) ClaimForDate(ctx context.Context, userID int64, date time.Time) (*model.ClaimRecord, error) {
	return s.claims.GetByUserAndDate(ctx, userID, date)
}

func (s *PostgresStore) ClaimsSince(ctx context.Context, userID int64, since time.Time) ([]model.ClaimRecord, error) {
	return s.claims.ListSince(ctx, userID, since)
}

func (s *PostgresStore) ResetBrokenStreaks(ctx context.Context, lastIntact time.Time) (int64, error) {
	return s.streaks.ResetBroken(ctx, lastIntact)
}

func (s *PostgresStore) PruneClaims(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.claims.Prune(ctx, cutoff)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithUserTx opens a transaction, makes sure the user rows exist and locks
// the user's streak row before calling fn.
func (s *PostgresStore) WithUserTx(ctx context.Context, userID int64, fn func(tx Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	ptx := &pgUserTx{
		userID:  userID,
		users:   NewUserRepository(tx),
		txs:     NewTransactionRepository(tx),
		claims:  NewClaimRepository(tx),
		streaks: NewStreakRepository(tx),
	}
	if _, err = ptx.users.Ensure(ctx, userID, ""); err != nil {
		return err
	}
	if ptx.state, err = ptx.streaks.GetForUpdate(ctx, userID); err != nil {
		return err
	}

	if err = fn(ptx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateClaim
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// pgUserTx is a Tx inside a pgx transaction holding the user's row lock.
type pgUserTx struct {
	userID  int64
	state   *model.UserStreakState
	users   *UserRepository
	txs     *TransactionRepository
	claims  *ClaimRepository
	streaks *StreakRepository
}

func (t *pgUserTx) ClaimForDate(ctx context.Context, date time.Time) (*model.ClaimRecord, error) {
	return t.claims.GetByUserAndDate(ctx, t.userID, date)
}

func (t *pgUserTx) ClaimsSince(ctx context.Context, since time.Time) ([]model.ClaimRecord, error) {
	return t.claims.ListSince(ctx, t.userID, since)
}

func (t *pgUserTx) StreakState(ctx context.Context) (*model.UserStreakState, error) {
	st := *t.state
	return &st, nil
}

func (t *pgUserTx) InsertClaim(ctx context.Context, rec *model.ClaimRecord) error {
	rec.UserID = t.userID
	return t.claims.Insert(ctx, rec)
}

func (t *pgUserTx) Credit(ctx context.Context, amount int64, txType, description string) (int64, error) {
	balance, err := t.users.AddBalance(ctx, t.userID, amount)
	if err != nil {
		return 0, err
	}
	if _, err := t.txs.Append(ctx, t.userID, amount, txType, description); err != nil {
		return 0, err
	}
	return balance, nil
}

func (t *pgUserTx) SaveStreakState(ctx context.Context, st *model.UserStreakState) error {
	st.UserID = t.userID
	if err := t.streaks.Save(ctx, st); err != nil {
		return err
	}
	saved := *st
	t.state = &saved
	return nil
}

package repository

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"uticoins/internal/model"
	"uticoins/internal/pkg/db"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// setupTestDB starts PostgreSQL, applies the embedded migrations and returns
// a pool. Skips the test if Docker is not available.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgContainer.Terminate(ctx) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, db.RunMigrations(connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

var testDate = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func testCode(date time.Time) *model.DailyCode {
	issued := date.Add(23 * time.Hour) // 20:00 BRT
	return &model.DailyCode{
		Code:             "123456",
		Date:             date,
		IssuedAt:         issued,
		ClaimDeadline:    issued.Add(23 * time.Hour),
		StreakValidUntil: issued.Add(24 * time.Hour),
	}
}

func TestUserRepository_EnsureAndBalance(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepository(pool)
	ctx := context.Background()

	user, err := repo.Ensure(ctx, 12345, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(12345), user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.Equal(t, int64(0), user.Balance)

	// empty username keeps the stored one
	user, err = repo.Ensure(ctx, 12345, "")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	balance, err := repo.AddBalance(ctx, 12345, 70)
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)

	// balance >= 0 is a table constraint
	_, err = repo.AddBalance(ctx, 12345, -71)
	assert.Error(t, err)

	_, err = repo.AddBalance(ctx, 99999, 10)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = repo.Get(ctx, 99999)
	assert.ErrorIs(t, err, ErrUserNotFound)

	user, err = repo.Get(ctx, 12345)
	require.NoError(t, err)
	assert.Equal(t, int64(70), user.Balance)
}

func TestCodeRepository_OnePerDate(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewCodeRepository(pool)
	ctx := context.Background()

	_, err := repo.GetByDate(ctx, testDate)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	first, err := repo.Create(ctx, testCode(testDate))
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.Equal(t, testDate, first.Date)

	other := testCode(testDate)
	other.Code = "999999"
	second, err := repo.Create(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "123456", second.Code)

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, latest.ID)
}

func TestCodeRepository_RejectsOutOfOrderWindow(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewCodeRepository(pool)

	bad := testCode(testDate)
	bad.ClaimDeadline = bad.StreakValidUntil.Add(time.Hour)
	_, err := repo.Create(context.Background(), bad)
	assert.Error(t, err)
}

func TestPostgresStore_ClaimTransaction(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()

	code, err := store.CreateCode(ctx, testCode(testDate))
	require.NoError(t, err)

	claimedAt := code.IssuedAt.Add(time.Hour)
	err = store.WithUserTx(ctx, 7, func(tx Tx) error {
		_, err := tx.ClaimForDate(ctx, testDate)
		require.ErrorIs(t, err, ErrClaimNotFound)

		balance, err := tx.Credit(ctx, 30, model.TxTypeDailyCode, "daily code")
		if err != nil {
			return err
		}
		rec := &model.ClaimRecord{
			CodeID: code.ID, CodeDate: testDate, ClaimedAt: claimedAt,
			IssuedAt: code.IssuedAt, StreakValidUntil: code.StreakValidUntil,
			Result: model.ClaimResult{CodeDate: testDate, AmountAwarded: 30, NewStreakCount: 1, Balance: balance},
		}
		if err := tx.InsertClaim(ctx, rec); err != nil {
			return err
		}
		return tx.SaveStreakState(ctx, &model.UserStreakState{
			StreakCount: 1, LongestStreak: 1, TotalClaims: 1, LastClaimAt: &claimedAt, LastClaimDate: &testDate,
		})
	})
	require.NoError(t, err)

	rec, err := store.ClaimForDate(ctx, 7, testDate)
	require.NoError(t, err)
	assert.Equal(t, int64(30), rec.Result.AmountAwarded)
	assert.Equal(t, int64(30), rec.Result.Balance)
	assert.Equal(t, testDate, rec.CodeDate)

	st, err := store.StreakState(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, st.StreakCount)
	require.NotNil(t, st.LastClaimDate)
	assert.Equal(t, testDate, *st.LastClaimDate)

	txs, err := store.Transactions(ctx, 7, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxTypeDailyCode, txs[0].Type)

	sum, err := NewTransactionRepository(pool).Sum(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(30), sum)
}

func TestPostgresStore_RollbackOnError(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()

	err := store.WithUserTx(ctx, 8, func(tx Tx) error {
		if _, err := tx.Credit(ctx, 50, model.TxTypeDailyCode, "x"); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	user, err := store.User(ctx, 8)
	if err == nil {
		assert.Equal(t, int64(0), user.Balance)
	} else {
		assert.ErrorIs(t, err, ErrUserNotFound)
	}
	txs, err := store.Transactions(ctx, 8, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestPostgresStore_DuplicateClaimRejected(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()

	code, err := store.CreateCode(ctx, testCode(testDate))
	require.NoError(t, err)

	insert := func() error {
		return store.WithUserTx(ctx, 9, func(tx Tx) error {
			return tx.InsertClaim(ctx, &model.ClaimRecord{
				CodeID: code.ID, CodeDate: testDate, ClaimedAt: code.IssuedAt,
				IssuedAt: code.IssuedAt, StreakValidUntil: code.StreakValidUntil,
			})
		})
	}
	require.NoError(t, insert())
	assert.ErrorIs(t, insert(), ErrDuplicateClaim)
}

func TestPostgresStore_UserTxSerializes(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			err := store.WithUserTx(ctx, 10, func(tx Tx) error {
				st, err := tx.StreakState(ctx)
				if err != nil {
					return err
				}
				st.TotalClaims++
				return tx.SaveStreakState(ctx, st)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := store.StreakState(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, workers, st.TotalClaims, "row lock must serialize read-modify-write")
}

func TestPostgresStore_ResetAndPrune(t *testing.T) {
	pool := setupTestDB(t)
	store := NewPostgresStore(pool)
	ctx := context.Background()

	day := func(n int) time.Time { return testDate.AddDate(0, 0, n) }

	// user 1: run of 3 ending on day 0, plus an old claim on day -10
	// user 2: last claim on day -3
	for _, c := range []struct {
		user int64
		day  int
	}{{1, -10}, {1, -2}, {1, -1}, {1, 0}, {2, -3}} {
		code, err := store.CreateCode(ctx, testCode(day(c.day)))
		require.NoError(t, err)
		err = store.WithUserTx(ctx, c.user, func(tx Tx) error {
			return tx.InsertClaim(ctx, &model.ClaimRecord{
				CodeID: code.ID, CodeDate: code.Date, ClaimedAt: code.IssuedAt,
				IssuedAt: code.IssuedAt, StreakValidUntil: code.StreakValidUntil,
			})
		})
		require.NoError(t, err)
	}
	d0, dm3 := day(0), day(-3)
	require.NoError(t, store.WithUserTx(ctx, 1, func(tx Tx) error {
		return tx.SaveStreakState(ctx, &model.UserStreakState{StreakCount: 3, LongestStreak: 3, LastClaimDate: &d0})
	}))
	require.NoError(t, store.WithUserTx(ctx, 2, func(tx Tx) error {
		return tx.SaveStreakState(ctx, &model.UserStreakState{StreakCount: 1, LongestStreak: 1, LastClaimDate: &dm3})
	}))

	n, err := store.ResetBrokenStreaks(ctx, day(0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err := store.StreakState(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, st.StreakCount)
	assert.Equal(t, 1, st.LongestStreak)

	// cutoff after the whole history: only user 1's current run survives
	n, err = store.PruneClaims(ctx, day(1))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := store.ClaimsSince(ctx, 1, day(-30))
	require.NoError(t, err)
	require.Len(t, left, 3)
	assert.Equal(t, day(0), left[0].CodeDate)
	assert.Equal(t, day(-2), left[2].CodeDate)
}

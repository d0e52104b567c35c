package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"uticoins/internal/model"
)

// StreakRepository persists the per-user streak projection.
type StreakRepository struct {
	db DBTX
}

// NewStreakRepository creates a new StreakRepository instance.
func NewStreakRepository(db DBTX) *StreakRepository {
	return &StreakRepository{db: db}
}

const streakColumns = `user_id, streak_count, longest_streak, total_claims, last_claim_at, last_claim_date, updated_at`

func scanStreak(row pgx.Row) (*model.UserStreakState, error) {
	var st model.UserStreakState
	err := row.Scan(&st.UserID, &st.StreakCount, &st.LongestStreak, &st.TotalClaims,
		&st.LastClaimAt, &st.LastClaimDate, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if st.LastClaimDate != nil {
		d := st.LastClaimDate.UTC()
		st.LastClaimDate = &d
	}
	return &st, nil
}

// Get returns the stored state, or a zero state when the user never claimed.
func (r *StreakRepository) Get(ctx context.Context, userID int64) (*model.UserStreakState, error) {
	query := `SELECT ` + streakColumns + ` FROM user_streaks WHERE user_id = $1`
	return r.get(ctx, query, userID)
}

// GetForUpdate creates the row if needed and locks it until the surrounding
// transaction ends.
func (r *StreakRepository) GetForUpdate(ctx context.Context, userID int64) (*model.UserStreakState, error) {
	const ensure = `INSERT INTO user_streaks (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.db.Exec(ctx, ensure, userID); err != nil {
		return nil, fmt.Errorf("failed to create streak state: %w", err)
	}

	query := `SELECT ` + streakColumns + ` FROM user_streaks WHERE user_id = $1 FOR UPDATE`
	return r.get(ctx, query, userID)
}

func (r *StreakRepository) get(ctx context.Context, query string, userID int64) (*model.UserStreakState, error) {
	st, err := scanStreak(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.UserStreakState{UserID: userID}, nil
		}
		return nil, fmt.Errorf("failed to get streak state: %w", err)
	}
	return st, nil
}

// Save writes the state.
func (r *StreakRepository) Save(ctx context.Context, st *model.UserStreakState) error {
	const query = `
		INSERT INTO user_streaks (user_id, streak_count, longest_streak, total_claims, last_claim_at, last_claim_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET streak_count = EXCLUDED.streak_count,
		    longest_streak = EXCLUDED.longest_streak,
		    total_claims = EXCLUDED.total_claims,
		    last_claim_at = EXCLUDED.last_claim_at,
		    last_claim_date = EXCLUDED.last_claim_date,
		    updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query, st.UserID, st.StreakCount, st.LongestStreak, st.TotalClaims,
		st.LastClaimAt, st.LastClaimDate)
	if err != nil {
		return fmt.Errorf("failed to save streak state: %w", err)
	}
	return nil
}

// ResetBroken zeroes the streak of every user whose last claimed date is
// before lastIntact.
func (r *StreakRepository) ResetBroken(ctx context.Context, lastIntact time.Time) (int64, error) {
	const query = `
		UPDATE user_streaks
		SET streak_count = 0, updated_at = NOW()
		WHERE streak_count > 0
		  AND (last_claim_date IS NULL OR last_claim_date < $1)
	`

	tag, err := r.db.Exec(ctx, query, lastIntact)
	if err != nil {
		return 0, fmt.Errorf("failed to reset broken streaks: %w", err)
	}
	return tag.RowsAffected(), nil
}

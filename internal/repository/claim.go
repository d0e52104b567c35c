package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"uticoins/internal/model"
)

// ClaimRepository persists redeemed codes. (user_id, code_date) is unique.
type ClaimRepository struct {
	db DBTX
}

// NewClaimRepository creates a new ClaimRepository instance.
func NewClaimRepository(db DBTX) *ClaimRepository {
	return &ClaimRepository{db: db}
}

const claimColumns = `id, user_id, code_id, code_date, claimed_at, issued_at, streak_valid_until, result`

func scanClaim(row pgx.Row) (*model.ClaimRecord, error) {
	var (
		rec    model.ClaimRecord
		result []byte
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.CodeID, &rec.CodeDate,
		&rec.ClaimedAt, &rec.IssuedAt, &rec.StreakValidUntil, &result)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(result, &rec.Result); err != nil {
		return nil, fmt.Errorf("failed to decode claim result: %w", err)
	}
	rec.CodeDate = rec.CodeDate.UTC()
	return &rec, nil
}

// Insert records a claim. A second claim for the same user and date fails
// with ErrDuplicateClaim.
func (r *ClaimRepository) Insert(ctx context.Context, rec *model.ClaimRecord) error {
	const query = `
		INSERT INTO claims (user_id, code_id, code_date, claimed_at, issued_at, streak_valid_until, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("failed to encode claim result: %w", err)
	}

	err = r.db.QueryRow(ctx, query, rec.UserID, rec.CodeID, rec.CodeDate,
		rec.ClaimedAt, rec.IssuedAt, rec.StreakValidUntil, result).Scan(&rec.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateClaim
		}
		return fmt.Errorf("failed to insert claim: %w", err)
	}
	return nil
}

// GetByUserAndDate returns the user's claim for a business date.
func (r *ClaimRepository) GetByUserAndDate(ctx context.Context, userID int64, date time.Time) (*model.ClaimRecord, error) {
	query := `SELECT ` + claimColumns + ` FROM claims WHERE user_id = $1 AND code_date = $2`

	rec, err := scanClaim(r.db.QueryRow(ctx, query, userID, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClaimNotFound
		}
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	return rec, nil
}

// ListSince returns the user's claims dated on or after since, newest first.
func (r *ClaimRepository) ListSince(ctx context.Context, userID int64, since time.Time) ([]model.ClaimRecord, error) {
	query := `SELECT ` + claimColumns + `
		FROM claims
		WHERE user_id = $1 AND code_date >= $2
		ORDER BY code_date DESC`

	rows, err := r.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list claims: %w", err)
	}
	defer rows.Close()

	var out []model.ClaimRecord
	for rows.Next() {
		rec, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating claims: %w", err)
	}
	return out, nil
}

// Prune deletes claims dated before cutoff, keeping every claim that belongs
// to its user's current streak run.
func (r *ClaimRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		DELETE FROM claims c
		WHERE c.code_date < $1
		  AND NOT EXISTS (
			SELECT 1 FROM user_streaks s
			WHERE s.user_id = c.user_id
			  AND s.streak_count > 0
			  AND s.last_claim_date IS NOT NULL
			  AND c.code_date > s.last_claim_date - s.streak_count
		  )
	`

	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"uticoins/internal/model"
)

// CodeRepository persists issued daily codes. There is at most one code per
// business date.
type CodeRepository struct {
	db DBTX
}

// NewCodeRepository creates a new CodeRepository instance.
func NewCodeRepository(db DBTX) *CodeRepository {
	return &CodeRepository{db: db}
}

const codeColumns = `id, code, code_date, issued_at, claim_deadline, streak_valid_until`

func scanCode(row pgx.Row) (*model.DailyCode, error) {
	var c model.DailyCode
	if err := row.Scan(&c.ID, &c.Code, &c.Date, &c.IssuedAt, &c.ClaimDeadline, &c.StreakValidUntil); err != nil {
		return nil, err
	}
	c.Date = c.Date.UTC()
	return &c, nil
}

// GetByDate returns the code for a business date.
func (r *CodeRepository) GetByDate(ctx context.Context, date time.Time) (*model.DailyCode, error) {
	query := `SELECT ` + codeColumns + ` FROM daily_codes WHERE code_date = $1`

	code, err := scanCode(r.db.QueryRow(ctx, query, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get daily code: %w", err)
	}
	return code, nil
}

// Create inserts code. When another writer already issued a code for the same
// date, the stored one is returned instead.
func (r *CodeRepository) Create(ctx context.Context, code *model.DailyCode) (*model.DailyCode, error) {
	query := `
		INSERT INTO daily_codes (code, code_date, issued_at, claim_deadline, streak_valid_until)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code_date) DO NOTHING
		RETURNING ` + codeColumns

	stored, err := scanCode(r.db.QueryRow(ctx, query,
		code.Code, code.Date, code.IssuedAt, code.ClaimDeadline, code.StreakValidUntil))
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to create daily code: %w", err)
	}
	return r.GetByDate(ctx, code.Date)
}

// Latest returns the most recently dated code.
func (r *CodeRepository) Latest(ctx context.Context) (*model.DailyCode, error) {
	query := `SELECT ` + codeColumns + ` FROM daily_codes ORDER BY code_date DESC LIMIT 1`

	code, err := scanCode(r.db.QueryRow(ctx, query))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to get latest daily code: %w", err)
	}
	return code, nil
}

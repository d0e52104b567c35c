// Package model defines the data models for the daily reward ledger.
package model

import "time"

// User represents an account holding a coin balance.
type User struct {
	ID        int64     `db:"id"`
	Username  string    `db:"username"`
	Balance   int64     `db:"balance"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Transaction represents a balance change record in the ledger.
type Transaction struct {
	ID          int64     `db:"id" json:"id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Amount      int64     `db:"amount" json:"amount"`
	Type        string    `db:"type" json:"type"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Transaction types for categorizing balance changes.
const (
	TxTypeDailyCode = "daily_code" // Daily code redemption
	TxTypeAdjust    = "adjust"     // Manual correction
)

// DailyCode is the rotating token issued once per business day.
// IssuedAt < ClaimDeadline <= StreakValidUntil always holds for codes
// built through dailycode.Calendar.
type DailyCode struct {
	ID               int64     `db:"id" json:"id"`
	Code             string    `db:"code" json:"code"`
	Date             time.Time `db:"code_date" json:"date"`
	IssuedAt         time.Time `db:"issued_at" json:"issued_at"`
	ClaimDeadline    time.Time `db:"claim_deadline" json:"claim_deadline"`
	StreakValidUntil time.Time `db:"streak_valid_until" json:"streak_valid_until"`
}

// ClaimResult is the value produced by a successful claim. It is stored with
// the claim record and returned unchanged on replays.
type ClaimResult struct {
	CodeDate                 time.Time `json:"code_date"`
	AmountAwarded            int64     `json:"amount_awarded"`
	BaseAmount               int64     `json:"base_amount"`
	StreakPositionAfterClaim int       `json:"streak_position_after_claim"`
	MultiplierApplied        float64   `json:"multiplier_applied"`
	NewStreakCount           int       `json:"new_streak_count"`
	ClaimedAt                time.Time `json:"claimed_at"`
	Balance                  int64     `json:"balance"`
	Replayed                 bool      `json:"-"`
}

// ClaimRecord is one redeemed code for one user. (UserID, CodeDate) is unique.
type ClaimRecord struct {
	ID               int64       `db:"id"`
	UserID           int64       `db:"user_id"`
	CodeID           int64       `db:"code_id"`
	CodeDate         time.Time   `db:"code_date"`
	ClaimedAt        time.Time   `db:"claimed_at"`
	IssuedAt         time.Time   `db:"issued_at"`
	StreakValidUntil time.Time   `db:"streak_valid_until"`
	Result           ClaimResult `db:"result"`
}

// UserStreakState is the per-user streak projection owned by the ledger.
type UserStreakState struct {
	UserID        int64         `db:"user_id" json:"user_id"`
	StreakCount   int           `db:"streak_count" json:"streak_count"`
	LongestStreak int           `db:"longest_streak" json:"longest_streak"`
	TotalClaims   int           `db:"total_claims" json:"total_claims"`
	LastClaimAt   *time.Time    `db:"last_claim_at" json:"last_claim_at,omitempty"`
	LastClaimDate *time.Time    `db:"last_claim_date" json:"last_claim_date,omitempty"`
	ClaimedCodes  []ClaimRecord `db:"-" json:"-"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// CodeState is the read model served by currentCodeState.
type CodeState struct {
	Code                 string       `json:"code"`
	CodeDate             time.Time    `json:"code_date"`
	IssuedAt             time.Time    `json:"issued_at"`
	ClaimDeadline        time.Time    `json:"claim_deadline"`
	StreakValidUntil     time.Time    `json:"streak_valid_until"`
	State                string       `json:"state"`
	CanClaim             bool         `json:"can_claim"`
	CurrentStreak        int          `json:"current_streak"`
	LongestStreak        int          `json:"longest_streak"`
	NextRewardAmount     int64        `json:"next_reward_amount"`
	NextRewardPosition   int          `json:"next_reward_position"`
	Multiplier           float64      `json:"multiplier"`
	SecondsUntilNextCode int64        `json:"seconds_until_next_code"`
	Balance              int64        `json:"balance"`
	ServerTime           time.Time    `json:"server_time"`
	Claimed              *ClaimResult `json:"claimed,omitempty"`
}

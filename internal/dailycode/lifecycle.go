package dailycode

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"uticoins/internal/model"
)

// State is the lifecycle classification of a code for one user at one instant.
type State string

// Code states.
const (
	StateClaimed    State = "CLAIMED"
	StateClaimable  State = "CLAIMABLE"
	StateStreakOnly State = "STREAK_ONLY"
	StateExpired    State = "EXPIRED"
)

// Classify returns the state of code at now. It has no side effects.
//
// A recorded claim for the code's date wins over any time window. An instant
// before IssuedAt is EXPIRED: the code is not valid yet and offers nothing.
func Classify(code *model.DailyCode, now time.Time, hasClaimRecordForDate bool) State {
	if hasClaimRecordForDate {
		return StateClaimed
	}
	switch {
	case now.Before(code.IssuedAt):
		return StateExpired
	case now.Before(code.ClaimDeadline):
		return StateClaimable
	case now.Before(code.StreakValidUntil):
		return StateStreakOnly
	default:
		return StateExpired
	}
}

// GenerateCode creates a numeric code with the given number of digits.
func GenerateCode(digits int) (string, error) {
	if digits <= 0 {
		digits = 6
	}
	buf := make([]byte, digits)
	for i := range buf {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate code: %w", err)
		}
		buf[i] = byte('0' + v.Int64())
	}
	return string(buf), nil
}

// Package streak derives consecutive-day streaks from a user's claim history.
package streak

import (
	"sort"
	"time"

	"uticoins/internal/dailycode"
	"uticoins/internal/model"
)

// Record is one claimed code as seen by the calculator.
type Record struct {
	Date             time.Time // business date of the code, not of the claim action
	ClaimedAt        time.Time
	IssuedAt         time.Time
	StreakValidUntil time.Time
}

// Valid reports whether the claim happened inside its code's validity window.
// Records without window data are trusted.
func (r Record) Valid() bool {
	if r.IssuedAt.IsZero() || r.StreakValidUntil.IsZero() {
		return true
	}
	return !r.ClaimedAt.Before(r.IssuedAt) && r.ClaimedAt.Before(r.StreakValidUntil)
}

// Summary describes a claim history relative to a business date.
type Summary struct {
	Current  int
	Longest  int
	Distinct int
	LastDate time.Time
}

// FromClaims converts stored claim records.
func FromClaims(claims []model.ClaimRecord) []Record {
	out := make([]Record, 0, len(claims))
	for _, c := range claims {
		out = append(out, Record{
			Date:             c.CodeDate,
			ClaimedAt:        c.ClaimedAt,
			IssuedAt:         c.IssuedAt,
			StreakValidUntil: c.StreakValidUntil,
		})
	}
	return out
}

// day is a de-duplicated business date.
type day struct {
	date  time.Time
	valid bool
}

// collapse applies set semantics per date, drops dates after today and
// returns the days sorted newest first. A date is valid if any of its
// records is valid.
func collapse(records []Record, today time.Time) []day {
	today = dailycode.DateOf(today)
	byDate := make(map[time.Time]bool, len(records))
	for _, r := range records {
		d := dailycode.DateOf(r.Date)
		if d.After(today) {
			continue
		}
		byDate[d] = byDate[d] || r.Valid()
	}

	days := make([]day, 0, len(byDate))
	for d, ok := range byDate {
		days = append(days, day{date: d, valid: ok})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].date.After(days[j].date) })
	return days
}

// Count returns the length of the run of consecutive business dates ending
// at today, or at yesterday when today has no claim yet. It returns 0 when
// the newest claim is older than yesterday.
func Count(records []Record, today time.Time) int {
	days := collapse(records, today)
	if len(days) == 0 {
		return 0
	}
	if dailycode.DaysBetween(days[0].date, today) > 1 || !days[0].valid {
		return 0
	}

	count := 1
	for i := 1; i < len(days); i++ {
		if dailycode.DaysBetween(days[i].date, days[i-1].date) != 1 || !days[i].valid {
			break
		}
		count++
	}
	return count
}

// Summarize returns the current streak together with the longest run ever
// recorded and the number of distinct claimed dates.
func Summarize(records []Record, today time.Time) Summary {
	days := collapse(records, today)
	s := Summary{Current: Count(records, today), Distinct: len(days)}
	if len(days) == 0 {
		return s
	}
	s.LastDate = days[0].date

	run := 0
	for i := len(days) - 1; i >= 0; i-- {
		switch {
		case !days[i].valid:
			run = 0
		case run > 0 && dailycode.DaysBetween(days[i+1].date, days[i].date) == 1 && days[i+1].valid:
			run++
		default:
			run = 1
		}
		if run > s.Longest {
			s.Longest = run
		}
	}
	return s
}

// Broken reports whether a streak whose last claim was on lastDate can no
// longer be continued on today.
func Broken(lastDate, today time.Time) bool {
	return dailycode.DaysBetween(lastDate, today) > 1
}

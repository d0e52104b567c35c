package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"uticoins/internal/dailycode"
	"uticoins/internal/model"
)

var today = time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)

func daysAgo(n int) time.Time {
	return today.AddDate(0, 0, -n)
}

func records(offsets ...int) []Record {
	out := make([]Record, 0, len(offsets))
	for _, n := range offsets {
		out = append(out, Record{Date: daysAgo(n)})
	}
	return out
}

func TestCount_ConsecutiveRun(t *testing.T) {
	// [D-2, D-1, D]
	assert.Equal(t, 3, Count(records(2, 1, 0), today))
}

func TestCount_GapKeepsRunEndingToday(t *testing.T) {
	// [D-3, D-1, D], D-2 missing
	assert.Equal(t, 2, Count(records(3, 1, 0), today))
}

func TestCount_EndingYesterday(t *testing.T) {
	assert.Equal(t, 4, Count(records(4, 3, 2, 1), today))
}

func TestCount_BrokenWhenNewestOlderThanYesterday(t *testing.T) {
	assert.Equal(t, 0, Count(records(5, 4, 3, 2), today))
	assert.Equal(t, 0, Count(nil, today))
}

func TestCount_DuplicateDatesCollapse(t *testing.T) {
	assert.Equal(t, 2, Count(records(1, 1, 0, 0, 0), today))
}

func TestCount_UnorderedInput(t *testing.T) {
	assert.Equal(t, 3, Count(records(0, 2, 1), today))
}

func TestCount_IgnoresFutureDates(t *testing.T) {
	assert.Equal(t, 2, Count(records(-1, 1, 0), today))
}

func TestCount_StopsAtClaimOutsideValidityWindow(t *testing.T) {
	recs := []Record{
		{Date: daysAgo(0)},
		{Date: daysAgo(1)},
		{
			// claimed a day after its code stopped counting
			Date:             daysAgo(2),
			IssuedAt:         daysAgo(2).Add(23 * time.Hour),
			StreakValidUntil: daysAgo(1).Add(23 * time.Hour),
			ClaimedAt:        daysAgo(0).Add(time.Hour),
		},
		{Date: daysAgo(3)},
	}
	assert.Equal(t, 2, Count(recs, today))

	// the newest record itself is malformed
	recs[0] = Record{
		Date:             daysAgo(0),
		IssuedAt:         daysAgo(0).Add(23 * time.Hour),
		StreakValidUntil: daysAgo(-1).Add(23 * time.Hour),
		ClaimedAt:        daysAgo(0),
	}
	assert.Equal(t, 0, Count(recs, today))
}

func TestCount_AttributesToCodeDateNotClaimDate(t *testing.T) {
	// A claim submitted right at the rollover instant still belongs to the
	// code that was issued the previous business day.
	recs := []Record{
		{Date: daysAgo(1), ClaimedAt: today.Add(23 * time.Hour), IssuedAt: daysAgo(1).Add(23 * time.Hour), StreakValidUntil: today.Add(23*time.Hour + time.Millisecond)},
		{Date: daysAgo(2)},
	}
	assert.Equal(t, 2, Count(recs, today))
}

func TestFromClaims(t *testing.T) {
	claimed := time.Date(2026, 5, 19, 22, 0, 0, 0, time.UTC)
	recs := FromClaims([]model.ClaimRecord{{CodeDate: daysAgo(1), ClaimedAt: claimed}})

	assert.Len(t, recs, 1)
	assert.Equal(t, daysAgo(1), recs[0].Date)
	assert.Equal(t, claimed, recs[0].ClaimedAt)
}

func TestSummarize(t *testing.T) {
	s := Summarize(records(10, 9, 8, 7, 6, 1, 0), today)

	assert.Equal(t, 2, s.Current)
	assert.Equal(t, 5, s.Longest)
	assert.Equal(t, 7, s.Distinct)
	assert.Equal(t, today, s.LastDate)

	empty := Summarize(nil, today)
	assert.Equal(t, Summary{}, empty)
}

func TestBroken(t *testing.T) {
	assert.False(t, Broken(today, today))
	assert.False(t, Broken(daysAgo(1), today))
	assert.True(t, Broken(daysAgo(2), today))
}

// TestCountMatchesReferenceProperty compares Count with a direct walk over a
// set of claimed offsets.
func TestCountMatchesReferenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		offsets := rapid.SliceOfN(rapid.IntRange(0, 20), 0, 30).Draw(t, "offsets")

		claimed := make(map[int]bool)
		for _, o := range offsets {
			claimed[o] = true
		}

		expected := 0
		start := -1
		if claimed[0] {
			start = 0
		} else if claimed[1] {
			start = 1
		}
		if start >= 0 {
			for o := start; claimed[o]; o++ {
				expected++
			}
		}

		got := Count(records(offsets...), today)
		if got != expected {
			t.Fatalf("offsets=%v: expected %d, got %d", offsets, expected, got)
		}
		if s := Summarize(records(offsets...), today); s.Longest < s.Current {
			t.Fatalf("longest %d < current %d", s.Longest, s.Current)
		}
	})
}

// TestCountIndependentOfTimeOfDayProperty checks that the anchor date is
// normalised, so any instant within today gives the same answer.
func TestCountIndependentOfTimeOfDayProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 15).Draw(t, "n")
		mins := rapid.IntRange(0, 24*60-1).Draw(t, "minutes")

		offs := make([]int, n)
		for i := range offs {
			offs[i] = i
		}
		at := today.Add(time.Duration(mins) * time.Minute)
		if got := Count(records(offs...), dailycode.DateOf(at)); got != n {
			t.Fatalf("expected %d, got %d", n, got)
		}
	})
}

package dailycode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var brt = time.FixedZone("BRT", -3*60*60)

func testCalendar(t testing.TB) *Calendar {
	cal, err := NewCalendar(brt, 20, 23*time.Hour, 24*time.Hour)
	require.NoError(t, err)
	return cal
}

func TestBusinessDate_RolloverAt20(t *testing.T) {
	cal := testCalendar(t)

	before := time.Date(2026, 3, 10, 19, 59, 59, 0, brt)
	at := time.Date(2026, 3, 10, 20, 0, 0, 0, brt)
	morning := time.Date(2026, 3, 11, 9, 0, 0, 0, brt)

	assert.Equal(t, time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), cal.BusinessDate(before))
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), cal.BusinessDate(at))
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), cal.BusinessDate(morning))
}

func TestBusinessDate_IgnoresCallerZone(t *testing.T) {
	cal := testCalendar(t)

	// 23:30 UTC is 20:30 in Brasília: already the next business day.
	utc := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	tokyo := utc.In(time.FixedZone("JST", 9*60*60))

	assert.Equal(t, cal.BusinessDate(utc), cal.BusinessDate(tokyo))
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), cal.BusinessDate(utc))
}

func TestWindow_Defaults(t *testing.T) {
	cal := testCalendar(t)
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	issued, deadline, valid := cal.Window(date)

	assert.True(t, issued.Equal(time.Date(2026, 3, 10, 20, 0, 0, 0, brt)))
	assert.True(t, deadline.Equal(time.Date(2026, 3, 11, 19, 0, 0, 0, brt)))
	assert.True(t, valid.Equal(time.Date(2026, 3, 11, 20, 0, 0, 0, brt)))
	assert.True(t, valid.Equal(cal.NextIssuance(issued)))
}

func TestNewCalendar_Validation(t *testing.T) {
	_, err := NewCalendar(nil, 20, time.Hour, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCalendar)

	_, err = NewCalendar(brt, 24, time.Hour, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCalendar)

	_, err = NewCalendar(brt, 20, 2*time.Hour, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCalendar)

	_, err = NewCalendar(brt, 20, time.Hour, 25*time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCalendar)

	_, err = NewCalendar(brt, 20, 0, time.Hour)
	assert.ErrorIs(t, err, ErrInvalidCalendar)
}

func TestNew_RejectsOutOfOrderWindows(t *testing.T) {
	base := time.Date(2026, 3, 10, 20, 0, 0, 0, brt)

	_, err := New("123456", base, base, base, base.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidWindow, "issued == deadline")

	_, err = New("123456", base, base, base.Add(2*time.Hour), base.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidWindow, "deadline after valid until")

	_, err = New("", base, base, base.Add(time.Hour), base.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidWindow, "empty code")

	code, err := New("123456", base, base, base.Add(time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "123456", code.Code)
}

// TestIssuedWindowOrderingProperty checks that every code the calendar
// issues satisfies issued_at < claim_deadline <= streak_valid_until and
// never outlives the next rollover.
func TestIssuedWindowOrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		hour := rapid.IntRange(0, 23).Draw(t, "hour")
		claimMin := rapid.IntRange(1, 24*60).Draw(t, "claimMinutes")
		streakMin := rapid.IntRange(claimMin, 24*60).Draw(t, "streakMinutes")
		dayOffset := rapid.IntRange(0, 3650).Draw(t, "dayOffset")

		cal, err := NewCalendar(LoadLocation(DefaultTimezone), hour,
			time.Duration(claimMin)*time.Minute, time.Duration(streakMin)*time.Minute)
		if err != nil {
			t.Fatalf("calendar: %v", err)
		}

		date := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, dayOffset)
		code, err := cal.Issue(date, "000000")
		if err != nil {
			t.Fatalf("issue: %v", err)
		}
		if !code.IssuedAt.Before(code.ClaimDeadline) {
			t.Fatalf("issued %v not before deadline %v", code.IssuedAt, code.ClaimDeadline)
		}
		if code.ClaimDeadline.After(code.StreakValidUntil) {
			t.Fatalf("deadline %v after valid until %v", code.ClaimDeadline, code.StreakValidUntil)
		}
		if code.StreakValidUntil.After(cal.NextIssuance(code.IssuedAt)) {
			t.Fatalf("valid until %v overlaps next code", code.StreakValidUntil)
		}
		if !cal.BusinessDate(code.IssuedAt).Equal(code.Date) {
			t.Fatalf("issued instant maps to %v, want %v", cal.BusinessDate(code.IssuedAt), code.Date)
		}
	})
}

func TestClassify_Boundaries(t *testing.T) {
	cal := testCalendar(t)
	code, err := cal.Issue(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), "424242")
	require.NoError(t, err)

	tests := []struct {
		name    string
		now     time.Time
		claimed bool
		want    State
	}{
		{"before issuance", code.IssuedAt.Add(-time.Millisecond), false, StateExpired},
		{"at issuance", code.IssuedAt, false, StateClaimable},
		{"one ms before deadline", code.ClaimDeadline.Add(-time.Millisecond), false, StateClaimable},
		{"at deadline", code.ClaimDeadline, false, StateStreakOnly},
		{"one ms before valid until", code.StreakValidUntil.Add(-time.Millisecond), false, StateStreakOnly},
		{"at valid until", code.StreakValidUntil, false, StateExpired},
		{"claimed inside window", code.IssuedAt.Add(time.Hour), true, StateClaimed},
		{"claimed after expiry", code.StreakValidUntil.Add(time.Hour), true, StateClaimed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(code, tt.now, tt.claimed))
		})
	}
}

func TestGenerateCode(t *testing.T) {
	code, err := GenerateCode(6)
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}

	code, err = GenerateCode(0)
	require.NoError(t, err)
	assert.Len(t, code, 6)
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)
	b := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 3, DaysBetween(a, b))
	assert.Equal(t, -3, DaysBetween(b, a))
}

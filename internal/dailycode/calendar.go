// Package dailycode manages the lifecycle of the rotating daily code:
// the business-day calendar anchored at a fixed regional rollover time,
// the two expiry horizons of a code and its classification at any instant.
package dailycode

import (
	"errors"
	"fmt"
	"time"

	"uticoins/internal/model"
)

// DefaultTimezone is the fixed regional reference for the daily rollover.
const DefaultTimezone = "America/Sao_Paulo"

// Calendar-related errors.
var (
	ErrInvalidWindow   = errors.New("daily code window must satisfy issued_at < claim_deadline <= streak_valid_until")
	ErrInvalidCalendar = errors.New("invalid daily code calendar")
)

// Calendar maps instants to business dates. A business date D starts at
// RolloverHour on D in Location and ends at the next rollover.
type Calendar struct {
	Location     *time.Location
	RolloverHour int
	ClaimWindow  time.Duration
	StreakWindow time.Duration
}

// LoadLocation loads a time zone by name. If the tz database is not
// available it falls back to Brasília's fixed UTC-3 offset.
func LoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

// NewCalendar validates and builds a Calendar.
func NewCalendar(loc *time.Location, rolloverHour int, claimWindow, streakWindow time.Duration) (*Calendar, error) {
	if loc == nil {
		return nil, fmt.Errorf("%w: location is required", ErrInvalidCalendar)
	}
	if rolloverHour < 0 || rolloverHour > 23 {
		return nil, fmt.Errorf("%w: rollover hour %d out of range", ErrInvalidCalendar, rolloverHour)
	}
	if claimWindow <= 0 {
		return nil, fmt.Errorf("%w: claim window must be positive", ErrInvalidCalendar)
	}
	if streakWindow < claimWindow {
		return nil, fmt.Errorf("%w: streak window %s shorter than claim window %s", ErrInvalidCalendar, streakWindow, claimWindow)
	}
	if streakWindow > 24*time.Hour {
		return nil, fmt.Errorf("%w: streak window %s overlaps the next code", ErrInvalidCalendar, streakWindow)
	}
	return &Calendar{
		Location:     loc,
		RolloverHour: rolloverHour,
		ClaimWindow:  claimWindow,
		StreakWindow: streakWindow,
	}, nil
}

// DateOf truncates t to its calendar date, represented as midnight UTC.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from a to b (both dates).
func DaysBetween(a, b time.Time) int {
	return int(DateOf(b).Sub(DateOf(a)).Hours() / 24)
}

// BusinessDate returns the business date that contains t.
func (c *Calendar) BusinessDate(t time.Time) time.Time {
	lt := t.In(c.Location)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), c.RolloverHour, 0, 0, 0, c.Location)
	if lt.Before(start) {
		start = start.AddDate(0, 0, -1)
	}
	return DateOf(start)
}

// IssuedAt returns the rollover instant that opens the given business date.
func (c *Calendar) IssuedAt(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.RolloverHour, 0, 0, 0, c.Location)
}

// NextIssuance returns the next rollover strictly after t.
func (c *Calendar) NextIssuance(t time.Time) time.Time {
	return c.IssuedAt(c.BusinessDate(t).AddDate(0, 0, 1))
}

// Window returns the three horizons of the code for date. Both deadlines are
// clamped to the next rollover so that exactly one code is active at a time.
func (c *Calendar) Window(date time.Time) (issuedAt, claimDeadline, streakValidUntil time.Time) {
	issuedAt = c.IssuedAt(date)
	next := c.IssuedAt(DateOf(date).AddDate(0, 0, 1))

	streakValidUntil = issuedAt.Add(c.StreakWindow)
	if streakValidUntil.After(next) {
		streakValidUntil = next
	}
	claimDeadline = issuedAt.Add(c.ClaimWindow)
	if claimDeadline.After(streakValidUntil) {
		claimDeadline = streakValidUntil
	}
	return issuedAt, claimDeadline, streakValidUntil
}

// Issue builds the code for a business date.
func (c *Calendar) Issue(date time.Time, code string) (*model.DailyCode, error) {
	issuedAt, deadline, validUntil := c.Window(date)
	return New(code, DateOf(date), issuedAt, deadline, validUntil)
}

// New constructs a DailyCode, rejecting any code whose windows are out of order.
func New(code string, date, issuedAt, claimDeadline, streakValidUntil time.Time) (*model.DailyCode, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty code", ErrInvalidWindow)
	}
	if !issuedAt.Before(claimDeadline) || claimDeadline.After(streakValidUntil) {
		return nil, fmt.Errorf("%w: issued=%s deadline=%s valid_until=%s",
			ErrInvalidWindow, issuedAt.Format(time.RFC3339), claimDeadline.Format(time.RFC3339), streakValidUntil.Format(time.RFC3339))
	}
	return &model.DailyCode{
		Code:             code,
		Date:             DateOf(date),
		IssuedAt:         issuedAt,
		ClaimDeadline:    claimDeadline,
		StreakValidUntil: streakValidUntil,
	}, nil
}

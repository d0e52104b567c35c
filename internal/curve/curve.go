// Package curve maps a streak position to a coin amount.
//
// The amount grows linearly from Base on the first day of a cycle to Cap on
// the last day, then wraps back to Base.
package curve

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Default curve parameters.
const (
	DefaultBase        = 30
	DefaultCap         = 70
	DefaultCycleLength = 7
)

// ErrInvalidCurve is returned for inconsistent curve parameters.
var ErrInvalidCurve = errors.New("invalid reward curve")

// Promotion scales rewards for claims made in [Start, End).
type Promotion struct {
	Name       string
	Start      time.Time
	End        time.Time
	Multiplier float64
}

// Active reports whether the promotion covers at.
func (p Promotion) Active(at time.Time) bool {
	return !at.Before(p.Start) && at.Before(p.End)
}

// Curve is the reward curve configuration.
type Curve struct {
	Base        int64
	Cap         int64
	CycleLength int
	Promotions  []Promotion
}

// Quote is the reward for one claim.
type Quote struct {
	Position   int
	BaseAmount int64
	Multiplier float64
	Amount     int64
}

// Default returns the 30..70 over 7 days curve without promotions.
func Default() *Curve {
	return &Curve{Base: DefaultBase, Cap: DefaultCap, CycleLength: DefaultCycleLength}
}

// New validates and builds a Curve.
func New(base, cap int64, cycleLength int, promotions ...Promotion) (*Curve, error) {
	if cycleLength < 2 {
		return nil, fmt.Errorf("%w: cycle length %d must be at least 2", ErrInvalidCurve, cycleLength)
	}
	if base < 0 || cap < base {
		return nil, fmt.Errorf("%w: need 0 <= base (%d) <= cap (%d)", ErrInvalidCurve, base, cap)
	}
	for _, p := range promotions {
		if p.Multiplier <= 0 {
			return nil, fmt.Errorf("%w: promotion %q multiplier must be positive", ErrInvalidCurve, p.Name)
		}
		if !p.Start.Before(p.End) {
			return nil, fmt.Errorf("%w: promotion %q has an empty window", ErrInvalidCurve, p.Name)
		}
	}
	return &Curve{Base: base, Cap: cap, CycleLength: cycleLength, Promotions: promotions}, nil
}

// Position returns the 1-indexed position in the cycle of the claim that
// follows a streak of streakBefore days.
func (c *Curve) Position(streakBefore int) int {
	if streakBefore < 0 {
		streakBefore = 0
	}
	return streakBefore%c.CycleLength + 1
}

// Amount returns the un-multiplied reward for a position. Positions beyond
// the cycle wrap around.
func (c *Curve) Amount(position int) int64 {
	if position < 1 {
		position = 1
	}
	position = (position-1)%c.CycleLength + 1
	step := float64(c.Cap-c.Base) * float64(position-1) / float64(c.CycleLength-1)
	return int64(math.Round(float64(c.Base) + step))
}

// Multiplier returns the promotional multiplier in effect at at. When
// promotions overlap the largest multiplier wins.
func (c *Curve) Multiplier(at time.Time) float64 {
	m := 1.0
	found := false
	for _, p := range c.Promotions {
		if p.Active(at) && (!found || p.Multiplier > m) {
			m = p.Multiplier
			found = true
		}
	}
	return m
}

// Quote computes the reward for the claim following streakBefore at the
// given instant. Displayed and credited amounts both come from here.
func (c *Curve) Quote(streakBefore int, at time.Time) Quote {
	pos := c.Position(streakBefore)
	base := c.Amount(pos)
	mult := c.Multiplier(at)
	return Quote{
		Position:   pos,
		BaseAmount: base,
		Multiplier: mult,
		Amount:     int64(math.Round(float64(base) * mult)),
	}
}

// Table returns the amounts for positions 1..CycleLength.
func (c *Curve) Table() []int64 {
	out := make([]int64, c.CycleLength)
	for i := range out {
		out[i] = c.Amount(i + 1)
	}
	return out
}

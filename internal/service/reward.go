// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"uticoins/internal/cache"
	"uticoins/internal/curve"
	"uticoins/internal/dailycode"
	"uticoins/internal/metrics"
	"uticoins/internal/model"
	"uticoins/internal/pkg/lock"
	"uticoins/internal/repository"
	"uticoins/internal/streak"
)

// DefaultLockTimeout bounds how long a claim waits behind another request
// from the same user.
const DefaultLockTimeout = 5 * time.Second

// RewardService issues daily codes and processes claims. It is the only
// writer of balances and streak state.
type RewardService struct {
	store       repository.Store
	cal         *dailycode.Calendar
	curve       *curve.Curve
	locks       *lock.UserLock
	cache       cache.ClaimCache
	metrics     metrics.Recorder
	lockTimeout time.Duration
	now         func() time.Time
	generate    func() (string, error)

	mu      sync.RWMutex
	current *model.DailyCode
}

// Option configures a RewardService.
type Option func(*RewardService)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *RewardService) { s.now = now }
}

// WithCache enables the claim replay cache.
func WithCache(c cache.ClaimCache) Option {
	return func(s *RewardService) { s.cache = c }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *RewardService) { s.metrics = m }
}

// WithLocks shares a UserLock with other components.
func WithLocks(l *lock.UserLock) Option {
	return func(s *RewardService) { s.locks = l }
}

// WithLockTimeout sets how long a claim waits for the user's lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *RewardService) { s.lockTimeout = d }
}

// WithCodeGenerator replaces the random code generator.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *RewardService) { s.generate = gen }
}

// WithCodeDigits sets the length of generated codes.
func WithCodeDigits(digits int) Option {
	return func(s *RewardService) {
		s.generate = func() (string, error) { return dailycode.GenerateCode(digits) }
	}
}

// NewRewardService creates a new RewardService instance.
func NewRewardService(store repository.Store, cal *dailycode.Calendar, c *curve.Curve, opts ...Option) *RewardService {
	s := &RewardService{
		store:       store,
		cal:         cal,
		curve:       c,
		locks:       lock.NewUserLock(),
		cache:       cache.Nop{},
		metrics:     metrics.Nop{},
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
		generate:    func() (string, error) { return dailycode.GenerateCode(6) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Calendar returns the business-day calendar in use.
func (s *RewardService) Calendar() *dailycode.Calendar { return s.cal }

// Curve returns the reward curve in use.
func (s *RewardService) Curve() *curve.Curve { return s.curve }

// Today returns the current business date.
func (s *RewardService) Today() time.Time { return s.cal.BusinessDate(s.now()) }

// ActiveCode returns the code for the current business date, issuing it if
// the rollover job has not done so yet.
func (s *RewardService) ActiveCode(ctx context.Context) (*model.DailyCode, error) {
	return s.codeAt(ctx, s.now())
}

func (s *RewardService) codeAt(ctx context.Context, now time.Time) (*model.DailyCode, error) {
	date := s.cal.BusinessDate(now)

	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur != nil && cur.Date.Equal(date) {
		return cur, nil
	}

	code, err := s.store.CodeForDate(ctx, date)
	if errors.Is(err, repository.ErrCodeNotFound) {
		code, err = s.issue(ctx, date)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve daily code: %w", err)
	}

	s.mu.Lock()
	if s.current == nil || !s.current.Date.After(code.Date) {
		s.current = code
	}
	s.mu.Unlock()
	return code, nil
}

func (s *RewardService) issue(ctx context.Context, date time.Time) (*model.DailyCode, error) {
	value, err := s.generate()
	if err != nil {
		return nil, err
	}
	code, err := s.cal.Issue(date, value)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.CreateCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if stored.Code == value {
		s.metrics.RecordCodeIssued()
		log.Info().
			Str("date", date.Format(time.DateOnly)).
			Time("issued_at", stored.IssuedAt).
			Time("claim_deadline", stored.ClaimDeadline).
			Msg("Issued daily code")
	}
	return stored, nil
}

// Claim redeems code for userID. Repeating a successful claim returns the
// stored result without crediting again.
func (s *RewardService) Claim(ctx context.Context, userID int64, code string) (*model.ClaimResult, error) {
	now := s.now()
	defer func() { s.metrics.RecordClaimLatency(s.now().Sub(now)) }()

	if userID == 0 {
		s.metrics.RecordClaim(metrics.OutcomeUnauth)
		return nil, model.NewClaimError(model.ClaimUnauthenticated, "no authenticated user")
	}

	active, err := s.codeAt(ctx, now)
	if err != nil {
		s.metrics.RecordClaim(metrics.OutcomeError)
		return nil, err
	}
	if strings.TrimSpace(code) != active.Code {
		s.metrics.RecordClaim(metrics.OutcomeMismatch)
		return nil, model.NewClaimError(model.ClaimCodeMismatch, "code does not match the active code")
	}

	if cached, ok, err := s.cache.Get(ctx, userID, active.Date); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("Claim cache read failed")
	} else if ok {
		s.metrics.RecordClaim(metrics.OutcomeReplayed)
		cached.Replayed = true
		return cached, nil
	}

	var result *model.ClaimResult
	err = s.locks.WithLockContext(ctx, userID, s.lockTimeout, func() error {
		return s.store.WithUserTx(ctx, userID, func(tx repository.Tx) error {
			r, err := s.claimInTx(ctx, tx, active, now)
			result = r
			return err
		})
	})
	if errors.Is(err, repository.ErrDuplicateClaim) {
		// Another writer committed first; answer with its result.
		var rec *model.ClaimRecord
		if rec, err = s.store.ClaimForDate(ctx, userID, active.Date); err == nil {
			r := rec.Result
			r.Replayed = true
			result = &r
		}
	}
	if err != nil {
		var claimErr *model.ClaimError
		if errors.As(err, &claimErr) {
			s.metrics.RecordClaim(metrics.OutcomeNotClaimable)
			return nil, err
		}
		s.metrics.RecordClaim(metrics.OutcomeError)
		return nil, fmt.Errorf("claim failed: %w", err)
	}

	if result.Replayed {
		s.metrics.RecordClaim(metrics.OutcomeReplayed)
	} else {
		s.metrics.RecordClaim(metrics.OutcomeCredited)
		s.metrics.RecordReward(result.AmountAwarded, result.StreakPositionAfterClaim)
		log.Info().
			Int64("user_id", userID).
			Str("code_date", active.Date.Format(time.DateOnly)).
			Int64("amount", result.AmountAwarded).
			Int("streak", result.NewStreakCount).
			Msg("Daily code claimed")
	}

	stored := *result
	stored.Replayed = false
	if err := s.cache.Set(ctx, userID, &stored); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("Claim cache write failed")
	}
	return result, nil
}

// claimInTx runs the check-and-set under the user's exclusive access.
func (s *RewardService) claimInTx(ctx context.Context, tx repository.Tx, code *model.DailyCode, now time.Time) (*model.ClaimResult, error) {
	existing, err := tx.ClaimForDate(ctx, code.Date)
	if err == nil {
		r := existing.Result
		r.Replayed = true
		return &r, nil
	}
	if !errors.Is(err, repository.ErrClaimNotFound) {
		return nil, err
	}

	if state := dailycode.Classify(code, now, false); state != dailycode.StateClaimable {
		return nil, model.NewClaimError(model.ClaimNotClaimable, "code is %s", strings.ToLower(string(state)))
	}

	st, err := tx.StreakState(ctx)
	if err != nil {
		return nil, err
	}
	history, err := tx.ClaimsSince(ctx, historyStart(code.Date, st))
	if err != nil {
		return nil, err
	}
	before := streak.Count(streak.FromClaims(history), code.Date)
	quote := s.curve.Quote(before, now)

	balance, err := tx.Credit(ctx, quote.Amount, model.TxTypeDailyCode,
		fmt.Sprintf("Daily code %s, day %d of %d", code.Date.Format(time.DateOnly), quote.Position, s.curve.CycleLength))
	if err != nil {
		return nil, err
	}

	result := model.ClaimResult{
		CodeDate:                 code.Date,
		AmountAwarded:            quote.Amount,
		BaseAmount:               quote.BaseAmount,
		StreakPositionAfterClaim: quote.Position,
		MultiplierApplied:        quote.Multiplier,
		NewStreakCount:           before + 1,
		ClaimedAt:                now,
		Balance:                  balance,
	}
	rec := &model.ClaimRecord{
		CodeID:           code.ID,
		CodeDate:         code.Date,
		ClaimedAt:        now,
		IssuedAt:         code.IssuedAt,
		StreakValidUntil: code.StreakValidUntil,
		Result:           result,
	}
	if err := tx.InsertClaim(ctx, rec); err != nil {
		return nil, err
	}

	date := code.Date
	claimedAt := now
	st.StreakCount = result.NewStreakCount
	st.LongestStreak = max(st.LongestStreak, st.StreakCount)
	st.TotalClaims++
	st.LastClaimAt = &claimedAt
	st.LastClaimDate = &date
	if err := tx.SaveStreakState(ctx, st); err != nil {
		return nil, err
	}
	return &result, nil
}

// historyStart is the oldest date that can still belong to the run ending
// before date, given the stored streak.
func historyStart(date time.Time, st *model.UserStreakState) time.Time {
	return date.AddDate(0, 0, -(st.StreakCount + 2))
}

// CurrentCodeState returns the code and reward preview for userID at the
// current instant. It never mutates state other than lazily issuing the code.
func (s *RewardService) CurrentCodeState(ctx context.Context, userID int64) (*model.CodeState, error) {
	if userID == 0 {
		return nil, model.NewClaimError(model.ClaimUnauthenticated, "no authenticated user")
	}

	now := s.now()
	code, err := s.codeAt(ctx, now)
	if err != nil {
		return nil, err
	}

	var claimed *model.ClaimResult
	rec, err := s.store.ClaimForDate(ctx, userID, code.Date)
	switch {
	case err == nil:
		claimed = &rec.Result
	case !errors.Is(err, repository.ErrClaimNotFound):
		return nil, fmt.Errorf("failed to load claim: %w", err)
	}

	st, err := s.store.StreakState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load streak state: %w", err)
	}
	history, err := s.store.ClaimsSince(ctx, userID, historyStart(code.Date, st))
	if err != nil {
		return nil, fmt.Errorf("failed to load claim history: %w", err)
	}
	summary := streak.Summarize(streak.FromClaims(history), code.Date)

	var balance int64
	user, err := s.store.User(ctx, userID)
	switch {
	case err == nil:
		balance = user.Balance
	case !errors.Is(err, repository.ErrUserNotFound):
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}

	next := s.cal.NextIssuance(now)
	state := dailycode.Classify(code, now, claimed != nil)
	current := summary.Current

	var quote curve.Quote
	switch state {
	case dailycode.StateClaimed:
		quote = s.curve.Quote(current, next)
	case dailycode.StateClaimable:
		quote = s.curve.Quote(current, now)
	case dailycode.StateStreakOnly:
		// the streak is shown intact until the code stops counting, but the
		// next claim will start a new run
		quote = s.curve.Quote(0, next)
	default:
		current = 0
		quote = s.curve.Quote(0, next)
	}

	return &model.CodeState{
		Code:                 code.Code,
		CodeDate:             code.Date,
		IssuedAt:             code.IssuedAt,
		ClaimDeadline:        code.ClaimDeadline,
		StreakValidUntil:     code.StreakValidUntil,
		State:                string(state),
		CanClaim:             state == dailycode.StateClaimable,
		CurrentStreak:        current,
		LongestStreak:        max(st.LongestStreak, summary.Longest),
		NextRewardAmount:     quote.Amount,
		NextRewardPosition:   quote.Position,
		Multiplier:           quote.Multiplier,
		SecondsUntilNextCode: int64(math.Ceil(next.Sub(now).Seconds())),
		Balance:              balance,
		ServerTime:           now,
		Claimed:              claimed,
	}, nil
}

// Rollover issues the code for the current business date and zeroes every
// streak that can no longer be continued.
func (s *RewardService) Rollover(ctx context.Context) (*model.DailyCode, int64, error) {
	now := s.now()
	code, err := s.codeAt(ctx, now)
	if err != nil {
		return nil, 0, err
	}

	n, err := s.store.ResetBrokenStreaks(ctx, code.Date.AddDate(0, 0, -1))
	if err != nil {
		return code, 0, fmt.Errorf("failed to reset streaks: %w", err)
	}
	s.metrics.RecordStreakResets(n)
	return code, n, nil
}

// Prune deletes claim records older than retentionDays business days that
// are not part of a current streak.
func (s *RewardService) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays < s.curve.CycleLength {
		retentionDays = s.curve.CycleLength
	}
	cutoff := s.cal.BusinessDate(s.now()).AddDate(0, 0, -retentionDays)
	n, err := s.store.PruneClaims(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune claims: %w", err)
	}
	return n, nil
}

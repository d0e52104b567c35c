package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"uticoins/internal/dailycode"
	"uticoins/internal/model"
)

type claimKey struct {
	userID int64
	date   time.Time
}

// MemoryStore is an in-process Store for development and tests. A single
// mutex serializes user transactions; writes are buffered and applied only
// when the transaction function succeeds.
type MemoryStore struct {
	mu      sync.RWMutex
	codes   map[time.Time]*model.DailyCode
	users   map[int64]*model.User
	streaks map[int64]*model.UserStreakState
	claims  map[claimKey]*model.ClaimRecord
	txs     map[int64][]*model.Transaction
	nextID  int64
	txLock  sync.Mutex
	clock   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codes:   make(map[time.Time]*model.DailyCode),
		users:   make(map[int64]*model.User),
		streaks: make(map[int64]*model.UserStreakState),
		claims:  make(map[claimKey]*model.ClaimRecord),
		txs:     make(map[int64][]*model.Transaction),
		clock:   time.Now,
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) CodeForDate(_ context.Context, date time.Time) (*model.DailyCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[dailycode.DateOf(date)]
	if !ok {
		return nil, ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) CreateCode(_ context.Context, code *model.DailyCode) (*model.DailyCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	date := dailycode.DateOf(code.Date)
	if existing, ok := s.codes[date]; ok {
		cp := *existing
		return &cp, nil
	}
	stored := *code
	stored.ID = s.id()
	stored.Date = date
	s.codes[date] = &stored
	cp := stored
	return &cp, nil
}

func (s *MemoryStore) EnsureUser(_ context.Context, userID int64, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.ensureUserLocked(userID)
	if username != "" && username != u.Username {
		u.Username = username
		u.UpdatedAt = s.clock()
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) ensureUserLocked(userID int64) *model.User {
	u, ok := s.users[userID]
	if !ok {
		now := s.clock()
		u = &model.User{ID: userID, CreatedAt: now, UpdatedAt: now}
		s.users[userID] = u
	}
	return u
}

func (s *MemoryStore) User(_ context.Context, userID int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) Transactions(_ context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.txs[userID]
	out := make([]*model.Transaction, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) StreakState(_ context.Context, userID int64) (*model.UserStreakState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streakLocked(userID), nil
}

func (s *MemoryStore) streakLocked(userID int64) *model.UserStreakState {
	st, ok := s.streaks[userID]
	if !ok {
		return &model.UserStreakState{UserID: userID}
	}
	cp := *st
	return &cp
}

func (s *MemoryStore) ClaimForDate(_ context.Context, userID int64, date time.Time) (*model.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claimLocked(userID, date)
}

func (s *MemoryStore) claimLocked(userID int64, date time.Time) (*model.ClaimRecord, error) {
	rec, ok := s.claims[claimKey{userID, dailycode.DateOf(date)}]
	if !ok {
		return nil, ErrClaimNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) ClaimsSince(_ context.Context, userID int64, since time.Time) ([]model.ClaimRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.claimsSinceLocked(userID, since), nil
}

func (s *MemoryStore) claimsSinceLocked(userID int64, since time.Time) []model.ClaimRecord {
	since = dailycode.DateOf(since)
	var out []model.ClaimRecord
	for k, rec := range s.claims {
		if k.userID == userID && !k.date.Before(since) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CodeDate.After(out[j].CodeDate) })
	return out
}

func (s *MemoryStore) ResetBrokenStreaks(_ context.Context, lastIntact time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lastIntact = dailycode.DateOf(lastIntact)
	var n int64
	for _, st := range s.streaks {
		if st.StreakCount > 0 && (st.LastClaimDate == nil || st.LastClaimDate.Before(lastIntact)) {
			st.StreakCount = 0
			st.UpdatedAt = s.clock()
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PruneClaims(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff = dailycode.DateOf(cutoff)
	var n int64
	for k := range s.claims {
		if !k.date.Before(cutoff) {
			continue
		}
		if st, ok := s.streaks[k.userID]; ok && st.StreakCount > 0 && st.LastClaimDate != nil &&
			k.date.After(st.LastClaimDate.AddDate(0, 0, -st.StreakCount)) {
			continue
		}
		delete(s.claims, k)
		n++
	}
	return n, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// WithUserTx runs fn against a buffered view of the user's rows.
func (s *MemoryStore) WithUserTx(ctx context.Context, userID int64, fn func(tx Tx) error) error {
	s.txLock.Lock()
	defer s.txLock.Unlock()

	s.mu.Lock()
	s.ensureUserLocked(userID)
	mtx := &memTx{
		store:   s,
		userID:  userID,
		balance: s.users[userID].Balance,
		state:   s.streakLocked(userID),
	}
	s.mu.Unlock()

	if err := fn(mtx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range mtx.claims {
		key := claimKey{userID, dailycode.DateOf(rec.CodeDate)}
		if _, dup := s.claims[key]; dup {
			return ErrDuplicateClaim
		}
	}
	now := s.clock()
	for _, rec := range mtx.claims {
		stored := *rec
		stored.ID = s.id()
		rec.ID = stored.ID
		s.claims[claimKey{userID, dailycode.DateOf(rec.CodeDate)}] = &stored
	}
	for _, t := range mtx.txs {
		stored := *t
		stored.ID = s.id()
		stored.CreatedAt = now
		s.txs[userID] = append(s.txs[userID], &stored)
	}
	u := s.users[userID]
	u.Balance = mtx.balance
	if len(mtx.txs) > 0 {
		u.UpdatedAt = now
	}
	if mtx.stateDirty {
		st := *mtx.state
		st.UpdatedAt = now
		s.streaks[userID] = &st
	}
	return nil
}

type memTx struct {
	store      *MemoryStore
	userID     int64
	balance    int64
	state      *model.UserStreakState
	stateDirty bool
	claims     []*model.ClaimRecord
	txs        []*model.Transaction
}

func (t *memTx) ClaimForDate(_ context.Context, date time.Time) (*model.ClaimRecord, error) {
	date = dailycode.DateOf(date)
	for _, rec := range t.claims {
		if rec.CodeDate.Equal(date) {
			cp := *rec
			return &cp, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.claimLocked(t.userID, date)
}

func (t *memTx) ClaimsSince(_ context.Context, since time.Time) ([]model.ClaimRecord, error) {
	t.store.mu.RLock()
	out := t.store.claimsSinceLocked(t.userID, since)
	t.store.mu.RUnlock()

	since = dailycode.DateOf(since)
	for _, rec := range t.claims {
		if !rec.CodeDate.Before(since) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CodeDate.After(out[j].CodeDate) })
	return out, nil
}

func (t *memTx) StreakState(context.Context) (*model.UserStreakState, error) {
	st := *t.state
	return &st, nil
}

func (t *memTx) InsertClaim(ctx context.Context, rec *model.ClaimRecord) error {
	if _, err := t.ClaimForDate(ctx, rec.CodeDate); err == nil {
		return ErrDuplicateClaim
	}
	rec.UserID = t.userID
	rec.CodeDate = dailycode.DateOf(rec.CodeDate)
	cp := *rec
	t.claims = append(t.claims, &cp)
	return nil
}

func (t *memTx) Credit(_ context.Context, amount int64, txType, description string) (int64, error) {
	desc := description
	t.balance += amount
	t.txs = append(t.txs, &model.Transaction{
		UserID:      t.userID,
		Amount:      amount,
		Type:        txType,
		Description: &desc,
	})
	return t.balance, nil
}

func (t *memTx) SaveStreakState(_ context.Context, st *model.UserStreakState) error {
	cp := *st
	cp.UserID = t.userID
	t.state = &cp
	t.stateDirty = true
	return nil
}

// Package lock provides per-user mutual exclusion for claim processing.
//
// Entries are reference counted and removed once the last holder or waiter
// leaves, so the map only holds users with in-flight work.
package lock

import (
	"context"
	"sync"
	"time"
)

// entry is a one-slot semaphore shared by everyone waiting on a user.
type entry struct {
	sem  chan struct{}
	refs int
}

// UserLock serializes operations per user ID.
type UserLock struct {
	mu    sync.Mutex
	locks map[int64]*entry
}

// NewUserLock creates a new UserLock instance.
func NewUserLock() *UserLock {
	return &UserLock{locks: make(map[int64]*entry)}
}

func (ul *UserLock) acquire(userID int64) *entry {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	e, ok := ul.locks[userID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		ul.locks[userID] = e
	}
	e.refs++
	return e
}

func (ul *UserLock) release(userID int64, e *entry) {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(ul.locks, userID)
	}
}

// Lock blocks until the user's lock is held.
func (ul *UserLock) Lock(userID int64) {
	e := ul.acquire(userID)
	e.sem <- struct{}{}
}

// Unlock releases the user's lock. Calling it without holding the lock is a
// no-op.
func (ul *UserLock) Unlock(userID int64) {
	ul.mu.Lock()
	e, ok := ul.locks[userID]
	ul.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-e.sem:
		ul.release(userID, e)
	default:
	}
}

// TryLock acquires the lock without blocking.
func (ul *UserLock) TryLock(userID int64) bool {
	e := ul.acquire(userID)
	select {
	case e.sem <- struct{}{}:
		return true
	default:
		ul.release(userID, e)
		return false
	}
}

// LockContext waits for the lock until ctx is done or timeout elapses.
// A zero timeout waits for ctx only.
func (ul *UserLock) LockContext(ctx context.Context, userID int64, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e := ul.acquire(userID)
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		ul.release(userID, e)
		if ctx.Err() == context.DeadlineExceeded {
			return ErrLockTimeout
		}
		return ctx.Err()
	}
}

// WithLock runs fn while holding the user's lock.
func (ul *UserLock) WithLock(userID int64, fn func() error) error {
	ul.Lock(userID)
	defer ul.Unlock(userID)
	return fn()
}

// WithLockContext runs fn while holding the user's lock, giving up when ctx
// is done or timeout elapses first.
func (ul *UserLock) WithLockContext(ctx context.Context, userID int64, timeout time.Duration, fn func() error) error {
	if err := ul.LockContext(ctx, userID, timeout); err != nil {
		return err
	}
	defer ul.Unlock(userID)
	return fn()
}

// IsLocked is a point-in-time check.
func (ul *UserLock) IsLocked(userID int64) bool {
	ul.mu.Lock()
	e, ok := ul.locks[userID]
	ul.mu.Unlock()
	return ok && len(e.sem) == 1
}

// Size returns the number of users with a held or awaited lock.
func (ul *UserLock) Size() int {
	ul.mu.Lock()
	defer ul.mu.Unlock()
	return len(ul.locks)
}

package service

import (
	"context"
	"errors"
	"fmt"

	"uticoins/internal/model"
	"uticoins/internal/repository"
)

// DefaultHistoryLimit is the number of ledger entries returned with a balance.
const DefaultHistoryLimit = 20

// Balance is a user's coin balance with recent ledger entries.
type Balance struct {
	UserID       int64                `json:"user_id"`
	Balance      int64                `json:"balance"`
	Transactions []*model.Transaction `json:"transactions"`
}

// AccountService handles user accounts and balance reads. Balances only
// change through RewardService.Claim.
type AccountService struct {
	store repository.Store
}

// NewAccountService creates a new AccountService instance.
func NewAccountService(store repository.Store) *AccountService {
	return &AccountService{store: store}
}

// EnsureUser makes sure the user exists and records the latest username.
func (s *AccountService) EnsureUser(ctx context.Context, userID int64, username string) (*model.User, error) {
	if userID == 0 {
		return nil, model.ErrUnauthenticated
	}
	user, err := s.store.EnsureUser(ctx, userID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	return user, nil
}

// GetBalance returns the balance and up to limit recent transactions. A user
// that never claimed has a zero balance.
func (s *AccountService) GetBalance(ctx context.Context, userID int64, limit int) (*Balance, error) {
	if userID == 0 {
		return nil, model.ErrUnauthenticated
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	out := &Balance{UserID: userID, Transactions: []*model.Transaction{}}
	user, err := s.store.User(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return out, nil
		}
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	out.Balance = user.Balance

	txs, err := s.store.Transactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	if txs != nil {
		out.Transactions = txs
	}
	return out, nil
}

// GetStreak returns the stored streak projection.
func (s *AccountService) GetStreak(ctx context.Context, userID int64) (*model.UserStreakState, error) {
	if userID == 0 {
		return nil, model.ErrUnauthenticated
	}
	st, err := s.store.StreakState(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get streak: %w", err)
	}
	return st, nil
}

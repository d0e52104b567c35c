// Package cache keeps stored claim results close to the API so duplicate
// submissions can be answered without opening a ledger transaction. The
// database stays authoritative: a miss or a cache error always falls back to
// the store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"uticoins/internal/model"
)

// ClaimCache stores claim results by user and business date.
type ClaimCache interface {
	Get(ctx context.Context, userID int64, date time.Time) (*model.ClaimResult, bool, error)
	Set(ctx context.Context, userID int64, result *model.ClaimResult) error
}

// Nop is a ClaimCache that never hits.
type Nop struct{}

func (Nop) Get(context.Context, int64, time.Time) (*model.ClaimResult, bool, error) {
	return nil, false, nil
}

func (Nop) Set(context.Context, int64, *model.ClaimResult) error { return nil }

// Redis is a ClaimCache backed by Redis.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis wraps client. Entries expire after ttl.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &Redis{client: client, ttl: ttl, prefix: "uticoins:claim"}
}

// Connect builds a client for addr and verifies it responds.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (r *Redis) key(userID int64, date time.Time) string {
	return fmt.Sprintf("%s:%d:%s", r.prefix, userID, date.Format(time.DateOnly))
}

// Get returns the cached result, if any.
func (r *Redis) Get(ctx context.Context, userID int64, date time.Time) (*model.ClaimResult, bool, error) {
	raw, err := r.client.Get(ctx, r.key(userID, date)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read claim cache: %w", err)
	}

	var result model.ClaimResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached claim: %w", err)
	}
	return &result, true, nil
}

// Set stores result under its code date.
func (r *Redis) Set(ctx context.Context, userID int64, result *model.ClaimResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode claim: %w", err)
	}
	if err := r.client.Set(ctx, r.key(userID, result.CodeDate), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write claim cache: %w", err)
	}
	return nil
}

package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/x402-rs/x402-ask/pkg/types"
)

const (
	challengePrefix = "x402:challenge:"
	consumedPrefix  = "x402:consumed:"
)

// RedisStore is a Store shared by every gate instance pointing at the same
// redis. Challenges and consumed markers expire with the challenge's
// retention window.
type RedisStore struct {
	client redis.Cmdable
	grace  time.Duration
	now    func() time.Time
}

// NewRedisStore wraps an existing client
func NewRedisStore(client redis.Cmdable, grace time.Duration) *RedisStore {
	return &RedisStore{client: client, grace: grace, now: time.Now}
}

// NewRedisStoreFromURL connects to a redis://host:port/db URL and pings it
func NewRedisStoreFromURL(ctx context.Context, url string, grace time.Duration) (*RedisStore, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: invalid REDIS_URL: %v", types.ErrConfig, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStore(client, grace), client, nil
}

func (s *RedisStore) Issue(ctx context.Context, req *types.PaymentRequirement) error {
	ttl := retention(req, s.grace, s.now())
	if ttl <= 0 {
		return fmt.Errorf("challenge %s already past retention", req.Nonce)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}

	ok, err := s.client.SetNX(ctx, challengePrefix+req.Nonce, data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	if !ok {
		return fmt.Errorf("nonce %s already issued", req.Nonce)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, nonce string) (*types.PaymentRequirement, error) {
	consumed, err := retryRedisOperation(ctx, func() (int64, error) {
		return s.client.Exists(ctx, consumedPrefix+nonce).Result()
	})
	if err != nil {
		return nil, err
	}
	if consumed > 0 {
		return nil, types.ErrReplay
	}

	data, err := retryRedisOperation(ctx, func() ([]byte, error) {
		return s.client.Get(ctx, challengePrefix+nonce).Bytes()
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnknownNonce
	}
	if err != nil {
		return nil, err
	}

	var req types.PaymentRequirement
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}
	return &req, nil
}

// Consume sets the consumed marker with SETNX so that only one caller wins.
// It is not retried: a lost reply would turn the winner into a replay.
func (s *RedisStore) Consume(ctx context.Context, nonce string) error {
	ttl, err := s.client.PTTL(ctx, challengePrefix+nonce).Result()
	if err != nil {
		return fmt.Errorf("failed to read challenge ttl: %w", err)
	}
	if ttl <= 0 {
		return ErrUnknownNonce
	}

	ok, err := s.client.SetNX(ctx, consumedPrefix+nonce, s.now().Unix(), ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to consume nonce: %w", err)
	}
	if !ok {
		return types.ErrReplay
	}
	return nil
}

// retryRedisOperation retries a read with exponential backoff so that a
// restarting redis does not fail every in-flight request. redis.Nil is an
// answer, not a failure, and is returned immediately.
func retryRedisOperation[T any](ctx context.Context, operation func() (T, error)) (T, error) {
	const maxRetries = 3
	const initialBackoff = 100 * time.Millisecond

	var lastErr error
	var zero T

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := initialBackoff * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}

		result, err := operation()
		if err == nil || errors.Is(err, redis.Nil) {
			return result, err
		}
		lastErr = err
	}

	return zero, fmt.Errorf("redis operation failed after %d retries: %w", maxRetries, lastErr)
}

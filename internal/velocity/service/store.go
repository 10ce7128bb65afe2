package service

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/playpoints/internal/clock"
	"github.com/smallbiznis/playpoints/internal/ratelimit"
)

// attemptStore holds the guard's non-durable state: attempt counters,
// seen session IDs and cooldowns. Redis-backed when configured, with an
// in-process fallback.
type attemptStore interface {
	// Allow consumes one attempt against a rolling window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error)

	// MarkSession records a session identifier and reports whether it
	// was already seen within the TTL.
	MarkSession(ctx context.Context, key string, ttl time.Duration) (bool, error)

	CooldownRemaining(ctx context.Context, key string) (time.Duration, error)
	StartCooldown(ctx context.Context, key string, d time.Duration) error
}

type redisStore struct {
	client *redis.Client
	bucket *ratelimit.TokenBucket
}

func newRedisStore(client *redis.Client, bucket *ratelimit.TokenBucket) *redisStore {
	return &redisStore{client: client, bucket: bucket}
}

func (s *redisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	rate := float64(limit) / window.Seconds()
	res, err := s.bucket.Allow(ctx, key, rate, limit)
	if err != nil {
		return false, 0, err
	}
	return res.Allowed, res.RetryAfter, nil
}

func (s *redisStore) MarkSession(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := s.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !created, nil
}

func (s *redisStore) CooldownRemaining(ctx context.Context, key string) (time.Duration, error) {
	remaining, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if remaining <= 0 {
		return 0, nil
	}
	return remaining, nil
}

func (s *redisStore) StartCooldown(ctx context.Context, key string, d time.Duration) error {
	return s.client.Set(ctx, key, 1, d).Err()
}

// memoryStore keeps guard state in-process. Counters reset on restart,
// which is acceptable for advisory rate limiting; the ledger-derived
// velocity check does not pass through here.
type memoryStore struct {
	clock clock.Clock

	mu        sync.Mutex
	attempts  map[string][]time.Time
	sessions  map[string]time.Time
	cooldowns map[string]time.Time
}

func newMemoryStore(clk clock.Clock) *memoryStore {
	return &memoryStore{
		clock:     clk,
		attempts:  make(map[string][]time.Time),
		sessions:  make(map[string]time.Time),
		cooldowns: make(map[string]time.Time),
	}
}

func (s *memoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	recent := s.attempts[key][:0]
	for _, t := range s.attempts[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= limit {
		s.attempts[key] = recent
		retryAfter := recent[0].Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}

	s.attempts[key] = append(recent, now)
	return true, 0, nil
}

func (s *memoryStore) MarkSession(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.sessions[key]; ok && expiry.After(now) {
		return true, nil
	}
	s.sessions[key] = now.Add(ttl)
	return false, nil
}

func (s *memoryStore) CooldownRemaining(_ context.Context, key string) (time.Duration, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.cooldowns[key]
	if !ok || !until.After(now) {
		return 0, nil
	}
	return until.Sub(now), nil
}

func (s *memoryStore) StartCooldown(_ context.Context, key string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[key] = s.clock.Now().Add(d)
	return nil
}

// Package cache provides a Redis read-through cache for tenant-scoped
// listings and effective roles.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"erasure-cloud/config"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("redis unavailable (circuit breaker open)")

// TTL bounds. Cached permission and quota data must not live long.
const (
	MinTTL = time.Minute
	MaxTTL = 5 * time.Minute
)

// CacheService provides Redis-based caching with graceful degradation.
// When Redis is unavailable, operations return errors that callers handle
// by falling back to the database.
type CacheService struct {
	client       *redis.Client
	config       config.RedisConfig
	ttl          time.Duration
	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time
	group        singleflight.Group
	logger       zerolog.Logger

	// Circuit breaker settings
	maxFailures   int
	checkInterval time.Duration
}

// NewCacheService connects to Redis. A failed first ping returns the
// service in degraded mode rather than an error.
func NewCacheService(cfg config.RedisConfig, logger zerolog.Logger) (*CacheService, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg config.RedisConfig, logger zerolog.Logger) *CacheService {
	cs := &CacheService{
		client:        client,
		config:        cfg,
		ttl:           ClampTTL(cfg.DefaultTTL),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
		logger:        logger.With().Str("component", "cache").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		cs.logger.Warn().Err(err).Str("address", cfg.Address).Msg("Initial Redis connection failed, running degraded")
		cs.lastCheck = time.Now()
		return cs
	}

	cs.healthy = true
	cs.lastCheck = time.Now()
	cs.logger.Info().Str("address", cfg.Address).Dur("ttl", cs.ttl).Msg("Redis connected")
	return cs
}

// ClampTTL keeps ttl within [MinTTL, MaxTTL]. Zero selects two minutes.
func ClampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl == 0:
		return 2 * time.Minute
	case ttl < MinTTL:
		return MinTTL
	case ttl > MaxTTL:
		return MaxTTL
	}
	return ttl
}

// TTL is the lifetime applied to read-through entries.
func (cs *CacheService) TTL() time.Duration {
	return cs.ttl
}

// IsHealthy returns whether Redis is currently available.
func (cs *CacheService) IsHealthy() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.healthy
}

// recordFailure tracks a Redis operation failure for the circuit breaker.
func (cs *CacheService) recordFailure() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.failureCount++
	cs.lastCheck = time.Now()
	if cs.failureCount >= cs.maxFailures {
		if cs.healthy {
			cs.logger.Warn().Int("failures", cs.failureCount).Msg("Circuit breaker OPEN: Redis marked unhealthy")
		}
		cs.healthy = false
	}
}

// recordSuccess resets the failure counter.
func (cs *CacheService) recordSuccess() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.healthy {
		cs.logger.Info().Msg("Circuit breaker CLOSED: Redis recovered")
	}
	cs.healthy = true
	cs.failureCount = 0
	cs.lastCheck = time.Now()
}

// checkHealth pings in the background once the check interval has passed
// while the breaker is open.
func (cs *CacheService) checkHealth() {
	cs.mu.RLock()
	shouldCheck := !cs.healthy && time.Since(cs.lastCheck) >= cs.checkInterval
	cs.mu.RUnlock()

	if !shouldCheck {
		return
	}

	go func() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := cs.client.Ping(pingCtx).Err(); err == nil {
			cs.recordSuccess()
		}
	}()
}

// Get retrieves a raw value. A miss returns redis.Nil.
func (cs *CacheService) Get(ctx context.Context, key string) ([]byte, error) {
	cs.checkHealth()

	if !cs.IsHealthy() {
		return nil, ErrUnavailable
	}

	result, err := cs.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		cs.recordFailure()
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	cs.recordSuccess()
	return result, nil
}

// Set stores a raw value with ttl.
func (cs *CacheService) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cs.checkHealth()

	if !cs.IsHealthy() {
		return ErrUnavailable
	}

	if err := cs.client.Set(ctx, key, value, ttl).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis set failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// Delete removes keys.
func (cs *CacheService) Delete(ctx context.Context, keys ...string) error {
	cs.checkHealth()

	if !cs.IsHealthy() {
		return ErrUnavailable
	}
	if len(keys) == 0 {
		return nil
	}

	if err := cs.client.Del(ctx, keys...).Err(); err != nil {
		cs.recordFailure()
		return fmt.Errorf("redis delete failed: %w", err)
	}

	cs.recordSuccess()
	return nil
}

// DeletePrefix removes every key starting with prefix and returns how many went.
func (cs *CacheService) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	cs.checkHealth()

	if !cs.IsHealthy() {
		return 0, ErrUnavailable
	}

	deleted := 0
	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := cs.client.Del(ctx, batch...).Result()
		if err != nil {
			return err
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	iter := cs.client.Scan(ctx, 0, escapePattern(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				cs.recordFailure()
				return deleted, fmt.Errorf("redis delete prefix failed: %w", err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		cs.recordFailure()
		return deleted, fmt.Errorf("redis scan failed: %w", err)
	}
	if err := flush(); err != nil {
		cs.recordFailure()
		return deleted, fmt.Errorf("redis delete prefix failed: %w", err)
	}

	cs.recordSuccess()
	return deleted, nil
}

// Close closes the Redis connection.
func (cs *CacheService) Close() error {
	if cs.client != nil {
		return cs.client.Close()
	}
	return nil
}

// Ping checks Redis connectivity.
func (cs *CacheService) Ping(ctx context.Context) error {
	if err := cs.client.Ping(ctx).Err(); err != nil {
		cs.recordFailure()
		return err
	}
	cs.recordSuccess()
	return nil
}

// Stats returns cache statistics for monitoring.
type Stats struct {
	Healthy      bool   `json:"healthy"`
	FailureCount int    `json:"failure_count"`
	Address      string `json:"address"`
	PoolSize     int    `json:"pool_size"`
	TTLSeconds   int    `json:"ttl_seconds"`
}

// GetStats returns current cache statistics.
func (cs *CacheService) GetStats() Stats {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	return Stats{
		Healthy:      cs.healthy,
		FailureCount: cs.failureCount,
		Address:      cs.config.Address,
		PoolSize:     cs.config.PoolSize,
		TTLSeconds:   int(cs.ttl / time.Second),
	}
}

// Package cache provides a Redis-backed cache of proof verification results.
// Several artifact server instances can share it, so a proof that was
// already checked against a given verification key is answered without
// re-running the pairing check.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiweb3dev/zk-circuit-pipeline/internal/common/config"
)

// keyPrefix namespaces every key written by this package
const keyPrefix = "zk:verify"

// VerificationCache stores verification results keyed by the circuit, the
// verification key hash and the submitted proof. A disabled cache misses on
// every lookup and drops every write.
type VerificationCache struct {
	redis   *redis.Client
	logger  *zap.Logger
	enabled bool
	ttl     time.Duration
}

// Entry is the cached value of one verification
type Entry struct {
	Valid    bool  `json:"valid"`
	CachedAt int64 `json:"cached_at"`
}

// New connects to Redis. An unreachable server disables the cache instead of
// failing startup.
func New(cfg config.CacheConfig, logger *zap.Logger) *VerificationCache {
	if !cfg.Enabled {
		logger.Info("Verification cache disabled")
		return NewDisabled(logger)
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 10 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  dialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Cache Redis connection failed, caching disabled",
			zap.String("addr", cfg.Address),
			zap.Error(err),
		)
		_ = client.Close()
		return NewDisabled(logger)
	}

	logger.Info("Verification cache connected to Redis",
		zap.String("addr", cfg.Address),
		zap.Int("db", cfg.DB),
		zap.Duration("ttl", ttl),
	)
	return NewWithClient(client, ttl, logger)
}

// NewWithClient wraps an existing client without pinging it
func NewWithClient(client *redis.Client, ttl time.Duration, logger *zap.Logger) *VerificationCache {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &VerificationCache{redis: client, logger: logger, enabled: true, ttl: ttl}
}

// NewDisabled returns a cache that never stores anything
func NewDisabled(logger *zap.Logger) *VerificationCache {
	return &VerificationCache{logger: logger}
}

// Enabled reports whether lookups can hit
func (c *VerificationCache) Enabled() bool {
	return c != nil && c.enabled
}

// Key derives the cache key of one verification. vkHash must change whenever
// the verification key does, so regenerated keys never see stale results.
func Key(circuit, vkHash string, proof, public []byte) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(vkHash), proof, public} {
		// length prefix keeps ("ab","c") and ("a","bc") apart
		fmt.Fprintf(h, "%d:", len(part))
		h.Write(part)
	}
	return fmt.Sprintf("%s:%s:%s", keyPrefix, circuit, hex.EncodeToString(h.Sum(nil)))
}

// Get returns the cached result for key and whether it was found
func (c *VerificationCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	if !c.Enabled() {
		return Entry{}, false, nil
	}

	data, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.logger.Debug("Cache miss", zap.String("key", key))
		return Entry{}, false, nil
	}
	if err != nil {
		c.logger.Warn("Cache read error", zap.Error(err))
		return Entry{}, false, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("failed to decode cache entry: %w", err)
	}
	c.logger.Debug("Cache hit", zap.String("key", key))
	return entry, true, nil
}

// Set stores a verification result under key with the default TTL
func (c *VerificationCache) Set(ctx context.Context, key string, valid bool) error {
	if !c.Enabled() {
		return nil
	}

	data, err := json.Marshal(Entry{Valid: valid, CachedAt: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Failed to cache verification", zap.Error(err))
		return err
	}
	return nil
}

// HealthCheck verifies the Redis connection is alive
func (c *VerificationCache) HealthCheck(ctx context.Context) error {
	if !c.Enabled() {
		return fmt.Errorf("cache disabled")
	}
	return c.redis.Ping(ctx).Err()
}

// Close shuts down the Redis client
func (c *VerificationCache) Close() error {
	if !c.Enabled() || c.redis == nil {
		return nil
	}
	c.logger.Info("Closing verification cache")
	return c.redis.Close()
}

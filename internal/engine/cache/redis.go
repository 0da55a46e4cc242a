package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	// TTL bounds how long entries live; zero means no expiry.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// RedisCache is an InnerCache backed by Redis, for deployments where
// several cleaner instances should share one cache.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// redisEntry is the stored JSON payload.
type redisEntry struct {
	Value           *string `json:"value"`
	DurationSeconds float64 `json:"duration"`
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg *RedisConfig, logger *zap.Logger) (*RedisCache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	// Use go-redis library defaults for timeouts and pooling.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Debug("Redis cache connected",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB))

	return &RedisCache{rdb: rdb, ttl: cfg.TTL, logger: logger}, nil
}

func redisKey(subject, key string) string {
	return "urlclean:cache:" + subject + ":" + storedKey(key)
}

func (c *RedisCache) Read(ctx context.Context, subject, key string) (*Entry, bool, error) {
	raw, err := c.rdb.Get(ctx, redisKey(subject, key)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache read failed: %w", err)
	}

	var stored redisEntry
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, false, fmt.Errorf("corrupt cache entry for %s/%s: %w", subject, key, err)
	}
	return &Entry{
		Subject:  subject,
		Key:      key,
		Value:    stored.Value,
		Duration: time.Duration(stored.DurationSeconds * float64(time.Second)),
	}, true, nil
}

func (c *RedisCache) Write(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(redisEntry{
		Value:           entry.Value,
		DurationSeconds: entry.Duration.Seconds(),
	})
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, redisKey(entry.Subject, entry.Key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache write failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Close() error { return c.rdb.Close() }

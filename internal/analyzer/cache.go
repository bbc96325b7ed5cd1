package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/seoman/internal/model"
)

const cacheKeyPrefix = "seoman:analysis:"

// Cache は解析結果のキャッシュ。
type Cache interface {
	// Get はキャッシュ済みの結果を返す。存在しない場合はnilを返す。
	Get(ctx context.Context, key string) (*model.WebsiteAnalysis, error)
	Set(ctx context.Context, key string, analysis *model.WebsiteAnalysis, ttl time.Duration) error
}

// RedisCache はRedisを使ったCache実装。
type RedisCache struct {
	client *redis.Client
}

// NewRedisClient はredis://形式のURLからクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisCache はRedisCacheを生成する。
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) key(key string) string {
	return cacheKeyPrefix + key
}

// Get はキーに対応する解析結果を返す。
func (c *RedisCache) Get(ctx context.Context, key string) (*model.WebsiteAnalysis, error) {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached analysis: %w", err)
	}

	var analysis model.WebsiteAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return nil, fmt.Errorf("failed to decode cached analysis: %w", err)
	}
	return &analysis, nil
}

// Set は解析結果をttl付きで保存する。
func (c *RedisCache) Set(ctx context.Context, key string, analysis *model.WebsiteAnalysis, ttl time.Duration) error {
	data, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("failed to encode analysis: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache analysis: %w", err)
	}
	return nil
}

var _ Cache = (*RedisCache)(nil)

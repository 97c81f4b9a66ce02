package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/kgrag/internal/model"
	"github.com/kart-io/kgrag/pkg/utils/json"
)

// QueryCacheConfig 查询缓存配置。
type QueryCacheConfig struct {
	// Enabled 是否启用缓存。
	Enabled bool
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀。
	KeyPrefix string
}

// QueryCache 查询结果缓存。
type QueryCache struct {
	redis  goredis.UniversalClient
	config *QueryCacheConfig
}

// NewQueryCache 创建查询缓存实例。
func NewQueryCache(redis goredis.UniversalClient, config *QueryCacheConfig) *QueryCache {
	if config == nil {
		config = &QueryCacheConfig{
			Enabled:   false,
			TTL:       time.Hour,
			KeyPrefix: "kgrag:",
		}
	}
	return &QueryCache{
		redis:  redis,
		config: config,
	}
}

func (c *QueryCache) enabled() bool {
	return c != nil && c.config.Enabled && c.redis != nil
}

func (c *QueryCache) pattern() string {
	return c.config.KeyPrefix + "query:*"
}

// cacheKey 基于查询与 top_k 生成缓存键（SHA256 哈希）。
func (c *QueryCache) cacheKey(query string, topK int) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	return c.config.KeyPrefix + "query:" + hex.EncodeToString(h.Sum(nil))
}

// Get 从缓存获取查询结果，未命中时返回 nil, nil。
func (c *QueryCache) Get(ctx context.Context, query string, topK int) (*model.QueryResponse, error) {
	if !c.enabled() {
		return nil, nil
	}

	key := c.cacheKey(query, topK)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			logger.Debugw("cache miss", "key", key)
			return nil, nil
		}
		logger.Warnw("failed to get from cache", "error", err.Error(), "key", key)
		return nil, err
	}

	var resp model.QueryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		logger.Warnw("failed to unmarshal cached response", "error", err.Error(), "key", key)
		// 删除损坏的缓存
		_ = c.redis.Del(ctx, key).Err()
		return nil, err
	}

	logger.Infow("cache hit", "key", key, "chunks_used", resp.ChunksUsed)
	return &resp, nil
}

// Set 将查询结果写入缓存。
func (c *QueryCache) Set(ctx context.Context, query string, topK int, resp *model.QueryResponse) error {
	if !c.enabled() || resp == nil {
		return nil
	}

	key := c.cacheKey(query, topK)
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Warnw("failed to marshal response for caching", "error", err.Error())
		return err
	}

	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to set cache", "error", err.Error(), "key", key)
		return err
	}
	logger.Debugw("cached query response", "key", key, "ttl", c.config.TTL)
	return nil
}

// Clear 清除所有查询缓存，索引重载后调用。
func (c *QueryCache) Clear(ctx context.Context) error {
	if !c.enabled() {
		return nil
	}

	iter := c.redis.Scan(ctx, 0, c.pattern(), 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "error", err.Error(), "key", iter.Val())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		logger.Warnw("error during cache scan", "error", err.Error())
		return err
	}

	logger.Infow("cleared query cache", "deleted_count", deleted)
	return nil
}

// GetStats 获取缓存统计信息。
func (c *QueryCache) GetStats(ctx context.Context) (map[string]any, error) {
	if !c.enabled() {
		return map[string]any{"enabled": false}, nil
	}

	iter := c.redis.Scan(ctx, 0, c.pattern(), 0).Iterator()
	keys := 0
	for iter.Next(ctx) {
		keys++
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return map[string]any{
		"enabled":    true,
		"key_count":  keys,
		"ttl":        c.config.TTL.String(),
		"key_prefix": c.config.KeyPrefix,
	}, nil
}

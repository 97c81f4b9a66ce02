package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/kgrag/pkg/utils/json"
)

// CachedEmbeddingProvider 在 Redis 中缓存 Embedding 结果。
// 缓存键包含模型名称，切换模型不会读到旧向量。
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	redis    goredis.UniversalClient
	ttl      time.Duration
	prefix   string
}

// NewCachedEmbeddingProvider 创建带缓存的 Embedding Provider。redis 为空时直接透传。
func NewCachedEmbeddingProvider(provider EmbeddingProvider, redis goredis.UniversalClient, ttl time.Duration, prefix string) *CachedEmbeddingProvider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbeddingProvider{
		provider: provider,
		redis:    redis,
		ttl:      ttl,
		prefix:   prefix + "emb:",
	}
}

func (c *CachedEmbeddingProvider) key(text string) string {
	sum := sha256.Sum256([]byte(EmbeddingModel(c.provider) + "\x00" + text))
	return c.prefix + hex.EncodeToString(sum[:])
}

func (c *CachedEmbeddingProvider) get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			logger.Warnw("embedding cache read failed", "error", err.Error())
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbeddingProvider) put(ctx context.Context, key string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		logger.Warnw("embedding cache write failed", "error", err.Error())
	}
}

// EmbedSingle 生成单个文本的 Embedding（带缓存）。
func (c *CachedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	if c.redis == nil {
		return c.provider.EmbedSingle(ctx, text)
	}
	key := c.key(text)
	if vec, ok := c.get(ctx, key); ok {
		return vec, nil
	}
	vec, err := c.provider.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(ctx, key, vec)
	return vec, nil
}

// Embed 批量生成 Embedding，只对未命中的文本调用底层供应商。
func (c *CachedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.redis == nil {
		return c.provider.Embed(ctx, texts)
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := c.get(ctx, c.key(text)); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.provider.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for i, idx := range missIdx {
		out[idx] = vecs[i]
		c.put(ctx, c.key(missTexts[i]), vecs[i])
	}
	logger.Debugw("embedding cache batch", "total", len(texts), "missed", len(missTexts))
	return out, nil
}

// Name 返回底层 provider 的名称。
func (c *CachedEmbeddingProvider) Name() string { return c.provider.Name() }

// Model 返回底层 provider 的模型名称。
func (c *CachedEmbeddingProvider) Model() string { return EmbeddingModel(c.provider) }

var _ EmbeddingProvider = (*CachedEmbeddingProvider)(nil)

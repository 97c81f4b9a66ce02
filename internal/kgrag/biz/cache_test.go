package biz

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/kgrag/internal/model"
)

// 辅助函数：创建测试用 Redis 客户端
func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // 使用测试专用数据库
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis 不可用，跳过测试")
	}
	client.FlushDB(ctx)
	return client
}

func testCacheConfig() *QueryCacheConfig {
	return &QueryCacheConfig{
		Enabled:   true,
		TTL:       time.Hour,
		KeyPrefix: "test:kgrag:",
	}
}

func TestNewQueryCache_WithNilConfig(t *testing.T) {
	cache := NewQueryCache(nil, nil)
	require.NotNil(t, cache.config)
	assert.False(t, cache.config.Enabled)
	assert.Equal(t, time.Hour, cache.config.TTL)
	assert.Equal(t, "kgrag:", cache.config.KeyPrefix)
}

func TestQueryCache_CacheKey(t *testing.T) {
	cache := NewQueryCache(nil, testCacheConfig())

	k1 := cache.cacheKey("bone loss in space", 5)
	k2 := cache.cacheKey("bone loss in space", 5)
	k3 := cache.cacheKey("bone loss in space", 3)
	k4 := cache.cacheKey("bone loss in space5", 0)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.NotEqual(t, k1, k4)
	assert.Contains(t, k1, "test:kgrag:query:")
	assert.Len(t, k1, len("test:kgrag:query:")+64)
}

func TestQueryCache_Disabled(t *testing.T) {
	ctx := context.Background()
	cache := NewQueryCache(nil, testCacheConfig())

	resp, err := cache.Get(ctx, "q", 5)
	assert.NoError(t, err)
	assert.Nil(t, resp)
	assert.NoError(t, cache.Set(ctx, "q", 5, &model.QueryResponse{Query: "q"}))
	assert.NoError(t, cache.Clear(ctx))

	stats, err := cache.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, false, stats["enabled"])
}

func TestQueryCache_SetAndGet(t *testing.T) {
	client := setupTestRedis(t)
	defer func() { _ = client.Close() }()
	ctx := context.Background()
	cache := NewQueryCache(client, testCacheConfig())

	resp, err := cache.Get(ctx, "bone loss in space", 3)
	require.NoError(t, err)
	assert.Nil(t, resp)

	want := &model.QueryResponse{
		Query:      "bone loss in space",
		Answer:     "Bone density drops [42:3].",
		Citations:  []model.Citation{{PaperID: "42", PageNum: 3, Score: 0.9}},
		ChunksUsed: 1,
		RetrievedChunks: []model.RetrievedChunk{{
			Chunk:  model.Chunk{PaperID: "42", ChunkID: "7", Text: "microgravity reduces bone density in mice", PageNum: 3, EmbeddingIndex: 7},
			Score:  0.9,
			Source: model.SourceVector,
		}},
		DiversityMetrics: &model.DiversityMetrics{UniquePapers: 1, SearchMethod: model.SearchMethodVector},
	}
	require.NoError(t, cache.Set(ctx, "bone loss in space", 3, want))

	got, err := cache.Get(ctx, "bone loss in space", 3)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Answer, got.Answer)
	assert.Equal(t, want.RetrievedChunks, got.RetrievedChunks)
	assert.Equal(t, want.DiversityMetrics, got.DiversityMetrics)

	other, err := cache.Get(ctx, "bone loss in space", 5)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestQueryCache_CorruptedEntry(t *testing.T) {
	client := setupTestRedis(t)
	defer func() { _ = client.Close() }()
	ctx := context.Background()
	cache := NewQueryCache(client, testCacheConfig())

	key := cache.cacheKey("q", 5)
	require.NoError(t, client.Set(ctx, key, "{not json", time.Minute).Err())

	_, err := cache.Get(ctx, "q", 5)
	assert.Error(t, err)
	assert.Equal(t, int64(0), client.Exists(ctx, key).Val())
}

func TestQueryCache_ClearAndStats(t *testing.T) {
	client := setupTestRedis(t)
	defer func() { _ = client.Close() }()
	ctx := context.Background()
	cache := NewQueryCache(client, testCacheConfig())

	for _, q := range []string{"a", "b", "c"} {
		require.NoError(t, cache.Set(ctx, q, 5, &model.QueryResponse{Query: q}))
	}
	stats, err := cache.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats["key_count"])

	require.NoError(t, cache.Clear(ctx))
	stats, err = cache.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats["key_count"])
}

package llm

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls int
}

func (e *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (e *countingEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	v, err := e.Embed(ctx, []string{text})
	return v[0], err
}

func (e *countingEmbedder) Name() string { return "counting" }

func redisOrSkip(t *testing.T) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379", DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	return client
}

func TestCachedEmbeddingProvider_PassThroughWithoutRedis(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEmbeddingProvider(inner, nil, 0, "test:")

	_, err := c.EmbedSingle(context.Background(), "abc")
	require.NoError(t, err)
	_, err = c.EmbedSingle(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, "counting", c.Model())
}

func TestCachedEmbeddingProvider_Redis(t *testing.T) {
	client := redisOrSkip(t)
	defer client.Close()

	ctx := context.Background()
	prefix := "kgrag-test-" + time.Now().Format("150405.000") + ":"
	inner := &countingEmbedder{}
	c := NewCachedEmbeddingProvider(inner, client, time.Minute, prefix)

	v1, err := c.EmbedSingle(ctx, "space")
	require.NoError(t, err)
	v2, err := c.EmbedSingle(ctx, "space")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)

	vecs, err := c.Embed(ctx, []string{"space", "mission"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{5}, {7}}, vecs)
	assert.Equal(t, 2, inner.calls)
}

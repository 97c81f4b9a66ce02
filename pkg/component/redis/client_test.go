package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	options "github.com/kart-io/kgrag/pkg/options/redis"
)

func TestNew_NilOptions(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)
}

func TestNew_InvalidOptions(t *testing.T) {
	opts := options.NewOptions()
	opts.Host = ""
	_, err := New(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid redis options")
}

func TestNew_Unreachable(t *testing.T) {
	opts := options.NewOptions()
	opts.Port = 1
	opts.DialTimeout = 200 * time.Millisecond
	opts.MaxRetries = 0

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := New(ctx, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping redis")
}

func TestHealthWithStats(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := New(ctx, options.NewOptions())
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer client.Close()

	stats := client.HealthWithStats(ctx)
	assert.True(t, stats.Healthy)
	assert.NotNil(t, stats.PoolStats)
	assert.NoError(t, client.Health()())
}

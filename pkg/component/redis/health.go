package redis

import (
	"context"
	"time"
)

// HealthStats contains health information about the Redis connection.
type HealthStats struct {
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	PoolStats *PoolStats    `json:"pool_stats,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// PoolStats contains Redis connection pool statistics.
type PoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

// HealthWithStats pings Redis and reports latency and pool statistics.
func (c *Client) HealthWithStats(ctx context.Context) *HealthStats {
	stats := &HealthStats{}

	start := time.Now()
	err := c.Ping(ctx)
	stats.Latency = time.Since(start)

	if err != nil {
		stats.Error = err.Error()
		return stats
	}

	stats.Healthy = true
	ps := c.client.PoolStats()
	stats.PoolStats = &PoolStats{
		Hits:       ps.Hits,
		Misses:     ps.Misses,
		Timeouts:   ps.Timeouts,
		TotalConns: ps.TotalConns,
		IdleConns:  ps.IdleConns,
		StaleConns: ps.StaleConns,
	}
	return stats
}

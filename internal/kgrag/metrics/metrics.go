// Package metrics 提供检索服务的业务指标收集。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics 检索服务业务指标。由 server 创建后显式传递给各组件。
type Metrics struct {
	// 查询指标
	queriesTotal       atomic.Uint64 // 总查询次数
	queriesCacheHits   atomic.Uint64 // 缓存命中次数
	queriesCacheMisses atomic.Uint64 // 缓存未命中次数
	queriesDegraded    atomic.Uint64 // 降级响应次数
	diversityChunks    atomic.Uint64 // 图谱多样性分块累计数
	hybridQueries      atomic.Uint64 // search_method 为 hybrid 的查询数

	// 向量检索指标
	vectorTotal    atomic.Uint64
	vectorDegraded atomic.Uint64

	// 图谱查询指标
	graphTotal    atomic.Uint64
	graphDegraded atomic.Uint64

	// 答案生成指标
	synthTotal  atomic.Uint64
	synthErrors atomic.Uint64

	// 熔断器指标
	circuitBreakerOpens atomic.Uint64
	circuitBreakerState atomic.Int32 // 0=closed, 1=open, 2=half-open

	// 导入指标
	documentsIngested atomic.Uint64
	entitiesIngested  atomic.Uint64
	relationsIngested atomic.Uint64
	ingestErrors      atomic.Uint64

	// 索引重载指标
	reloadsTotal atomic.Uint64
	reloadErrors atomic.Uint64

	durationMu     sync.Mutex
	vectorDuration float64 // 向量检索总耗时（秒）
	graphDuration  float64 // 图谱查询总耗时（秒）
	synthDuration  float64 // 答案生成总耗时（秒）
	startTime      time.Time
}

// New 创建指标实例。
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordQuery 记录一次 ProcessQuery。
func (m *Metrics) RecordQuery(cacheHit, degraded bool) {
	if m == nil {
		return
	}
	m.queriesTotal.Add(1)
	if degraded {
		m.queriesDegraded.Add(1)
	}
	if cacheHit {
		m.queriesCacheHits.Add(1)
	} else {
		m.queriesCacheMisses.Add(1)
	}
}

// RecordDiversity 记录一次查询最终保留的图谱多样性分块数。
func (m *Metrics) RecordDiversity(boosted int) {
	if m == nil || boosted <= 0 {
		return
	}
	m.hybridQueries.Add(1)
	m.diversityChunks.Add(uint64(boosted))
}

// RecordVectorSearch 记录向量检索。
func (m *Metrics) RecordVectorSearch(duration time.Duration, degraded bool) {
	if m == nil {
		return
	}
	m.vectorTotal.Add(1)
	if degraded {
		m.vectorDegraded.Add(1)
	}
	m.durationMu.Lock()
	m.vectorDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordGraphCall 记录图谱查询。
func (m *Metrics) RecordGraphCall(duration time.Duration, degraded bool) {
	if m == nil {
		return
	}
	m.graphTotal.Add(1)
	if degraded {
		m.graphDegraded.Add(1)
	}
	m.durationMu.Lock()
	m.graphDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordSynthesis 记录答案生成调用。
func (m *Metrics) RecordSynthesis(duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.synthTotal.Add(1)
	if err != nil {
		m.synthErrors.Add(1)
	}
	m.durationMu.Lock()
	m.synthDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordCircuitBreakerOpen 记录熔断器打开。
func (m *Metrics) RecordCircuitBreakerOpen() {
	if m == nil {
		return
	}
	m.circuitBreakerOpens.Add(1)
	m.circuitBreakerState.Store(1)
}

// RecordCircuitBreakerClosed 记录熔断器关闭。
func (m *Metrics) RecordCircuitBreakerClosed() {
	if m == nil {
		return
	}
	m.circuitBreakerState.Store(0)
}

// RecordCircuitBreakerHalfOpen 记录熔断器半开。
func (m *Metrics) RecordCircuitBreakerHalfOpen() {
	if m == nil {
		return
	}
	m.circuitBreakerState.Store(2)
}

// RecordIngest 记录一次图谱导入。
func (m *Metrics) RecordIngest(documents, entities, relations int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ingestErrors.Add(1)
		return
	}
	m.documentsIngested.Add(uint64(documents))
	m.entitiesIngested.Add(uint64(entities))
	m.relationsIngested.Add(uint64(relations))
}

// RecordReload 记录一次索引重载。
func (m *Metrics) RecordReload(err error) {
	if m == nil {
		return
	}
	m.reloadsTotal.Add(1)
	if err != nil {
		m.reloadErrors.Add(1)
	}
}

func (m *Metrics) durations() (vector, graph, synth float64) {
	m.durationMu.Lock()
	defer m.durationMu.Unlock()
	return m.vectorDuration, m.graphDuration, m.synthDuration
}

func (m *Metrics) cacheHitRate() float64 {
	hits := m.queriesCacheHits.Load()
	total := hits + m.queriesCacheMisses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func writeMetric(sb *strings.Builder, prefix, name, kind, help, value string) {
	fmt.Fprintf(sb, "# HELP %s_%s %s\n", prefix, name, help)
	fmt.Fprintf(sb, "# TYPE %s_%s %s\n", prefix, name, kind)
	fmt.Fprintf(sb, "%s_%s %s\n\n", prefix, name, value)
}

func counter(v uint64) string { return fmt.Sprintf("%d", v) }

func seconds(v float64) string { return fmt.Sprintf("%.6f", v) }

// Export 导出 Prometheus 文本格式指标。
func (m *Metrics) Export(namespace, subsystem string) string {
	var sb strings.Builder
	prefix := namespace
	if subsystem != "" {
		prefix = prefix + "_" + subsystem
	}
	vectorDur, graphDur, synthDur := m.durations()

	// 查询指标
	writeMetric(&sb, prefix, "queries_total", "counter", "Total number of processed queries.", counter(m.queriesTotal.Load()))
	writeMetric(&sb, prefix, "queries_cache_hits_total", "counter", "Number of cache hits.", counter(m.queriesCacheHits.Load()))
	writeMetric(&sb, prefix, "queries_cache_misses_total", "counter", "Number of cache misses.", counter(m.queriesCacheMisses.Load()))
	writeMetric(&sb, prefix, "queries_degraded_total", "counter", "Number of degraded query responses.", counter(m.queriesDegraded.Load()))
	writeMetric(&sb, prefix, "queries_hybrid_total", "counter", "Number of queries answered with graph diversity chunks.", counter(m.hybridQueries.Load()))
	writeMetric(&sb, prefix, "diversity_chunks_total", "counter", "Graph diversity chunks returned.", counter(m.diversityChunks.Load()))
	writeMetric(&sb, prefix, "cache_hit_rate", "gauge", "Cache hit rate (0-1).", fmt.Sprintf("%.4f", m.cacheHitRate()))

	// 向量检索
	writeMetric(&sb, prefix, "vector_search_total", "counter", "Total number of vector searches.", counter(m.vectorTotal.Load()))
	writeMetric(&sb, prefix, "vector_search_degraded_total", "counter", "Vector searches that returned a degraded result.", counter(m.vectorDegraded.Load()))
	writeMetric(&sb, prefix, "vector_search_duration_seconds_total", "counter", "Total vector search duration.", seconds(vectorDur))

	// 图谱查询
	writeMetric(&sb, prefix, "graph_calls_total", "counter", "Total number of graph traversals.", counter(m.graphTotal.Load()))
	writeMetric(&sb, prefix, "graph_calls_degraded_total", "counter", "Graph traversals that failed soft.", counter(m.graphDegraded.Load()))
	writeMetric(&sb, prefix, "graph_calls_duration_seconds_total", "counter", "Total graph traversal duration.", seconds(graphDur))

	// 答案生成
	writeMetric(&sb, prefix, "synthesis_total", "counter", "Total number of answer synthesis calls.", counter(m.synthTotal.Load()))
	writeMetric(&sb, prefix, "synthesis_errors_total", "counter", "Number of failed answer synthesis calls.", counter(m.synthErrors.Load()))
	writeMetric(&sb, prefix, "synthesis_duration_seconds_total", "counter", "Total answer synthesis duration.", seconds(synthDur))

	// 熔断器
	writeMetric(&sb, prefix, "circuit_breaker_opens_total", "counter", "Number of graph circuit breaker opens.", counter(m.circuitBreakerOpens.Load()))
	writeMetric(&sb, prefix, "circuit_breaker_state", "gauge", "Graph circuit breaker state (0=closed, 1=open, 2=half-open).", fmt.Sprintf("%d", m.circuitBreakerState.Load()))

	// 导入与重载
	writeMetric(&sb, prefix, "documents_ingested_total", "counter", "Knowledge graph documents ingested.", counter(m.documentsIngested.Load()))
	writeMetric(&sb, prefix, "entities_ingested_total", "counter", "Knowledge graph entities ingested.", counter(m.entitiesIngested.Load()))
	writeMetric(&sb, prefix, "relations_ingested_total", "counter", "Knowledge graph relations ingested.", counter(m.relationsIngested.Load()))
	writeMetric(&sb, prefix, "ingest_errors_total", "counter", "Number of failed ingest documents.", counter(m.ingestErrors.Load()))
	writeMetric(&sb, prefix, "artifact_reloads_total", "counter", "Number of artifact reload attempts.", counter(m.reloadsTotal.Load()))
	writeMetric(&sb, prefix, "artifact_reload_errors_total", "counter", "Number of failed artifact reloads.", counter(m.reloadErrors.Load()))

	writeMetric(&sb, prefix, "uptime_seconds", "gauge", "Service uptime in seconds.", fmt.Sprintf("%.2f", time.Since(m.startTime).Seconds()))
	return sb.String()
}

func average(total float64, n uint64) float64 {
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// Stats 返回当前统计信息（用于 API）。
func (m *Metrics) Stats() map[string]any {
	vectorDur, graphDur, synthDur := m.durations()
	vectorTotal := m.vectorTotal.Load()
	graphTotal := m.graphTotal.Load()
	synthTotal := m.synthTotal.Load()

	cbState := "closed"
	switch m.circuitBreakerState.Load() {
	case 1:
		cbState = "open"
	case 2:
		cbState = "half-open"
	}

	return map[string]any{
		"queries": map[string]any{
			"total":            m.queriesTotal.Load(),
			"cache_hits":       m.queriesCacheHits.Load(),
			"cache_misses":     m.queriesCacheMisses.Load(),
			"cache_hit_rate":   m.cacheHitRate(),
			"degraded":         m.queriesDegraded.Load(),
			"hybrid":           m.hybridQueries.Load(),
			"diversity_chunks": m.diversityChunks.Load(),
		},
		"vector": map[string]any{
			"total":             vectorTotal,
			"degraded":          m.vectorDegraded.Load(),
			"avg_duration_secs": average(vectorDur, vectorTotal),
		},
		"graph": map[string]any{
			"total":             graphTotal,
			"degraded":          m.graphDegraded.Load(),
			"avg_duration_secs": average(graphDur, graphTotal),
		},
		"synthesis": map[string]any{
			"total":             synthTotal,
			"errors":            m.synthErrors.Load(),
			"avg_duration_secs": average(synthDur, synthTotal),
		},
		"circuit_breaker": map[string]any{
			"state": cbState,
			"opens": m.circuitBreakerOpens.Load(),
		},
		"ingest": map[string]any{
			"documents": m.documentsIngested.Load(),
			"entities":  m.entitiesIngested.Load(),
			"relations": m.relationsIngested.Load(),
			"errors":    m.ingestErrors.Load(),
		},
		"reloads": map[string]any{
			"total":  m.reloadsTotal.Load(),
			"errors": m.reloadErrors.Load(),
		},
		"uptime_seconds": time.Since(m.startTime).Seconds(),
	}
}

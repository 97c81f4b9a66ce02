package biz

import (
	"context"
	"errors"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/kgrag/internal/kgrag/metrics"
	"github.com/kart-io/kgrag/internal/kgrag/store"
	"github.com/kart-io/kgrag/internal/model"
	"github.com/kart-io/kgrag/pkg/infra/tracing"
	"github.com/kart-io/kgrag/pkg/llm"
)

// ProcessQuery 降级响应文本。
const (
	AnswerNotInitialized   = "RAG system not fully initialized. Please check FAISS index and embedding model."
	ErrorMissingComponents = "Missing RAG components"
	AnswerNoResults        = "No relevant information found for your query."
)

type requestIDKey struct{}

// WithRequestID 将请求 ID 写入 context，用于查询历史记录。
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID 从 context 读取请求 ID。
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ServiceConfig 检索服务配置。
type ServiceConfig struct {
	// DefaultTopK 调用方未指定时使用的 top_k。
	DefaultTopK int
	// MaxTopK 允许的最大 top_k。
	MaxTopK int
}

// Service 组合检索、答案生成、缓存与历史记录，对外提供 ProcessQuery 与 Stats。
// 由 server 构建一次后传递给 handler。
type Service struct {
	vector    *VectorSearcher
	graph     *GraphSearcher
	retriever *HybridRetriever
	answers   *AnswerAssembler
	cache     *QueryCache
	history   *store.HistoryStore
	metrics   *metrics.Metrics
	config    *ServiceConfig
}

// NewService 创建检索服务。cache 与 history 可为空。
func NewService(
	vector *VectorSearcher,
	graph *GraphSearcher,
	retriever *HybridRetriever,
	answers *AnswerAssembler,
	cache *QueryCache,
	history *store.HistoryStore,
	m *metrics.Metrics,
	config *ServiceConfig,
) *Service {
	if config == nil {
		config = &ServiceConfig{DefaultTopK: 5, MaxTopK: 50}
	}
	return &Service{
		vector:    vector,
		graph:     graph,
		retriever: retriever,
		answers:   answers,
		cache:     cache,
		history:   history,
		metrics:   m,
		config:    config,
	}
}

func (s *Service) clampTopK(topK int) int {
	if topK < 1 {
		topK = s.config.DefaultTopK
	}
	if s.config.MaxTopK > 0 && topK > s.config.MaxTopK {
		topK = s.config.MaxTopK
	}
	if topK < 1 {
		topK = 1
	}
	return topK
}

// ProcessQuery 执行完整的检索与答案生成流程。任何内部错误都转换为降级响应，不返回错误。
func (s *Service) ProcessQuery(ctx context.Context, query string, topK int) *model.QueryResponse {
	topK = s.clampTopK(topK)
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "kgrag.process_query", attribute.Int("top_k", topK))
	defer span.End()

	if cached, err := s.cache.Get(ctx, query, topK); err == nil && cached != nil {
		s.metrics.RecordQuery(true, false)
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return cached
	}

	resp := s.process(ctx, query, topK)
	degraded := resp.Error != "" || resp.ChunksUsed == 0 || resp.Answer == AnswerGenerationFailed
	s.metrics.RecordQuery(false, degraded)
	if resp.DiversityMetrics != nil {
		s.metrics.RecordDiversity(resp.DiversityMetrics.Neo4jBoostedChunks)
	}

	if !degraded {
		// 缓存写入失败不影响正常返回，错误已在 cache.Set 中记录
		_ = s.cache.Set(ctx, query, topK, resp)
	}
	s.record(ctx, query, topK, resp, time.Since(start))

	logger.Infow("query processed",
		"request_id", RequestID(ctx),
		"top_k", topK,
		"chunks_used", resp.ChunksUsed,
		"latency_ms", time.Since(start).Milliseconds(),
		"degraded", degraded,
	)
	return resp
}

func (s *Service) process(ctx context.Context, query string, topK int) *model.QueryResponse {
	resp := &model.QueryResponse{
		Query:           query,
		Citations:       []model.Citation{},
		RetrievedChunks: []model.RetrievedChunk{},
	}

	retrieval, err := s.retriever.Retrieve(ctx, query, topK)
	switch {
	case errors.Is(err, ErrNotInitialized):
		resp.Answer = AnswerNotInitialized
		resp.Error = ErrorMissingComponents
		return resp
	case err != nil:
		if !errors.Is(err, ErrNoResults) {
			logger.Warnw("retrieval failed", "error", err.Error())
		}
		resp.Answer = AnswerNoResults
		return resp
	}

	answer := s.answers.Assemble(ctx, query, retrieval.Chunks)
	resp.Answer = answer.Answer
	resp.Citations = answer.Citations
	resp.ChunksUsed = answer.ChunksUsed
	resp.RetrievedChunks = retrieval.Chunks
	resp.DiversityMetrics = diversityMetrics(retrieval.Chunks)
	return resp
}

func diversityMetrics(chunks []model.RetrievedChunk) *model.DiversityMetrics {
	papers := make(map[string]struct{}, len(chunks))
	boosted := 0
	for _, c := range chunks {
		papers[c.PaperID] = struct{}{}
		if c.Source == model.SourceDiversity {
			boosted++
		}
	}
	method := model.SearchMethodVector
	if boosted > 0 {
		method = model.SearchMethodHybrid
	}
	return &model.DiversityMetrics{
		UniquePapers:       len(papers),
		Neo4jBoostedChunks: boosted,
		SearchMethod:       method,
	}
}

func (s *Service) record(ctx context.Context, query string, topK int, resp *model.QueryResponse, latency time.Duration) {
	if s.history == nil {
		return
	}
	rec := &model.QueryRecord{
		RequestID:  RequestID(ctx),
		Query:      query,
		TopK:       topK,
		Answer:     resp.Answer,
		ChunksUsed: resp.ChunksUsed,
		LatencyMs:  float64(latency.Microseconds()) / 1000,
		Error:      resp.Error,
	}
	if resp.DiversityMetrics != nil {
		rec.SearchMethod = resp.DiversityMetrics.SearchMethod
	}
	if err := s.history.Create(ctx, rec); err != nil {
		logger.Warnw("failed to record query history", "error", err.Error())
	}
}

// Stats 返回当前加载状态。
func (s *Service) Stats(ctx context.Context) model.Stats {
	var stats model.Stats
	if snap := s.vector.Current(); snap != nil {
		if snap.Index != nil {
			stats.FaissIndexSize = snap.Index.Size()
		}
		stats.ChunksLoaded = snap.Chunks.Len()
		stats.PapersAvailable = snap.Chunks.Papers()
		if snap.Embedder != nil {
			name := llm.EmbeddingModel(snap.Embedder)
			stats.EmbeddingModel = &name
		}
	}
	stats.Neo4jConnected = s.graph.Connected(ctx)
	return stats
}

// RecentQueries 返回最近的查询历史，未启用历史记录时返回空列表。
func (s *Service) RecentQueries(ctx context.Context, n int) ([]model.QueryRecord, error) {
	if s.history == nil {
		return []model.QueryRecord{}, nil
	}
	return s.history.Recent(ctx, n)
}

// Graph 返回图谱检索器。
func (s *Service) Graph() *GraphSearcher {
	return s.graph
}

// Metrics 返回业务指标。
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

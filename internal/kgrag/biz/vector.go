package biz

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/kgrag/internal/kgrag/metrics"
	"github.com/kart-io/kgrag/internal/kgrag/store"
	"github.com/kart-io/kgrag/internal/model"
	"github.com/kart-io/kgrag/pkg/infra/tracing"
	"github.com/kart-io/kgrag/pkg/llm"
)

// Snapshot 是一组一起加载的检索资源：向量索引、分块元数据与 Embedding 模型。
// 快照加载后只读，重载时整体替换。
type Snapshot struct {
	Index    store.VectorIndex
	Chunks   *store.ChunkStore
	Embedder llm.EmbeddingProvider
	LoadedAt time.Time
}

// Ready 报告快照是否具备向量检索所需的全部组件。
func (s *Snapshot) Ready() bool {
	return s != nil && s.Index != nil && s.Embedder != nil && s.Chunks.Len() > 0
}

// VectorSearcher 在当前快照上执行向量检索。
type VectorSearcher struct {
	snap    atomic.Pointer[Snapshot]
	metrics *metrics.Metrics
}

// NewVectorSearcher 创建向量检索器，snap 可为空（降级模式）。
func NewVectorSearcher(snap *Snapshot, m *metrics.Metrics) *VectorSearcher {
	v := &VectorSearcher{metrics: m}
	if snap != nil {
		v.snap.Store(snap)
	}
	return v
}

// Current 返回当前快照，可能为 nil。
func (v *VectorSearcher) Current() *Snapshot {
	return v.snap.Load()
}

// Swap 原子替换快照并返回旧快照。
func (v *VectorSearcher) Swap(snap *Snapshot) *Snapshot {
	return v.snap.Swap(snap)
}

// Search 在当前快照上检索。
func (v *VectorSearcher) Search(ctx context.Context, query string, topK int) Result[[]model.RetrievedChunk] {
	return v.SearchIn(ctx, v.Current(), query, topK)
}

// SearchIn 在指定快照上检索：嵌入查询、L2 归一化、索引搜索，再映射回分块。
// 越界偏移静默跳过；组件缺失或调用失败时返回降级结果。
func (v *VectorSearcher) SearchIn(ctx context.Context, snap *Snapshot, query string, topK int) (res Result[[]model.RetrievedChunk]) {
	start := time.Now()
	defer func() { v.metrics.RecordVectorSearch(time.Since(start), res.IsDegraded()) }()

	if !snap.Ready() {
		return Degraded[[]model.RetrievedChunk]("vector index not initialized")
	}
	if strings.TrimSpace(query) == "" || topK < 1 {
		return Ok([]model.RetrievedChunk{})
	}

	ctx, span := tracing.StartSpan(ctx, "vector.search", attribute.Int("top_k", topK))
	defer span.End()

	vec, err := snap.Embedder.EmbedSingle(ctx, query)
	if err != nil {
		tracing.RecordError(ctx, err)
		logger.Warnw("failed to embed query", "error", err.Error())
		return Degraded[[]model.RetrievedChunk]("embedding failed: " + err.Error())
	}

	hits, err := snap.Index.Search(ctx, store.Normalize(vec), topK)
	if err != nil {
		tracing.RecordError(ctx, err)
		logger.Warnw("vector index search failed", "error", err.Error())
		return Degraded[[]model.RetrievedChunk]("index search failed: " + err.Error())
	}

	chunks := make([]model.RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		chunk, ok := snap.Chunks.At(int(hit.Offset))
		if !ok {
			continue
		}
		chunks = append(chunks, model.RetrievedChunk{
			Chunk:  chunk,
			Score:  hit.Score,
			Source: model.SourceVector,
		})
	}
	span.SetAttributes(attribute.Int("hits", len(chunks)))
	return Ok(chunks)
}

package biz

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/kgrag/internal/model"
	"github.com/kart-io/kgrag/pkg/infra/pool"
	"github.com/kart-io/kgrag/pkg/infra/tracing"
	"github.com/kart-io/kgrag/pkg/options/retrieval"
)

var (
	// ErrNotInitialized 向量检索所需组件缺失。
	ErrNotInitialized = errors.New("vector subsystem not initialized")
	// ErrNoResults 向量检索没有返回任何候选。
	ErrNoResults = errors.New("no vector candidates")
)

// RetrieverConfig 混合检索配置。
type RetrieverConfig struct {
	// VectorOversample 向量候选数为 top-k 的倍数。
	VectorOversample int
	// PoolFactor 追加多样性分块时候选池上限为 floor(PoolFactor * top-k)。
	PoolFactor float64
	// DiversityScore 图谱多样性分块的固定分数。
	DiversityScore float32
	// ChunksPerPaper 每篇图谱发现的论文取前几个分块。
	ChunksPerPaper int
}

// DefaultRetrieverConfig 返回默认混合检索配置。
func DefaultRetrieverConfig() *RetrieverConfig {
	return &RetrieverConfig{
		VectorOversample: 2,
		PoolFactor:       1.5,
		DiversityScore:   0.5,
		ChunksPerPaper:   2,
	}
}

// Retrieval 一次混合检索的结果。
type Retrieval struct {
	Chunks   []model.RetrievedChunk
	Entities []string
	// EntityPapers 与 RelatedPapers 记录两次图谱查询的状态，便于诊断。
	EntityPapers  Result[[]model.PaperHit]
	RelatedPapers Result[[]model.RelatedPaper]
}

// Boosted 返回来自图谱多样性的分块数。
func (r *Retrieval) Boosted() int {
	n := 0
	for _, c := range r.Chunks {
		if c.Source == model.SourceDiversity {
			n++
		}
	}
	return n
}

// HybridRetriever 合并向量检索结果与图谱多样性结果。
type HybridRetriever struct {
	vector    *VectorSearcher
	graph     *GraphSearcher
	extractor *EntityExtractor
	pool      *pool.Pool
	config    *RetrieverConfig
}

// NewHybridRetriever 创建混合检索器。workers 为空时图谱分支使用普通 goroutine。
func NewHybridRetriever(vector *VectorSearcher, graph *GraphSearcher, extractor *EntityExtractor, workers *pool.Pool, config *RetrieverConfig) *HybridRetriever {
	if config == nil {
		config = DefaultRetrieverConfig()
	}
	if extractor == nil {
		extractor = NewEntityExtractor(retrieval.DefaultVocabulary)
	}
	return &HybridRetriever{
		vector:    vector,
		graph:     graph,
		extractor: extractor,
		pool:      workers,
		config:    config,
	}
}

type entityBranch struct {
	names  []string
	papers Result[[]model.PaperHit]
}

// Retrieve 执行混合检索，返回不超过 topK 个分块。
// 向量子系统缺失返回 ErrNotInitialized，向量无候选返回 ErrNoResults，两种情况都不使用图谱结果。
func (h *HybridRetriever) Retrieve(ctx context.Context, query string, topK int) (*Retrieval, error) {
	snap := h.vector.Current()
	if !snap.Ready() {
		return nil, ErrNotInitialized
	}
	if topK < 1 {
		topK = 1
	}

	ctx, span := tracing.StartSpan(ctx, "hybrid.retrieve", attribute.Int("top_k", topK))
	defer span.End()

	// 实体提取与实体驱动查询不依赖向量结果，与向量检索并发执行
	graphCtx, cancelGraph := context.WithCancel(ctx)
	defer cancelGraph()
	entityCh := make(chan entityBranch, 1)
	pool.Go(graphCtx, h.pool, func() {
		names := h.extractor.Extract(query)
		entityCh <- entityBranch{names: names, papers: h.graph.PapersByEntities(graphCtx, names)}
	})

	vres := h.vector.SearchIn(ctx, snap, query, h.config.VectorOversample*topK)
	if vres.IsDegraded() {
		logger.Warnw("vector search degraded", "reason", vres.Reason)
	}
	if len(vres.Data) == 0 {
		return nil, ErrNoResults
	}

	vectorPapers := make([]string, 0, len(vres.Data))
	inVector := make(map[string]struct{}, len(vres.Data))
	for _, c := range vres.Data {
		if _, ok := inVector[c.PaperID]; ok {
			continue
		}
		inVector[c.PaperID] = struct{}{}
		vectorPapers = append(vectorPapers, c.PaperID)
	}

	related := h.graph.RelatedPapers(ctx, vectorPapers)

	var entity entityBranch
	select {
	case entity = <-entityCh:
	case <-ctx.Done():
		entity.papers = Degraded[[]model.PaperHit](ctx.Err().Error())
	}

	newPapers := make([]string, 0)
	seen := make(map[string]struct{})
	addPaper := func(id string) {
		if _, ok := inVector[id]; ok {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		newPapers = append(newPapers, id)
	}
	for _, hit := range entity.papers.Data {
		addPaper(hit.PaperID)
	}
	for _, rp := range related.Data {
		addPaper(rp.PaperID)
	}

	candidates := make([]model.RetrievedChunk, len(vres.Data), len(vres.Data)+len(newPapers)*h.config.ChunksPerPaper)
	copy(candidates, vres.Data)
	limit := int(math.Floor(h.config.PoolFactor * float64(topK)))

appendLoop:
	for _, id := range newPapers {
		chunks := snap.Chunks.PaperChunks(id)
		if len(chunks) > h.config.ChunksPerPaper {
			chunks = chunks[:h.config.ChunksPerPaper]
		}
		for _, c := range chunks {
			if len(candidates) >= limit {
				break appendLoop
			}
			candidates = append(candidates, model.RetrievedChunk{
				Chunk:      c,
				Score:      h.config.DiversityScore,
				Source:     model.SourceDiversity,
				Neo4jBoost: 1,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	assignPaperRank(candidates)

	r := &Retrieval{
		Chunks:        candidates,
		Entities:      entity.names,
		EntityPapers:  entity.papers,
		RelatedPapers: related,
	}
	span.SetAttributes(
		attribute.Int("chunks", len(candidates)),
		attribute.Int("diversity_chunks", r.Boosted()),
		attribute.Int("new_papers", len(newPapers)),
	)
	return r, nil
}

// assignPaperRank 按论文在结果中首次出现的顺序赋予从 1 开始的名次。
func assignPaperRank(chunks []model.RetrievedChunk) {
	ranks := make(map[string]int)
	for i := range chunks {
		rank, ok := ranks[chunks[i].PaperID]
		if !ok {
			rank = len(ranks) + 1
			ranks[chunks[i].PaperID] = rank
		}
		chunks[i].PaperRank = rank
	}
}

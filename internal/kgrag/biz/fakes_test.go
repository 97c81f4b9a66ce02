package biz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kart-io/kgrag/internal/kgrag/store"
	"github.com/kart-io/kgrag/internal/model"
)

var errGraphDown = errors.New("graph unavailable")

// fakeEmbedder 对任意文本返回固定向量。
type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return append([]float32(nil), f.vec...), nil
}

func (f *fakeEmbedder) Name() string  { return "fake" }
func (f *fakeEmbedder) Model() string { return "fake-embed-384" }

// fakeIndex 返回预设命中，并记录请求的 k。
type fakeIndex struct {
	hits  []store.Hit
	size  int
	err   error
	mu    sync.Mutex
	calls []int
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, k int) ([]store.Hit, error) {
	f.mu.Lock()
	f.calls = append(f.calls, k)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.hits) {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) Size() int      { return f.size }
func (f *fakeIndex) Dimension() int { return 3 }
func (f *fakeIndex) Close() error   { return nil }

// fakeGraph 返回预设的两类论文，记录调用并可模拟故障或延迟。
type fakeGraph struct {
	store.MemoryGraph

	entityPapers  []model.PaperHit
	relatedPapers []model.RelatedPaper
	err           error
	delay         time.Duration

	mu           sync.Mutex
	entityCalls  [][]string
	relatedCalls [][]string
}

func (f *fakeGraph) wait(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeGraph) FindPapersByEntities(ctx context.Context, names []string) ([]model.PaperHit, error) {
	f.mu.Lock()
	f.entityCalls = append(f.entityCalls, names)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.entityPapers, nil
}

func (f *fakeGraph) FindRelatedPapers(ctx context.Context, paperIDs []string) ([]model.RelatedPaper, error) {
	f.mu.Lock()
	f.relatedCalls = append(f.relatedCalls, paperIDs)
	f.mu.Unlock()
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	return f.relatedPapers, nil
}

func (f *fakeGraph) Ping(context.Context) error { return f.err }

func (f *fakeGraph) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entityCalls) + len(f.relatedCalls)
}

// fakeSynth 记录输入并返回预设答案。
type fakeSynth struct {
	answer string
	err    error
	delay  time.Duration

	mu       sync.Mutex
	query    string
	snippets []string
}

func (f *fakeSynth) Generate(ctx context.Context, query string, snippets []string) (string, error) {
	f.mu.Lock()
	f.query = query
	f.snippets = snippets
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.answer, f.err
}

// fixtureChunks 偏移 0-1 属于 P1，2 属于 P2，3-5 属于 P3，6-7 属于 P4，8 属于 P5。
func fixtureChunks() *store.ChunkStore {
	papers := []string{"P1", "P1", "P2", "P3", "P3", "P3", "P4", "P4", "P5"}
	chunks := make([]model.Chunk, len(papers))
	for i, p := range papers {
		chunks[i] = model.Chunk{PaperID: p, Text: p + " text", PageNum: i + 1}
	}
	return store.NewChunkStore(chunks)
}

func fixtureIndex() *fakeIndex {
	return &fakeIndex{
		size: 9,
		hits: []store.Hit{
			{Offset: 0, Score: 0.9},
			{Offset: 99, Score: 0.8},
			{Offset: 2, Score: 0.3},
		},
	}
}

func fixtureGraph() *fakeGraph {
	return &fakeGraph{
		entityPapers: []model.PaperHit{
			{PaperID: "P3"},
			{PaperID: "P2"},
		},
		relatedPapers: []model.RelatedPaper{
			{PaperID: "P4"},
			{PaperID: "P3"},
			{PaperID: "P5"},
		},
	}
}

func fixtureSnapshot(idx store.VectorIndex) *Snapshot {
	return &Snapshot{
		Index:    idx,
		Chunks:   fixtureChunks(),
		Embedder: &fakeEmbedder{vec: []float32{1, 0, 0}},
		LoadedAt: time.Now(),
	}
}

func newTestRetriever(snap *Snapshot, graph store.GraphStore) *HybridRetriever {
	return NewHybridRetriever(
		NewVectorSearcher(snap, nil),
		NewGraphSearcher(graph, time.Second, nil, nil),
		nil,
		nil,
		nil,
	)
}

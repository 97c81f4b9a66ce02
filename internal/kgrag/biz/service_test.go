package biz

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/kgrag/internal/kgrag/metrics"
	"github.com/kart-io/kgrag/internal/kgrag/store"
	"github.com/kart-io/kgrag/internal/model"
)

// spaceSnapshot 索引三个向量；偏移 3 的分块（论文 99）只存在于元数据中。
func spaceSnapshot(t *testing.T) *Snapshot {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, store.WriteFlatIndex(&buf, store.MetricInnerProduct, 3, [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{0.8, 0.6, 0},
	}))
	idx, err := store.ReadFlatIndex(&buf)
	require.NoError(t, err)

	chunks := store.NewChunkStore([]model.Chunk{
		{PaperID: "42", PageNum: 3, Text: "Bone density drops in microgravity."},
		{PaperID: "7", PageNum: 1, Text: "Plant roots grow sideways."},
		{PaperID: "42", PageNum: 4, Text: "Osteoclast activity increases."},
		{PaperID: "99", PageNum: 2, Text: "Mouse skeletal unloading."},
	})

	return &Snapshot{
		Index:    idx,
		Chunks:   chunks,
		Embedder: &fakeEmbedder{vec: []float32{1, 0, 0}},
		LoadedAt: time.Now(),
	}
}

func spaceGraph(t *testing.T) *store.MemoryGraph {
	t.Helper()
	g := store.NewMemoryGraph()
	ctx := context.Background()
	for _, doc := range []*model.KGDocument{
		{PaperID: "42", Title: "Bone loss", Entities: []model.Entity{{Type: model.LabelOrganism, Name: "Mus musculus"}}},
		{PaperID: "99", Title: "Hindlimb unloading", Entities: []model.Entity{{Type: model.LabelOrganism, Name: "Mus musculus"}}},
	} {
		require.NoError(t, g.UpsertDocument(ctx, doc))
	}
	return g
}

type serviceDeps struct {
	snap    *Snapshot
	graph   store.GraphStore
	synth   Synthesizer
	history *store.HistoryStore
	metrics *metrics.Metrics
}

func newTestService(d serviceDeps) *Service {
	vector := NewVectorSearcher(d.snap, d.metrics)
	graph := NewGraphSearcher(d.graph, time.Second, nil, d.metrics)
	retriever := NewHybridRetriever(vector, graph, nil, nil, nil)
	answers := NewAnswerAssembler(d.synth, time.Second, d.metrics)
	return NewService(vector, graph, retriever, answers, nil, d.history, d.metrics, nil)
}

func TestService_ProcessQuery_NotInitialized(t *testing.T) {
	graph := fixtureGraph()
	svc := newTestService(serviceDeps{graph: graph, synth: &fakeSynth{answer: "x"}})

	resp := svc.ProcessQuery(context.Background(), "bone loss in space", 5)

	assert.Equal(t, AnswerNotInitialized, resp.Answer)
	assert.Equal(t, ErrorMissingComponents, resp.Error)
	assert.Empty(t, resp.Citations)
	assert.NotNil(t, resp.Citations)
	assert.Empty(t, resp.RetrievedChunks)
	assert.Equal(t, 0, resp.ChunksUsed)
	assert.Nil(t, resp.DiversityMetrics)
	assert.Equal(t, 0, graph.callCount())
}

func TestService_ProcessQuery_NoResults(t *testing.T) {
	idx := fixtureIndex()
	idx.hits = nil
	svc := newTestService(serviceDeps{snap: fixtureSnapshot(idx), synth: &fakeSynth{answer: "x"}})

	resp := svc.ProcessQuery(context.Background(), "anything", 5)

	assert.Equal(t, AnswerNoResults, resp.Answer)
	assert.Empty(t, resp.Error)
	assert.Empty(t, resp.Citations)
	assert.Equal(t, 0, resp.ChunksUsed)
}

func TestService_ProcessQuery_Hybrid(t *testing.T) {
	synth := &fakeSynth{answer: "Bone density decreases [42:3]."}
	svc := newTestService(serviceDeps{snap: spaceSnapshot(t), graph: spaceGraph(t), synth: synth})

	resp := svc.ProcessQuery(context.Background(), "bone loss in space", 5)

	assert.Equal(t, "bone loss in space", resp.Query)
	assert.Equal(t, "Bone density decreases [42:3].", resp.Answer)
	assert.Empty(t, resp.Error)
	require.Len(t, resp.RetrievedChunks, 4)
	require.Len(t, resp.Citations, 4)
	assert.Equal(t, 4, resp.ChunksUsed)

	assert.Equal(t, "42", resp.Citations[0].PaperID)
	assert.Equal(t, 3, resp.Citations[0].PageNum)
	assert.InDelta(t, 1.0, resp.Citations[0].Score, 1e-6)

	got := make([]string, len(resp.RetrievedChunks))
	for i, c := range resp.RetrievedChunks {
		got[i] = c.PaperID
	}
	assert.Equal(t, []string{"42", "42", "99", "7"}, got)
	assert.Equal(t, model.SourceDiversity, resp.RetrievedChunks[2].Source)
	assert.Equal(t, []int{1, 1, 2, 3}, []int{
		resp.RetrievedChunks[0].PaperRank,
		resp.RetrievedChunks[1].PaperRank,
		resp.RetrievedChunks[2].PaperRank,
		resp.RetrievedChunks[3].PaperRank,
	})

	require.NotNil(t, resp.DiversityMetrics)
	assert.Equal(t, 3, resp.DiversityMetrics.UniquePapers)
	assert.Equal(t, 1, resp.DiversityMetrics.Neo4jBoostedChunks)
	assert.Equal(t, model.SearchMethodHybrid, resp.DiversityMetrics.SearchMethod)

	assert.Len(t, synth.snippets, 4)
	assert.Equal(t, "[42:3] Bone density drops in microgravity.", synth.snippets[0])
}

func TestService_ProcessQuery_GraphDown(t *testing.T) {
	graph := fixtureGraph()
	graph.err = errGraphDown
	svc := newTestService(serviceDeps{snap: spaceSnapshot(t), graph: graph, synth: &fakeSynth{answer: "ok"}})

	resp := svc.ProcessQuery(context.Background(), "bone loss in space", 5)

	assert.Equal(t, "ok", resp.Answer)
	assert.Len(t, resp.RetrievedChunks, 3)
	require.NotNil(t, resp.DiversityMetrics)
	assert.Equal(t, 0, resp.DiversityMetrics.Neo4jBoostedChunks)
	assert.Equal(t, model.SearchMethodVector, resp.DiversityMetrics.SearchMethod)
}

func TestService_ProcessQuery_ClampsTopK(t *testing.T) {
	idx := fixtureIndex()
	svc := newTestService(serviceDeps{snap: fixtureSnapshot(idx), synth: &fakeSynth{answer: "ok"}})

	svc.ProcessQuery(context.Background(), "q", 0)
	svc.ProcessQuery(context.Background(), "q", 1000)
	assert.Equal(t, []int{10, 100}, idx.calls)
}

func TestService_ProcessQuery_RecordsHistory(t *testing.T) {
	history, err := store.OpenHistoryStore(":memory:", 0)
	require.NoError(t, err)
	defer history.Close()

	m := metrics.New()
	svc := newTestService(serviceDeps{
		snap:    spaceSnapshot(t),
		graph:   spaceGraph(t),
		synth:   &fakeSynth{answer: "ok"},
		history: history,
		metrics: m,
	})

	ctx := WithRequestID(context.Background(), "req-1")
	svc.ProcessQuery(ctx, "bone loss in space", 5)
	svc.ProcessQuery(ctx, "second", 2)

	recs, err := svc.RecentQueries(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	byQuery := map[string]model.QueryRecord{}
	for _, r := range recs {
		byQuery[r.Query] = r
	}
	first := byQuery["bone loss in space"]
	assert.Equal(t, "req-1", first.RequestID)
	assert.Equal(t, 5, first.TopK)
	assert.Equal(t, 4, first.ChunksUsed)
	assert.Equal(t, model.SearchMethodHybrid, first.SearchMethod)

	queries, ok := m.Stats()["queries"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, queries["total"])
	assert.EqualValues(t, 1, queries["hybrid"])
}

func TestService_RecentQueries_Disabled(t *testing.T) {
	svc := newTestService(serviceDeps{})
	recs, err := svc.RecentQueries(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestService_Stats(t *testing.T) {
	t.Run("loaded", func(t *testing.T) {
		svc := newTestService(serviceDeps{snap: spaceSnapshot(t), graph: spaceGraph(t)})
		stats := svc.Stats(context.Background())

		assert.Equal(t, 3, stats.FaissIndexSize)
		assert.Equal(t, 4, stats.ChunksLoaded)
		assert.Equal(t, 3, stats.PapersAvailable)
		assert.True(t, stats.Neo4jConnected)
		require.NotNil(t, stats.EmbeddingModel)
		assert.Equal(t, "fake-embed-384", *stats.EmbeddingModel)
	})

	t.Run("empty", func(t *testing.T) {
		svc := newTestService(serviceDeps{})
		stats := svc.Stats(context.Background())

		assert.Equal(t, model.Stats{}, stats)
		assert.Nil(t, stats.EmbeddingModel)
	})

	t.Run("graph down", func(t *testing.T) {
		graph := fixtureGraph()
		graph.err = errGraphDown
		svc := newTestService(serviceDeps{snap: spaceSnapshot(t), graph: graph})
		assert.False(t, svc.Stats(context.Background()).Neo4jConnected)
	})
}

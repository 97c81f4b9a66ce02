package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/kgrag/internal/kgrag/biz"
	"github.com/kart-io/kgrag/internal/kgrag/metrics"
	"github.com/kart-io/kgrag/internal/kgrag/store"
	"github.com/kart-io/kgrag/internal/model"
	"github.com/kart-io/kgrag/pkg/infra/middleware"
	apierrors "github.com/kart-io/kgrag/pkg/utils/errors"
	"github.com/kart-io/kgrag/pkg/utils/json"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type staticEmbedder struct{ vec []float32 }

func (e *staticEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = append([]float32(nil), e.vec...)
	}
	return out, nil
}

func (e *staticEmbedder) EmbedSingle(context.Context, string) ([]float32, error) {
	return append([]float32(nil), e.vec...), nil
}

func (e *staticEmbedder) Name() string  { return "static" }
func (e *staticEmbedder) Model() string { return "static-embed" }

type echoSynth struct{}

func (echoSynth) Generate(_ context.Context, _ string, snippets []string) (string, error) {
	return "answer from " + snippets[0], nil
}

type env struct {
	engine  *gin.Engine
	handler *Handler
	graph   *store.MemoryGraph
	history *store.HistoryStore
	metrics *metrics.Metrics
}

func newEnv(t *testing.T, withSnapshot, withIngester bool) *env {
	t.Helper()

	m := metrics.New()
	graph := store.NewMemoryGraph()
	ctx := context.Background()
	for _, doc := range []*model.KGDocument{
		{PaperID: "42", Title: "Bone loss", Entities: []model.Entity{{Type: model.LabelOrganism, Name: "Mus musculus"}}},
		{PaperID: "99", Title: "Hindlimb unloading", Entities: []model.Entity{{Type: model.LabelOrganism, Name: "Mus musculus"}}},
	} {
		require.NoError(t, graph.UpsertDocument(ctx, doc))
	}

	var snap *biz.Snapshot
	if withSnapshot {
		var buf bytes.Buffer
		require.NoError(t, store.WriteFlatIndex(&buf, store.MetricInnerProduct, 3, [][]float32{
			{1, 0, 0},
			{0, 1, 0},
		}))
		idx, err := store.ReadFlatIndex(&buf)
		require.NoError(t, err)
		snap = &biz.Snapshot{
			Index: idx,
			Chunks: store.NewChunkStore([]model.Chunk{
				{PaperID: "42", PageNum: 3, Text: "Bone density drops in microgravity."},
				{PaperID: "7", PageNum: 1, Text: "Plant roots grow sideways."},
				{PaperID: "99", PageNum: 2, Text: "Mouse skeletal unloading."},
			}),
			Embedder: &staticEmbedder{vec: []float32{1, 0, 0}},
			LoadedAt: time.Now(),
		}
	}

	history, err := store.OpenHistoryStore(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	vector := biz.NewVectorSearcher(snap, m)
	graphSearcher := biz.NewGraphSearcher(graph, time.Second, nil, m)
	retriever := biz.NewHybridRetriever(vector, graphSearcher, nil, nil, nil)
	answers := biz.NewAnswerAssembler(echoSynth{}, time.Second, m)
	svc := biz.NewService(vector, graphSearcher, retriever, answers, nil, history, m, nil)

	var ingester *biz.Ingester
	if withIngester {
		ingester = biz.NewIngester(graph, m)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	h := New(svc, ingester)
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", h.Metrics)
	r.POST("/v1/query", h.Query)
	r.GET("/v1/stats", h.Stats)
	r.GET("/v1/history", h.History)
	r.GET("/v1/graph", h.Graph)
	r.GET("/v1/search", h.Search)
	r.POST("/v1/ingest", h.Ingest)
	r.POST("/v1/reload", h.Reload)

	return &env{engine: r, handler: h, graph: graph, history: history, metrics: m}
}

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

func (e *env) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestQuery(t *testing.T) {
	e := newEnv(t, true, false)

	w, resp := e.do(t, http.MethodPost, "/v1/query", `{"query":"bone loss in space","top_k":3}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, resp.Code)
	assert.NotEmpty(t, resp.RequestID)

	var out model.QueryResponse
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, "bone loss in space", out.Query)
	assert.LessOrEqual(t, len(out.RetrievedChunks), 3)
	require.NotEmpty(t, out.Citations)
	assert.Equal(t, "42", out.Citations[0].PaperID)
	assert.True(t, strings.HasPrefix(out.Answer, "answer from [42:3]"))

	records, err := e.history.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, resp.RequestID, records[0].RequestID)
}

func TestQuery_Validation(t *testing.T) {
	e := newEnv(t, true, false)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"EmptyQuery", `{"query":"   "}`, apierrors.ErrQueryRequired.Code},
		{"MissingQuery", `{"top_k":3}`, apierrors.ErrQueryRequired.Code},
		{"NegativeTopK", `{"query":"bone","top_k":-1}`, apierrors.ErrInvalidTopK.Code},
		{"MalformedJSON", `{"query":`, apierrors.ErrBadRequest.Code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := e.do(t, http.MethodPost, "/v1/query", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestQuery_NotInitialized(t *testing.T) {
	e := newEnv(t, false, false)

	w, resp := e.do(t, http.MethodPost, "/v1/query", `{"query":"bone loss"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var out model.QueryResponse
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, biz.AnswerNotInitialized, out.Answer)
	assert.Equal(t, biz.ErrorMissingComponents, out.Error)
	assert.Equal(t, 0, out.ChunksUsed)
}

func TestStatsAndHealthz(t *testing.T) {
	e := newEnv(t, true, false)

	w, resp := e.do(t, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.EqualValues(t, 2, stats["faiss_index_size"])
	assert.EqualValues(t, 3, stats["chunks_loaded"])
	assert.EqualValues(t, 3, stats["papers_available"])
	assert.Equal(t, true, stats["neo4j_connected"])
	assert.Equal(t, "static-embed", stats["embedding_model"])
	assert.Contains(t, stats, "metrics")

	w, _ = e.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	degraded := newEnv(t, false, false)
	w, _ = degraded.do(t, http.MethodGet, "/healthz", "")
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestGraph(t *testing.T) {
	e := newEnv(t, true, false)

	w, resp := e.do(t, http.MethodGet, "/v1/graph?name=Mus+musculus&hops=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sub model.Subgraph
	require.NoError(t, json.Unmarshal(resp.Data, &sub))
	assert.NotEmpty(t, sub.Elements.Nodes)
	assert.NotEmpty(t, sub.Elements.Edges)

	w, resp = e.do(t, http.MethodGet, "/v1/graph?name=Nobody", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &sub))
	assert.Empty(t, sub.Elements.Nodes)

	w, resp = e.do(t, http.MethodGet, "/v1/graph?name=Mus+musculus&hops=5", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierrors.ErrInvalidHops.Code, resp.Code)

	w, resp = e.do(t, http.MethodGet, "/v1/graph", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierrors.ErrValidationFailed.Code, resp.Code)
}

func TestSearch(t *testing.T) {
	e := newEnv(t, true, false)

	w, resp := e.do(t, http.MethodGet, "/v1/search?q=MUS", "")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Nodes  []model.NodeMatch `json:"nodes"`
		Status string            `json:"status"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.Len(t, out.Nodes, 1)
	assert.Equal(t, "Mus musculus", out.Nodes[0].Name)
	assert.Equal(t, "ok", out.Status)

	w, _ = e.do(t, http.MethodGet, "/v1/search?q=mus&limit=1000", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngest(t *testing.T) {
	e := newEnv(t, true, true)

	body := `[
		{"paper_id":"P1","title":"Roots","entities":[{"type":"Organism","name":"Arabidopsis thaliana"}]},
		{"paper_id":"P2","entities":[{"type":"Organism","name":"Arabidopsis thaliana"},{"type":"Gene","name":"PIN3"}],
		 "relations":[{"from_name":"PIN3","from_type":"Gene","to_name":"Arabidopsis thaliana","to_type":"Organism","type":"STUDIED_IN"}]}
	]`
	w, resp := e.do(t, http.MethodPost, "/v1/ingest", body)
	require.Equal(t, http.StatusOK, w.Code)

	var report model.IngestReport
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 3, report.Entities)
	assert.Equal(t, 1, report.Relations)
	assert.NotEmpty(t, report.BatchID)

	related, err := e.graph.FindRelatedPapers(context.Background(), []string{"P1"})
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "P2", related[0].PaperID)

	w, resp = e.do(t, http.MethodPost, "/v1/ingest", `{"paper_id":"P3","entities":[{"type":"Spaceship","name":"ISS"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierrors.ErrInvalidLabel.Code, resp.Code)

	w, resp = e.do(t, http.MethodPost, "/v1/ingest", `{"paper_id":"P3","entities":[{"type":"Gene","name":""}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierrors.ErrInvalidDocument.Code, resp.Code)

	w, resp = e.do(t, http.MethodPost, "/v1/ingest", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierrors.ErrInvalidDocument.Code, resp.Code)

	noIngest := newEnv(t, true, false)
	w, resp = noIngest.do(t, http.MethodPost, "/v1/ingest", body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, apierrors.ErrGraphUnavailable.Code, resp.Code)
}

func TestHistoryAndMetrics(t *testing.T) {
	e := newEnv(t, true, false)
	for _, q := range []string{"bone", "roots", "mouse"} {
		w, _ := e.do(t, http.MethodPost, "/v1/query", `{"query":"`+q+`"}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w, resp := e.do(t, http.MethodGet, "/v1/history?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var records []model.QueryRecord
	require.NoError(t, json.Unmarshal(resp.Data, &records))
	require.Len(t, records, 2)
	assert.Equal(t, "mouse", records[0].Query)

	w, _ = e.do(t, http.MethodGet, "/v1/history?limit=0", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodGet, "/v1/history?limit=500", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = e.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kgrag_queries_total 3")
}

type reloaderFunc func(ctx context.Context) error

func (f reloaderFunc) Reload(ctx context.Context) error { return f(ctx) }

func TestReload(t *testing.T) {
	e := newEnv(t, true, false)

	w, resp := e.do(t, http.MethodPost, "/v1/reload", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, apierrors.ErrNotInitialized.Code, resp.Code)

	calls := 0
	e.handler.SetReloader(reloaderFunc(func(context.Context) error {
		calls++
		return nil
	}))
	w, resp = e.do(t, http.MethodPost, "/v1/reload", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, calls)
	var stats map[string]int
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, 2, stats["faiss_index_size"])
	assert.Equal(t, 3, stats["chunks_loaded"])

	e.handler.SetReloader(reloaderFunc(func(context.Context) error {
		return errors.New("open faiss_index.idx: no such file")
	}))
	w, resp = e.do(t, http.MethodPost, "/v1/reload", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apierrors.ErrArtifactLoad.Code, resp.Code)
}

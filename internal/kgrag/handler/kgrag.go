// Package handler provides HTTP handlers for the kgrag service.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/kgrag/internal/kgrag/biz"
	"github.com/kart-io/kgrag/internal/kgrag/store"
	"github.com/kart-io/kgrag/internal/model"
	"github.com/kart-io/kgrag/pkg/infra/middleware"
	apierrors "github.com/kart-io/kgrag/pkg/utils/errors"
	"github.com/kart-io/kgrag/pkg/utils/response"
	"github.com/kart-io/kgrag/pkg/utils/validator"
)

// 请求体上限与默认值。
const (
	MaxIngestBody    = 32 << 20
	DefaultHistory   = 20
	MetricsNamespace = "kgrag"
)

// Handler serves the retrieval, graph and ingest endpoints.
type Handler struct {
	service  *biz.Service
	ingester *biz.Ingester
	reloader Reloader
	validate *validator.Validator
}

// Reloader swaps in freshly loaded index artifacts.
type Reloader interface {
	Reload(ctx context.Context) error
}

// New creates a Handler. ingester may be nil, in which case ingestion is unavailable.
func New(service *biz.Service, ingester *biz.Ingester) *Handler {
	return &Handler{
		service:  service,
		ingester: ingester,
		validate: validator.Global(),
	}
}

// SetReloader enables POST /v1/reload.
func (h *Handler) SetReloader(r Reloader) {
	h.reloader = r
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query string `json:"query" validate:"required,max=2000"`
	TopK  int    `json:"top_k" validate:"omitempty,min=1"`
}

// GraphRequest is the query string of GET /v1/graph.
type GraphRequest struct {
	Name string `form:"name" json:"name" validate:"required,kgname"`
	Hops int    `form:"hops" json:"hops" validate:"omitempty,min=1,max=4"`
}

// SearchRequest is the query string of GET /v1/search.
type SearchRequest struct {
	Keyword string `form:"q" json:"q" validate:"required,kgname"`
	Limit   int    `form:"limit" json:"limit" validate:"omitempty,min=1,max=100"`
}

// HistoryRequest is the query string of GET /v1/history.
type HistoryRequest struct {
	Limit int `form:"limit" json:"limit" validate:"omitempty,min=1,max=200"`
}

func lang(c *gin.Context) string {
	if strings.HasPrefix(c.GetHeader("Accept-Language"), "zh") {
		return validator.LangZH
	}
	return validator.LangEN
}

// check validates req and maps the first failing field to an Errno.
func (h *Handler) check(c *gin.Context, req any, fieldErrs map[string]*apierrors.Errno) bool {
	verrs := h.validate.ValidateWithLang(req, lang(c))
	if verrs == nil {
		return true
	}
	e := apierrors.ErrValidationFailed
	if len(verrs.Errors) > 0 {
		if mapped, ok := fieldErrs[verrs.Errors[0].Field]; ok {
			e = mapped
		}
	}
	response.Fail(c, e.WithMessage(verrs.First()))
	return false
}

func withRequestID(c *gin.Context) *http.Request {
	return c.Request.WithContext(biz.WithRequestID(c.Request.Context(), middleware.GetRequestID(c)))
}

// Query runs hybrid retrieval and answer assembly.
func (h *Handler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, apierrors.ErrBadRequest.WithCause(err).WithMessage(err.Error()))
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if !h.check(c, &req, map[string]*apierrors.Errno{
		"query": apierrors.ErrQueryRequired,
		"top_k": apierrors.ErrInvalidTopK,
	}) {
		return
	}

	resp := h.service.ProcessQuery(withRequestID(c).Context(), req.Query, req.TopK)
	response.OK(c, resp)
}

// Stats reports what the service has loaded, together with runtime counters.
func (h *Handler) Stats(c *gin.Context) {
	stats := h.service.Stats(c.Request.Context())
	response.OK(c, gin.H{
		"faiss_index_size": stats.FaissIndexSize,
		"chunks_loaded":    stats.ChunksLoaded,
		"papers_available": stats.PapersAvailable,
		"neo4j_connected":  stats.Neo4jConnected,
		"embedding_model":  stats.EmbeddingModel,
		"metrics":          h.service.Metrics().Stats(),
	})
}

// Graph returns the n-hop neighbourhood of a node as cytoscape elements.
// Graph failures yield an empty element set.
func (h *Handler) Graph(c *gin.Context) {
	req := GraphRequest{Hops: 1}
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Fail(c, apierrors.ErrInvalidParam.WithMessage(err.Error()))
		return
	}
	if !h.check(c, &req, map[string]*apierrors.Errno{
		"hops": apierrors.ErrInvalidHops,
	}) {
		return
	}

	res := h.service.Graph().Subgraph(c.Request.Context(), req.Name, req.Hops)
	if res.IsDegraded() || res.Data == nil {
		response.OK(c, &model.Subgraph{Elements: model.Elements{Nodes: []model.Element{}, Edges: []model.Element{}}})
		return
	}
	response.OK(c, res.Data)
}

// Search finds nodes whose name, description or title contains the keyword.
func (h *Handler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Fail(c, apierrors.ErrInvalidParam.WithMessage(err.Error()))
		return
	}
	if !h.check(c, &req, nil) {
		return
	}

	res := h.service.Graph().SearchNodes(c.Request.Context(), req.Keyword, req.Limit)
	nodes := res.Data
	if nodes == nil {
		nodes = []model.NodeMatch{}
	}
	response.OK(c, gin.H{
		"nodes":  nodes,
		"status": res.Status,
		"reason": res.Reason,
	})
}

// Ingest writes knowledge graph documents posted as a JSON object or array.
func (h *Handler) Ingest(c *gin.Context) {
	if h.ingester == nil {
		response.Fail(c, apierrors.ErrGraphUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, MaxIngestBody+1))
	if err != nil {
		response.Fail(c, apierrors.ErrBadRequest.WithCause(err))
		return
	}
	if len(body) > MaxIngestBody {
		response.Fail(c, apierrors.ErrBadRequest.WithMessage("request body too large"))
		return
	}

	docs, err := biz.DecodeDocuments(body)
	if err != nil {
		response.Fail(c, apierrors.ErrInvalidDocument.WithCause(err).WithMessage(err.Error()))
		return
	}

	report, err := h.ingester.Ingest(withRequestID(c).Context(), docs)
	switch {
	case err == nil:
		response.OK(c, report)
	case errors.Is(err, store.ErrInvalidLabel):
		response.Fail(c, apierrors.ErrInvalidLabel.WithCause(err).WithMessage(err.Error()))
	case errors.Is(err, biz.ErrInvalidDocument):
		response.Fail(c, apierrors.ErrInvalidDocument.WithCause(err).WithMessage(err.Error()))
	case errors.Is(err, biz.ErrGraphNotConfigured):
		response.Fail(c, apierrors.ErrGraphUnavailable.WithCause(err))
	default:
		logger.Errorw("ingest request failed", "request_id", middleware.GetRequestID(c), "error", err.Error())
		response.Fail(c, apierrors.ErrIngestFailed.WithCause(err))
	}
}

// History returns the most recent processed queries.
func (h *Handler) History(c *gin.Context) {
	req := HistoryRequest{Limit: DefaultHistory}
	if err := c.ShouldBindQuery(&req); err != nil {
		response.Fail(c, apierrors.ErrInvalidParam.WithMessage(err.Error()))
		return
	}
	if !h.check(c, &req, nil) {
		return
	}

	records, err := h.service.RecentQueries(c.Request.Context(), req.Limit)
	if err != nil {
		response.Fail(c, apierrors.ErrHistoryUnavailable.WithCause(err))
		return
	}
	response.OK(c, records)
}

// Reload reloads the index artifacts from disk. The previous snapshot keeps
// serving when loading fails.
func (h *Handler) Reload(c *gin.Context) {
	if h.reloader == nil {
		response.Fail(c, apierrors.ErrNotInitialized.WithMessage("artifact reload is not configured"))
		return
	}
	if err := h.reloader.Reload(withRequestID(c).Context()); err != nil {
		response.Fail(c, apierrors.ErrArtifactLoad.WithCause(err).WithMessage(err.Error()))
		return
	}
	stats := h.service.Stats(c.Request.Context())
	response.OK(c, gin.H{
		"faiss_index_size": stats.FaissIndexSize,
		"chunks_loaded":    stats.ChunksLoaded,
		"papers_available": stats.PapersAvailable,
	})
}

// Healthz reports liveness and whether the retrieval components are ready.
func (h *Handler) Healthz(c *gin.Context) {
	stats := h.service.Stats(c.Request.Context())
	status := "ok"
	if stats.ChunksLoaded == 0 || stats.EmbeddingModel == nil {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          status,
		"neo4j_connected": stats.Neo4jConnected,
	})
}

// Metrics exports counters in Prometheus text format.
func (h *Handler) Metrics(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(h.service.Metrics().Export(MetricsNamespace, "")))
}

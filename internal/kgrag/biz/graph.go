package biz

import (
	"context"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kart-io/kgrag/internal/kgrag/metrics"
	"github.com/kart-io/kgrag/internal/kgrag/store"
	"github.com/kart-io/kgrag/internal/model"
	"github.com/kart-io/kgrag/pkg/infra/tracing"
	"github.com/kart-io/kgrag/pkg/llm/resilience"
)

// GraphSearcher 包装图谱存储：每次调用有超时限制并经过熔断器，
// 任何错误都转换为降级结果，不向上传播。
type GraphSearcher struct {
	store   store.GraphStore
	timeout time.Duration
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
}

// NewGraphSearcher 创建图谱检索器。graph 为空时所有调用直接降级。
func NewGraphSearcher(graph store.GraphStore, timeout time.Duration, breaker *resilience.CircuitBreaker, m *metrics.Metrics) *GraphSearcher {
	return &GraphSearcher{store: graph, timeout: timeout, breaker: breaker, metrics: m}
}

// NewGraphBreaker 创建图谱熔断器，状态变化同步到指标。
func NewGraphBreaker(maxFailures int, openTimeout time.Duration, m *metrics.Metrics) *resilience.CircuitBreaker {
	cfg := resilience.DefaultCircuitBreakerConfig("graph")
	if maxFailures > 0 {
		cfg.MaxFailures = maxFailures
	}
	if openTimeout > 0 {
		cfg.OpenTimeout = openTimeout
	}
	cfg.OnStateChange = func(_ string, _, to resilience.State) {
		switch to {
		case resilience.StateOpen:
			m.RecordCircuitBreakerOpen()
		case resilience.StateHalfOpen:
			m.RecordCircuitBreakerHalfOpen()
		default:
			m.RecordCircuitBreakerClosed()
		}
	}
	return resilience.NewCircuitBreaker(cfg)
}

// Store 返回底层图谱存储，可能为 nil。
func (g *GraphSearcher) Store() store.GraphStore {
	return g.store
}

func callGraph[T any](ctx context.Context, g *GraphSearcher, op string, fn func(ctx context.Context) (T, error)) (res Result[T]) {
	if g == nil || g.store == nil {
		return Degraded[T]("graph store not configured")
	}

	start := time.Now()
	defer func() { g.metrics.RecordGraphCall(time.Since(start), res.IsDegraded()) }()

	ctx, span := tracing.StartSpan(ctx, "graph."+op)
	defer span.End()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	var out T
	call := func() error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		logger.Warnw("graph query degraded", "op", op, "error", err.Error())
		return Degraded[T](err.Error())
	}
	return Ok(out)
}

// PapersByEntities 执行实体驱动的论文发现。
func (g *GraphSearcher) PapersByEntities(ctx context.Context, names []string) Result[[]model.PaperHit] {
	if len(names) == 0 {
		return Ok([]model.PaperHit{})
	}
	res := callGraph(ctx, g, "papers_by_entities", func(ctx context.Context) ([]model.PaperHit, error) {
		return g.store.FindPapersByEntities(ctx, names)
	})
	tracing.AddSpanEvent(ctx, "graph.papers_by_entities", attribute.Int("papers", len(res.Data)))
	return res
}

// RelatedPapers 执行相关论文扩展。
func (g *GraphSearcher) RelatedPapers(ctx context.Context, paperIDs []string) Result[[]model.RelatedPaper] {
	if len(paperIDs) == 0 {
		return Ok([]model.RelatedPaper{})
	}
	return callGraph(ctx, g, "related_papers", func(ctx context.Context) ([]model.RelatedPaper, error) {
		return g.store.FindRelatedPapers(ctx, paperIDs)
	})
}

// Subgraph 返回节点邻域子图，失败时降级为空图。
func (g *GraphSearcher) Subgraph(ctx context.Context, name string, hops int) Result[*model.Subgraph] {
	return callGraph(ctx, g, "subgraph", func(ctx context.Context) (*model.Subgraph, error) {
		return g.store.Subgraph(ctx, name, hops)
	})
}

// SearchNodes 按关键字搜索节点，失败时降级为空列表。
func (g *GraphSearcher) SearchNodes(ctx context.Context, keyword string, limit int) Result[[]model.NodeMatch] {
	return callGraph(ctx, g, "search_nodes", func(ctx context.Context) ([]model.NodeMatch, error) {
		return g.store.SearchNodes(ctx, keyword, limit)
	})
}

// Connected 报告图谱是否可达。
func (g *GraphSearcher) Connected(ctx context.Context) bool {
	if g == nil || g.store == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, g.pingTimeout())
	defer cancel()
	return g.store.Ping(ctx) == nil
}

func (g *GraphSearcher) pingTimeout() time.Duration {
	if g.timeout > 0 {
		return g.timeout
	}
	return 5 * time.Second
}

package kgrag

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kart-io/logger"

	"github.com/kart-io/kgrag/internal/kgrag/biz"
	"github.com/kart-io/kgrag/internal/kgrag/handler"
	"github.com/kart-io/kgrag/internal/kgrag/metrics"
	"github.com/kart-io/kgrag/internal/kgrag/router"
	"github.com/kart-io/kgrag/internal/kgrag/store"
	"github.com/kart-io/kgrag/pkg/component/milvus"
	neo4jclient "github.com/kart-io/kgrag/pkg/component/neo4j"
	redisclient "github.com/kart-io/kgrag/pkg/component/redis"
	"github.com/kart-io/kgrag/pkg/infra/app"
	"github.com/kart-io/kgrag/pkg/infra/pool"
	"github.com/kart-io/kgrag/pkg/infra/server"
	"github.com/kart-io/kgrag/pkg/infra/tracing"
	"github.com/kart-io/kgrag/pkg/llm"
	"github.com/kart-io/kgrag/pkg/llm/resilience"
	artifactopts "github.com/kart-io/kgrag/pkg/options/artifact"
	llmopts "github.com/kart-io/kgrag/pkg/options/llm"

	// Register model providers
	_ "github.com/kart-io/kgrag/pkg/llm/gemini"
	_ "github.com/kart-io/kgrag/pkg/llm/huggingface"
	_ "github.com/kart-io/kgrag/pkg/llm/ollama"
	_ "github.com/kart-io/kgrag/pkg/llm/openai"
)

// Run runs the kgrag HTTP service with the given options.
func Run(opts *Options) error {
	printBanner(opts)

	// 1. 初始化日志
	if err := initLogger(opts); err != nil {
		return err
	}
	logger.Info("Starting kgrag service...")

	ctx := context.Background()

	// 2. 初始化链路追踪
	provider, err := tracing.NewProvider(ctx, opts.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Warnw("tracing shutdown failed", "error", err.Error())
		}
	}()

	// 3. 构建检索组件
	c, err := newComponents(ctx, opts, true)
	if err != nil {
		return err
	}
	defer c.close()

	// 4. 初始化服务器并注册路由
	mgr := server.NewManager(opts.Server)
	h := handler.New(c.service, c.ingester)
	if c.watcher != nil {
		h.SetReloader(c.watcher)
	}
	if err := router.Register(mgr, h); err != nil {
		return fmt.Errorf("failed to register routes: %w", err)
	}

	// 5. 产物热加载
	if opts.Artifact.Watch && c.watcher != nil {
		mgr.AddServer(&watcherServer{c.watcher})
	}

	logger.Infow("kgrag service is ready", "addr", opts.Server.HTTP.Addr)
	return mgr.Run(ctx)
}

func initLogger(opts *Options) error {
	if err := opts.Log.Init(map[string]any{
		"service.name":    appName,
		"service.version": app.GetVersion(),
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func printBanner(opts *Options) {
	fmt.Printf("Starting %s on %s...\n", appName, opts.Server.HTTP.Addr)
}

// components holds everything built from Options. Optional parts are nil
// when their backend is disabled or unreachable.
type components struct {
	metrics  *metrics.Metrics
	workers  *pool.Pool
	graph    store.GraphStore
	vector   *biz.VectorSearcher
	cache    *biz.QueryCache
	history  *store.HistoryStore
	service  *biz.Service
	ingester *biz.Ingester
	watcher  *biz.ArtifactWatcher

	closers []func()
}

// newComponents connects the backends and assembles the service. Backends
// that fail to connect are logged and left out, so the service starts in a
// degraded state instead of refusing to start. withChat controls whether the
// answer synthesizer is built.
func newComponents(ctx context.Context, opts *Options, withChat bool) (*components, error) {
	c := &components{metrics: metrics.New()}

	workers, err := pool.New("kgrag-query", &pool.Config{
		Capacity:       opts.Retrieval.WorkerPoolSize,
		ExpiryDuration: pool.DefaultConfig().ExpiryDuration,
		Nonblocking:    true,
	})
	if err != nil {
		return nil, err
	}
	c.workers = workers
	c.onClose(workers.Release)

	c.graph = c.openGraph(ctx, opts)
	rdb := c.openRedis(ctx, opts)
	if rdb != nil {
		c.cache = biz.NewQueryCache(rdb.Client(), &biz.QueryCacheConfig{
			Enabled:   true,
			TTL:       opts.Cache.TTL,
			KeyPrefix: opts.Cache.KeyPrefix,
		})
	}

	embedder := c.openEmbedder(opts, rdb)
	loader, err := c.snapshotLoader(ctx, opts, embedder)
	if err != nil {
		logger.Warnw("vector backend unavailable, serving degraded", "error", err.Error())
	}
	var snap *biz.Snapshot
	if loader != nil {
		if snap, err = loader(ctx); err != nil {
			logger.Warnw("failed to load artifacts, serving degraded", "error", err.Error())
			snap = nil
		}
	}
	c.vector = biz.NewVectorSearcher(snap, c.metrics)
	if loader != nil {
		dir := filepath.Dir(opts.Artifact.MetadataPath())
		files := []string{opts.Artifact.MetadataPath(), opts.Artifact.MappingPath()}
		if opts.Artifact.Backend == artifactopts.BackendFAISS {
			files = append(files, opts.Artifact.IndexPath())
		}
		c.watcher = biz.NewArtifactWatcher(dir, files, loader, c.vector, c.cache, c.metrics)
	}

	if opts.History.Enabled {
		history, err := store.OpenHistoryStore(opts.History.DSN, opts.History.Retain)
		if err != nil {
			logger.Warnw("query history disabled", "dsn", opts.History.DSN, "error", err.Error())
		} else {
			c.history = history
			c.onClose(func() { _ = history.Close() })
		}
	}

	graphTimeout := opts.Retrieval.GraphTimeout
	if opts.Neo4j.Enabled && opts.Neo4j.QueryTimeout > 0 {
		graphTimeout = opts.Neo4j.QueryTimeout
	}
	graphSearcher := biz.NewGraphSearcher(c.graph, graphTimeout, biz.NewGraphBreaker(0, 0, c.metrics), c.metrics)

	retriever := biz.NewHybridRetriever(c.vector, graphSearcher, biz.NewEntityExtractor(opts.Retrieval.Vocabulary), workers, &biz.RetrieverConfig{
		VectorOversample: opts.Retrieval.VectorOversample,
		PoolFactor:       opts.Retrieval.PoolFactor,
		DiversityScore:   opts.Retrieval.DiversityScore,
		ChunksPerPaper:   opts.Retrieval.ChunksPerPaper,
	})

	var synth biz.Synthesizer
	if withChat {
		if s := openSynthesizer(opts.Chat); s != nil {
			synth = s
		}
	}
	answers := biz.NewAnswerAssembler(synth, opts.Retrieval.SynthesizerTimeout, c.metrics)

	c.service = biz.NewService(c.vector, graphSearcher, retriever, answers, c.cache, c.history, c.metrics, &biz.ServiceConfig{
		DefaultTopK: opts.Retrieval.TopK,
		MaxTopK:     opts.Retrieval.MaxTopK,
	})
	if c.graph != nil {
		c.ingester = biz.NewIngester(c.graph, c.metrics)
	}
	return c, nil
}

func (c *components) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// openGraph connects Neo4j, or falls back to the in-process graph when Neo4j
// is disabled. An unreachable Neo4j leaves the graph nil.
func (c *components) openGraph(ctx context.Context, opts *Options) store.GraphStore {
	if !opts.Neo4j.Enabled {
		logger.Info("Neo4j disabled, using in-process graph store")
		return store.NewMemoryGraph()
	}

	client, err := neo4jclient.New(ctx, opts.Neo4j)
	if err != nil {
		logger.Warnw("Neo4j unavailable, graph diversity disabled", "uri", opts.Neo4j.URI, "error", err.Error())
		return nil
	}
	graph := store.NewNeo4jGraph(client)
	c.onClose(func() { _ = graph.Close(context.Background()) })
	logger.Infow("Neo4j client initialized", "uri", opts.Neo4j.URI)
	return graph
}

func (c *components) openRedis(ctx context.Context, opts *Options) *redisclient.Client {
	if !opts.Cache.Enabled {
		return nil
	}
	client, err := redisclient.New(ctx, opts.Cache.Redis)
	if err != nil {
		logger.Warnw("Redis unavailable, cache disabled", "addr", opts.Cache.Redis.Addr(), "error", err.Error())
		return nil
	}
	c.onClose(func() { _ = client.Close() })
	logger.Infow("Redis client initialized", "addr", opts.Cache.Redis.Addr())
	return client
}

// openEmbedder builds the query embedder. Without an embedder the vector
// subsystem reports itself as not initialized.
func (c *components) openEmbedder(opts *Options, rdb *redisclient.Client) llm.EmbeddingProvider {
	p, err := llm.NewEmbeddingProvider(opts.Embedding.Provider, opts.Embedding.ToConfigMap())
	if err != nil {
		logger.Warnw("embedding provider unavailable", "provider", opts.Embedding.Provider, "error", err.Error())
		return nil
	}
	var embedder llm.EmbeddingProvider = p
	if opts.Embedding.CircuitBreakerFailures > 0 {
		embedder = resilience.WrapEmbedding(p, retryConfig(opts.Embedding), breakerConfig("embedding", opts.Embedding))
	}
	if rdb != nil {
		embedder = llm.NewCachedEmbeddingProvider(embedder, rdb.Client(), opts.Cache.EmbeddingTTL, opts.Cache.KeyPrefix)
	}
	logger.Infow("Embedding provider initialized", "provider", opts.Embedding.Provider, "model", opts.Embedding.Model)
	return embedder
}

func openSynthesizer(o *llmopts.ProviderOptions) *biz.LLMSynthesizer {
	p, err := llm.NewChatProvider(o.Provider, o.ToConfigMap())
	if err != nil {
		logger.Warnw("chat provider unavailable, answers will fall back", "provider", o.Provider, "error", err.Error())
		return nil
	}
	var chat llm.ChatProvider = p
	if o.CircuitBreakerFailures > 0 {
		chat = resilience.WrapChat(p, retryConfig(o), breakerConfig("chat", o))
	}
	logger.Infow("Chat provider initialized", "provider", o.Provider, "model", o.Model)
	return biz.NewLLMSynthesizer(chat)
}

func retryConfig(o *llmopts.ProviderOptions) *resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = o.MaxRetries + 1
	return cfg
}

func breakerConfig(name string, o *llmopts.ProviderOptions) *resilience.CircuitBreaker {
	cfg := resilience.DefaultCircuitBreakerConfig(name)
	cfg.MaxFailures = o.CircuitBreakerFailures
	return resilience.NewCircuitBreaker(cfg)
}

// snapshotLoader selects the vector backend. The Milvus collection is
// connected once and shared by every reload; FAISS rereads the index file.
func (c *components) snapshotLoader(ctx context.Context, opts *Options, embedder llm.EmbeddingProvider) (biz.SnapshotLoader, error) {
	a := opts.Artifact
	if a.Backend != artifactopts.BackendMilvus {
		return biz.FlatIndexLoader(a.IndexPath(), a.MetadataPath(), a.MappingPath(), embedder), nil
	}

	client, err := milvus.New(ctx, opts.Milvus)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize milvus: %w", err)
	}
	idx, err := store.NewMilvusIndex(ctx, client)
	if err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	c.onClose(func() { _ = idx.Close() })
	logger.Infow("Milvus index initialized", "collection", client.Collection(), "size", idx.Size())
	return biz.SharedIndexLoader(idx, a.MetadataPath(), a.MappingPath(), embedder), nil
}

// watcherServer runs the artifact watcher under the server manager.
type watcherServer struct {
	*biz.ArtifactWatcher
}

var _ server.Runnable = (*watcherServer)(nil)

func (w *watcherServer) Name() string { return "artifact-watcher" }

func (w *watcherServer) Stop(context.Context) error { return w.Close() }

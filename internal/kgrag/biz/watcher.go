package biz

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/kart-io/logger"

	"github.com/kart-io/kgrag/internal/kgrag/metrics"
	"github.com/kart-io/kgrag/internal/kgrag/store"
	"github.com/kart-io/kgrag/pkg/llm"
)

// SnapshotLoader 构建一个新的检索快照。
type SnapshotLoader func(ctx context.Context) (*Snapshot, error)

// FlatIndexLoader 从磁盘读取 FAISS 平坦索引与分块元数据。
func FlatIndexLoader(indexPath, metadataPath, mappingPath string, embedder llm.EmbeddingProvider) SnapshotLoader {
	return func(context.Context) (*Snapshot, error) {
		idx, err := store.LoadFlatIndex(indexPath)
		if err != nil {
			return nil, err
		}
		return newSnapshot(idx, metadataPath, mappingPath, embedder)
	}
}

// SharedIndexLoader 复用已连接的远端索引（如 Milvus），只重新读取分块元数据。
func SharedIndexLoader(idx store.VectorIndex, metadataPath, mappingPath string, embedder llm.EmbeddingProvider) SnapshotLoader {
	return func(context.Context) (*Snapshot, error) {
		return newSnapshot(idx, metadataPath, mappingPath, embedder)
	}
}

func newSnapshot(idx store.VectorIndex, metadataPath, mappingPath string, embedder llm.EmbeddingProvider) (*Snapshot, error) {
	chunks, err := store.LoadChunkStore(metadataPath, mappingPath)
	if err != nil {
		return nil, err
	}
	if idx.Size() != chunks.Len() {
		logger.Warnw("index size differs from chunk metadata",
			"index_size", idx.Size(),
			"chunks", chunks.Len(),
		)
	}
	return &Snapshot{
		Index:    idx,
		Chunks:   chunks,
		Embedder: embedder,
		LoadedAt: time.Now(),
	}, nil
}

// ArtifactWatcher 监听产物目录，索引或元数据文件变化时重新加载快照。
// 重载失败时保留旧快照继续服务。
type ArtifactWatcher struct {
	dir      string
	files    map[string]struct{}
	debounce time.Duration
	load     SnapshotLoader
	vector   *VectorSearcher
	cache    *QueryCache
	metrics  *metrics.Metrics

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// NewArtifactWatcher 创建产物监听器。files 为需要关注的文件路径。
func NewArtifactWatcher(dir string, files []string, load SnapshotLoader, vector *VectorSearcher, cache *QueryCache, m *metrics.Metrics) *ArtifactWatcher {
	set := make(map[string]struct{}, len(files))
	for _, f := range files {
		if f != "" {
			set[filepath.Base(f)] = struct{}{}
		}
	}
	return &ArtifactWatcher{
		dir:      dir,
		files:    set,
		debounce: 500 * time.Millisecond,
		load:     load,
		vector:   vector,
		cache:    cache,
		metrics:  m,
		done:     make(chan struct{}),
	}
}

// SetDebounce 设置事件合并窗口。
func (w *ArtifactWatcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start 开始监听，直到 ctx 取消或调用 Close。
func (w *ArtifactWatcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create artifact watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	go w.loop(ctx, fw)
	logger.Infow("artifact watcher started", "dir", w.dir)
	return nil
}

func (w *ArtifactWatcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	_, ok := w.files[filepath.Base(ev.Name)]
	return ok
}

func (w *ArtifactWatcher) loop(ctx context.Context, fw *fsnotify.Watcher) {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			logger.Debugw("artifact changed", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logger.Warnw("artifact watcher error", "error", err.Error())
		case <-fire:
			fire = nil
			_ = w.Reload(ctx)
		}
	}
}

// Reload 立即加载新快照并原子替换，成功后清空查询缓存。
func (w *ArtifactWatcher) Reload(ctx context.Context) error {
	snap, err := w.load(ctx)
	w.metrics.RecordReload(err)
	if err != nil {
		logger.Errorw("artifact reload failed, keeping previous snapshot", "error", err.Error())
		return err
	}

	w.vector.Swap(snap)
	if err := w.cache.Clear(ctx); err != nil {
		logger.Warnw("failed to clear query cache after reload", "error", err.Error())
	}

	logger.Infow("artifacts reloaded",
		"index_size", snap.Index.Size(),
		"chunks", snap.Chunks.Len(),
		"papers", snap.Chunks.Papers(),
	)
	return nil
}

// Close 停止监听。
func (w *ArtifactWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}

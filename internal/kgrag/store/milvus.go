package store

import (
	"context"
	"fmt"

	"github.com/kart-io/kgrag/pkg/component/milvus"
)

// MilvusIndex 实现基于 Milvus 集合的向量索引，行主键即 embedding_index。
type MilvusIndex struct {
	client *milvus.Client
	size   int
	dim    int
}

var _ VectorIndex = (*MilvusIndex)(nil)

// NewMilvusIndex 创建 Milvus 索引，加载集合并读取行数和维度。
func NewMilvusIndex(ctx context.Context, client *milvus.Client) (*MilvusIndex, error) {
	dim, err := client.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureCollection(ctx, dim); err != nil {
		return nil, err
	}
	count, err := client.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &MilvusIndex{client: client, size: int(count), dim: dim}, nil
}

// Search 执行余弦相似度检索。
func (m *MilvusIndex) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if len(vec) != m.dim {
		return nil, fmt.Errorf("query dimension %d does not match collection dimension %d", len(vec), m.dim)
	}
	if k <= 0 {
		return nil, nil
	}
	results, err := m.client.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{Offset: r.Offset, Score: r.Score}
	}
	return hits, nil
}

// Size 返回加载时的集合行数。
func (m *MilvusIndex) Size() int { return m.size }

// Dimension 返回向量维度。
func (m *MilvusIndex) Dimension() int { return m.dim }

// Close 关闭 Milvus 连接。
func (m *MilvusIndex) Close() error {
	return m.client.Close(context.Background())
}

// SyncFlatIndex 将扁平索引及分块的 paper_id 批量写入 Milvus 集合。
func SyncFlatIndex(ctx context.Context, client *milvus.Client, idx *FlatIndex, chunks *ChunkStore, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if err := client.EnsureCollection(ctx, idx.Dimension()); err != nil {
		return 0, err
	}

	written := 0
	for start := 0; start < idx.Size(); start += batchSize {
		end := start + batchSize
		if end > idx.Size() {
			end = idx.Size()
		}

		offsets := make([]int64, 0, end-start)
		paperIDs := make([]string, 0, end-start)
		vectors := make([][]float32, 0, end-start)
		for i := start; i < end; i++ {
			chunk, ok := chunks.At(i)
			if !ok {
				continue
			}
			vec, _ := idx.Vector(i)
			offsets = append(offsets, int64(i))
			paperIDs = append(paperIDs, chunk.PaperID)
			vectors = append(vectors, vec)
		}

		if err := client.Insert(ctx, offsets, paperIDs, vectors); err != nil {
			return written, fmt.Errorf("insert batch at %d: %w", start, err)
		}
		written += len(offsets)
	}
	return written, nil
}

package store

import "context"

// Hit 表示一次向量检索命中：embedding_index 偏移及相似度分数。
type Hit struct {
	Offset int64
	Score  float32
}

// VectorIndex 定义向量索引接口。
type VectorIndex interface {
	// Search 返回与 vec 最相近的 k 个偏移，按分数降序，同分按插入顺序。
	Search(ctx context.Context, vec []float32, k int) ([]Hit, error)

	// Size 返回索引中的向量数量。
	Size() int

	// Dimension 返回向量维度。
	Dimension() int

	// Close 释放资源。
	Close() error
}

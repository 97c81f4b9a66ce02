// Package model provides data models for the kgrag retrieval service.
package model

// Chunk is a span of paper text stored with provenance. EmbeddingIndex is the
// row offset of its embedding in the vector index.
type Chunk struct {
	PaperID        string `json:"paper_id"`
	ChunkID        string `json:"chunk_id"`
	Text           string `json:"text"`
	PageNum        int    `json:"page_num"`
	EmbeddingIndex int    `json:"embedding_index"`
}

// Source tells where a retrieved chunk came from.
type Source string

const (
	// SourceVector marks a chunk found by vector similarity.
	SourceVector Source = "vector"
	// SourceDiversity marks a chunk added because the graph links its paper.
	SourceDiversity Source = "neo4j_diversity"
)

// RetrievedChunk is a chunk selected for one query.
type RetrievedChunk struct {
	Chunk
	Score      float32 `json:"score"`
	Source     Source  `json:"source"`
	Neo4jBoost int     `json:"neo4j_boost"`
	PaperRank  int     `json:"paper_rank"`
}

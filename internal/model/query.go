package model

// Search methods reported in DiversityMetrics.
const (
	SearchMethodHybrid = "hybrid"
	SearchMethodVector = "vector"
)

// Citation points an answer back to a page of a paper.
type Citation struct {
	PaperID string  `json:"paper_id"`
	PageNum int     `json:"page_num"`
	Score   float32 `json:"score"`
}

// Answer is the synthesized answer with its citations.
type Answer struct {
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	ChunksUsed int        `json:"chunks_used"`
}

// DiversityMetrics summarizes how graph augmentation shaped a result.
type DiversityMetrics struct {
	UniquePapers       int    `json:"unique_papers"`
	Neo4jBoostedChunks int    `json:"neo4j_boosted_chunks"`
	SearchMethod       string `json:"search_method"`
}

// QueryResponse is the result of ProcessQuery. It is always well formed;
// Error is set when a required subsystem is missing.
type QueryResponse struct {
	Query            string            `json:"query"`
	Answer           string            `json:"answer"`
	Citations        []Citation        `json:"citations"`
	ChunksUsed       int               `json:"chunks_used"`
	RetrievedChunks  []RetrievedChunk  `json:"retrieved_chunks"`
	DiversityMetrics *DiversityMetrics `json:"diversity_metrics,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// Stats reports what the service has loaded.
type Stats struct {
	FaissIndexSize  int     `json:"faiss_index_size"`
	ChunksLoaded    int     `json:"chunks_loaded"`
	PapersAvailable int     `json:"papers_available"`
	Neo4jConnected  bool    `json:"neo4j_connected"`
	EmbeddingModel  *string `json:"embedding_model"`
}

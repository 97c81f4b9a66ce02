package model

// QueryRecord 查询历史记录
type QueryRecord struct {
	ID           uint64  `json:"id" gorm:"primaryKey;autoIncrement;comment:主键ID"`
	RequestID    string  `json:"request_id" gorm:"size:32;index;comment:请求ID"`
	Query        string  `json:"query" gorm:"type:text;comment:查询文本"`
	TopK         int     `json:"top_k" gorm:"comment:请求的 top_k"`
	Answer       string  `json:"answer" gorm:"type:text;comment:回答"`
	ChunksUsed   int     `json:"chunks_used" gorm:"comment:使用的分块数"`
	SearchMethod string  `json:"search_method" gorm:"size:16;comment:检索方式"`
	LatencyMs    float64 `json:"latency_ms" gorm:"comment:耗时(毫秒)"`
	Error        string  `json:"error,omitempty" gorm:"size:255;comment:错误信息"`
	CreatedAt    int64   `json:"created_at" gorm:"autoCreateTime:milli;index;comment:创建时间(时间戳)"`
}

// TableName returns the table name for GORM.
func (r *QueryRecord) TableName() string {
	return "query_history"
}

package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Common errors (service 00).
var (
	OK = Register(New(0, http.StatusOK, codes.OK, "success", "成功"))

	ErrBadRequest       = Register(New(MakeCode(ServiceCommon, CategoryRequest, 0), http.StatusBadRequest, codes.InvalidArgument, "Bad request", "请求错误"))
	ErrInvalidParam     = Register(New(MakeCode(ServiceCommon, CategoryRequest, 1), http.StatusBadRequest, codes.InvalidArgument, "Invalid parameter", "参数无效"))
	ErrValidationFailed = Register(New(MakeCode(ServiceCommon, CategoryRequest, 4), http.StatusBadRequest, codes.InvalidArgument, "Validation failed", "校验失败"))
	ErrNotFound         = Register(New(MakeCode(ServiceCommon, CategoryResource, 0), http.StatusNotFound, codes.NotFound, "Resource not found", "资源不存在"))
	ErrTooManyRequests  = Register(New(MakeCode(ServiceCommon, CategoryRateLimit, 0), http.StatusTooManyRequests, codes.ResourceExhausted, "Too many requests", "请求过多"))
	ErrInternal         = Register(New(MakeCode(ServiceCommon, CategoryInternal, 0), http.StatusInternalServerError, codes.Internal, "Internal server error", "服务器内部错误"))
	ErrTimeout          = Register(New(MakeCode(ServiceCommon, CategoryTimeout, 0), http.StatusGatewayTimeout, codes.DeadlineExceeded, "Request timeout", "请求超时"))
	ErrPanic            = Register(New(MakeCode(ServiceCommon, CategoryInternal, 1), http.StatusInternalServerError, codes.Internal, "Internal server error", "服务器内部错误"))
)

// kgrag errors (service 20).
var (
	ErrQueryRequired      = Register(New(MakeCode(ServiceKGRAG, CategoryRequest, 1), http.StatusBadRequest, codes.InvalidArgument, "Query must not be empty", "查询不能为空"))
	ErrInvalidTopK        = Register(New(MakeCode(ServiceKGRAG, CategoryRequest, 2), http.StatusBadRequest, codes.InvalidArgument, "top_k out of range", "top_k 超出范围"))
	ErrInvalidHops        = Register(New(MakeCode(ServiceKGRAG, CategoryRequest, 3), http.StatusBadRequest, codes.InvalidArgument, "hops must be between 1 and 4", "跳数必须在 1 到 4 之间"))
	ErrInvalidDocument    = Register(New(MakeCode(ServiceKGRAG, CategoryRequest, 4), http.StatusBadRequest, codes.InvalidArgument, "Invalid knowledge graph document", "知识图谱文档无效"))
	ErrInvalidLabel       = Register(New(MakeCode(ServiceKGRAG, CategoryRequest, 5), http.StatusBadRequest, codes.InvalidArgument, "Unknown node label or relationship type", "未知的节点标签或关系类型"))
	ErrNotInitialized     = Register(New(MakeCode(ServiceKGRAG, CategoryInternal, 1), http.StatusServiceUnavailable, codes.FailedPrecondition, "Retrieval components not initialized", "检索组件未初始化"))
	ErrArtifactLoad       = Register(New(MakeCode(ServiceKGRAG, CategoryConfig, 1), http.StatusInternalServerError, codes.Internal, "Failed to load index artifacts", "索引文件加载失败"))
	ErrGraphUnavailable   = Register(New(MakeCode(ServiceKGRAG, CategoryNetwork, 1), http.StatusServiceUnavailable, codes.Unavailable, "Graph store unavailable", "图数据库不可用"))
	ErrIngestFailed       = Register(New(MakeCode(ServiceKGRAG, CategoryDatabase, 1), http.StatusInternalServerError, codes.Internal, "Knowledge graph ingestion failed", "知识图谱写入失败"))
	ErrHistoryUnavailable = Register(New(MakeCode(ServiceKGRAG, CategoryDatabase, 2), http.StatusServiceUnavailable, codes.Unavailable, "Query history unavailable", "查询历史不可用"))
)

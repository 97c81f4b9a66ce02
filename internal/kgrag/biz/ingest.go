package biz

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kart-io/logger"

	"github.com/kart-io/kgrag/internal/kgrag/metrics"
	"github.com/kart-io/kgrag/internal/kgrag/store"
	"github.com/kart-io/kgrag/internal/model"
	"github.com/kart-io/kgrag/pkg/utils/id"
	"github.com/kart-io/kgrag/pkg/utils/json"
)

var (
	// ErrInvalidDocument 文档未通过校验，批次未写入。
	ErrInvalidDocument = errors.New("invalid knowledge graph document")
	// ErrGraphNotConfigured 未配置图谱存储。
	ErrGraphNotConfigured = errors.New("graph store not configured")
)

// Ingester 将抽取出的知识图谱文档写入图谱存储。
type Ingester struct {
	graph   store.GraphStore
	metrics *metrics.Metrics
}

// NewIngester 创建导入器。
func NewIngester(graph store.GraphStore, m *metrics.Metrics) *Ingester {
	return &Ingester{graph: graph, metrics: m}
}

// DecodeDocuments 解析单个文档对象或文档数组。
func DecodeDocuments(data []byte) ([]*model.KGDocument, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty knowledge graph document")
	}

	if data[0] == '[' {
		var docs []*model.KGDocument
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("decode documents: %w", err)
		}
		return docs, nil
	}

	var doc model.KGDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return []*model.KGDocument{&doc}, nil
}

// ReadDocumentFiles 读取文件或目录（目录下的 *.json，按文件名排序）中的文档。
func ReadDocumentFiles(paths []string) ([]*model.KGDocument, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.json"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}

	var docs []*model.KGDocument
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		parsed, err := DecodeDocuments(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		docs = append(docs, parsed...)
	}
	return docs, nil
}

// Ingest 先校验全部文档，再逐篇幂等写入。任一文档校验失败时不写入任何内容。
func (i *Ingester) Ingest(ctx context.Context, docs []*model.KGDocument) (*model.IngestReport, error) {
	report := &model.IngestReport{BatchID: id.NewUUID()}
	if i.graph == nil {
		return report, ErrGraphNotConfigured
	}

	for n, doc := range docs {
		if err := store.ValidateDocument(doc); err != nil {
			i.metrics.RecordIngest(0, 0, 0, err)
			return report, fmt.Errorf("%w: document %d: %w", ErrInvalidDocument, n, err)
		}
	}

	for _, doc := range docs {
		if err := i.graph.UpsertDocument(ctx, doc); err != nil {
			i.metrics.RecordIngest(0, 0, 0, err)
			logger.Errorw("knowledge graph ingest failed",
				"batch_id", report.BatchID,
				"paper_id", doc.PaperID,
				"error", err.Error(),
			)
			return report, err
		}
		report.Documents++
		report.Entities += len(doc.Entities)
		report.Relations += len(doc.Relations)
		i.metrics.RecordIngest(1, len(doc.Entities), len(doc.Relations), nil)
	}

	logger.Infow("knowledge graph ingest finished",
		"batch_id", report.BatchID,
		"documents", report.Documents,
		"entities", report.Entities,
		"relations", report.Relations,
	)
	return report, nil
}

// EnsureConstraints 创建图谱唯一性约束。
func (i *Ingester) EnsureConstraints(ctx context.Context) error {
	if i.graph == nil {
		return ErrGraphNotConfigured
	}
	return i.graph.EnsureConstraints(ctx)
}

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kart-io/kgrag/internal/model"
)

// 图遍历结果上限。
const (
	MaxPaperHits      = 20
	MaxRelatedPapers  = 15
	MaxSubgraphItems  = 2000
	DefaultSearchSize = 10
	MinHops           = 1
	MaxHops           = 4
)

// ErrInvalidLabel 节点标签或关系类型不在允许集合内。
var ErrInvalidLabel = errors.New("unknown node label or relationship type")

// GraphStore 定义知识图谱存储接口。检索路径只读，写入仅用于离线导入。
type GraphStore interface {
	// FindPapersByEntities 查找与候选实体名两跳内相连的论文。
	FindPapersByEntities(ctx context.Context, names []string) ([]model.PaperHit, error)

	// FindRelatedPapers 查找与给定论文两跳内相连的其他论文。
	FindRelatedPapers(ctx context.Context, paperIDs []string) ([]model.RelatedPaper, error)

	// Subgraph 返回以 name 为中心 hops 跳内的子图。
	Subgraph(ctx context.Context, name string, hops int) (*model.Subgraph, error)

	// SearchNodes 按关键字搜索节点。
	SearchNodes(ctx context.Context, keyword string, limit int) ([]model.NodeMatch, error)

	// UpsertDocument 幂等写入一篇论文的实体和关系。
	UpsertDocument(ctx context.Context, doc *model.KGDocument) error

	// EnsureConstraints 创建唯一性约束。
	EnsureConstraints(ctx context.Context) error

	// Ping 检查连接。
	Ping(ctx context.Context) error

	// Close 释放连接。
	Close(ctx context.Context) error
}

// normalizeTerms 去空、转小写并去重。
func normalizeTerms(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		t := strings.ToLower(strings.TrimSpace(n))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// uniqueStrings 保序去重。
func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// sortPaperHits 按匹配实体数降序、paper_id 升序排序并截断。
func sortPaperHits(hits []model.PaperHit, limit int) []model.PaperHit {
	sort.SliceStable(hits, func(i, j int) bool {
		if len(hits[i].MatchedEntities) != len(hits[j].MatchedEntities) {
			return len(hits[i].MatchedEntities) > len(hits[j].MatchedEntities)
		}
		return hits[i].PaperID < hits[j].PaperID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// sortRelatedPapers 按共享实体数降序、paper_id 升序排序并截断。
func sortRelatedPapers(papers []model.RelatedPaper, limit int) []model.RelatedPaper {
	sort.SliceStable(papers, func(i, j int) bool {
		if len(papers[i].SharedEntities) != len(papers[j].SharedEntities) {
			return len(papers[i].SharedEntities) > len(papers[j].SharedEntities)
		}
		return papers[i].PaperID < papers[j].PaperID
	})
	if len(papers) > limit {
		papers = papers[:limit]
	}
	return papers
}

// ValidateDocument 校验文档中的标签和关系类型均在允许集合内。
func ValidateDocument(doc *model.KGDocument) error {
	if doc == nil || strings.TrimSpace(doc.PaperID) == "" {
		return fmt.Errorf("document paper_id is required")
	}
	for i, e := range doc.Entities {
		if !e.Type.Valid() {
			return fmt.Errorf("entity %d: %w %q", i, ErrInvalidLabel, e.Type)
		}
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("entity %d: name is required", i)
		}
	}
	for i, r := range doc.Relations {
		if !r.FromType.Valid() || !r.ToType.Valid() {
			return fmt.Errorf("relation %d: %w %q -> %q", i, ErrInvalidLabel, r.FromType, r.ToType)
		}
		if !r.Type.Valid() {
			return fmt.Errorf("relation %d: %w %q", i, ErrInvalidLabel, r.Type)
		}
		if r.FromName == "" || r.ToName == "" {
			return fmt.Errorf("relation %d: endpoint names are required", i)
		}
	}
	return nil
}

// ClampHops 将跳数限制在 [MinHops, MaxHops]。
func ClampHops(hops int) int {
	if hops < MinHops {
		return MinHops
	}
	if hops > MaxHops {
		return MaxHops
	}
	return hops
}
